package auction

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNegativePrice indicates a bid price below zero.
	ErrNegativePrice = errors.New("price must be non-negative")
	// ErrNoOrganizations indicates the auction has no participating organizations yet.
	ErrNoOrganizations = errors.New("auction has no organizations")
	// ErrTooManyOrganizations indicates more participating organizations than supported.
	ErrTooManyOrganizations = errors.New("auction has more than two organizations")
)

// Kind classifies errors surfaced by auction operations.
type Kind int

const (
	// KindUnknown is an unclassified error.
	KindUnknown Kind = iota
	// KindArgument is bad user input. It never reaches the network.
	KindArgument
	// KindConnection means the session couldn't be established.
	KindConnection
	// KindQuery means a read was rejected by the ledger or the contract.
	KindQuery
	// KindCommit means a write was rejected, wasn't endorsed, or timed out.
	KindCommit
	// KindEnrollment means the certificate authority interaction failed.
	KindEnrollment
)

// String returns a string-encoded kind.
func (k Kind) String() string {
	switch k {
	case KindArgument:
		return "ArgumentError"
	case KindConnection:
		return "ConnectionError"
	case KindQuery:
		return "QueryError"
	case KindCommit:
		return "CommitError"
	case KindEnrollment:
		return "EnrollmentError"
	default:
		return "UnknownError"
	}
}

// Error is an error tagged with its kind and the operation context it happened in.
type Error struct {
	Kind      Kind
	Op        string
	AuctionID AuctionID
	BidID     BidID
	Err       error
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		fmt.Fprintf(&b, " in %s", e.Op)
	}
	if e.AuctionID != "" {
		fmt.Fprintf(&b, " (auction %s", e.AuctionID)
		if e.BidID != "" {
			fmt.Fprintf(&b, ", bid %s", e.BidID)
		}
		b.WriteString(")")
	} else if e.BidID != "" {
		fmt.Fprintf(&b, " (bid %s)", e.BidID)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError returns a tagged error. If err is already a tagged error its kind is kept
// and missing context is filled in.
func NewError(kind Kind, op string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		if cp.Op == "" {
			cp.Op = op
		}
		return &cp
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithAuction sets the auction context of the error.
func (e *Error) WithAuction(id AuctionID) *Error {
	if e.AuctionID == "" {
		e.AuctionID = id
	}
	return e
}

// WithBid sets the bid context of the error.
func (e *Error) WithBid(id BidID) *Error {
	if e.BidID == "" {
		e.BidID = id
	}
	return e
}

// ArgumentError returns a KindArgument error.
func ArgumentError(op string, format string, args ...interface{}) *Error {
	return &Error{Kind: KindArgument, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the first tagged error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind returns true if err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
