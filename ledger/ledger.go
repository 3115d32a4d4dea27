package ledger

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/oklog/ulid/v2"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/identity"
	"github.com/textileio/auction-ledger/ledger/connprofile"
)

var log = logging.Logger("ledger")

// TxID identifies a transaction.
type TxID string

// Proposal is a write sent to the ledger.
type Proposal struct {
	// TxID is generated by Submit when empty.
	TxID     TxID
	Function string
	Args     []string
	// Endorsers are the organizations that must endorse the write.
	Endorsers []auction.OrgID
	// ChannelPolicy submits under the channel default endorsement policy
	// instead of an explicit endorser set.
	ChannelPolicy bool
	// Transient is handed to the endorsers only and never recorded publicly.
	Transient auction.Transient
}

// Validate checks the proposal can be submitted.
func (p Proposal) Validate() error {
	if p.Function == "" {
		return errors.New("function is empty")
	}
	if p.ChannelPolicy && len(p.Endorsers) > 0 {
		return errors.New("channel policy proposals can't name endorsers")
	}
	if !p.ChannelPolicy && len(p.Endorsers) == 0 {
		return errors.New("endorsing organizations are empty")
	}
	for _, o := range p.Endorsers {
		if o == "" {
			return errors.New("endorsing organization is empty")
		}
	}
	return nil
}

// Session is an identity-bound connection to one contract of one channel.
type Session interface {
	// Evaluate runs a read-only function. Failures are auction.KindQuery errors.
	Evaluate(ctx context.Context, function string, args ...string) ([]byte, error)
	// Submit sends a write for endorsement and commit. Failures are auction.KindCommit errors.
	Submit(ctx context.Context, p Proposal) (TxID, []byte, error)
	// Close releases the connection. It's safe to call more than once.
	Close() error
}

// Params are the inputs to open a Session.
type Params struct {
	Profile    connprofile.Profile
	Org        string
	Credential identity.Credential
	Channel    string
	Contract   string
}

// Validate checks the params.
func (p Params) Validate() error {
	if p.Channel == "" {
		return errors.New("channel is empty")
	}
	if p.Contract == "" {
		return errors.New("contract is empty")
	}
	if err := p.Credential.Validate(); err != nil {
		return fmt.Errorf("invalid credential: %v", err)
	}
	return nil
}

// Opener opens sessions.
type Opener interface {
	// Open fails with an auction.KindConnection error if the handshake doesn't complete.
	Open(ctx context.Context, p Params) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, p Params) (Session, error)

// Open implements Opener.
func (f OpenerFunc) Open(ctx context.Context, p Params) (Session, error) {
	return f(ctx, p)
}

// WithSession opens a session, runs fn with it and closes it on every exit path.
// The error of fn takes precedence over the closing error.
func WithSession(ctx context.Context, o Opener, p Params, fn func(Session) error) (err error) {
	s, err := o.Open(ctx, p)
	if err != nil {
		return auction.NewError(auction.KindConnection, "Open", err)
	}
	defer func() {
		if r := recover(); r != nil {
			if cerr := s.Close(); cerr != nil {
				log.Errorf("closing session: %s", cerr)
			}
			panic(r)
		}
		if cerr := s.Close(); cerr != nil {
			if err == nil {
				err = auction.NewError(auction.KindConnection, "Close", cerr)
			} else {
				log.Errorf("closing session: %s", cerr)
			}
		}
	}()
	return fn(s)
}

var (
	entropyLk sync.Mutex
	entropy   *ulid.MonotonicEntropy
)

// NewTxID returns a new monotonically increasing transaction id.
func NewTxID() (TxID, error) {
	entropyLk.Lock() // entropy is not safe for concurrent use
	defer entropyLk.Unlock()

	for {
		if entropy == nil {
			entropy = ulid.Monotonic(rand.Reader, 0)
		}
		id, err := ulid.New(ulid.Timestamp(time.Now().UTC()), entropy)
		if errors.Is(err, ulid.ErrMonotonicOverflow) {
			entropy = nil
			continue
		} else if err != nil {
			return "", fmt.Errorf("generating id: %v", err)
		}
		return TxID(strings.ToLower(id.String())), nil
	}
}
