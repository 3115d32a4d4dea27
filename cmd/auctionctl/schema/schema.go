// Package schema declares the arguments of every auctionctl operation and validates
// them before anything touches the network.
package schema

import (
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/textileio/auction-ledger/auction"
)

// Op is an auctionctl operation.
type Op string

// Operations.
const (
	OpEnrollAdmin   Op = "enroll-admin"
	OpRegisterUser  Op = "register-user"
	OpCreateAuction Op = "create-auction"
	OpCreateBid     Op = "create-bid"
	OpSubmitBid     Op = "submit-bid"
	OpRevealBid     Op = "reveal-bid"
	OpEndAuction    Op = "end-auction"
	OpQueryAuction  Op = "query-auction"
	OpQueryBid      Op = "query-bid"
)

// Field identifies where a validated argument is stored in an Invocation.
type Field int

// Fields.
const (
	FieldOrg Field = iota
	FieldUserID
	FieldAuctionID
	FieldItem
	FieldPrice
	FieldBidID
)

// Arg describes one positional argument.
type Arg struct {
	Name    string
	Field   Field
	Pattern *regexp.Regexp
	Message string
}

var (
	alphanumeric = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
	numeric      = regexp.MustCompile(`^[0-9]+$`)

	argOrg       = Arg{Name: "org", Field: FieldOrg, Message: "org must be one of %s"}
	argUserID    = Arg{Name: "userId", Field: FieldUserID, Pattern: alphanumeric, Message: "user id must be a non-empty alphanumeric string"}
	argAuctionID = Arg{Name: "auctionId", Field: FieldAuctionID, Pattern: numeric, Message: "auction id must be a non-empty number"}
	argItem      = Arg{Name: "item", Field: FieldItem, Pattern: alphanumeric, Message: "item must be a non-empty alphanumeric string"}
	argPrice     = Arg{Name: "price", Field: FieldPrice, Pattern: numeric, Message: "price must be a non-empty number"}
	argBidID     = Arg{Name: "bidId", Field: FieldBidID, Pattern: alphanumeric, Message: "bid id must be a non-empty alphanumeric string"}
)

// Schema declares an operation and its arguments.
type Schema struct {
	Op    Op
	Short string
	Args  []Arg
}

// Schemas lists every operation.
var Schemas = []Schema{
	{Op: OpEnrollAdmin, Short: "Enroll the CA admin of an organization", Args: []Arg{argOrg}},
	{Op: OpRegisterUser, Short: "Register and enroll a user", Args: []Arg{argOrg, argUserID}},
	{Op: OpCreateAuction, Short: "Create an auction", Args: []Arg{argOrg, argUserID, argAuctionID, argItem}},
	{Op: OpCreateBid, Short: "Create a private bid", Args: []Arg{argOrg, argUserID, argAuctionID, argPrice}},
	{Op: OpSubmitBid, Short: "Submit a bid to the auction", Args: []Arg{argOrg, argUserID, argAuctionID, argBidID}},
	{Op: OpRevealBid, Short: "Reveal a submitted bid", Args: []Arg{argOrg, argUserID, argAuctionID, argBidID}},
	{Op: OpEndAuction, Short: "Close an auction and select the winner", Args: []Arg{argOrg, argUserID, argAuctionID}},
	{Op: OpQueryAuction, Short: "Read an auction", Args: []Arg{argOrg, argUserID, argAuctionID}},
	{Op: OpQueryBid, Short: "Read a bid of your organization", Args: []Arg{argOrg, argUserID, argAuctionID, argBidID}},
}

// Lookup returns the schema of an operation.
func Lookup(op Op) (Schema, bool) {
	for _, s := range Schemas {
		if s.Op == op {
			return s, true
		}
	}
	return Schema{}, false
}

// Use returns the command line of the operation.
func (s Schema) Use() string {
	parts := []string{string(s.Op)}
	for _, a := range s.Args {
		parts = append(parts, "<"+a.Name+">")
	}
	return strings.Join(parts, " ")
}

// Invocation is a validated operation.
type Invocation struct {
	Op Op
	// Org is the lower-case organization name.
	Org       string
	MSPID     auction.OrgID
	UserID    string
	AuctionID auction.AuctionID
	Item      string
	Price     int64
	BidID     auction.BidID
}

// Parse validates args against the schema. orgs maps lower-case organization names to
// MSP ids. Failures are auction.KindArgument errors.
func (s Schema) Parse(orgs map[string]auction.OrgID, args []string) (Invocation, error) {
	op := string(s.Op)
	if len(args) != len(s.Args) {
		return Invocation{}, auction.ArgumentError(op, "expected %d arguments, got %d", len(s.Args), len(args))
	}

	inv := Invocation{Op: s.Op}
	for i, a := range s.Args {
		val := args[i]
		if a.Field == FieldOrg {
			org := strings.ToLower(val)
			msp, ok := orgs[org]
			if !ok || val == "" {
				return Invocation{}, auction.ArgumentError(op, a.Message, orgNames(orgs))
			}
			inv.Org, inv.MSPID = org, msp
			continue
		}
		if !a.Pattern.MatchString(val) {
			return Invocation{}, auction.ArgumentError(op, "%s", a.Message)
		}
		switch a.Field {
		case FieldUserID:
			inv.UserID = val
		case FieldAuctionID:
			inv.AuctionID = auction.AuctionID(val)
		case FieldItem:
			inv.Item = val
		case FieldBidID:
			inv.BidID = auction.BidID(val)
		case FieldPrice:
			price, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return Invocation{}, auction.ArgumentError(op, "price doesn't fit a 64-bit integer")
			}
			inv.Price = price
		}
	}
	return inv, nil
}

func orgNames(orgs map[string]auction.OrgID) string {
	names := make([]string, 0, len(orgs))
	for n := range orgs {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
