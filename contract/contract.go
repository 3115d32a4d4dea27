package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	golog "github.com/ipfs/go-log/v2"
	mbase "github.com/multiformats/go-multibase"
	mh "github.com/multiformats/go-multihash"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/ledger"
)

var (
	log = golog.Logger("contract")

	// ErrUnknownFunction indicates the function isn't part of the contract.
	ErrUnknownFunction = errors.New("unknown contract function")
	// ErrReadOnly indicates a write function was evaluated.
	ErrReadOnly = errors.New("function writes state and can't be evaluated")
	// ErrAuctionNotFound indicates the auction doesn't exist.
	ErrAuctionNotFound = errors.New("auction not found")
	// ErrAuctionExists indicates an auction with the same id exists.
	ErrAuctionExists = errors.New("auction already exists")
	// ErrAuctionClosed indicates the auction doesn't accept the operation anymore.
	ErrAuctionClosed = errors.New("auction is closed")
	// ErrBidNotFound indicates the bid isn't in the caller's private partition.
	ErrBidNotFound = errors.New("bid not found")
	// ErrBidNotSubmitted indicates the bid commitment isn't on the auction.
	ErrBidNotSubmitted = errors.New("bid wasn't submitted to the auction")
	// ErrBidAlreadySubmitted indicates the bid commitment is already on the auction.
	ErrBidAlreadySubmitted = errors.New("bid was already submitted to the auction")
	// ErrBidAlreadyRevealed indicates the bid is already public.
	ErrBidAlreadyRevealed = errors.New("bid was already revealed")
	// ErrHashMismatch indicates the revealed bid doesn't match its commitment.
	ErrHashMismatch = errors.New("bid doesn't match the submitted hash")
	// ErrNotSeller indicates the caller isn't the auction seller.
	ErrNotSeller = errors.New("only the seller can end the auction")
	// ErrNotBidder indicates the caller isn't the bidder.
	ErrNotBidder = errors.New("caller isn't the bidder")
	// ErrEndorsementPolicy indicates the endorsing organizations don't satisfy the
	// auction's endorsement policy.
	ErrEndorsementPolicy = errors.New("endorsement policy not satisfied")
)

// Stub is the contract's view of ledger state.
type Stub interface {
	// GetState returns nil if the key doesn't exist.
	GetState(ctx context.Context, key string) ([]byte, error)
	PutState(key string, val []byte) error
	// GetPrivateData returns nil if the key doesn't exist.
	GetPrivateData(ctx context.Context, org auction.OrgID, key string) ([]byte, error)
	PutPrivateData(org auction.OrgID, key string, val []byte) error
}

// TxContext is the context of a contract invocation.
type TxContext struct {
	TxID ledger.TxID
	// ClientID is the x509::<subject>::<issuer> identity of the caller.
	ClientID string
	// MSPID is the caller's organization.
	MSPID     auction.OrgID
	Endorsers []auction.OrgID
	// ChannelPolicy is true if the write requested the channel default policy.
	ChannelPolicy bool
	Transient     auction.Transient
	// ReadOnly is true for evaluations.
	ReadOnly bool
	Stub     Stub
}

// EventType is the type of a contract event.
type EventType string

const (
	// EventAuctionCreated is emitted by CreateAuction.
	EventAuctionCreated EventType = "auction-created"
	// EventBidSubmitted is emitted by SubmitBid.
	EventBidSubmitted EventType = "bid-submitted"
	// EventBidRevealed is emitted by RevealBid.
	EventBidRevealed EventType = "bid-revealed"
	// EventAuctionClosed is emitted by EndAuction.
	EventAuctionClosed EventType = "auction-closed"
)

// Event describes a committed change to an auction.
type Event struct {
	Type    EventType
	BidID   auction.BidID
	Auction auction.Auction
}

// Result is the outcome of an invocation.
type Result struct {
	Payload []byte
	// Event is nil for invocations that don't change public state.
	Event *Event
}

// Invoke runs a contract function.
func Invoke(ctx context.Context, tc TxContext, fn string, args []string) (Result, error) {
	if tc.Stub == nil {
		return Result{}, errors.New("stub is nil")
	}
	if tc.MSPID == "" || tc.ClientID == "" {
		return Result{}, errors.New("client identity is empty")
	}
	if !auction.IsKnown(fn) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownFunction, fn)
	}
	if tc.ReadOnly && !auction.IsReadOnly(fn) {
		return Result{}, ErrReadOnly
	}

	log.Debugf("invoking %s%v by %s (tx %s)", fn, args, tc.MSPID, tc.TxID)
	switch fn {
	case auction.FnCreateAuction:
		if err := checkArgs(args, 2); err != nil {
			return Result{}, err
		}
		return createAuction(ctx, tc, auction.AuctionID(args[0]), args[1])
	case auction.FnQueryAuction:
		if err := checkArgs(args, 1); err != nil {
			return Result{}, err
		}
		return queryAuction(ctx, tc, auction.AuctionID(args[0]))
	case auction.FnCreateBid:
		if err := checkArgs(args, 1); err != nil {
			return Result{}, err
		}
		return createBid(ctx, tc, auction.AuctionID(args[0]))
	case auction.FnQueryBid:
		if err := checkArgs(args, 2); err != nil {
			return Result{}, err
		}
		return queryBid(ctx, tc, auction.AuctionID(args[0]), auction.BidID(args[1]))
	case auction.FnSubmitBid:
		if err := checkArgs(args, 2); err != nil {
			return Result{}, err
		}
		return submitBid(ctx, tc, auction.AuctionID(args[0]), auction.BidID(args[1]))
	case auction.FnRevealBid:
		if err := checkArgs(args, 2); err != nil {
			return Result{}, err
		}
		return revealBid(ctx, tc, auction.AuctionID(args[0]), auction.BidID(args[1]))
	case auction.FnEndAuction:
		if err := checkArgs(args, 1); err != nil {
			return Result{}, err
		}
		return endAuction(ctx, tc, auction.AuctionID(args[0]))
	case auction.FnGetSubmittingClientIdentity:
		if err := checkArgs(args, 0); err != nil {
			return Result{}, err
		}
		return Result{Payload: []byte(tc.ClientID)}, nil
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownFunction, fn)
	}
}

// BidHash returns the commitment of a bid envelope: the multibase encoded sha256
// multihash of its bytes.
func BidHash(envelope []byte) (string, error) {
	sum, err := mh.Sum(envelope, mh.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("hashing bid: %v", err)
	}
	h, err := mbase.Encode(mbase.Base32, sum)
	if err != nil {
		return "", fmt.Errorf("encoding bid hash: %v", err)
	}
	return h, nil
}

func createAuction(ctx context.Context, tc TxContext, id auction.AuctionID, item string) (Result, error) {
	if id == "" {
		return Result{}, errors.New("auction id is empty")
	}
	if item == "" {
		return Result{}, errors.New("item is empty")
	}
	existing, err := tc.Stub.GetState(ctx, string(id))
	if err != nil {
		return Result{}, fmt.Errorf("getting auction: %v", err)
	}
	if existing != nil {
		return Result{}, ErrAuctionExists
	}
	if !tc.ChannelPolicy && len(tc.Endorsers) == 0 {
		return Result{}, ErrEndorsementPolicy
	}

	a := auction.NewAuction(id, item, tc.ClientID)
	if err := putAuction(tc.Stub, a); err != nil {
		return Result{}, err
	}
	return Result{Event: &Event{Type: EventAuctionCreated, Auction: a}}, nil
}

func queryAuction(ctx context.Context, tc TxContext, id auction.AuctionID) (Result, error) {
	val, err := tc.Stub.GetState(ctx, string(id))
	if err != nil {
		return Result{}, fmt.Errorf("getting auction: %v", err)
	}
	if val == nil {
		return Result{}, ErrAuctionNotFound
	}
	return Result{Payload: val}, nil
}

func createBid(ctx context.Context, tc TxContext, auctionID auction.AuctionID) (Result, error) {
	bid, raw, err := auction.ParseBidEnvelope(tc.Transient)
	if err != nil {
		return Result{}, err
	}
	if _, err := getAuction(ctx, tc.Stub, auctionID); err != nil {
		return Result{}, err
	}
	// The bid lives in the caller's partition, so only the caller's peers endorse it.
	if tc.ChannelPolicy || !auction.SameOrgs(tc.Endorsers, []auction.OrgID{tc.MSPID}) {
		return Result{}, fmt.Errorf("%w: bids are endorsed by the bidder's organization only", ErrEndorsementPolicy)
	}
	if bid.Org != tc.MSPID {
		return Result{}, fmt.Errorf("bid organization %s doesn't match the client organization %s", bid.Org, tc.MSPID)
	}
	if bid.Bidder != tc.ClientID {
		return Result{}, ErrNotBidder
	}
	if tc.TxID == "" {
		return Result{}, errors.New("transaction id is empty")
	}

	key := auction.BidKey(auctionID, auction.BidID(tc.TxID))
	if err := tc.Stub.PutPrivateData(tc.MSPID, key, raw); err != nil {
		return Result{}, fmt.Errorf("putting bid: %v", err)
	}
	return Result{Payload: []byte(tc.TxID)}, nil
}

func queryBid(ctx context.Context, tc TxContext, auctionID auction.AuctionID, bidID auction.BidID) (Result, error) {
	bid, raw, err := getBid(ctx, tc, auctionID, bidID)
	if err != nil {
		return Result{}, err
	}
	if bid.Bidder != tc.ClientID {
		return Result{}, ErrNotBidder
	}
	return Result{Payload: raw}, nil
}

func submitBid(ctx context.Context, tc TxContext, auctionID auction.AuctionID, bidID auction.BidID) (Result, error) {
	a, err := getAuction(ctx, tc.Stub, auctionID)
	if err != nil {
		return Result{}, err
	}
	if a.Status != auction.StatusOpen {
		return Result{}, ErrAuctionClosed
	}
	if err := checkPolicy(tc, a); err != nil {
		return Result{}, err
	}
	_, raw, err := getBid(ctx, tc, auctionID, bidID)
	if err != nil {
		return Result{}, err
	}
	key := auction.BidKey(auctionID, bidID)
	if _, ok := a.PrivateBids[key]; ok {
		return Result{}, ErrBidAlreadySubmitted
	}
	hash, err := BidHash(raw)
	if err != nil {
		return Result{}, err
	}

	a.PrivateBids[key] = auction.BidHash{Org: tc.MSPID, Hash: hash}
	if !a.HasOrganization(tc.MSPID) {
		a.Organizations = append(a.Organizations, tc.MSPID)
	}
	if err := putAuction(tc.Stub, a); err != nil {
		return Result{}, err
	}
	return Result{Event: &Event{Type: EventBidSubmitted, BidID: bidID, Auction: a}}, nil
}

func revealBid(ctx context.Context, tc TxContext, auctionID auction.AuctionID, bidID auction.BidID) (Result, error) {
	bid, raw, err := auction.ParseBidEnvelope(tc.Transient)
	if err != nil {
		return Result{}, err
	}
	a, err := getAuction(ctx, tc.Stub, auctionID)
	if err != nil {
		return Result{}, err
	}
	if a.Status != auction.StatusOpen {
		return Result{}, ErrAuctionClosed
	}
	if err := checkPolicy(tc, a); err != nil {
		return Result{}, err
	}
	key := auction.BidKey(auctionID, bidID)
	committed, ok := a.PrivateBids[key]
	if !ok {
		return Result{}, ErrBidNotSubmitted
	}
	if _, ok := a.RevealedBids[key]; ok {
		return Result{}, ErrBidAlreadyRevealed
	}
	hash, err := BidHash(raw)
	if err != nil {
		return Result{}, err
	}
	if hash != committed.Hash || bid.Org != committed.Org {
		return Result{}, ErrHashMismatch
	}
	if bid.Bidder != tc.ClientID {
		return Result{}, ErrNotBidder
	}

	a.RevealedBids[key] = bid
	if err := putAuction(tc.Stub, a); err != nil {
		return Result{}, err
	}
	return Result{Event: &Event{Type: EventBidRevealed, BidID: bidID, Auction: a}}, nil
}

func endAuction(ctx context.Context, tc TxContext, auctionID auction.AuctionID) (Result, error) {
	a, err := getAuction(ctx, tc.Stub, auctionID)
	if err != nil {
		return Result{}, err
	}
	if a.Status != auction.StatusOpen {
		return Result{}, ErrAuctionClosed
	}
	if a.Seller != tc.ClientID {
		return Result{}, ErrNotSeller
	}
	if err := checkPolicy(tc, a); err != nil {
		return Result{}, err
	}

	a.Status = auction.StatusClosed
	if _, winner, ok := a.HighestRevealedBid(); ok {
		a.Winner = winner.Bidder
		a.Price = winner.Price
	}
	if err := putAuction(tc.Stub, a); err != nil {
		return Result{}, err
	}
	return Result{Event: &Event{Type: EventAuctionClosed, Auction: a}}, nil
}

// checkPolicy verifies a write to the auction is endorsed by every organization
// participating in it. Auctions without organizations accept the channel default.
func checkPolicy(tc TxContext, a auction.Auction) error {
	if len(a.Organizations) == 0 {
		if !tc.ChannelPolicy && len(tc.Endorsers) == 0 {
			return ErrEndorsementPolicy
		}
		return nil
	}
	if tc.ChannelPolicy || !auction.SameOrgs(tc.Endorsers, a.Organizations) {
		return fmt.Errorf("%w: endorsed by %v, auction organizations are %v",
			ErrEndorsementPolicy, tc.Endorsers, a.Organizations)
	}
	return nil
}

func getAuction(ctx context.Context, stub Stub, id auction.AuctionID) (auction.Auction, error) {
	if id == "" {
		return auction.Auction{}, errors.New("auction id is empty")
	}
	val, err := stub.GetState(ctx, string(id))
	if err != nil {
		return auction.Auction{}, fmt.Errorf("getting auction: %v", err)
	}
	if val == nil {
		return auction.Auction{}, ErrAuctionNotFound
	}
	var a auction.Auction
	if err := json.Unmarshal(val, &a); err != nil {
		return auction.Auction{}, fmt.Errorf("decoding auction: %v", err)
	}
	if a.PrivateBids == nil {
		a.PrivateBids = map[string]auction.BidHash{}
	}
	if a.RevealedBids == nil {
		a.RevealedBids = map[string]auction.FullBid{}
	}
	if a.Organizations == nil {
		a.Organizations = []auction.OrgID{}
	}
	return a, nil
}

func putAuction(stub Stub, a auction.Auction) error {
	val, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encoding auction: %v", err)
	}
	if err := stub.PutState(string(a.ID), val); err != nil {
		return fmt.Errorf("putting auction: %v", err)
	}
	return nil
}

func getBid(
	ctx context.Context,
	tc TxContext,
	auctionID auction.AuctionID,
	bidID auction.BidID) (auction.FullBid, []byte, error) {
	if auctionID == "" || bidID == "" {
		return auction.FullBid{}, nil, errors.New("auction and bid ids are required")
	}
	raw, err := tc.Stub.GetPrivateData(ctx, tc.MSPID, auction.BidKey(auctionID, bidID))
	if err != nil {
		return auction.FullBid{}, nil, fmt.Errorf("getting bid: %v", err)
	}
	if raw == nil {
		return auction.FullBid{}, nil, ErrBidNotFound
	}
	bid, _, err := auction.ParseBidEnvelope(auction.Transient{auction.EnvelopeKey: raw})
	if err != nil {
		return auction.FullBid{}, nil, fmt.Errorf("decoding bid: %v", err)
	}
	return bid, raw, nil
}

func checkArgs(args []string, n int) error {
	if len(args) != n {
		return fmt.Errorf("expected %d arguments, got %d", n, len(args))
	}
	return nil
}
