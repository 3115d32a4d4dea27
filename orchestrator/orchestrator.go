package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	golog "github.com/ipfs/go-log/v2"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/ledger"
)

var log = golog.Logger("orchestrator")

// Config configures an Orchestrator.
type Config struct {
	// MSPID is the organization of the session's identity.
	MSPID auction.OrgID
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.MSPID == "" {
		return errors.New("msp id is empty")
	}
	return nil
}

// Receipt describes a committed write.
type Receipt struct {
	TxID ledger.TxID
	// BidID is set by CreateBid.
	BidID auction.BidID
	// Auction is the auction as read back after the write.
	Auction *auction.Auction
	// Bid is the bid as read back after CreateBid.
	Bid *auction.Bid
	// ConfirmErr is the error of the read back, if any. The write is committed
	// regardless.
	ConfirmErr error
}

// Orchestrator drives the auction lifecycle over a ledger session. Every write
// reads the state it depends on first and reads the result back afterwards.
// Nothing is retried.
type Orchestrator struct {
	session ledger.Session
	conf    Config
}

// New returns a new Orchestrator.
func New(s ledger.Session, conf Config) (*Orchestrator, error) {
	if s == nil {
		return nil, errors.New("session is nil")
	}
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %v", err)
	}
	return &Orchestrator{session: s, conf: conf}, nil
}

// CreateAuction opens an auction for item. The calling identity becomes the seller.
func (o *Orchestrator) CreateAuction(ctx context.Context, id auction.AuctionID, item string) (Receipt, error) {
	const op = "CreateAuction"
	if id == "" {
		return Receipt{}, auction.ArgumentError(op, "auction id is empty")
	}
	if item == "" {
		return Receipt{}, auction.ArgumentError(op, "item is empty").WithAuction(id)
	}

	txID, _, err := o.session.Submit(ctx, ledger.Proposal{
		Function:      auction.FnCreateAuction,
		Args:          []string{string(id), item},
		ChannelPolicy: true,
	})
	if err != nil {
		return Receipt{}, tag(auction.KindCommit, op, id, "", err)
	}
	log.Infof("created auction %s for %s (tx %s)", id, item, txID)

	r := Receipt{TxID: txID}
	o.confirmAuction(ctx, op, id, &r)
	return r, nil
}

// CreateBid records a bid of price in the caller's private partition and returns
// its id. Nothing about the bid is public until it's submitted.
func (o *Orchestrator) CreateBid(ctx context.Context, id auction.AuctionID, price int64) (Receipt, error) {
	const op = "CreateBid"
	if id == "" {
		return Receipt{}, auction.ArgumentError(op, "auction id is empty")
	}
	if price < 0 {
		return Receipt{}, auction.NewError(auction.KindArgument, op, auction.ErrNegativePrice).WithAuction(id)
	}

	bidder, err := o.session.Evaluate(ctx, auction.FnGetSubmittingClientIdentity)
	if err != nil {
		return Receipt{}, tag(auction.KindQuery, op, id, "", err)
	}
	env, err := auction.BuildBidEnvelope(price, o.conf.MSPID, string(bidder))
	if err != nil {
		return Receipt{}, tag(auction.KindArgument, op, id, "", err)
	}
	txID, err := ledger.NewTxID()
	if err != nil {
		return Receipt{}, tag(auction.KindCommit, op, id, "", err)
	}
	bidID := auction.BidID(txID)

	if _, _, err := o.session.Submit(ctx, ledger.Proposal{
		TxID:      txID,
		Function:  auction.FnCreateBid,
		Args:      []string{string(id)},
		Endorsers: []auction.OrgID{o.conf.MSPID},
		Transient: env,
	}); err != nil {
		return Receipt{}, tag(auction.KindCommit, op, id, bidID, err)
	}
	log.Infof("created bid %s for auction %s", bidID, id)

	r := Receipt{TxID: txID, BidID: bidID}
	fb, err := o.queryFullBid(ctx, id, bidID)
	if err != nil {
		r.ConfirmErr = tag(auction.KindQuery, op, id, bidID, err)
		log.Warnf("reading back bid %s: %s", bidID, r.ConfirmErr)
		return r, nil
	}
	r.Bid = &auction.Bid{
		ID:         bidID,
		AuctionID:  id,
		Org:        fb.Org,
		Bidder:     fb.Bidder,
		Price:      fb.Price,
		Visibility: auction.VisibilityPrivate,
	}
	return r, nil
}

// SubmitBid records the commitment of a bid on the public auction.
func (o *Orchestrator) SubmitBid(ctx context.Context, id auction.AuctionID, bidID auction.BidID) (Receipt, error) {
	const op = "SubmitBid"
	if err := checkBidArgs(op, id, bidID); err != nil {
		return Receipt{}, err
	}

	a, err := o.queryAuction(ctx, id)
	if err != nil {
		return Receipt{}, tag(auction.KindQuery, op, id, bidID, err)
	}
	p := ledger.Proposal{
		Function: auction.FnSubmitBid,
		Args:     []string{string(id), string(bidID)},
	}
	if len(a.Organizations) == 0 {
		p.ChannelPolicy = true
	} else {
		if p.Endorsers, err = auction.SelectEndorsers(a); err != nil {
			return Receipt{}, tag(auction.KindCommit, op, id, bidID, err)
		}
	}
	return o.submit(ctx, op, id, bidID, p)
}

// RevealBid makes the price and bidder of a submitted bid public.
func (o *Orchestrator) RevealBid(ctx context.Context, id auction.AuctionID, bidID auction.BidID) (Receipt, error) {
	const op = "RevealBid"
	if err := checkBidArgs(op, id, bidID); err != nil {
		return Receipt{}, err
	}

	fb, err := o.queryFullBid(ctx, id, bidID)
	if err != nil {
		return Receipt{}, tag(auction.KindQuery, op, id, bidID, err)
	}
	a, err := o.queryAuction(ctx, id)
	if err != nil {
		return Receipt{}, tag(auction.KindQuery, op, id, bidID, err)
	}
	env, err := auction.EnvelopeFromBid(fb)
	if err != nil {
		return Receipt{}, tag(auction.KindQuery, op, id, bidID, err)
	}
	endorsers, err := auction.SelectEndorsers(a)
	if err != nil {
		return Receipt{}, tag(auction.KindCommit, op, id, bidID, err)
	}
	return o.submit(ctx, op, id, bidID, ledger.Proposal{
		Function:  auction.FnRevealBid,
		Args:      []string{string(id), string(bidID)},
		Endorsers: endorsers,
		Transient: env,
	})
}

// EndAuction closes the auction and selects the winner among revealed bids.
// Only the seller can end it.
func (o *Orchestrator) EndAuction(ctx context.Context, id auction.AuctionID) (Receipt, error) {
	const op = "EndAuction"
	if id == "" {
		return Receipt{}, auction.ArgumentError(op, "auction id is empty")
	}

	a, err := o.queryAuction(ctx, id)
	if err != nil {
		return Receipt{}, tag(auction.KindQuery, op, id, "", err)
	}
	endorsers, err := auction.SelectEndorsers(a)
	if err != nil {
		return Receipt{}, tag(auction.KindCommit, op, id, "", err)
	}
	return o.submit(ctx, op, id, "", ledger.Proposal{
		Function:  auction.FnEndAuction,
		Args:      []string{string(id)},
		Endorsers: endorsers,
	})
}

// QueryAuction returns the public auction.
func (o *Orchestrator) QueryAuction(ctx context.Context, id auction.AuctionID) (auction.Auction, error) {
	const op = "QueryAuction"
	if id == "" {
		return auction.Auction{}, auction.ArgumentError(op, "auction id is empty")
	}
	a, err := o.queryAuction(ctx, id)
	if err != nil {
		return auction.Auction{}, tag(auction.KindQuery, op, id, "", err)
	}
	return a, nil
}

// QueryBid returns a bid from the caller's private partition. Only the bidder can
// read it. Visibility is left unspecified if the auction can't be read.
func (o *Orchestrator) QueryBid(ctx context.Context, id auction.AuctionID, bidID auction.BidID) (auction.Bid, error) {
	const op = "QueryBid"
	if err := checkBidArgs(op, id, bidID); err != nil {
		return auction.Bid{}, err
	}
	fb, err := o.queryFullBid(ctx, id, bidID)
	if err != nil {
		return auction.Bid{}, tag(auction.KindQuery, op, id, bidID, err)
	}
	b := auction.Bid{
		ID:        bidID,
		AuctionID: id,
		Org:       fb.Org,
		Bidder:    fb.Bidder,
		Price:     fb.Price,
	}
	if a, err := o.queryAuction(ctx, id); err != nil {
		log.Warnf("reading visibility of bid %s: %s", bidID, err)
	} else {
		b.Visibility = a.Visibility(id, bidID)
	}
	return b, nil
}

func (o *Orchestrator) submit(
	ctx context.Context,
	op string,
	id auction.AuctionID,
	bidID auction.BidID,
	p ledger.Proposal) (Receipt, error) {
	txID, _, err := o.session.Submit(ctx, p)
	if err != nil {
		return Receipt{}, tag(auction.KindCommit, op, id, bidID, err)
	}
	log.Infof("%s on auction %s committed (tx %s, endorsers %v)", op, id, txID, p.Endorsers)

	r := Receipt{TxID: txID}
	o.confirmAuction(ctx, op, id, &r)
	return r, nil
}

func (o *Orchestrator) confirmAuction(ctx context.Context, op string, id auction.AuctionID, r *Receipt) {
	a, err := o.queryAuction(ctx, id)
	if err != nil {
		r.ConfirmErr = tag(auction.KindQuery, op, id, "", err)
		log.Warnf("reading back auction %s: %s", id, r.ConfirmErr)
		return
	}
	r.Auction = &a
}

func (o *Orchestrator) queryAuction(ctx context.Context, id auction.AuctionID) (auction.Auction, error) {
	val, err := o.session.Evaluate(ctx, auction.FnQueryAuction, string(id))
	if err != nil {
		return auction.Auction{}, err
	}
	var a auction.Auction
	if err := json.Unmarshal(val, &a); err != nil {
		return auction.Auction{}, fmt.Errorf("decoding auction: %v", err)
	}
	return a, nil
}

func (o *Orchestrator) queryFullBid(
	ctx context.Context,
	id auction.AuctionID,
	bidID auction.BidID) (auction.FullBid, error) {
	val, err := o.session.Evaluate(ctx, auction.FnQueryBid, string(id), string(bidID))
	if err != nil {
		return auction.FullBid{}, err
	}
	var fb auction.FullBid
	if err := json.Unmarshal(val, &fb); err != nil {
		return auction.FullBid{}, fmt.Errorf("decoding bid: %v", err)
	}
	return fb, nil
}

func checkBidArgs(op string, id auction.AuctionID, bidID auction.BidID) error {
	if id == "" {
		return auction.ArgumentError(op, "auction id is empty")
	}
	if bidID == "" {
		return auction.ArgumentError(op, "bid id is empty").WithAuction(id)
	}
	return nil
}

// tag returns err as an auction error of the operation. Errors already tagged by
// the session keep their kind.
func tag(kind auction.Kind, op string, id auction.AuctionID, bidID auction.BidID, err error) error {
	e := auction.NewError(kind, op, err).WithAuction(id)
	if bidID != "" {
		e = e.WithBid(bidID)
	}
	return e
}
