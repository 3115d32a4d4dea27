package msgbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/ledger"
)

// LedgerEvent describes a committed change to a public auction. Prices and
// bidders only appear once the auction is closed.
type LedgerEvent struct {
	ID            string            `json:"id"`
	TxID          ledger.TxID       `json:"txId"`
	AuctionID     auction.AuctionID `json:"auctionId"`
	BidID         auction.BidID     `json:"bidId,omitempty"`
	Status        auction.Status    `json:"status"`
	Organizations []auction.OrgID   `json:"organizations"`
	Winner        string            `json:"winner,omitempty"`
	Price         int64             `json:"price,omitempty"`
	Time          time.Time         `json:"time"`
}

// Validate checks the event fields.
func (e LedgerEvent) Validate() error {
	if e.ID == "" {
		return errors.New("event id is empty")
	}
	if e.TxID == "" {
		return errors.New("transaction id is empty")
	}
	if e.AuctionID == "" {
		return errors.New("auction id is empty")
	}
	if e.Status == "" {
		return errors.New("status is empty")
	}
	return nil
}

// NewLedgerEvent returns the event of a committed transaction on the auction.
func NewLedgerEvent(txID ledger.TxID, a auction.Auction, bidID auction.BidID) LedgerEvent {
	orgs := a.Organizations
	if orgs == nil {
		orgs = []auction.OrgID{}
	}
	e := LedgerEvent{
		ID:            uuid.New().String(),
		TxID:          txID,
		AuctionID:     a.ID,
		BidID:         bidID,
		Status:        a.Status,
		Organizations: orgs,
		Time:          time.Now(),
	}
	if a.Status == auction.StatusClosed {
		e.Winner = a.Winner
		e.Price = a.Price
	}
	return e
}

// PublishMsgLedgerEvent publishes an event to a ledger event topic.
func PublishMsgLedgerEvent(ctx context.Context, mb MsgBroker, topic TopicName, e LedgerEvent) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("invalid event: %s", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %s", err)
	}
	if err := mb.PublishMsg(ctx, topic, data); err != nil {
		return fmt.Errorf("publishing %s message: %s", topic, err)
	}
	return nil
}
