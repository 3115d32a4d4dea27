package msgbroker_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/msgbroker"
	"github.com/textileio/auction-ledger/msgbroker/fakemsgbroker"
)

var ctx = context.Background()

type listener struct {
	created []msgbroker.LedgerEvent
	closed  []msgbroker.LedgerEvent
}

func (l *listener) OnAuctionCreated(_ context.Context, e msgbroker.LedgerEvent) error {
	l.created = append(l.created, e)
	return nil
}

func (l *listener) OnAuctionClosed(_ context.Context, e msgbroker.LedgerEvent) error {
	l.closed = append(l.closed, e)
	return nil
}

func TestRegisterHandlers(t *testing.T) {
	t.Parallel()

	mb := fakemsgbroker.New()
	l := &listener{}
	require.NoError(t, msgbroker.RegisterHandlers(mb, l, msgbroker.WithACKDeadline(time.Minute)))
	require.Error(t, msgbroker.RegisterHandlers(mb, struct{}{}))
	require.Error(t, msgbroker.RegisterHandlers(mb, l, msgbroker.WithACKDeadline(0)))

	a := auction.NewAuction("1001", "vase", "seller")
	e := msgbroker.NewLedgerEvent("tx1", a, "")
	require.NoError(t, msgbroker.PublishMsgLedgerEvent(ctx, mb, msgbroker.AuctionCreatedTopic, e))
	require.Len(t, l.created, 1)
	require.Equal(t, auction.AuctionID("1001"), l.created[0].AuctionID)
	require.Equal(t, auction.StatusOpen, l.created[0].Status)
	require.Empty(t, l.closed)

	// Events without a registered listener are only recorded.
	require.NoError(t, msgbroker.PublishMsgLedgerEvent(ctx, mb, msgbroker.BidSubmittedTopic, e))
	require.Equal(t, 2, mb.TotalPublished())
	require.Equal(t, 1, mb.TotalPublishedTopic(msgbroker.BidSubmittedTopic))

	// Invalid payloads are rejected by the handler.
	require.Error(t, mb.PublishMsg(ctx, msgbroker.AuctionClosedTopic, []byte("{}")))
}

func TestLedgerEventHidesBidsUntilClosed(t *testing.T) {
	t.Parallel()

	a := auction.NewAuction("1001", "vase", "seller")
	a.Organizations = []auction.OrgID{"Org1MSP"}
	a.PrivateBids["1001/tx1"] = auction.BidHash{Org: "Org1MSP", Hash: "bhash"}
	a.RevealedBids["1001/tx1"] = auction.FullBid{Type: "bid", Price: 800, Org: "Org1MSP", Bidder: "bidder1"}
	a.Winner = "bidder1"
	a.Price = 800

	e := msgbroker.NewLedgerEvent("tx2", a, "tx1")
	require.NoError(t, e.Validate())
	require.NotEmpty(t, e.ID)
	data, err := json.Marshal(e)
	require.NoError(t, err)
	var fields map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &fields))
	require.NotContains(t, fields, "winner")
	require.NotContains(t, fields, "price")
	require.Equal(t, "tx1", fields["bidId"])

	a.Status = auction.StatusClosed
	e = msgbroker.NewLedgerEvent("tx3", a, "")
	require.Equal(t, "bidder1", e.Winner)
	require.Equal(t, int64(800), e.Price)

	require.Error(t, msgbroker.LedgerEvent{}.Validate())
}
