package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/contract"
	"github.com/textileio/auction-ledger/ledger"
)

var ctx = context.Background()

const (
	org1   auction.OrgID = "Org1MSP"
	org2   auction.OrgID = "Org2MSP"
	seller               = "x509::CN=seller::CN=ca.org1.example.com"
)

func newChannel(t *testing.T) *Channel {
	c, err := New(Config{
		Name:     "mychannel",
		Contract: "auction-chaincode",
		Orgs:     []auction.OrgID{org1, org2},
	}, dssync.MutexWrap(ds.NewMapDatastore()))
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func newTxID(t *testing.T) ledger.TxID {
	id, err := ledger.NewTxID()
	require.NoError(t, err)
	return id
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Config{Contract: "c", Orgs: []auction.OrgID{org1}}.Validate())
	require.Error(t, Config{Name: "n", Orgs: []auction.OrgID{org1}}.Validate())
	require.Error(t, Config{Name: "n", Contract: "c"}.Validate())
	require.Error(t, Config{Name: "n", Contract: "c", Orgs: []auction.OrgID{org1, org1}}.Validate())
	require.NoError(t, Config{Name: "n", Contract: "c", Orgs: []auction.OrgID{org1}}.Validate())
}

func TestSubmitAndEvaluate(t *testing.T) {
	t.Parallel()
	c := newChannel(t)
	require.True(t, c.HasOrg(org1))
	require.False(t, c.HasOrg("Org3MSP"))

	txID := newTxID(t)
	res, err := c.Submit(ctx, Invocation{
		TxID:          txID,
		Function:      auction.FnCreateAuction,
		Args:          []string{"1001", "vase"},
		ClientID:      seller,
		MSPID:         org1,
		ChannelPolicy: true,
	})
	require.NoError(t, err)
	require.Equal(t, contract.EventAuctionCreated, res.Event.Type)

	rec, err := c.Store().GetTx(ctx, txID)
	require.NoError(t, err)
	require.Equal(t, auction.FnCreateAuction, rec.Function)
	require.Equal(t, seller, rec.Creator)

	val, err := c.Evaluate(ctx, Invocation{
		Function: auction.FnQueryAuction,
		Args:     []string{"1001"},
		ClientID: seller,
		MSPID:    org2,
	})
	require.NoError(t, err)
	var a auction.Auction
	require.NoError(t, json.Unmarshal(val, &a))
	require.Equal(t, "vase", a.Item)

	// Reusing the transaction id is rejected.
	_, err = c.Submit(ctx, Invocation{
		TxID:          txID,
		Function:      auction.FnCreateAuction,
		Args:          []string{"1002", "vase"},
		ClientID:      seller,
		MSPID:         org1,
		ChannelPolicy: true,
	})
	require.ErrorIs(t, err, ErrDuplicateTx)
}

func TestSubmitValidation(t *testing.T) {
	t.Parallel()
	c := newChannel(t)

	base := Invocation{
		TxID:      newTxID(t),
		Function:  auction.FnCreateAuction,
		Args:      []string{"1001", "vase"},
		ClientID:  seller,
		MSPID:     org1,
		Endorsers: []auction.OrgID{org1},
	}

	inv := base
	inv.TxID = ""
	_, err := c.Submit(ctx, inv)
	require.Error(t, err)

	inv = base
	inv.MSPID = "Org3MSP"
	_, err = c.Submit(ctx, inv)
	require.ErrorIs(t, err, ErrUnknownOrg)

	inv = base
	inv.Endorsers = []auction.OrgID{"Org3MSP"}
	_, err = c.Submit(ctx, inv)
	require.ErrorIs(t, err, ErrUnknownOrg)

	inv = base
	inv.Endorsers = []auction.OrgID{org1, org1}
	_, err = c.Submit(ctx, inv)
	require.Error(t, err)

	inv = base
	inv.Endorsers = nil
	_, err = c.Submit(ctx, inv)
	require.Error(t, err)

	inv = base
	inv.ChannelPolicy = true
	_, err = c.Submit(ctx, inv)
	require.Error(t, err)

	_, err = c.Evaluate(ctx, Invocation{Function: auction.FnQueryAuction, Args: []string{"1"}, ClientID: seller, MSPID: "Org3MSP"})
	require.ErrorIs(t, err, ErrUnknownOrg)
}

func TestConcurrentSubmissions(t *testing.T) {
	t.Parallel()
	c := newChannel(t)

	_, err := c.Submit(ctx, Invocation{
		TxID:          newTxID(t),
		Function:      auction.FnCreateAuction,
		Args:          []string{"1001", "vase"},
		ClientID:      seller,
		MSPID:         org1,
		ChannelPolicy: true,
	})
	require.NoError(t, err)

	// Bids of one organization, so every submission is endorsed by it.
	const n = 10
	bids := make([]auction.BidID, n)
	for i := 0; i < n; i++ {
		bidder := fmt.Sprintf("x509::CN=bidder%d::CN=ca.org1.example.com", i)
		env, err := auction.BuildBidEnvelope(int64(i), org1, bidder)
		require.NoError(t, err)
		txID := newTxID(t)
		_, err = c.Submit(ctx, Invocation{
			TxID:      txID,
			Function:  auction.FnCreateBid,
			Args:      []string{"1001"},
			ClientID:  bidder,
			MSPID:     org1,
			Endorsers: []auction.OrgID{org1},
			Transient: env,
		})
		require.NoError(t, err)
		bids[i] = auction.BidID(txID)
	}

	// The first submission fixes the organization set, the rest name it.
	_, err = c.Submit(ctx, Invocation{
		TxID:          newTxID(t),
		Function:      auction.FnSubmitBid,
		Args:          []string{"1001", string(bids[0])},
		ClientID:      "x509::CN=bidder0::CN=ca.org1.example.com",
		MSPID:         org1,
		ChannelPolicy: true,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 1; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txID, err := ledger.NewTxID()
			if err != nil {
				errs <- err
				return
			}
			_, err = c.Submit(ctx, Invocation{
				TxID:      txID,
				Function:  auction.FnSubmitBid,
				Args:      []string{"1001", string(bids[i])},
				ClientID:  fmt.Sprintf("x509::CN=bidder%d::CN=ca.org1.example.com", i),
				MSPID:     org1,
				Endorsers: []auction.OrgID{org1},
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	val, err := c.Evaluate(ctx, Invocation{
		Function: auction.FnQueryAuction,
		Args:     []string{"1001"},
		ClientID: seller,
		MSPID:    org1,
	})
	require.NoError(t, err)
	var a auction.Auction
	require.NoError(t, json.Unmarshal(val, &a))
	require.Len(t, a.PrivateBids, n)
	require.Equal(t, []auction.OrgID{org1}, a.Organizations)
}

func TestConcurrentReuseOfTxID(t *testing.T) {
	t.Parallel()
	c := newChannel(t)

	// Writes on different auctions don't share a lock, yet one tx id commits once.
	txID := newTxID(t)
	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Submit(ctx, Invocation{
				TxID:          txID,
				Function:      auction.FnCreateAuction,
				Args:          []string{fmt.Sprintf("%d", 2000+i), "vase"},
				ClientID:      seller,
				MSPID:         org1,
				ChannelPolicy: true,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	var committed int
	for err := range errs {
		if err == nil {
			committed++
			continue
		}
		require.ErrorIs(t, err, ErrDuplicateTx)
	}
	require.Equal(t, 1, committed)

	var created int
	for i := 0; i < n; i++ {
		_, err := c.Evaluate(ctx, Invocation{
			Function: auction.FnQueryAuction,
			Args:     []string{fmt.Sprintf("%d", 2000+i)},
			ClientID: seller,
			MSPID:    org1,
		})
		if err == nil {
			created++
		}
	}
	require.Equal(t, 1, created)

	txs, err := c.Store().ListTxs(ctx)
	require.NoError(t, err)
	require.Len(t, txs, 1)
}
