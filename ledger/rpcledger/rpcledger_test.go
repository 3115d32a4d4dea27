package rpcledger_test

import (
	"context"
	"encoding/json"
	"encoding/pem"
	"net/http/httptest"
	"testing"
	"time"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/channel"
	"github.com/textileio/auction-ledger/cmd/ledgerd/service"
	"github.com/textileio/auction-ledger/identity"
	"github.com/textileio/auction-ledger/identity/identitytest"
	"github.com/textileio/auction-ledger/ledger"
	"github.com/textileio/auction-ledger/ledger/connprofile"
	"github.com/textileio/auction-ledger/ledger/rpcledger"
	"github.com/textileio/auction-ledger/msgbroker"
	"github.com/textileio/auction-ledger/msgbroker/fakemsgbroker"
	"github.com/textileio/auction-ledger/orchestrator"
)

var ctx = context.Background()

const (
	org1 auction.OrgID = "Org1MSP"
	org2 auction.OrgID = "Org2MSP"

	channelName  = "mychannel"
	contractName = "auction-chaincode"
)

type gateway struct {
	mb  *fakemsgbroker.FakeMsgBroker
	srv *httptest.Server
	ca1 *identitytest.CA
	ca2 *identitytest.CA
}

func newGateway(t *testing.T, tls bool) *gateway {
	ch, err := channel.New(channel.Config{
		Name:     channelName,
		Contract: contractName,
		Orgs:     []auction.OrgID{org1, org2},
	}, dssync.MutexWrap(ds.NewMapDatastore()))
	require.NoError(t, err)
	mb := fakemsgbroker.New()
	svc, err := service.New(ch, mb, service.Config{TokenSecret: []byte("secret")})
	require.NoError(t, err)

	srv := httptest.NewUnstartedServer(svc.Handler())
	if tls {
		srv.StartTLS()
	} else {
		srv.Start()
	}
	t.Cleanup(func() {
		srv.Close()
		require.NoError(t, svc.Close())
	})
	return &gateway{
		mb:  mb,
		srv: srv,
		ca1: identitytest.NewCA(t, "org1", org1),
		ca2: identitytest.NewCA(t, "org2", org2),
	}
}

func params(cred identity.Credential) ledger.Params {
	return ledger.Params{
		Credential: cred,
		Channel:    channelName,
		Contract:   contractName,
	}
}

func profile(urls ...string) connprofile.Profile {
	p := connprofile.Profile{
		Organizations: map[string]connprofile.Organization{"Org1": {MSPID: string(org1)}},
		Peers:         map[string]connprofile.Peer{},
	}
	o := p.Organizations["Org1"]
	for i, u := range urls {
		name := "peer" + string(rune('0'+i)) + ".org1.example.com"
		o.Peers = append(o.Peers, name)
		p.Peers[name] = connprofile.Peer{URL: u}
	}
	p.Organizations["Org1"] = o
	return p
}

func (g *gateway) orchestrator(t *testing.T, cred identity.Credential) *orchestrator.Orchestrator {
	s, err := rpcledger.NewDialer(rpcledger.Config{Timeout: 10 * time.Second}).Dial(ctx, g.srv.URL, params(cred))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	o, err := orchestrator.New(s, orchestrator.Config{MSPID: cred.MSPID})
	require.NoError(t, err)
	return o
}

func TestAuctionOverGateway(t *testing.T) {
	t.Parallel()
	g := newGateway(t, false)
	seller := g.orchestrator(t, g.ca1.Issue(t, "seller"))
	bidder1 := g.orchestrator(t, g.ca1.Issue(t, "bidder1"))
	bidder2 := g.orchestrator(t, g.ca2.Issue(t, "bidder2"))

	r, err := seller.CreateAuction(ctx, "1001", "vase")
	require.NoError(t, err)
	require.NoError(t, r.ConfirmErr)
	require.Equal(t, auction.StatusOpen, r.Auction.Status)

	r1, err := bidder1.CreateBid(ctx, "1001", 800)
	require.NoError(t, err)
	require.NoError(t, r1.ConfirmErr)
	require.Equal(t, int64(800), r1.Bid.Price)
	r2, err := bidder2.CreateBid(ctx, "1001", 900)
	require.NoError(t, err)

	// Bids stay private to the bidder's organization.
	_, err = bidder1.QueryBid(ctx, "1001", r2.BidID)
	require.True(t, auction.IsKind(err, auction.KindQuery))

	_, err = bidder1.SubmitBid(ctx, "1001", r1.BidID)
	require.NoError(t, err)
	r, err = bidder2.SubmitBid(ctx, "1001", r2.BidID)
	require.NoError(t, err)
	require.Equal(t, []auction.OrgID{org1, org2}, r.Auction.Organizations)

	_, err = bidder1.RevealBid(ctx, "1001", r1.BidID)
	require.NoError(t, err)
	_, err = bidder2.RevealBid(ctx, "1001", r2.BidID)
	require.NoError(t, err)

	r, err = seller.EndAuction(ctx, "1001")
	require.NoError(t, err)
	require.Equal(t, auction.StatusClosed, r.Auction.Status)
	require.Equal(t, int64(900), r.Auction.Price)
	require.Contains(t, r.Auction.Winner, "CN=bidder2")

	a, err := bidder1.QueryAuction(ctx, "1001")
	require.NoError(t, err)
	require.NotNil(t, r.Auction)
	require.Equal(t, *r.Auction, a)

	require.Equal(t, 1, g.mb.TotalPublishedTopic(msgbroker.AuctionCreatedTopic))
	require.Equal(t, 2, g.mb.TotalPublishedTopic(msgbroker.BidSubmittedTopic))
	require.Equal(t, 2, g.mb.TotalPublishedTopic(msgbroker.BidRevealedTopic))
	require.Equal(t, 1, g.mb.TotalPublishedTopic(msgbroker.AuctionClosedTopic))

	data, err := g.mb.GetMsg(msgbroker.BidSubmittedTopic, 0)
	require.NoError(t, err)
	var ev msgbroker.LedgerEvent
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, r1.BidID, ev.BidID)
	require.Empty(t, ev.Winner)
	require.Zero(t, ev.Price)

	data, err = g.mb.GetMsg(msgbroker.AuctionClosedTopic, 0)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &ev))
	require.Equal(t, r.Auction.Winner, ev.Winner)
	require.Equal(t, int64(900), ev.Price)
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()
	g := newGateway(t, false)
	s, err := rpcledger.NewDialer(rpcledger.Config{}).Dial(ctx, g.srv.URL, params(g.ca1.Issue(t, "seller")))
	require.NoError(t, err)

	_, err = s.Evaluate(ctx, auction.FnQueryAuction, "404")
	require.True(t, auction.IsKind(err, auction.KindQuery))

	_, _, err = s.Submit(ctx, ledger.Proposal{
		Function:  auction.FnEndAuction,
		Args:      []string{"404"},
		Endorsers: []auction.OrgID{org1},
	})
	require.True(t, auction.IsKind(err, auction.KindCommit))

	_, _, err = s.Submit(ctx, ledger.Proposal{Function: auction.FnCreateAuction, Args: []string{"1", "x"}})
	require.True(t, auction.IsKind(err, auction.KindCommit))

	txID, _, err := s.Submit(ctx, ledger.Proposal{
		Function:      auction.FnCreateAuction,
		Args:          []string{"1001", "vase"},
		ChannelPolicy: true,
	})
	require.NoError(t, err)
	_, _, err = s.Submit(ctx, ledger.Proposal{
		TxID:          txID,
		Function:      auction.FnCreateAuction,
		Args:          []string{"1002", "vase"},
		ChannelPolicy: true,
	})
	require.True(t, auction.IsKind(err, auction.KindCommit))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
}

func TestOpenFallsBackToNextPeer(t *testing.T) {
	t.Parallel()
	g := newGateway(t, false)
	dead := httptest.NewServer(nil)
	deadURL := dead.URL
	dead.Close()

	p := params(g.ca1.Issue(t, "seller"))
	p.Profile = profile(deadURL, g.srv.URL)
	p.Org = "org1"
	s, err := rpcledger.NewDialer(rpcledger.Config{Timeout: 5 * time.Second}).Open(ctx, p)
	require.NoError(t, err)
	defer func() { require.NoError(t, s.Close()) }()

	_, _, err = s.Submit(ctx, ledger.Proposal{
		Function:      auction.FnCreateAuction,
		Args:          []string{"1001", "vase"},
		ChannelPolicy: true,
	})
	require.NoError(t, err)
}

func TestOpenFailures(t *testing.T) {
	t.Parallel()
	g := newGateway(t, false)
	dialer := rpcledger.NewDialer(rpcledger.Config{Timeout: 5 * time.Second})
	cred := g.ca1.Issue(t, "seller")

	t.Run("no peer answers", func(t *testing.T) {
		dead := httptest.NewServer(nil)
		deadURL := dead.URL
		dead.Close()
		p := params(cred)
		p.Profile = profile(deadURL)
		p.Org = "Org1"
		_, err := dialer.Open(ctx, p)
		require.True(t, auction.IsKind(err, auction.KindConnection))
	})

	t.Run("organization not in profile", func(t *testing.T) {
		p := params(cred)
		p.Profile = profile(g.srv.URL)
		p.Org = "Org9"
		_, err := dialer.Open(ctx, p)
		require.True(t, auction.IsKind(err, auction.KindConnection))
	})

	t.Run("contract not deployed", func(t *testing.T) {
		p := params(cred)
		p.Contract = "other"
		_, err := dialer.Dial(ctx, g.srv.URL, p)
		require.True(t, auction.IsKind(err, auction.KindConnection))
	})

	t.Run("invalid credential", func(t *testing.T) {
		_, err := dialer.Dial(ctx, g.srv.URL, params(identity.Credential{}))
		require.True(t, auction.IsKind(err, auction.KindConnection))
	})
}

func TestOpenWithTLS(t *testing.T) {
	t.Parallel()
	g := newGateway(t, true)
	cred := g.ca1.Issue(t, "seller")

	p := params(cred)
	p.Org = "Org1"
	p.Profile = profile(g.srv.URL)
	peer := p.Profile.Peers["peer0.org1.example.com"]
	peer.TLSCACerts.PEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: g.srv.Certificate().Raw}))
	p.Profile.Peers["peer0.org1.example.com"] = peer

	s, err := rpcledger.NewDialer(rpcledger.Config{Timeout: 5 * time.Second}).Open(ctx, p)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Without the peer certificate the server isn't trusted.
	p.Profile = profile(g.srv.URL)
	_, err = rpcledger.NewDialer(rpcledger.Config{Timeout: 5 * time.Second}).Open(ctx, p)
	require.True(t, auction.IsKind(err, auction.KindConnection))
}
