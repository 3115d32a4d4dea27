package fakeledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/textileio/auction-ledger/auction"
	"github.com/textileio/auction-ledger/identity/identitytest"
	"github.com/textileio/auction-ledger/ledger"
)

var ctx = context.Background()

func TestOpen(t *testing.T) {
	t.Parallel()

	net, err := New("Org1MSP")
	require.NoError(t, err)
	cred := identitytest.NewCA(t, "org1", "Org1MSP").Issue(t, "seller")

	p := ledger.Params{Credential: cred, Channel: DefaultChannel, Contract: DefaultContract}
	s, err := net.Open(ctx, p)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	_, err = s.Evaluate(ctx, auction.FnGetSubmittingClientIdentity)
	require.True(t, auction.IsKind(err, auction.KindConnection))

	p.Contract = "other"
	_, err = net.Open(ctx, p)
	require.True(t, auction.IsKind(err, auction.KindConnection))

	other := identitytest.NewCA(t, "org3", "Org3MSP").Issue(t, "user")
	_, err = net.Session(other)
	require.True(t, auction.IsKind(err, auction.KindConnection))
}

func TestRecordsCalls(t *testing.T) {
	t.Parallel()

	net, err := New("Org1MSP", "Org2MSP")
	require.NoError(t, err)
	cred := identitytest.NewCA(t, "org1", "Org1MSP").Issue(t, "seller")
	s, err := net.Session(cred)
	require.NoError(t, err)

	id, err := s.Evaluate(ctx, auction.FnGetSubmittingClientIdentity)
	require.NoError(t, err)
	clientID, err := cred.ClientID()
	require.NoError(t, err)
	require.Equal(t, clientID, string(id))

	txID, _, err := s.Submit(ctx, ledger.Proposal{
		Function:      auction.FnCreateAuction,
		Args:          []string{"1001", "vase"},
		ChannelPolicy: true,
	})
	require.NoError(t, err)
	require.NotEmpty(t, txID)

	calls := net.Calls()
	require.Len(t, calls, 2)
	require.Equal(t, MethodEvaluate, calls[0].Method)
	require.Equal(t, MethodSubmit, calls[1].Method)
	require.Equal(t, txID, calls[1].TxID)
	require.True(t, calls[1].ChannelPolicy)
	require.Len(t, net.Submits(), 1)

	net.ResetCalls()
	require.Empty(t, net.Calls())
}

func TestErrorKinds(t *testing.T) {
	t.Parallel()

	net, err := New("Org1MSP")
	require.NoError(t, err)
	s, err := net.Session(identitytest.NewCA(t, "org1", "Org1MSP").Issue(t, "seller"))
	require.NoError(t, err)

	_, err = s.Evaluate(ctx, auction.FnQueryAuction, "1001")
	require.True(t, auction.IsKind(err, auction.KindQuery))

	_, _, err = s.Submit(ctx, ledger.Proposal{Function: auction.FnEndAuction, Args: []string{"1001"}})
	require.True(t, auction.IsKind(err, auction.KindCommit))

	boom := errors.New("boom")
	net.SetHook(func(c Call) error {
		if c.Function == auction.FnCreateAuction {
			return boom
		}
		return nil
	})
	_, _, err = s.Submit(ctx, ledger.Proposal{
		Function:      auction.FnCreateAuction,
		Args:          []string{"1001", "vase"},
		ChannelPolicy: true,
	})
	require.True(t, auction.IsKind(err, auction.KindCommit))
	require.ErrorIs(t, err, boom)

	net.SetHook(nil)
	_, _, err = s.Submit(ctx, ledger.Proposal{
		Function:      auction.FnCreateAuction,
		Args:          []string{"1001", "vase"},
		ChannelPolicy: true,
	})
	require.NoError(t, err)
}
