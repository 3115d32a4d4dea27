package auction

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVisibility(t *testing.T) {
	t.Parallel()

	a := NewAuction("1", "vase", "seller")
	require.Equal(t, VisibilityPrivate, a.Visibility("1", "tx1"))

	a.PrivateBids[BidKey("1", "tx1")] = BidHash{Org: "Org1MSP", Hash: "h"}
	require.Equal(t, VisibilitySubmitted, a.Visibility("1", "tx1"))

	a.RevealedBids[BidKey("1", "tx1")] = FullBid{Type: "bid", Price: 3, Org: "Org1MSP", Bidder: "b"}
	require.Equal(t, VisibilityRevealed, a.Visibility("1", "tx1"))
	require.Equal(t, "REVEALED", a.Visibility("1", "tx1").String())
}

func TestHighestRevealedBid(t *testing.T) {
	t.Parallel()

	a := NewAuction("1", "vase", "seller")
	_, _, ok := a.HighestRevealedBid()
	require.False(t, ok)

	a.RevealedBids["1/b"] = FullBid{Price: 10, Bidder: "b"}
	a.RevealedBids["1/a"] = FullBid{Price: 10, Bidder: "a"}
	a.RevealedBids["1/c"] = FullBid{Price: 5, Bidder: "c"}
	key, b, ok := a.HighestRevealedBid()
	require.True(t, ok)
	require.Equal(t, "1/a", key)
	require.Equal(t, "a", b.Bidder)

	a.RevealedBids["1/z"] = FullBid{Price: 11, Bidder: "z"}
	key, _, _ = a.HighestRevealedBid()
	require.Equal(t, "1/z", key)
}

func TestError(t *testing.T) {
	t.Parallel()

	base := errors.New("endorsement failure")
	err := NewError(KindCommit, "EndAuction", base).WithAuction("1001")
	require.Equal(t, "CommitError in EndAuction (auction 1001): endorsement failure", err.Error())
	require.ErrorIs(t, err, base)
	require.True(t, IsKind(err, KindCommit))
	require.False(t, IsKind(err, KindQuery))

	wrapped := fmt.Errorf("running: %w", err)
	require.True(t, IsKind(wrapped, KindCommit))

	// Retagging keeps the original kind.
	again := NewError(KindQuery, "RevealBid", wrapped).WithBid("tx1")
	require.Equal(t, KindCommit, again.Kind)
	require.Equal(t, "EndAuction", again.Op)
	require.Equal(t, "CommitError in EndAuction (auction 1001, bid tx1): endorsement failure", again.Error())

	require.Equal(t, KindUnknown, KindOf(base))
	require.False(t, IsKind(nil, KindUnknown))

	arg := ArgumentError("CreateBid", "price %q is not a number", "x")
	require.Equal(t, `ArgumentError in CreateBid: price "x" is not a number`, arg.Error())
}
