package auction

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestContractFunctions(t *testing.T) {
	t.Parallel()

	writes := []string{FnCreateAuction, FnCreateBid, FnSubmitBid, FnRevealBid, FnEndAuction}
	for _, fn := range writes {
		require.True(t, IsKnown(fn), fn)
		require.False(t, IsReadOnly(fn), fn)
	}
	reads := []string{FnQueryAuction, FnQueryBid, FnGetSubmittingClientIdentity}
	for _, fn := range reads {
		require.True(t, IsKnown(fn), fn)
		require.True(t, IsReadOnly(fn), fn)
	}

	require.False(t, IsKnown("Nope"))
	require.False(t, IsKnown("queryauction"))
	require.False(t, IsReadOnly("Nope"))
}
