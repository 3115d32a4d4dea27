package dswallet

import (
	"context"
	"testing"

	ds "github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"
	"github.com/textileio/auction-ledger/identity"
	"github.com/textileio/auction-ledger/identity/identitytest"
)

var ctx = context.Background()

func TestPutGet(t *testing.T) {
	t.Parallel()

	w := New(dssync.MutexWrap(ds.NewMapDatastore()))
	_, err := w.Get(ctx, "user1")
	require.ErrorIs(t, err, identity.ErrIdentityNotFound)

	ca := identitytest.NewCA(t, "org1", "Org1MSP")
	cred := ca.Issue(t, "user1")
	require.NoError(t, w.Put(ctx, "user1", cred))

	got, err := w.Get(ctx, "user1")
	require.NoError(t, err)
	require.Equal(t, cred, got)

	ids, err := w.List(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"user1"}, ids)
}

func TestPutInvalid(t *testing.T) {
	t.Parallel()

	w := New(dssync.MutexWrap(ds.NewMapDatastore()))
	require.Error(t, w.Put(ctx, "", identity.Credential{Type: identity.CredentialTypeX509}))
	require.Error(t, w.Put(ctx, "user1", identity.Credential{Type: "Idemix"}))
	_, err := w.Get(ctx, "")
	require.Error(t, err)
}

func TestBadgerWallet(t *testing.T) {
	t.Parallel()

	path := t.TempDir()
	w, closeFn, err := Open(path)
	require.NoError(t, err)

	ca := identitytest.NewCA(t, "org2", "Org2MSP")
	require.NoError(t, identity.EnrollAdmin(ctx, ca, w, "Org2MSP", identity.DefaultAdminSecret))
	require.NoError(t, closeFn())

	w, closeFn, err = Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, closeFn()) })

	// The admin survived the restart so enrollment doesn't hit the CA again.
	require.NoError(t, identity.EnrollAdmin(ctx, ca, w, "Org2MSP", identity.DefaultAdminSecret))
	require.Equal(t, 1, ca.EnrollCalls())
}
