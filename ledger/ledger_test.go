package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/textileio/auction-ledger/auction"
)

var ctx = context.Background()

type session struct {
	closes   int
	closeErr error
}

func (s *session) Evaluate(context.Context, string, ...string) ([]byte, error) { return nil, nil }
func (s *session) Submit(context.Context, Proposal) (TxID, []byte, error)      { return "", nil, nil }
func (s *session) Close() error {
	s.closes++
	return s.closeErr
}

func opener(s *session, err error) Opener {
	return OpenerFunc(func(context.Context, Params) (Session, error) {
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}

func TestWithSession(t *testing.T) {
	t.Parallel()

	t.Run("closes on success", func(t *testing.T) {
		s := &session{}
		err := WithSession(ctx, opener(s, nil), Params{}, func(Session) error { return nil })
		require.NoError(t, err)
		require.Equal(t, 1, s.closes)
	})

	t.Run("closes on error", func(t *testing.T) {
		s := &session{closeErr: errors.New("close")}
		boom := errors.New("boom")
		err := WithSession(ctx, opener(s, nil), Params{}, func(Session) error { return boom })
		require.ErrorIs(t, err, boom)
		require.Equal(t, 1, s.closes)
	})

	t.Run("closes on panic", func(t *testing.T) {
		s := &session{}
		require.Panics(t, func() {
			_ = WithSession(ctx, opener(s, nil), Params{}, func(Session) error { panic("boom") })
		})
		require.Equal(t, 1, s.closes)
	})

	t.Run("close error", func(t *testing.T) {
		s := &session{closeErr: errors.New("close")}
		err := WithSession(ctx, opener(s, nil), Params{}, func(Session) error { return nil })
		require.True(t, auction.IsKind(err, auction.KindConnection))
	})

	t.Run("open error", func(t *testing.T) {
		called := false
		err := WithSession(ctx, opener(nil, errors.New("no peers")), Params{}, func(Session) error {
			called = true
			return nil
		})
		require.True(t, auction.IsKind(err, auction.KindConnection))
		require.False(t, called)
	})
}

func TestProposalValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Proposal{}.Validate())
	require.Error(t, Proposal{Function: "f"}.Validate())
	require.Error(t, Proposal{Function: "f", ChannelPolicy: true, Endorsers: []auction.OrgID{"Org1MSP"}}.Validate())
	require.Error(t, Proposal{Function: "f", Endorsers: []auction.OrgID{""}}.Validate())
	require.NoError(t, Proposal{Function: "f", ChannelPolicy: true}.Validate())
	require.NoError(t, Proposal{Function: "f", Endorsers: []auction.OrgID{"Org1MSP", "Org2MSP"}}.Validate())
}

func TestParamsValidate(t *testing.T) {
	t.Parallel()

	require.Error(t, Params{Contract: "c"}.Validate())
	require.Error(t, Params{Channel: "c"}.Validate())
	require.Error(t, Params{Channel: "c", Contract: "c"}.Validate())
}

func TestNewTxID(t *testing.T) {
	t.Parallel()

	var (
		wg  sync.WaitGroup
		lk  sync.Mutex
		ids = map[TxID]struct{}{}
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				id, err := NewTxID()
				require.NoError(t, err)
				lk.Lock()
				ids[id] = struct{}{}
				lk.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Len(t, ids, 1000)

	a, err := NewTxID()
	require.NoError(t, err)
	b, err := NewTxID()
	require.NoError(t, err)
	require.Less(t, string(a), string(b))
	require.Regexp(t, "^[0-9a-z]{26}$", string(a))
}
