package sempool

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSemaphore(t *testing.T) {
	t.Parallel()

	s := NewSemaphore(1)
	require.True(t, s.TryAcquire())
	require.False(t, s.TryAcquire())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, s.AcquireContext(ctx), context.DeadlineExceeded)

	s.Release()
	require.NoError(t, s.AcquireContext(context.Background()))
	s.Release()
	require.Panics(t, s.Release)
}

func TestPoolSerializesPerKey(t *testing.T) {
	t.Parallel()

	p := NewSemaphorePool(1)
	require.Same(t, p.Get(StringKey("1001")), p.Get(StringKey("1001")))
	require.NotSame(t, p.Get(StringKey("1001")), p.Get(StringKey("1002")))
	require.Equal(t, 2, p.Len())

	var (
		wg      sync.WaitGroup
		lk      sync.Mutex
		holders int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s := p.Get(StringKey("1001"))
			s.Acquire()
			defer s.Release()

			lk.Lock()
			holders++
			if holders > maxSeen {
				maxSeen = holders
			}
			lk.Unlock()
			time.Sleep(time.Millisecond)
			lk.Lock()
			holders--
			lk.Unlock()
		}()
	}
	wg.Wait()
	require.Equal(t, 1, maxSeen)

	p.Stop()
	p.Stop()
	require.False(t, p.Get(StringKey("1001")).TryAcquire())
}
