package sempool

import (
	"context"
	"sync"
)

// NewSemaphore returns a semaphore admitting up to capacity holders.
func NewSemaphore(capacity int) *Semaphore {
	if capacity < 1 {
		capacity = 1
	}
	return &Semaphore{inner: make(chan struct{}, capacity)}
}

// Semaphore is a counting semaphore.
type Semaphore struct {
	inner chan struct{}
}

// Acquire blocks until the semaphore is acquired.
func (s *Semaphore) Acquire() {
	s.inner <- struct{}{}
}

// AcquireContext blocks until the semaphore is acquired or ctx is done.
func (s *Semaphore) AcquireContext(ctx context.Context) error {
	select {
	case s.inner <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire acquires the semaphore if it's available.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.inner <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release releases a previous acquisition.
func (s *Semaphore) Release() {
	select {
	case <-s.inner:
	default:
		panic("thread semaphore inconsistency: release before acquire!")
	}
}

// SemaphoreKey identifies a semaphore of a pool.
type SemaphoreKey interface {
	Key() string
}

// StringKey is a SemaphoreKey for plain strings.
type StringKey string

// Key implements SemaphoreKey.
func (k StringKey) Key() string {
	return string(k)
}

// NewSemaphorePool returns a pool creating semaphores of semaCap capacity on demand.
func NewSemaphorePool(semaCap int) *SemaphorePool {
	return &SemaphorePool{ss: make(map[string]*Semaphore), semaCap: semaCap}
}

// SemaphorePool is a set of semaphores indexed by key.
type SemaphorePool struct {
	ss      map[string]*Semaphore
	semaCap int
	mu      sync.Mutex
	stopped bool
}

// Get returns the semaphore of k, creating it if needed.
func (p *SemaphorePool) Get(k SemaphoreKey) *Semaphore {
	var (
		s     *Semaphore
		exist bool
		key   = k.Key()
	)

	p.mu.Lock()
	if s, exist = p.ss[key]; !exist {
		s = NewSemaphore(p.semaCap)
		p.ss[key] = s
	}
	p.mu.Unlock()

	return s
}

// Len returns the number of semaphores in the pool.
func (p *SemaphorePool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ss)
}

// Stop waits for every holder to release and keeps all semaphores acquired, so
// no new work starts. It's safe to call more than once.
func (p *SemaphorePool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true

	// grab all semaphores and hold
	for _, s := range p.ss {
		s.Acquire()
	}
}
