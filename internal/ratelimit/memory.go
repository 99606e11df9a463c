package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps counters in process memory with periodic cleanup of
// expired windows.
type MemoryStore struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	now          func() time.Time
	cleanupEvery time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
}

type bucket struct {
	count       int
	windowStart time.Time
	window      time.Duration
}

func (b *bucket) expired(now time.Time) bool {
	return !now.Before(b.windowStart.Add(b.window))
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithCleanupEvery sets how often the janitor sweeps expired buckets.
func WithCleanupEvery(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		buckets:      make(map[string]*bucket),
		now:          time.Now,
		cleanupEvery: time.Minute,
		stop:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Take implements Store.
func (s *MemoryStore) Take(_ context.Context, key string, limit int, window time.Duration) (int, time.Duration, bool, error) {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[key]
	if !ok || b.expired(now) {
		b = &bucket{windowStart: now, window: window}
		s.buckets[key] = b
	}

	resetAfter := b.windowStart.Add(b.window).Sub(now)

	if b.count >= limit {
		return b.count, resetAfter, false, nil
	}

	b.count++
	return b.count, resetAfter, true, nil
}

// Cleanup drops buckets whose window has elapsed.
func (s *MemoryStore) Cleanup() {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, b := range s.buckets {
		if b.expired(now) {
			delete(s.buckets, k)
		}
	}
}

// Len returns the number of tracked identities.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// StartJanitor sweeps expired buckets until ctx is done or Close is called.
func (s *MemoryStore) StartJanitor(ctx context.Context) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stop:
				return
			case <-t.C:
				s.Cleanup()
			}
		}
	}()
}

// Close stops the janitor.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

var _ Store = (*MemoryStore)(nil)
