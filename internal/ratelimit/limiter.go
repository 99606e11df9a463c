// Package ratelimit implements fixed-window request limiting per identity.
//
// A window starts with the first request seen for an identity and lasts for
// the configured duration; the count is reset when it elapses. Requests that
// are denied are not counted, so a bucket never exceeds the limit.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// DefaultWindow is the length of one counting window.
const DefaultWindow = 15 * time.Minute

// ErrEmptyKey is returned when no identity could be resolved for a request.
var ErrEmptyKey = errors.New("ratelimit: empty key")

// Store holds per-identity counters. Implementations must apply the check and
// the increment of one key atomically.
type Store interface {
	// Take counts one request for key unless the current window already
	// holds limit requests. It returns the count after the call and the time
	// left until the window resets.
	Take(ctx context.Context, key string, limit int, window time.Duration) (count int, resetAfter time.Duration, allowed bool, err error)

	Close() error
}

// Result describes one limiting decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
}

// Limiter applies a request quota to identities through a Store.
type Limiter struct {
	store  Store
	limit  int
	window time.Duration
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithWindow overrides DefaultWindow.
func WithWindow(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.window = d
		}
	}
}

// New creates a limiter allowing limit requests per window.
func New(store Store, limit int, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		limit:  limit,
		window: DefaultWindow,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Limit returns the configured number of requests per window.
func (l *Limiter) Limit() int { return l.limit }

// Window returns the window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Allow records a request for key and reports whether it may proceed.
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	if key == "" {
		return Result{}, ErrEmptyKey
	}

	count, resetAfter, allowed, err := l.store.Take(ctx, key, l.limit, l.window)
	if err != nil {
		return Result{}, err
	}

	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}

	return Result{
		Allowed:    allowed,
		Limit:      l.limit,
		Remaining:  remaining,
		ResetAfter: resetAfter,
	}, nil
}

// Close releases the underlying store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
