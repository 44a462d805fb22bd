package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Cix-16/opencti/pkg/utils"
)

// RateLimiter provides rate limiting functionality
type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Reset(ctx context.Context, key string) error
}

// SlidingWindowLimiter implements sliding window rate limiting
type SlidingWindowLimiter struct {
	mu         sync.Mutex
	windows    map[string][]time.Time
	limit      int
	windowSize time.Duration
	clock      utils.Clock
}

// NewSlidingWindowLimiter creates a new sliding window rate limiter
func NewSlidingWindowLimiter(limit int, windowSize time.Duration, clock utils.Clock) *SlidingWindowLimiter {
	if clock == nil {
		clock = utils.SystemClock{}
	}
	return &SlidingWindowLimiter{
		windows:    make(map[string][]time.Time),
		limit:      limit,
		windowSize: windowSize,
		clock:      clock,
	}
}

// Allow checks if a request is allowed
func (l *SlidingWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	windowStart := now.Add(-l.windowSize)

	requests := l.windows[key]
	kept := requests[:0]
	for _, at := range requests {
		if at.After(windowStart) {
			kept = append(kept, at)
		}
	}

	if len(kept) >= l.limit {
		l.windows[key] = kept
		return false, nil
	}
	l.windows[key] = append(kept, now)
	return true, nil
}

// Reset resets the rate limit for a key
func (l *SlidingWindowLimiter) Reset(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.windows, key)
	return nil
}

// KeyedRateLimiter prefixes keys so one backing limiter can serve several scopes.
type KeyedRateLimiter struct {
	limiter RateLimiter
	prefix  string
}

// NewUserRateLimiter limits requests per user and minute in process.
func NewUserRateLimiter(requestsPerMinute int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		limiter: NewSlidingWindowLimiter(requestsPerMinute, time.Minute, nil),
		prefix:  "user",
	}
}

// NewKeyedRateLimiter wraps an existing limiter under a key prefix.
func NewKeyedRateLimiter(limiter RateLimiter, prefix string) *KeyedRateLimiter {
	return &KeyedRateLimiter{limiter: limiter, prefix: prefix}
}

// Allow checks if a request for key is allowed
func (l *KeyedRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return l.limiter.Allow(ctx, fmt.Sprintf("%s:%s", l.prefix, key))
}

// Reset resets the rate limit for key
func (l *KeyedRateLimiter) Reset(ctx context.Context, key string) error {
	return l.limiter.Reset(ctx, fmt.Sprintf("%s:%s", l.prefix, key))
}
