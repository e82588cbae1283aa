// Package ratelimit implements keyed token buckets. The API uses it to admit
// job submissions per client and the email resolver uses it per website host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// Config holds the bucket shape applied to every key.
// RPS <= 0 disables limiting.
type Config struct {
	RPS   float64
	Burst int
	// MaxKeys caps the number of tracked keys; the map is reset when exceeded.
	MaxKeys int
}

const defaultMaxKeys = 10000

// Limiter manages one token bucket per key.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	maxKeys  int
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		limit = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
		maxKeys:  maxKeys,
	}
}

// Enabled reports whether the limiter ever rejects or delays.
func (l *Limiter) Enabled() bool {
	return l != nil && l.limit != rate.Inf
}

// Allow reports whether one event for key may happen now.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}
	return l.bucket(key).Allow()
}

// Wait blocks until key has a token or ctx ends.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if !l.Enabled() {
		return nil
	}
	if err := l.bucket(key).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// WaitHost waits on the bucket of rawURL's host.
func (l *Limiter) WaitHost(ctx context.Context, rawURL string) error {
	return l.Wait(ctx, HostKey(rawURL))
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		if len(l.limiters) >= l.maxKeys {
			l.limiters = make(map[string]*rate.Limiter)
		}
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// HostKey returns the lowercase hostname of rawURL, or "unknown".
func HostKey(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
