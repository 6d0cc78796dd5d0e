// File: internal/safety/limiter.go
package safety

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter enforces a per-bot compile budget with independent token
// buckets. Buckets are created lazily on first use and never expire;
// the bot population is small and bounded by configuration.
type Limiter struct {
	mu        sync.Mutex
	buckets   map[string]*rate.Limiter
	perMinute int
}

// NewLimiter builds a Limiter allowing perMinute requests per bot.
// A non-positive rate disables limiting.
func NewLimiter(perMinute int) *Limiter {
	return &Limiter{
		buckets:   make(map[string]*rate.Limiter),
		perMinute: perMinute,
	}
}

// Allow reports whether botID may proceed now.
func (l *Limiter) Allow(botID string) bool {
	if l.perMinute <= 0 {
		return true
	}
	l.mu.Lock()
	bucket, ok := l.buckets[botID]
	if !ok {
		bucket = rate.NewLimiter(rate.Limit(float64(l.perMinute)/60.0), l.perMinute)
		l.buckets[botID] = bucket
	}
	l.mu.Unlock()
	return bucket.Allow()
}
