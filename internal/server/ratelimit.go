package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/raaihank/pii-sentinel/internal/config"
)

// limiterIdleTimeout is how long an unused client bucket is kept
const limiterIdleTimeout = time.Hour

// clientLimiter applies a token bucket per client IP
type clientLimiter struct {
	config  config.RateLimitConfig
	clients map[string]*clientBucket
	mu      sync.Mutex
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(cfg config.RateLimitConfig) *clientLimiter {
	return &clientLimiter{
		config:  cfg,
		clients: make(map[string]*clientBucket),
	}
}

// Allow reports whether a request from clientIP may proceed
func (l *clientLimiter) Allow(clientIP string) bool {
	if !l.config.Enabled {
		return true
	}

	l.mu.Lock()
	bucket, exists := l.clients[clientIP]
	if !exists {
		perSecond := rate.Limit(float64(l.config.RequestsPerMin) / 60.0)
		bucket = &clientBucket{limiter: rate.NewLimiter(perSecond, l.config.Burst)}
		l.clients[clientIP] = bucket
	}
	bucket.lastSeen = time.Now()
	l.mu.Unlock()

	return bucket.limiter.Allow()
}

// cleanup removes buckets idle since before cutoff and returns how many
func (l *clientLimiter) cleanup(cutoff time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for ip, bucket := range l.clients {
		if bucket.lastSeen.Before(cutoff) {
			delete(l.clients, ip)
			removed++
		}
	}
	return removed
}

// cleanupLoop periodically drops idle buckets until ctx is done
func (l *clientLimiter) cleanupLoop(ctx context.Context, idle time.Duration) {
	ticker := time.NewTicker(idle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.cleanup(now.Add(-idle))
		}
	}
}
