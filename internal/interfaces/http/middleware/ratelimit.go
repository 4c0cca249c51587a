package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimitConfig controls the per-client token bucket.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// SkipPaths are never limited (health and metrics probes).
	SkipPaths []string
}

// DefaultRateLimitConfig allows ten requests per second with a burst of
// twenty per client.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         20,
		SkipPaths:         []string{"/healthz", "/readyz", "/metrics"},
	}
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// TokenBucketLimiter is an in-memory per-key token bucket.  Stale buckets
// are evicted on the sweep interval so the map stays bounded by the number
// of recently active clients.
type TokenBucketLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	rate      float64
	burst     float64
	lastSweep time.Time
	now       func() time.Time
}

const bucketSweepInterval = 5 * time.Minute

// NewTokenBucketLimiter builds a limiter with the given refill rate and
// burst capacity.
func NewTokenBucketLimiter(requestsPerSecond float64, burstSize int) *TokenBucketLimiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 10
	}
	if burstSize <= 0 {
		burstSize = int(requestsPerSecond) * 2
	}
	return &TokenBucketLimiter{
		buckets: make(map[string]*bucket),
		rate:    requestsPerSecond,
		burst:   float64(burstSize),
		now:     time.Now,
	}
}

// Allow consumes one token for key, reporting whether the request may
// proceed and how many tokens remain.
func (l *TokenBucketLimiter) Allow(key string) (bool, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: l.burst}
		l.buckets[key] = b
	} else {
		b.tokens += now.Sub(b.lastSeen).Seconds() * l.rate
		if b.tokens > l.burst {
			b.tokens = l.burst
		}
	}
	b.lastSeen = now

	if b.tokens < 1 {
		return false, 0
	}
	b.tokens--
	return true, int(b.tokens)
}

func (l *TokenBucketLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < bucketSweepInterval {
		return
	}
	l.lastSweep = now
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > bucketSweepInterval {
			delete(l.buckets, key)
		}
	}
}

// RateLimit rejects clients that exceed their bucket with 429 and standard
// rate-limit headers, keyed by client IP.
func RateLimit(limiter *TokenBucketLimiter, cfg RateLimitConfig) gin.HandlerFunc {
	skip := make(map[string]bool, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = true
	}
	limit := strconv.Itoa(cfg.BurstSize)

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		ok, remaining := limiter.Allow(c.ClientIP())
		c.Writer.Header().Set("X-RateLimit-Limit", limit)
		c.Writer.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !ok {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":    "COMMON_005",
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
