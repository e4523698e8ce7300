package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// RateLimiterConfig sizes the per-client token buckets. A zero
// CleanupInterval disables the background sweep.
type RateLimiterConfig struct {
	RequestsPerMinute int
	BurstSize         int
	CleanupInterval   time.Duration
}

// DefaultRateLimiterConfig suits the API's manual-dispatch traffic.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		RequestsPerMinute: 100,
		BurstSize:         20,
		CleanupInterval:   5 * time.Minute,
	}
}

type bucket struct {
	tokens float64
	seen   time.Time
}

// take refills b for the time since it was last seen and spends one token.
func (b *bucket) take(now time.Time, perSecond, capacity float64) bool {
	b.tokens = math.Min(capacity, b.tokens+now.Sub(b.seen).Seconds()*perSecond)
	b.seen = now
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// RateLimiter is a token bucket limiter keyed by client address.
type RateLimiter struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	perSecond float64
	capacity  float64
	now       func() time.Time
}

// NewRateLimiter builds a limiter and, when configured, starts its sweeper.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		buckets:   make(map[string]*bucket),
		perSecond: float64(config.RequestsPerMinute) / 60,
		capacity:  float64(config.BurstSize),
		now:       time.Now,
	}
	if every := config.CleanupInterval; every > 0 {
		go func() {
			for range time.Tick(every) {
				rl.Sweep(rl.now().Add(-every))
			}
		}()
	}
	return rl
}

// Allow spends a token for client, creating a full bucket on first sight.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	b, ok := rl.buckets[client]
	if !ok {
		b = &bucket{tokens: rl.capacity, seen: now}
		rl.buckets[client] = b
	}
	return b.take(now, rl.perSecond, rl.capacity)
}

// Sweep forgets clients not seen since cutoff and reports how many.
func (rl *RateLimiter) Sweep(cutoff time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	n := 0
	for client, b := range rl.buckets {
		if b.seen.Before(cutoff) {
			delete(rl.buckets, client)
			n++
		}
	}
	return n
}

// retryAfter is the whole number of seconds until one token refills.
func (rl *RateLimiter) retryAfter() int {
	if rl.perSecond <= 0 {
		return 60
	}
	return int(math.Ceil(1 / rl.perSecond))
}

// Middleware answers 429 with Retry-After once a client's bucket is empty.
// gin's ClientIP honours X-Forwarded-For only from trusted proxies.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.Allow(c.ClientIP()) {
			c.Next()
			return
		}
		wait := rl.retryAfter()
		c.Header("Retry-After", strconv.Itoa(wait))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate limit exceeded",
			"retry_after": wait,
		})
	}
}

// RateLimitMiddlewareWithConfig is NewRateLimiter(config).Middleware().
func RateLimitMiddlewareWithConfig(config RateLimiterConfig) gin.HandlerFunc {
	return NewRateLimiter(config).Middleware()
}
