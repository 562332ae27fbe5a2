// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements per-identity token buckets (golang.org/x/time/rate).
// The authenticated API is keyed by session user, the public auth routes by
// client IP, so password guessing from one address is throttled as well.
// Buckets live in a go-cache store and expire after sitting idle. Idempotent
// replays bypass the limiter.
//
// The limiter is process-local; each replica enforces its own budget.
package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// DefaultBucketIdleTTL is how long an unused bucket is kept.
const DefaultBucketIdleTTL = 10 * time.Minute

var rateRejections = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "http_rate_limited_total",
		Help: "Requests rejected by the rate limiter, by limiter scope.",
	},
	[]string{"scope"},
)

func init() {
	prometheus.MustRegister(rateRejections)
}

// keyFunc selects the identity a request is charged to, such as
// "user:<id>" or "ip:<addr>".
type keyFunc func(*gin.Context) string

// KeyByUserOrIP charges the session user (set by RequireSession or
// OptionalSession) and falls back to the client IP. The prefixes keep the
// two namespaces apart.
func KeyByUserOrIP() keyFunc {
	return func(c *gin.Context) string {
		if uid, err := UserID(c); err == nil {
			return "user:" + uid
		}
		return "ip:" + c.ClientIP()
	}
}

// RateLimiter hands out one token bucket per identity. Safe for concurrent
// use.
type RateLimiter struct {
	scope string
	rps   rate.Limit
	burst int
	keyFn keyFunc

	// mu serializes bucket creation so two first requests share one bucket.
	mu      sync.Mutex
	buckets *cache.Cache
}

// NewRateLimiter builds a limiter allowing rps requests per second with the
// given burst per identity. scope names the limiter in metrics ("auth",
// "api"). A burst <= 0 is treated as 1.
func NewRateLimiter(scope string, rps float64, burst int, keyFn keyFunc) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		scope:   scope,
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		buckets: cache.New(DefaultBucketIdleTTL, DefaultBucketIdleTTL/2),
	}
}

// bucket returns the limiter for key, creating it on first use. Every
// lookup pushes the idle expiry forward.
func (rl *RateLimiter) bucket(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	lim, ok := rl.buckets.Get(key)
	if !ok {
		lim = rate.NewLimiter(rl.rps, rl.burst)
	}
	rl.buckets.SetDefault(key, lim)
	return lim.(*rate.Limiter)
}

// IsRateBypass reports whether IdempotencyValidator flagged this request as
// a replay that should not consume tokens.
func IsRateBypass(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyRateBypass)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// retryAfter is the whole number of seconds until lim yields a token,
// at least 1.
func retryAfter(lim *rate.Limiter) string {
	r := lim.Reserve()
	d := r.Delay()
	r.Cancel()
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 || d == rate.InfDuration {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// Handler enforces the limits. A rejected request gets 429 with
// Retry-After and the standard error envelope:
//
//	{"request_id": "...", "code": "too_many_requests", "message": "rate limit exceeded"}
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if IsRateBypass(c) {
			c.Next()
			return
		}

		lim := rl.bucket(rl.keyFn(c))
		if lim.Allow() {
			c.Next()
			return
		}

		rateRejections.WithLabelValues(rl.scope).Inc()
		c.Header("Retry-After", retryAfter(lim))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"request_id": c.Writer.Header().Get("X-Request-ID"),
			"code":       "too_many_requests",
			"message":    "rate limit exceeded",
		})
	}
}
