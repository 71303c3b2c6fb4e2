// Package httpmiddleware holds the gin middleware shared by every route.
package httpmiddleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"qrattend/internal/metrics"
)

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPLimiter is a per-client-IP token bucket.
type IPLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration

	mu          sync.Mutex
	state       map[string]*ipEntry
	lastCleanup time.Time
}

// NewIPLimiter allows perMinute requests per IP with a burst of the same size.
func NewIPLimiter(perMinute int) *IPLimiter {
	if perMinute <= 0 {
		perMinute = 120
	}
	return &IPLimiter{
		limit:       rate.Limit(float64(perMinute) / 60),
		burst:       perMinute,
		idle:        10 * time.Minute,
		state:       make(map[string]*ipEntry),
		lastCleanup: time.Now(),
	}
}

// GinMiddleware returns gin handler enforcing per-IP limits.
func (l *IPLimiter) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "" {
			ip = "unknown"
		}
		if !l.Allow(ip) {
			metrics.HTTPThrottleTotal.Inc()
			retry := time.Duration(float64(time.Second) / float64(l.limit))
			c.Header("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit", "code": "RATE_LIMITED"})
			return
		}
		c.Next()
	}
}

// Allow reports whether a request from ip fits its bucket.
func (l *IPLimiter) Allow(ip string) bool {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastCleanup) > l.idle {
		for key, e := range l.state {
			if now.Sub(e.lastSeen) > l.idle {
				delete(l.state, key)
			}
		}
		l.lastCleanup = now
	}

	e, ok := l.state[ip]
	if !ok {
		e = &ipEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.state[ip] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Len reports the number of tracked IPs.
func (l *IPLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.state)
}
