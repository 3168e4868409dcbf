package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/carecoord/carecoord/internal/identity"
	"github.com/carecoord/carecoord/pkg/metrics"
)

// Limiter decides whether one more request for key is allowed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	// Name labels the limiter in metrics.
	Name() string
	// RetryAfter is the hint sent with rejected requests.
	RetryAfter() time.Duration
}

// MemoryLimiter is a per-key token bucket held in process memory.
type MemoryLimiter struct {
	rps     rate.Limit
	burst   int
	buckets sync.Map // map[string]*rate.Limiter
}

// NewMemoryLimiter allows rps events per second with bursts up to burst.
func NewMemoryLimiter(rps float64, burst int) *MemoryLimiter {
	return &MemoryLimiter{rps: rate.Limit(rps), burst: burst}
}

func (m *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	v, _ := m.buckets.LoadOrStore(key, rate.NewLimiter(m.rps, m.burst))
	return v.(*rate.Limiter).Allow(), nil
}

func (m *MemoryLimiter) Name() string { return "memory" }

func (m *MemoryLimiter) RetryAfter() time.Duration {
	if m.rps <= 0 {
		return time.Second
	}
	d := time.Duration(float64(time.Second) / float64(m.rps))
	if d < time.Second {
		d = time.Second
	}
	return d
}

// rateLimitKey prefers the authenticated identity (NAT friendly) and falls
// back to the client IP.
func rateLimitKey(c *gin.Context) string {
	if uid, ok := identity.FromContext(c.Request.Context()); ok {
		return "sub:" + uid
	}
	if v, ok := c.Get("claims"); ok {
		if cm, ok := v.(map[string]interface{}); ok {
			if sub, ok := cm["sub"].(string); ok && sub != "" {
				return "sub:" + sub
			}
		}
	}
	ip := c.ClientIP()
	if ip == "" {
		ip = "unknown"
	}
	return "ip:" + ip
}

// RateLimit rejects requests over the limit with 429.
func RateLimit(l Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := l.Allow(c.Request.Context(), rateLimitKey(c))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Rate limit check failed"})
			return
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(l.RetryAfter().Seconds())))
			metrics.RateLimitRejected.WithLabelValues(l.Name()).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		metrics.RateLimitAllowed.WithLabelValues(l.Name()).Inc()
		c.Next()
	}
}
