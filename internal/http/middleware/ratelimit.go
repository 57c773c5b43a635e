// README: Per-caller token bucket rate limiting.
package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterIdleTTL is how long an unused caller bucket is kept.
const limiterIdleTTL = 10 * time.Minute

type callerLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type limiterSet struct {
	mu      sync.Mutex
	perSec  rate.Limit
	burst   int
	callers map[string]*callerLimiter
	swept   time.Time
}

func (s *limiterSet) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.swept) > limiterIdleTTL {
		for k, cl := range s.callers {
			if now.Sub(cl.lastSeen) > limiterIdleTTL {
				delete(s.callers, k)
			}
		}
		s.swept = now
	}

	cl, ok := s.callers[key]
	if !ok {
		cl = &callerLimiter{limiter: rate.NewLimiter(s.perSec, s.burst)}
		s.callers[key] = cl
	}
	cl.lastSeen = now
	return cl.limiter
}

// RateLimit allows perSecond requests per caller (uid when authenticated,
// client IP otherwise) with the given burst. perSecond <= 0 disables it.
func RateLimit(perSecond float64, burst int) gin.HandlerFunc {
	if perSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if burst <= 0 {
		burst = 1
	}
	set := &limiterSet{
		perSec:  rate.Limit(perSecond),
		burst:   burst,
		callers: map[string]*callerLimiter{},
	}
	return func(c *gin.Context) {
		key := CallerUID(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !set.get(key, time.Now()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
