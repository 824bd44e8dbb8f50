package mw

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// limiterPool keeps one token bucket per client IP.
type limiterPool struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newLimiterPool(limit rate.Limit, burst int) *limiterPool {
	return &limiterPool{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (p *limiterPool) get(ip string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	limiter, ok := p.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(p.limit, p.burst)
		p.limiters[ip] = limiter
	}
	return limiter
}

// RateLimiter throttles requests per client IP. Dashboards poll politely; the
// limiter exists to stop a misbehaving client from starving the database.
func RateLimiter(limit rate.Limit, burst int) gin.HandlerFunc {
	pool := newLimiterPool(limit, burst)
	return func(c *gin.Context) {
		if !pool.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
