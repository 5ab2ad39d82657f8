package http

import (
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// clientLimiter keeps one token bucket per client address.
type clientLimiter struct {
	limit rate.Limit
	burst int
	reset time.Duration
	now   func() time.Time

	mu          sync.Mutex
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
}

func newClientLimiter(perSecond float64, burst int, reset time.Duration) *clientLimiter {
	if burst < 1 {
		burst = 1
	}
	return &clientLimiter{
		limit: rate.Limit(perSecond),
		burst: burst,
		reset: reset,
		now:   time.Now,
	}
}

// get returns the limiter for ip, dropping every bucket once per reset interval
// so idle clients do not accumulate.
func (l *clientLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.limiters == nil || now.Sub(l.lastCleanup) > l.reset {
		l.limiters = make(map[string]*rate.Limiter)
		l.lastCleanup = now
	}

	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = limiter
	}
	return limiter
}

// Middleware rejects requests over the per-client budget with 429.
func (l *clientLimiter) Middleware(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ip := c.RealIP()
			if !l.get(ip).Allow() {
				logger.Warn("rate limit exceeded", zap.String("ip", ip))
				c.Set(errorKindKey, "rate_limited")
				return c.JSON(http.StatusTooManyRequests, ErrorResponse{
					Error: "rate limit exceeded",
					Kind:  "rate_limited",
				})
			}
			return next(c)
		}
	}
}
