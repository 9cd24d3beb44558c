// rate_limiter.go - Per-client request rate limiting.
package main

import (
	"net/http"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ClientRateLimiter keeps a token bucket per client address. The least
// recently seen clients are evicted once more than the configured number
// are tracked.
type ClientRateLimiter struct {
	limiters *lru.Cache[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

func NewClientRateLimiter(perSecond float64, burst, clients int) (*ClientRateLimiter, error) {
	limiters, err := lru.New[string, *rate.Limiter](clients)
	if err != nil {
		return nil, err
	}

	return &ClientRateLimiter{limiters: limiters, limit: rate.Limit(perSecond), burst: burst}, nil
}

// Allow reports whether a request from client may proceed and consumes a token if so.
func (l *ClientRateLimiter) Allow(client string) bool {
	limiter, ok := l.limiters.Get(client)
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		// a concurrent first request may have added one already
		if previous, loaded, _ := l.limiters.PeekOrAdd(client, limiter); loaded {
			limiter = previous
		}
	}

	return limiter.Allow()
}

// Middleware rejects requests over the limit with 429 and logs them on audit.
func (l *ClientRateLimiter) Middleware(audit *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			client := c.RealIP()
			if !l.Allow(client) {
				audit.Info("rate limited", zap.String("client", client), zap.String("path", c.Path()))

				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}

			return next(c)
		}
	}
}
