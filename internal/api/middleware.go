package api

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"
	"golang.org/x/time/rate"

	"github.com/prometheuslm/prometheus/internal/logger"
)

const HeaderRequestID = "X-Request-Id"

// RequestID tags every request with a UUID unless the client supplied
// one, echoes it on the response, and stores a logger carrying the id
// in the request context for handlers to pull via logger.FromContext.
func RequestID(log logger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			r := c.Request()
			id := r.Header.Get(HeaderRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(HeaderRequestID, id)
			ctx := logger.WithContext(r.Context(), log.With("request_id", id))
			c.SetRequest(r.WithContext(ctx))
			return next(c)
		}
	}
}

// RateLimit rejects requests beyond rps sustained requests per second
// with a burst allowance, answering 429.
func RateLimit(rps float64, burst int) echo.MiddlewareFunc {
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			if !limiter.Allow() {
				return writeError(c, http.StatusTooManyRequests, "rate_limit_error", "rate limit exceeded")
			}
			return next(c)
		}
	}
}
