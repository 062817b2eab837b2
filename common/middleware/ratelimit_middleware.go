package middleware

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/koicert/registry/common/ratelimit"
)

// PrincipalContextKey is the echo context key holding the authenticated principal
const PrincipalContextKey = "principal"

// PrincipalRateLimitMiddleware checks per-principal mutation limits
// Requires the principal to be set in context by the principal extraction middleware.
// Fails open when the limiter is unavailable.
func PrincipalRateLimitMiddleware(limiter ratelimit.Limiter, limit int64, windowSec int) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, ok := c.Get(PrincipalContextKey).(string)
			if !ok || principal == "" {
				return next(c)
			}

			result, err := limiter.CheckPrincipalLimit(c.Request().Context(), principal, limit, windowSec)
			if err != nil {
				return next(c)
			}

			if !result.Allowed {
				c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", result.RetryAfterSeconds))
				return c.JSON(http.StatusTooManyRequests, map[string]interface{}{
					"error":   "rate_limit_exceeded",
					"message": "Too many registry mutations. Please wait before trying again.",
					"details": map[string]interface{}{
						"principal":           principal,
						"limit":               result.Limit,
						"window_seconds":      windowSec,
						"current_count":       result.CurrentCount,
						"retry_after_seconds": result.RetryAfterSeconds,
					},
				})
			}

			return next(c)
		}
	}
}
