package middleware

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/koicert/registry/common/clients"
	"github.com/koicert/registry/common/logger"
	commonmw "github.com/koicert/registry/common/middleware"
)

// ExtractPrincipal is a middleware that reads the X-Principal-ID header set
// by the authenticating gateway and stores it in the echo and request contexts.
//
// Usage:
//
//	e := echo.New()
//	e.Use(middleware.ExtractPrincipal())
//
// Accessing in handlers:
//
//	principal := middleware.GetPrincipal(c)
func ExtractPrincipal() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			// Reads are public, anonymous requests pass through
			if principal := c.Request().Header.Get(clients.HeaderPrincipal); principal != "" {
				setPrincipal(c, principal)
			}
			return next(c)
		}
	}
}

// ExtractPrincipalStrict requires X-Principal-ID. Used on mutation routes.
func ExtractPrincipalStrict() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal := c.Request().Header.Get(clients.HeaderPrincipal)
			if principal == "" {
				return c.JSON(http.StatusUnauthorized, map[string]interface{}{
					"error":   "unauthenticated",
					"message": "X-Principal-ID header is required",
				})
			}

			setPrincipal(c, principal)
			return next(c)
		}
	}
}

// RequestContext copies the request id assigned by echo's RequestID
// middleware into the request context so service logs carry it
func RequestContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			if requestID != "" {
				ctx := context.WithValue(c.Request().Context(), logger.RequestIDKey, requestID)
				ctx = clients.WithRequestID(ctx, requestID)
				c.SetRequest(c.Request().WithContext(ctx))
			}
			return next(c)
		}
	}
}

// GetPrincipal returns the principal of the request, empty if anonymous
func GetPrincipal(c echo.Context) string {
	principal, _ := c.Get(commonmw.PrincipalContextKey).(string)
	return principal
}

func setPrincipal(c echo.Context, principal string) {
	c.Set(commonmw.PrincipalContextKey, principal)
	c.SetRequest(c.Request().WithContext(clients.WithPrincipal(c.Request().Context(), principal)))
}
