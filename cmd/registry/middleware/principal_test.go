package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/stretchr/testify/assert"

	"github.com/koicert/registry/common/clients"
	"github.com/koicert/registry/common/logger"
)

func TestExtractPrincipal(t *testing.T) {
	e := echo.New()
	e.Use(ExtractPrincipal())
	e.GET("/", func(c echo.Context) error {
		fromCtx, _ := clients.GetPrincipal(c.Request().Context())
		return c.String(http.StatusOK, GetPrincipal(c)+"|"+fromCtx)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(clients.HeaderPrincipal, "0xabc")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "0xabc|0xabc", rec.Body.String())

	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "|", rec.Body.String())
}

func TestExtractPrincipalStrict(t *testing.T) {
	e := echo.New()
	e.POST("/", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	}, ExtractPrincipalStrict())

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(clients.HeaderPrincipal, "0xabc")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequestContextCarriesRequestID(t *testing.T) {
	e := echo.New()
	e.Use(echomw.RequestID(), RequestContext())
	e.GET("/", func(c echo.Context) error {
		id, _ := c.Request().Context().Value(logger.RequestIDKey).(string)
		return c.String(http.StatusOK, id)
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(echo.HeaderXRequestID, "req-123")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Body.String())
}
