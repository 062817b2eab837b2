package clients

import (
	"context"
	"io"
	"net/http"
)

// Logger interface for HTTP client logging
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// HTTPClient wraps http.Client with context-aware helpers
// It automatically extracts metadata from context and adds appropriate headers
type HTTPClient struct {
	client *http.Client
	logger Logger
}

// NewHTTPClient creates a new HTTP client wrapper
func NewHTTPClient(client *http.Client, logger Logger) *HTTPClient {
	return &HTTPClient{
		client: client,
		logger: logger,
	}
}

// DoRequest creates and executes an HTTP request, extracting metadata from context
func (c *HTTPClient) DoRequest(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	return c.Do(ctx, method, url, "application/json", body)
}

// Do is DoRequest with an explicit Content-Type (empty for none)
func (c *HTTPClient) Do(ctx context.Context, method, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, err
	}

	if body != nil && contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if principal, ok := GetPrincipal(ctx); ok {
		req.Header.Set(HeaderPrincipal, principal)
		c.logger.Debug("added principal header from context", "principal", principal)
	}

	if requestID, ok := GetRequestID(ctx); ok {
		req.Header.Set(HeaderRequestID, requestID)
	}

	return c.client.Do(req)
}
