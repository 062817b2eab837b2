package clients

import "context"

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// PrincipalKey is the context key for the acting principal (X-Principal-ID header)
	PrincipalKey contextKey = "principal-id"

	// RequestIDKey carries a request id to forward as X-Request-ID
	RequestIDKey contextKey = "request-id"
)

// Header names understood by the registry and the ledger node
const (
	HeaderPrincipal = "X-Principal-ID"
	HeaderRequestID = "X-Request-ID"
)

// WithPrincipal adds a principal to the context
// This will be automatically extracted and added as X-Principal-ID header in HTTP requests
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}

// GetPrincipal retrieves the principal from context
func GetPrincipal(ctx context.Context) (string, bool) {
	principal, ok := ctx.Value(PrincipalKey).(string)
	return principal, ok && principal != ""
}

// WithRequestID adds a request id to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request id from context
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(RequestIDKey).(string)
	return requestID, ok && requestID != ""
}
