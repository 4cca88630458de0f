package ginsig

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader is the default header carrying the request id.
	RequestIDHeader = "X-Request-ID"

	// RequestIDKey is the gin context key holding the request id.
	RequestIDKey = "request_id"

	maxRequestIDLen = 128
)

type requestIDKey struct{}

// RequestIDFromContext returns the request id stored by RequestID, or ""
// when none is present.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}

	return ""
}

// RequestIDConfig configures the request id middleware.
type RequestIDConfig struct {
	// HeaderName defaults to RequestIDHeader.
	HeaderName string

	// TrustIncoming reuses a well-formed id sent by the client instead of
	// generating a new one.
	TrustIncoming bool
}

// RequestID assigns every request an id, stores it in both the gin and
// request contexts, and echoes it in the response.
func RequestID(cfg RequestIDConfig) gin.HandlerFunc {
	headerName := cfg.HeaderName
	if headerName == "" {
		headerName = RequestIDHeader
	}

	trustIncoming := cfg.TrustIncoming

	return func(c *gin.Context) {
		id := ""
		if trustIncoming {
			id = strings.TrimSpace(c.GetHeader(headerName))
		}

		if id == "" || len(id) > maxRequestIDLen {
			id = uuid.NewString()
		}

		c.Set(RequestIDKey, id)
		c.Request = c.Request.WithContext(context.WithValue(c.Request.Context(), requestIDKey{}, id))
		c.Header(headerName, id)
		c.Next()
	}
}
