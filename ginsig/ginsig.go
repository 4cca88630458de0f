// Package ginsig adapts httpsig verification to gin.
package ginsig

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vitalvas/fedsig/httpsig"
	"github.com/vitalvas/fedsig/identity"
)

// IdentityKey is the gin context key holding the verified identity.
const IdentityKey = "fedsig.identity"

type clientIPKey struct{}

// Middleware verifies the Signature header of each request with v. The
// verified identity is stored under IdentityKey and in the request context
// for httpsig.IdentityFromContext. Failures abort with a text/plain body.
func Middleware(v *httpsig.Verifier, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *gin.Context) {
		ctx := context.WithValue(c.Request.Context(), clientIPKey{}, c.ClientIP())
		c.Request = c.Request.WithContext(ctx)

		outcome, err := v.Verify(c.Request)
		if err != nil {
			logger.Error("signature verification error",
				"path", c.Request.URL.Path,
				"request_id", c.GetString(RequestIDKey),
				"error", err,
			)
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}

		if !outcome.Verified() {
			c.Header("X-Content-Type-Options", "nosniff")
			c.Data(outcome.Failure.Status, "text/plain; charset=utf-8", []byte(outcome.Failure.Reason))
			c.Abort()
			return
		}

		c.Set(IdentityKey, outcome.Identity)
		c.Request = c.Request.WithContext(httpsig.WithIdentity(c.Request.Context(), outcome.Identity))
		c.Next()
	}
}

// IdentityFromContext returns the identity stored by Middleware.
func IdentityFromContext(c *gin.Context) (*identity.Identity, bool) {
	value, ok := c.Get(IdentityKey)
	if !ok {
		return nil, false
	}

	ident, ok := value.(*identity.Identity)

	return ident, ok && ident != nil
}

// ClientIPSource is an httpsig.SourceFunc that returns the client address
// gin resolved for the request, honouring the engine's trusted proxies.
// Requests that did not pass through Middleware fall back to RemoteAddr.
func ClientIPSource(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}

	return httpsig.RemoteAddrSource(r)
}
