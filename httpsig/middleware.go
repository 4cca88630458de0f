package httpsig

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vitalvas/fedsig/identity"
)

type contextKey struct{}

// WithIdentity returns a copy of ctx carrying ident.
func WithIdentity(ctx context.Context, ident *identity.Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, ident)
}

// IdentityFromContext returns the verified identity stored by Middleware.
func IdentityFromContext(ctx context.Context) (*identity.Identity, bool) {
	ident, ok := ctx.Value(contextKey{}).(*identity.Identity)
	return ident, ok && ident != nil
}

// MiddlewareConfig configures the server-side signature verification
// middleware.
type MiddlewareConfig struct {
	// Verifier authenticates requests. Required.
	Verifier *Verifier

	// OnFailure is called when verification rejects the request. When nil,
	// the failure reason is written as text/plain with its status.
	OnFailure func(w http.ResponseWriter, r *http.Request, failure *Failure)

	// OnError is called when verification could not complete. When nil, a
	// plain 500 Internal Server Error is sent.
	OnError func(w http.ResponseWriter, r *http.Request, err error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Middleware returns net/http middleware that verifies the Signature
// header of incoming requests and stores the signer's identity in the
// request context.
//
// It returns ErrNoVerifier if MiddlewareConfig.Verifier is nil.
func Middleware(cfg MiddlewareConfig) (func(http.Handler) http.Handler, error) {
	if cfg.Verifier == nil {
		return nil, ErrNoVerifier
	}

	onFailure := cfg.OnFailure
	if onFailure == nil {
		onFailure = WriteFailure
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	onError := cfg.OnError
	if onError == nil {
		onError = func(w http.ResponseWriter, r *http.Request, err error) {
			logger.Error("signature verification error", "path", r.URL.Path, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}

	verifier := cfg.Verifier

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			outcome, err := verifier.Verify(r)
			if err != nil {
				onError(w, r, err)
				return
			}

			if !outcome.Verified() {
				onFailure(w, r, outcome.Failure)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), outcome.Identity)))
		})
	}, nil
}

// WriteFailure renders failure as a text/plain response.
func WriteFailure(w http.ResponseWriter, _ *http.Request, failure *Failure) {
	status := http.StatusUnauthorized
	reason := http.StatusText(status)

	if failure != nil {
		if failure.Status != 0 {
			status = failure.Status
		}

		if failure.Reason != "" {
			reason = failure.Reason
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(reason))
}
