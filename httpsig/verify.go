package httpsig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/vitalvas/fedsig/identity"
)

// DefaultMaxBodySize bounds the body read for the digest line.
const DefaultMaxBodySize = 1 << 20

// KeyResolver finds and refreshes the identity that owns a key id.
// resolver.Resolver implements it.
type KeyResolver interface {
	Resolve(ctx context.Context, keyID, source string) (*identity.Identity, error)
	Refresh(ctx context.Context, ident *identity.Identity, source string) (*identity.Identity, error)
}

// SourceFunc returns the address that identifies the sender of r for
// circuit breaking.
type SourceFunc func(r *http.Request) string

// VerifierConfig configures a Verifier.
type VerifierConfig struct {
	// Resolver maps key ids to identities. Required.
	Resolver KeyResolver

	// StrictParams rejects Signature headers with segments that are not
	// name="value" pairs instead of skipping them.
	StrictParams bool

	// Source identifies the sender. Defaults to the host of RemoteAddr.
	Source SourceFunc

	// MaxBodySize bounds the request body. Defaults to DefaultMaxBodySize.
	MaxBodySize int64

	// Now defaults to time.Now.
	Now func() time.Time

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Failure is a verification outcome that rejects the request.
type Failure struct {
	// Err is one of the package sentinels.
	Err error

	// Reason is the plain-text message for the client.
	Reason string

	// Status is the HTTP status to answer with.
	Status int
}

func (f *Failure) Error() string {
	return f.Reason
}

func (f *Failure) Unwrap() error {
	return f.Err
}

// Outcome is the result of verifying a request: either a verified
// identity or a Failure.
type Outcome struct {
	Identity *identity.Identity
	Failure  *Failure
}

// Verified reports whether the request was authenticated.
func (o Outcome) Verified() bool {
	return o.Failure == nil && o.Identity != nil
}

// Verifier authenticates signed inbound requests.
type Verifier struct {
	resolver    KeyResolver
	strict      bool
	source      SourceFunc
	maxBodySize int64
	now         func() time.Time
	logger      *slog.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(cfg VerifierConfig) (*Verifier, error) {
	if cfg.Resolver == nil {
		return nil, ErrNoResolver
	}

	if cfg.Source == nil {
		cfg.Source = RemoteAddrSource
	}

	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Verifier{
		resolver:    cfg.Resolver,
		strict:      cfg.StrictParams,
		source:      cfg.Source,
		maxBodySize: cfg.MaxBodySize,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}, nil
}

// RemoteAddrSource returns the host part of r.RemoteAddr.
func RemoteAddrSource(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}

	return host
}

// Verify authenticates r. Rejections are reported in Outcome.Failure; the
// error is reserved for faults such as a failing store. The request body
// is left readable.
func (v *Verifier) Verify(r *http.Request) (Outcome, error) {
	raw := r.Header.Get("Signature")
	if raw == "" {
		return failed(ErrNotSigned, "Request not signed"), nil
	}

	params := ParseParams(raw)
	if v.strict {
		strict, err := ParseParamsStrict(raw)
		if err != nil {
			return failed(ErrMalformedParams, "Malformed signature parameters"), nil
		}

		params = strict
	}

	keyID := params.KeyID()
	if keyID == "" || params.Signature() == "" {
		return failed(ErrMalformedParams, "Incompatible request signature. keyId and signature are required"), nil
	}

	alg := params.Algorithm()
	if !alg.Supported() {
		return failed(ErrUnsupportedAlgorithm, "Unsupported signature algorithm (only rsa-sha256 and hs2019 are supported)"), nil
	}

	if err := CheckWindow(params, alg, r.Header.Get("Date"), v.now()); err != nil {
		v.logger.Debug("signature outside time window", "key_id", keyID, "error", err)
		return failed(ErrWindowExpired, "Signed request date outside acceptable time window"), nil
	}

	signature, err := decodeSignature(params.Signature())
	if err != nil {
		return failed(ErrMalformedParams, "Incompatible request signature. signature is not valid base64"), nil
	}

	ctx := r.Context()
	source := v.source(r)

	ident, err := v.resolver.Resolve(ctx, keyID, source)
	if errors.Is(err, ErrDomainBlocked) {
		return Outcome{Failure: &Failure{
			Err:    ErrDomainBlocked,
			Reason: keyNotFoundReason(keyID),
			Status: http.StatusForbidden,
		}}, nil
	}

	if err != nil {
		return Outcome{}, fmt.Errorf("httpsig: resolve %s: %w", keyID, err)
	}

	if ident == nil {
		return failed(ErrKeyNotFound, keyNotFoundReason(keyID)), nil
	}

	body, err := readAndRestoreBody(r, v.maxBodySize)
	if errors.Is(err, ErrBodyTooLarge) {
		return Outcome{Failure: &Failure{
			Err:    ErrBodyTooLarge,
			Reason: "Request body too large",
			Status: http.StatusRequestEntityTooLarge,
		}}, nil
	}

	if err != nil {
		return Outcome{}, fmt.Errorf("httpsig: read body: %w", err)
	}

	signed, err := BuildSignedString(r, params, body)
	if err != nil {
		var pseudoErr *PseudoHeaderError
		if errors.As(err, &pseudoErr) {
			return failed(pseudoErr.Err, pseudoErr.Reason()), nil
		}

		return Outcome{}, err
	}

	if v.verifyWith(ident, signed, signature) {
		return Outcome{Identity: ident}, nil
	}

	v.logger.Info("signature mismatch, refreshing key", "key_id", keyID, "uri", ident.URI, "source", source)

	refreshed, err := v.resolver.Refresh(ctx, ident, source)
	if err != nil {
		return Outcome{}, fmt.Errorf("httpsig: refresh %s: %w", ident.URI, err)
	}

	if refreshed == nil {
		return failed(ErrKeyNotFound, keyNotFoundReason(keyID)), nil
	}

	if v.verifyWith(refreshed, signed, signature) {
		return Outcome{Identity: refreshed}, nil
	}

	v.logger.Warn("signature verification failed", "key_id", keyID, "uri", refreshed.URI, "source", source)

	return failed(ErrVerificationFailed, fmt.Sprintf("Verification failed for %s %s", refreshed.Handle(), refreshed.URI)), nil
}

// verifyWith reports whether signature matches signed under the current
// key of ident. Unusable key material counts as a mismatch.
func (v *Verifier) verifyWith(ident *identity.Identity, signed string, signature []byte) bool {
	key, err := ParsePublicKey(ident.PublicKeyPEM)
	if err != nil {
		v.logger.Debug("unusable public key", "uri", ident.URI, "error", err)
		return false
	}

	return verifyRSA(key, signed, signature) == nil
}

func failed(err error, reason string) Outcome {
	return Outcome{Failure: &Failure{Err: err, Reason: reason, Status: http.StatusUnauthorized}}
}

func keyNotFoundReason(keyID string) string {
	return "Public key not found for key " + keyID
}
