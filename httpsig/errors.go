package httpsig

import (
	"errors"

	"github.com/vitalvas/fedsig/resolver"
)

// Configuration errors.
var (
	// ErrNoResolver is returned when VerifierConfig has no Resolver.
	ErrNoResolver = errors.New("httpsig: key resolver must not be nil")

	// ErrNoVerifier is returned when MiddlewareConfig has no Verifier.
	ErrNoVerifier = errors.New("httpsig: verifier must not be nil")
)

// Verification failures. Each is carried in Failure.Err.
var (
	// ErrNotSigned is returned when the request has no Signature header.
	ErrNotSigned = errors.New("httpsig: request not signed")

	// ErrMalformedParams is returned when the Signature header lacks keyId
	// or signature, or fails strict parsing.
	ErrMalformedParams = errors.New("httpsig: malformed signature parameters")

	// ErrUnsupportedAlgorithm is returned for algorithms other than
	// rsa-sha256 and hs2019.
	ErrUnsupportedAlgorithm = errors.New("httpsig: unsupported signature algorithm")

	// ErrWindowExpired is returned when the signature is outside the
	// accepted time window or carries a malformed timestamp.
	ErrWindowExpired = errors.New("httpsig: signature outside acceptable time window")

	// ErrKeyNotFound is returned when no identity owns the key id.
	ErrKeyNotFound = errors.New("httpsig: public key not found")

	// ErrDomainBlocked is returned when the key id host is refused by the
	// domain policy.
	ErrDomainBlocked = resolver.ErrDomainBlocked

	// ErrVerificationFailed is returned when the signature does not match
	// the signed string, even after a key refresh.
	ErrVerificationFailed = errors.New("httpsig: signature verification failed")

	// ErrBodyTooLarge is returned when the request body exceeds
	// VerifierConfig.MaxBodySize.
	ErrBodyTooLarge = errors.New("httpsig: request body too large")
)

// Signed string errors.
var (
	// ErrInvalidPseudoHeader is returned when (created) or (expires) is
	// signed with an algorithm other than hs2019.
	ErrInvalidPseudoHeader = errors.New("httpsig: invalid pseudo-header")

	// ErrMissingPseudoHeaderParam is returned when (created) or (expires)
	// is signed but the matching parameter is absent.
	ErrMissingPseudoHeaderParam = errors.New("httpsig: pseudo-header parameter missing")
)

// Key material errors.
var (
	// ErrInvalidKey is returned when key material cannot be parsed or is
	// not an RSA key of sufficient size.
	ErrInvalidKey = errors.New("httpsig: invalid key material")
)
