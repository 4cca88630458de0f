package httpsig

import (
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"strings"
)

// Minimum RSA key size in bits.
const minRSAKeyBits = 1024

// ParsePublicKey decodes a PEM encoded RSA public key in either PKIX
// ("PUBLIC KEY") or PKCS #1 ("RSA PUBLIC KEY") form.
func ParsePublicKey(data string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(strings.TrimSpace(data)))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidKey)
	}

	var key *rsa.PublicKey

	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}

		rsaKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("%w: expected RSA key, got %T", ErrInvalidKey, parsed)
		}

		key = rsaKey

	case "RSA PUBLIC KEY":
		parsed, err := x509.ParsePKCS1PublicKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}

		key = parsed

	default:
		return nil, fmt.Errorf("%w: unexpected PEM block %q", ErrInvalidKey, block.Type)
	}

	if key.N.BitLen() < minRSAKeyBits {
		return nil, fmt.Errorf("%w: RSA key must be at least %d bits", ErrInvalidKey, minRSAKeyBits)
	}

	return key, nil
}

// verifyRSA checks an RSASSA-PKCS1-v1_5 SHA-256 signature over message.
// Both supported algorithm names verify this way.
func verifyRSA(key *rsa.PublicKey, message string, signature []byte) error {
	digest := sha256.Sum256([]byte(message))

	if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signature); err != nil {
		return ErrVerificationFailed
	}

	return nil
}

// decodeSignature decodes the signature parameter. Padded and unpadded
// standard base64 are both accepted.
func decodeSignature(raw string) ([]byte, error) {
	raw = strings.Join(strings.Fields(raw), "")

	if sig, err := base64.StdEncoding.DecodeString(raw); err == nil {
		return sig, nil
	}

	sig, err := base64.RawStdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: signature is not base64", ErrMalformedParams)
	}

	return sig, nil
}
