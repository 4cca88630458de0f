package httpsig

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Pseudo-headers that are not transport headers.
const (
	PseudoHeaderRequestTarget = "(request-target)"
	PseudoHeaderCreated       = "(created)"
	PseudoHeaderExpires       = "(expires)"
)

// PseudoHeaderError reports a (created) or (expires) pseudo-header that
// cannot be signed.
type PseudoHeaderError struct {
	Header    string
	Algorithm Algorithm
	Err       error
}

func (e *PseudoHeaderError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Header)
}

func (e *PseudoHeaderError) Unwrap() error {
	return e.Err
}

// Reason returns the client-facing message for the error.
func (e *PseudoHeaderError) Reason() string {
	if e.Err == ErrInvalidPseudoHeader {
		return fmt.Sprintf("Invalid pseudo-header %s for %s", e.Header, e.Algorithm)
	}

	return fmt.Sprintf("Pseudo-header %s used but corresponding argument missing", e.Header)
}

// BuildSignedString reconstructs the string the sender signed. Lines
// follow the order of the headers parameter. body is the raw request body;
// the digest line is always computed from it and never read from the
// request's Digest header.
func BuildSignedString(r *http.Request, params Params, body []byte) (string, error) {
	alg := params.Algorithm()
	names := params.SignedHeaders()
	lines := make([]string, 0, len(names))

	for _, name := range names {
		switch name {
		case PseudoHeaderRequestTarget:
			lines = append(lines, name+": "+strings.ToLower(r.Method)+" "+requestPath(r))

		case PseudoHeaderCreated, PseudoHeaderExpires:
			param := ParamCreated
			if name == PseudoHeaderExpires {
				param = ParamExpires
			}

			if !alg.allowsPseudoHeaders() {
				return "", &PseudoHeaderError{Header: name, Algorithm: alg, Err: ErrInvalidPseudoHeader}
			}

			value := params[param]
			if value == "" {
				return "", &PseudoHeaderError{Header: name, Algorithm: alg, Err: ErrMissingPseudoHeaderParam}
			}

			lines = append(lines, name+": "+value)

		case "digest":
			lines = append(lines, "digest: "+BodyDigest(body))

		default:
			lines = append(lines, name+": "+headerValue(r, name))
		}
	}

	return strings.Join(lines, "\n"), nil
}

// BodyDigest returns the Digest header value for body.
func BodyDigest(body []byte) string {
	sum := sha256.Sum256(body)

	return "SHA-256=" + base64.StdEncoding.EncodeToString(sum[:])
}

// headerValue returns the value of header name, or "" when it is absent.
// Multiple values are joined with ", ".
//
// The "host" header is special-cased because net/http stores it in
// Request.Host rather than in the header map.
func headerValue(r *http.Request, name string) string {
	values := r.Header.Values(http.CanonicalHeaderKey(name))

	if len(values) == 0 && name == "host" {
		return r.Host
	}

	return strings.Join(values, ", ")
}

func requestPath(r *http.Request) string {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}

	return path
}

// readAndRestoreBody reads up to limit bytes of the request body and
// replaces it with a new reader so downstream handlers can consume it
// again. A non-positive limit disables the bound.
func readAndRestoreBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	reader := io.Reader(r.Body)
	if limit > 0 {
		reader = io.LimitReader(r.Body, limit+1)
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}

	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	if limit > 0 && int64(len(body)) > limit {
		return nil, ErrBodyTooLarge
	}

	return body, nil
}
