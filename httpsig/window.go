package httpsig

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultExpiry is the lifetime of a signature without an expires
	// parameter.
	DefaultExpiry = 5 * time.Minute

	// ExpirationWindowLimit caps the lifetime of any signature, whatever
	// expiry the sender claims.
	ExpirationWindowLimit = 12 * time.Hour

	// ClockSkewMargin is tolerated on both ends of the window.
	ClockSkewMargin = time.Hour
)

// CheckWindow reports whether the signature described by params is within
// its validity window at now. dateHeader is the request's Date header and
// is consulted unless hs2019 carries a created parameter.
//
// A signature with neither a creation nor an expiry time passes.
func CheckWindow(params Params, alg Algorithm, dateHeader string, now time.Time) error {
	var created, expires time.Time

	if raw, ok := params[ParamCreated]; ok && alg == AlgorithmHS2019 && raw != "" {
		t, err := parseUnixTime(raw)
		if err != nil {
			return fmt.Errorf("%w: created: %w", ErrWindowExpired, err)
		}

		created = t
	} else if dateHeader != "" {
		t, err := http.ParseTime(dateHeader)
		if err != nil {
			return fmt.Errorf("%w: date: %w", ErrWindowExpired, err)
		}

		created = t
	}

	if raw, ok := params[ParamExpires]; ok && raw != "" {
		t, err := parseUnixTime(raw)
		if err != nil {
			return fmt.Errorf("%w: expires: %w", ErrWindowExpired, err)
		}

		expires = t
	}

	if !created.IsZero() {
		if expires.IsZero() {
			expires = created.Add(DefaultExpiry)
		}

		if limit := created.Add(ExpirationWindowLimit); expires.After(limit) {
			expires = limit
		}

		if created.After(now.Add(ClockSkewMargin)) {
			return fmt.Errorf("%w: created %s is in the future", ErrWindowExpired, created.UTC().Format(time.RFC3339))
		}
	}

	if !expires.IsZero() && now.After(expires.Add(ClockSkewMargin)) {
		return fmt.Errorf("%w: expired at %s", ErrWindowExpired, expires.UTC().Format(time.RFC3339))
	}

	return nil
}

// parseUnixTime parses integral Unix seconds. A fractional part is
// accepted and truncated.
func parseUnixTime(raw string) (time.Time, error) {
	whole, frac, hasFrac := strings.Cut(strings.TrimSpace(raw), ".")
	if hasFrac {
		if _, err := strconv.ParseUint(frac, 10, 64); err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
		}
	}

	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", raw)
	}

	return time.Unix(sec, 0).UTC(), nil
}
