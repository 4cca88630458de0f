package federation

import (
	"errors"
	"fmt"
)

// ErrHostValidation is returned when a fetch target is refused before any
// bytes are sent: wrong scheme, unparsable host, or an address in a
// private range.
var ErrHostValidation = errors.New("federation: host validation failed")

// ErrHostBlocked is returned when the domain policy refuses a fetch target.
// It wraps ErrHostValidation.
var ErrHostBlocked = fmt.Errorf("%w: domain blocked", ErrHostValidation)

// TransportError wraps network and TLS failures reaching a remote server.
// These are expected in a federation and are the only failures a circuit
// breaker should swallow.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("federation: fetching %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError reports whether err is, or wraps, a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
