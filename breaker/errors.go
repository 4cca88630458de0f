package breaker

import "errors"

var (
	// ErrNoClassifier is returned by New when Config.IsTransient is nil.
	ErrNoClassifier = errors.New("breaker: transient error classifier must not be nil")

	// ErrNoRedisAddr is returned by NewRedis when no address is given.
	ErrNoRedisAddr = errors.New("breaker: redis addr is required")
)
