// Package breaker short-circuits outbound calls made on behalf of a noisy
// or unlucky source. After Threshold transient failures within CoolOff the
// gate opens for that key and every guarded call returns its fallback
// without running until CoolOff has elapsed.
package breaker

import (
	"context"
	"log/slog"
	"time"
)

const (
	// DefaultThreshold trips the breaker on the first transient failure.
	DefaultThreshold = 1

	// DefaultCoolOff is how long an open breaker stays open.
	DefaultCoolOff = 5 * time.Minute
)

// Backend stores per-key failure counters and open markers. All methods
// must be safe for concurrent use.
type Backend interface {
	// IsOpen reports whether key is currently short-circuited.
	IsOpen(ctx context.Context, key string) (bool, error)

	// RecordFailure counts one failure for key within coolOff and opens
	// the breaker for coolOff once threshold is reached. It reports
	// whether this call opened the breaker.
	RecordFailure(ctx context.Context, key string, threshold int, coolOff time.Duration) (bool, error)

	// RecordSuccess clears the failure counter for key.
	RecordSuccess(ctx context.Context, key string) error
}

// Config configures a Gate.
type Config struct {
	// Threshold is the number of transient failures that opens the
	// breaker. Defaults to DefaultThreshold.
	Threshold int

	// CoolOff is how long the breaker stays open. Defaults to
	// DefaultCoolOff.
	CoolOff time.Duration

	// IsTransient classifies errors that count toward tripping and are
	// swallowed into the fallback. Other errors propagate. Required.
	IsTransient func(error) bool

	// Backend holds the counters. Defaults to an in-memory backend.
	Backend Backend

	// Logger receives state transitions. Defaults to slog.Default().
	Logger *slog.Logger
}

// Gate guards operations per key.
type Gate struct {
	threshold   int
	coolOff     time.Duration
	isTransient func(error) bool
	backend     Backend
	logger      *slog.Logger
}

// New creates a Gate.
func New(cfg Config) (*Gate, error) {
	if cfg.IsTransient == nil {
		return nil, ErrNoClassifier
	}

	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}

	if cfg.CoolOff <= 0 {
		cfg.CoolOff = DefaultCoolOff
	}

	if cfg.Backend == nil {
		cfg.Backend = NewMemory(nil)
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Gate{
		threshold:   cfg.Threshold,
		coolOff:     cfg.CoolOff,
		isTransient: cfg.IsTransient,
		backend:     cfg.Backend,
		logger:      cfg.Logger,
	}, nil
}

// Guard runs op unless the breaker for key is open. When the breaker is
// open, or op fails with a transient error, fallback is returned with a
// nil error. Non-transient errors from op are returned unchanged.
func Guard[T any](ctx context.Context, g *Gate, key string, fallback T, op func(context.Context) (T, error)) (T, error) {
	open, err := g.backend.IsOpen(ctx, key)
	if err != nil {
		return fallback, err
	}

	if open {
		g.logger.Debug("breaker open, skipping call", "key", key)
		return fallback, nil
	}

	result, err := op(ctx)
	if err == nil {
		if err := g.backend.RecordSuccess(ctx, key); err != nil {
			return result, err
		}

		return result, nil
	}

	if !g.isTransient(err) {
		return fallback, err
	}

	opened, recErr := g.backend.RecordFailure(ctx, key, g.threshold, g.coolOff)
	if recErr != nil {
		return fallback, recErr
	}

	if opened {
		g.logger.Warn("breaker opened", "key", key, "cool_off", g.coolOff, "error", err)
	} else {
		g.logger.Debug("transient failure", "key", key, "error", err)
	}

	return fallback, nil
}
