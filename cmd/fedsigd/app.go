package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vitalvas/fedsig/breaker"
	"github.com/vitalvas/fedsig/config"
	"github.com/vitalvas/fedsig/domainpolicy"
	"github.com/vitalvas/fedsig/federation"
	"github.com/vitalvas/fedsig/ginsig"
	"github.com/vitalvas/fedsig/httpsig"
	"github.com/vitalvas/fedsig/identity"
	"github.com/vitalvas/fedsig/identity/gormstore"
	"github.com/vitalvas/fedsig/resolver"
)

// app holds the wired daemon.
type app struct {
	router  *gin.Engine
	closers []io.Closer
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{}

	store, err := a.openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	backend, err := a.openBreakerBackend(cfg.Breaker)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	gate, err := breaker.New(breaker.Config{
		Threshold:   cfg.Breaker.Threshold,
		CoolOff:     cfg.Breaker.CoolOff,
		IsTransient: federation.IsTransportError,
		Backend:     backend,
		Logger:      logger.With("component", "breaker"),
	})
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	policy, err := buildPolicy(ctx, cfg.Policy)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	fetcher := federation.NewClient(federation.Config{
		Timeout:      cfg.Federation.FetchTimeout,
		AllowHTTP:    cfg.Federation.AllowHTTP,
		AllowPrivate: cfg.Federation.AllowPrivate,
		UserAgent:    cfg.Federation.UserAgent,
		Policy:       policy,
		Logger:       logger.With("component", "federation"),
	})

	keys, err := resolver.New(resolver.Config{
		LocalDomain: cfg.Federation.LocalDomain,
		Store:       store,
		Fetcher:     fetcher,
		Policy:      policy,
		Gate:        gate,
		StaleAfter:  cfg.Store.StaleAfter,
		Logger:      logger.With("component", "resolver"),
	})
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	verifier, err := httpsig.NewVerifier(httpsig.VerifierConfig{
		Resolver:     keys,
		StrictParams: cfg.Signature.StrictParams,
		Source:       ginsig.ClientIPSource,
		MaxBodySize:  cfg.Signature.MaxBodySize,
		Logger:       logger.With("component", "httpsig"),
	})
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	router, err := newRouter(cfg.Server, verifier, logger)
	if err != nil {
		return nil, errors.Join(err, a.Close())
	}

	a.router = router

	return a, nil
}

func (a *app) openStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (identity.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := gormstore.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open identity store: %w", err)
		}

		a.closers = append(a.closers, store)
		logger.Info("identity store ready", "driver", cfg.Driver)

		return store, nil

	default:
		return identity.NewMemoryStore(nil), nil
	}
}

func (a *app) openBreakerBackend(cfg config.BreakerConfig) (breaker.Backend, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		backend, err := breaker.NewRedis(breaker.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("open breaker backend: %w", err)
		}

		a.closers = append(a.closers, backend)

		return backend, nil

	default:
		return breaker.NewMemory(nil), nil
	}
}

func buildPolicy(ctx context.Context, cfg config.PolicyConfig) (domainpolicy.Policy, error) {
	chain := domainpolicy.Chain{domainpolicy.NewStatic(cfg.BlockedDomains, cfg.AllowedDomains)}

	if cfg.RegoFile != "" {
		rego, err := domainpolicy.LoadRego(ctx, cfg.RegoFile)
		if err != nil {
			return nil, fmt.Errorf("load domain policy: %w", err)
		}

		chain = append(chain, rego)
	}

	return chain, nil
}

func newRouter(cfg config.ServerConfig, verifier *httpsig.Verifier, logger *slog.Logger) (*gin.Engine, error) {
	r := gin.New()
	r.Use(gin.Recovery(), ginsig.RequestID(ginsig.RequestIDConfig{TrustIncoming: len(cfg.TrustedProxies) > 0}), accessLog(logger))

	if err := r.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, fmt.Errorf("trusted proxies: %w", err)
	}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	signed := ginsig.Middleware(verifier, logger.With("component", "ginsig"))
	inbox := inboxHandler(logger)

	r.POST("/inbox", signed, inbox)
	r.POST("/users/:username/inbox", signed, inbox)

	return r, nil
}

// inboxHandler accepts verified deliveries. Processing the activity is
// left to downstream consumers.
func inboxHandler(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		ident, ok := ginsig.IdentityFromContext(c)
		if !ok {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}

		logger.Info("accepted delivery",
			"actor", ident.URI,
			"inbox", c.Request.URL.Path,
			"request_id", c.GetString(ginsig.RequestIDKey),
		)

		c.JSON(http.StatusAccepted, gin.H{"actor": ident.URI})
	}
}

func accessLog(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"client_ip", c.ClientIP(),
			"duration", time.Since(start),
			"request_id", c.GetString(ginsig.RequestIDKey),
		)
	}
}

// Close releases the store and breaker connections.
func (a *app) Close() error {
	var errs []error

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}

	a.closers = nil

	return errors.Join(errs...)
}
