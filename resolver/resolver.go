// Package resolver maps the key id of a signed request to the identity
// that owns the key, fetching and caching remote identities on demand.
//
// Outbound fetches run behind a circuit breaker keyed by the address of
// the inbound request, not by the remote host being fetched. One noisy
// inbound peer therefore cannot fan out into unbounded outbound traffic.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vitalvas/fedsig/breaker"
	"github.com/vitalvas/fedsig/domainpolicy"
	"github.com/vitalvas/fedsig/federation"
	"github.com/vitalvas/fedsig/identity"
)

// ErrDomainBlocked is returned when the key id points at a host that the
// domain policy refuses. No network call is made.
var ErrDomainBlocked = errors.New("resolver: domain blocked")

// Fetcher retrieves remote identities. federation.Client implements it.
type Fetcher interface {
	FetchActor(ctx context.Context, uri, keyID string) (*identity.Identity, error)
	FetchKey(ctx context.Context, keyID string) (*identity.Identity, error)
	Webfinger(ctx context.Context, handle string) (*federation.Resource, error)
}

// Config configures a Resolver.
type Config struct {
	// LocalDomain is the host this server answers on. Key ids on it are
	// never fetched.
	LocalDomain string

	Store   identity.Store
	Fetcher Fetcher
	Policy  domainpolicy.Policy
	Gate    *breaker.Gate

	// StaleAfter is the age after which an identity gets a full refresh
	// instead of a key-only one. Defaults to identity.DefaultStaleAfter.
	StaleAfter time.Duration

	Now    func() time.Time
	Logger *slog.Logger
}

// Resolver resolves and refreshes identities.
type Resolver struct {
	localDomain string
	store       identity.Store
	fetcher     Fetcher
	policy      domainpolicy.Policy
	gate        *breaker.Gate
	staleAfter  time.Duration
	now         func() time.Time
	logger      *slog.Logger
	group       singleflight.Group
}

// New creates a Resolver.
func New(cfg Config) (*Resolver, error) {
	if cfg.Store == nil {
		return nil, errors.New("resolver: store must not be nil")
	}

	if cfg.Fetcher == nil {
		return nil, errors.New("resolver: fetcher must not be nil")
	}

	if cfg.Gate == nil {
		return nil, errors.New("resolver: breaker gate must not be nil")
	}

	if cfg.Policy == nil {
		cfg.Policy = domainpolicy.NewStatic(nil, nil)
	}

	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = identity.DefaultStaleAfter
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Resolver{
		localDomain: cfg.LocalDomain,
		store:       cfg.Store,
		fetcher:     cfg.Fetcher,
		policy:      cfg.Policy,
		gate:        cfg.Gate,
		staleAfter:  cfg.StaleAfter,
		now:         cfg.Now,
		logger:      cfg.Logger,
	}, nil
}

// Resolve returns the identity owning keyID, or nil when none can be
// found. source identifies the inbound peer for circuit breaking.
func (r *Resolver) Resolve(ctx context.Context, keyID, source string) (*identity.Identity, error) {
	ref := Classify(keyID, r.localDomain)

	switch ref.Kind {
	case KindInvalid, KindLocal:
		return nil, nil
	}

	if err := r.checkDomain(ctx, ref.Host); err != nil {
		return nil, err
	}

	if ref.Kind == KindHandle {
		user, host, _ := federation.SplitHandle(ref.Handle)

		existing, err := r.store.FindByHandle(ctx, user, host)
		if err != nil {
			return nil, fmt.Errorf("resolver: lookup %s: %w", ref.Handle, err)
		}

		if existing != nil {
			return existing, nil
		}

		return r.shared(ctx, "acct:"+ref.Handle, func(ctx context.Context) (*identity.Identity, error) {
			return r.resolveHandle(ctx, ref.Handle, source)
		})
	}

	existing, err := r.store.FindByKeyID(ctx, keyID)
	if err != nil {
		return nil, fmt.Errorf("resolver: lookup %s: %w", keyID, err)
	}

	if existing != nil {
		return existing, nil
	}

	return r.shared(ctx, "key:"+keyID, func(ctx context.Context) (*identity.Identity, error) {
		fetched, err := r.guarded(ctx, source, func(ctx context.Context) (*identity.Identity, error) {
			return r.fetcher.FetchKey(ctx, keyID)
		})
		if err != nil || fetched == nil {
			return nil, err
		}

		return r.save(ctx, fetched)
	})
}

// Refresh re-fetches the key material of ident. Local and non-federated
// identities are returned unchanged. A possibly stale identity is
// refreshed in full; otherwise only its key fields are replaced.
func (r *Resolver) Refresh(ctx context.Context, ident *identity.Identity, source string) (*identity.Identity, error) {
	if ident == nil || !ident.Federated() {
		return ident, nil
	}

	full := ident.PossiblyStale(r.now(), r.staleAfter)

	return r.shared(ctx, "refresh:"+ident.URI, func(ctx context.Context) (*identity.Identity, error) {
		fetched, err := r.guarded(ctx, source, func(ctx context.Context) (*identity.Identity, error) {
			return r.fetcher.FetchActor(ctx, ident.URI, ident.KeyID)
		})
		if err != nil || fetched == nil {
			return nil, err
		}

		if !full {
			updated := ident.Clone()
			updated.KeyID = fetched.KeyID
			updated.PublicKeyPEM = fetched.PublicKeyPEM
			fetched = updated
		} else {
			fetched.ID = ident.ID
			fetched.CreatedAt = ident.CreatedAt
		}

		r.logger.Info("refreshed remote key", "uri", ident.URI, "key_id", fetched.KeyID, "full", full)

		return r.save(ctx, fetched)
	})
}

func (r *Resolver) resolveHandle(ctx context.Context, handle, source string) (*identity.Identity, error) {
	return r.guarded(ctx, source, func(ctx context.Context) (*identity.Identity, error) {
		res, err := r.fetcher.Webfinger(ctx, handle)
		if err != nil || res == nil {
			return nil, err
		}

		u, err := url.Parse(res.ActorURI)
		if err != nil {
			return nil, nil
		}

		if err := r.checkDomain(ctx, domainpolicy.Normalize(u.Host)); err != nil {
			return nil, err
		}

		fetched, err := r.fetcher.FetchActor(ctx, res.ActorURI, "")
		if err != nil || fetched == nil {
			return nil, err
		}

		fetched.Username = res.Username()
		fetched.Domain = res.Domain()

		return r.save(ctx, fetched)
	})
}

func (r *Resolver) checkDomain(ctx context.Context, host string) error {
	blocked, err := r.policy.IsDomainBlocked(ctx, host)
	if err != nil {
		return fmt.Errorf("resolver: domain policy for %s: %w", host, err)
	}

	if blocked {
		r.logger.Info("refusing key resolution for blocked domain", "host", host)
		return ErrDomainBlocked
	}

	return nil
}

func (r *Resolver) save(ctx context.Context, ident *identity.Identity) (*identity.Identity, error) {
	ident.Local = false
	ident.Stale = false

	saved, err := r.store.Save(ctx, ident)
	if err != nil {
		return nil, fmt.Errorf("resolver: save %s: %w", ident.URI, err)
	}

	return saved, nil
}

// guarded runs op behind the breaker for source. Host validation failures
// are treated as a miss.
func (r *Resolver) guarded(ctx context.Context, source string, op func(context.Context) (*identity.Identity, error)) (*identity.Identity, error) {
	ident, err := breaker.Guard(ctx, r.gate, "source:"+source, nil, op)
	if errors.Is(err, federation.ErrHostValidation) {
		r.logger.Debug("fetch target refused", "source", source, "error", err)
		return nil, nil
	}

	return ident, err
}

// shared collapses concurrent identical fetches into one. The fetch is
// detached from the first caller's cancellation; the fetcher's own timeout
// bounds it.
func (r *Resolver) shared(ctx context.Context, key string, fn func(context.Context) (*identity.Identity, error)) (*identity.Identity, error) {
	detached := context.WithoutCancel(ctx)

	v, err, _ := r.group.Do(key, func() (any, error) {
		return fn(detached)
	})
	if err != nil {
		return nil, err
	}

	ident, _ := v.(*identity.Identity)

	return ident.Clone(), nil
}
