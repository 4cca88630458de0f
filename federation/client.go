// Package federation fetches the public identity of remote ActivityPub
// actors: actor documents, standalone key documents and WebFinger
// handles. Every call is bounded by a per-call timeout and a response
// size limit, and refuses private network targets unless told otherwise.
//
// Failures reaching the remote server are returned as *TransportError.
// A remote that answers but has nothing usable (non-2xx status, invalid
// JSON, mismatched ids) yields a nil result and a nil error.
package federation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vitalvas/fedsig/domainpolicy"
	"github.com/vitalvas/fedsig/identity"
)

const (
	// DefaultTimeout bounds each outbound request.
	DefaultTimeout = 5 * time.Second

	// MaxResponseSize bounds the bytes read from any remote document.
	MaxResponseSize int64 = 1 << 20

	maxRedirects = 3
)

// Config configures a Client.
type Config struct {
	// HTTPClient performs requests. When nil a client is built whose
	// dialer refuses private addresses unless AllowPrivate is set.
	HTTPClient *http.Client

	// Timeout bounds each request. Defaults to DefaultTimeout.
	Timeout time.Duration

	// AllowHTTP permits plain http targets. Intended for development.
	AllowHTTP bool

	// AllowPrivate permits loopback and private-range targets.
	AllowPrivate bool

	// UserAgent is sent on every request.
	UserAgent string

	// Policy is consulted for every host contacted, including WebFinger
	// subject hosts, key owners and redirect targets. A blocked host is
	// refused with ErrHostBlocked.
	Policy domainpolicy.Policy

	// Now stamps RefreshedAt on fetched identities. Defaults to time.Now.
	Now func() time.Time

	Logger *slog.Logger
}

// Client fetches remote identities.
type Client struct {
	httpClient   *http.Client
	timeout      time.Duration
	allowHTTP    bool
	allowPrivate bool
	userAgent    string
	policy       domainpolicy.Policy
	now          func() time.Time
	logger       *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.UserAgent == "" {
		cfg.UserAgent = "fedsig"
	}

	if cfg.Policy == nil {
		cfg.Policy = domainpolicy.NewStatic(nil, nil)
	}

	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         guardedDialer(cfg.Timeout, cfg.AllowPrivate),
				TLSHandshakeTimeout: cfg.Timeout,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	c := &Client{
		timeout:      cfg.Timeout,
		allowHTTP:    cfg.AllowHTTP,
		allowPrivate: cfg.AllowPrivate,
		userAgent:    cfg.UserAgent,
		policy:       cfg.Policy,
		now:          cfg.Now,
		logger:       cfg.Logger,
	}

	hc := *cfg.HTTPClient
	hc.CheckRedirect = c.checkRedirect(cfg.HTTPClient.CheckRedirect)
	c.httpClient = &hc

	return c
}

// checkRedirect applies the same target checks to every redirect hop as
// to the original request, then defers to next when set.
func (c *Client) checkRedirect(next func(*http.Request, []*http.Request) error) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("stopped after %d redirects", maxRedirects)
		}

		if _, err := c.checkTarget(req.Context(), req.URL.String()); err != nil {
			return err
		}

		if next != nil {
			return next(req, via)
		}

		return nil
	}
}

// FetchActor fetches the actor at uri together with its own key. The
// document id must equal uri. When the actor publishes several keys the
// one matching keyID is preferred, falling back to the first.
func (c *Client) FetchActor(ctx context.Context, uri, keyID string) (*identity.Identity, error) {
	uri = identity.StripFragment(uri)

	doc, err := c.fetchDocument(ctx, uri)
	if err != nil || doc == nil {
		return nil, err
	}

	if !doc.IsActor() || doc.ID != uri {
		c.logger.Debug("actor document rejected", "uri", uri, "id", doc.ID, "type", doc.Type)
		return nil, nil
	}

	key, ok := doc.OwnKey(keyID)
	if !ok && keyID != "" {
		key, ok = doc.OwnKey("")
	}

	if !ok {
		return nil, nil
	}

	return c.toIdentity(doc, key)
}

// FetchKey fetches keyID. A standalone key is only accepted when its
// owner actor lists the same key; an actor document is accepted when it
// embeds a key with that id.
func (c *Client) FetchKey(ctx context.Context, keyID string) (*identity.Identity, error) {
	doc, err := c.fetchDocument(ctx, keyID)
	if err != nil || doc == nil {
		return nil, err
	}

	switch {
	case doc.IsActor():
		if doc.ID != identity.StripFragment(keyID) {
			return nil, nil
		}

		key, ok := doc.OwnKey(keyID)
		if !ok {
			return nil, nil
		}

		return c.toIdentity(doc, key)

	case doc.IsKey():
		if doc.ID != keyID || !sameHost(doc.ID, doc.Owner) {
			return nil, nil
		}

		owner, err := c.fetchDocument(ctx, doc.Owner)
		if err != nil || owner == nil {
			return nil, err
		}

		if !owner.IsActor() || owner.ID != doc.Owner {
			return nil, nil
		}

		key, ok := owner.OwnKey(keyID)
		if !ok {
			return nil, nil
		}

		return c.toIdentity(owner, key)

	default:
		return nil, nil
	}
}

func (c *Client) toIdentity(doc *Document, key PublicKey) (*identity.Identity, error) {
	u, err := url.Parse(doc.ID)
	if err != nil {
		return nil, nil
	}

	return &identity.Identity{
		URI:          doc.ID,
		Username:     doc.PreferredUsername,
		Domain:       strings.ToLower(u.Hostname()),
		KeyID:        key.ID,
		PublicKeyPEM: key.PublicKeyPEM,
		Protocol:     identity.ProtocolActivityPub,
		RefreshedAt:  c.now().UTC(),
	}, nil
}

func (c *Client) fetchDocument(ctx context.Context, uri string) (*Document, error) {
	var doc Document

	found, err := c.getJSON(ctx, uri, acceptActivity, &doc)
	if err != nil || !found {
		return nil, err
	}

	return &doc, nil
}

// getJSON performs a bounded GET and decodes the body into v. It reports
// false without error when the remote answered with nothing usable.
func (c *Client) getJSON(ctx context.Context, raw, accept string, v any) (bool, error) {
	target, err := c.checkTarget(ctx, raw)
	if err != nil {
		return false, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrHostValidation, err)
	}

	req.Header.Set("Accept", accept)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, ErrHostValidation) {
			return false, err
		}

		return false, &TransportError{URL: target.String(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Debug("remote fetch unsuccessful", "url", target.String(), "status", resp.StatusCode)
		return false, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseSize+1))
	if err != nil {
		return false, &TransportError{URL: target.String(), Err: err}
	}

	if int64(len(data)) > MaxResponseSize {
		c.logger.Debug("remote document too large", "url", target.String())
		return false, nil
	}

	if err := json.Unmarshal(data, v); err != nil {
		c.logger.Debug("remote document is not json", "url", target.String(), "error", err)
		return false, nil
	}

	return true, nil
}

func sameHost(a, b string) bool {
	ua, err := url.Parse(a)
	if err != nil {
		return false
	}

	ub, err := url.Parse(b)
	if err != nil {
		return false
	}

	return strings.EqualFold(ua.Host, ub.Host)
}
