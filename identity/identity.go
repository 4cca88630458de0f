// Package identity models the cryptographic identity of a federated actor
// and the store that caches it between verifications.
package identity

import (
	"context"
	"strings"
	"time"
)

// ProtocolActivityPub marks an identity that speaks ActivityPub and can
// therefore have its key material re-fetched.
const ProtocolActivityPub = "activitypub"

// DefaultStaleAfter is how long a fetched identity is trusted before it is
// considered possibly stale.
const DefaultStaleAfter = 24 * time.Hour

// Identity is a remote (or local) actor together with its public key.
type Identity struct {
	ID           string
	URI          string
	Username     string
	Domain       string
	KeyID        string
	PublicKeyPEM string
	Protocol     string
	Local        bool

	// Stale is set by external collaborators (for example a delivery
	// failure handler) to force a full refresh on the next mismatch.
	Stale bool

	RefreshedAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Handle returns the user@domain form of the identity.
func (i *Identity) Handle() string {
	if i.Domain == "" {
		return i.Username
	}

	return i.Username + "@" + i.Domain
}

// Federated reports whether the identity is remote and its key can be
// re-fetched over ActivityPub.
func (i *Identity) Federated() bool {
	return !i.Local && i.Protocol == ProtocolActivityPub
}

// PossiblyStale reports whether the cached key material should be
// re-fetched in full before being trusted again.
func (i *Identity) PossiblyStale(now time.Time, maxAge time.Duration) bool {
	if i.Stale || i.RefreshedAt.IsZero() {
		return true
	}

	if maxAge <= 0 {
		maxAge = DefaultStaleAfter
	}

	return now.Sub(i.RefreshedAt) >= maxAge
}

// Clone returns a copy that shares no state with i.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}

	c := *i

	return &c
}

// HandleKey is the case-folded user@domain form used to index identities
// by handle.
func HandleKey(username, domain string) string {
	return strings.ToLower(username) + "@" + strings.ToLower(domain)
}

// StripFragment removes the #fragment from a key id, yielding the actor
// URI that most servers use as the key owner.
func StripFragment(uri string) string {
	base, _, _ := strings.Cut(uri, "#")

	return base
}

// Store persists identities. Implementations must replace records as a
// whole so concurrent writers never observe a torn key.
type Store interface {
	// FindByKeyID returns the identity whose key id matches keyID, or
	// whose actor URI matches keyID without its fragment. A miss returns
	// nil, nil.
	FindByKeyID(ctx context.Context, keyID string) (*Identity, error)

	// FindByURI returns the identity with the given actor URI. A miss
	// returns nil, nil.
	FindByURI(ctx context.Context, uri string) (*Identity, error)

	// FindByHandle returns the identity whose username and domain match,
	// both compared case-insensitively. A miss returns nil, nil.
	FindByHandle(ctx context.Context, username, domain string) (*Identity, error)

	// Save inserts or replaces the identity keyed by URI and returns the
	// stored record.
	Save(ctx context.Context, ident *Identity) (*Identity, error)
}
