// Package domainpolicy decides whether this server federates with a remote
// host. Blocking applies to the host and every subdomain of it.
package domainpolicy

import (
	"context"
	"net"
	"strings"

	"golang.org/x/net/idna"
)

// Policy reports whether outbound resolution towards host is refused.
type Policy interface {
	IsDomainBlocked(ctx context.Context, host string) (bool, error)
}

// Normalize lowercases host, strips a port and a trailing dot, and
// converts internationalised names to their ASCII form. Hosts that cannot
// be converted are returned lowercased as given.
func Normalize(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	host = strings.TrimSuffix(strings.ToLower(host), ".")

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return host
	}

	return ascii
}

// Static is a fixed block list with an optional allow list. When Allowed
// is not empty the policy runs in limited federation mode and every host
// outside it is blocked.
type Static struct {
	blocked map[string]struct{}
	allowed map[string]struct{}
}

// NewStatic builds a Static policy.
func NewStatic(blocked, allowed []string) *Static {
	s := &Static{
		blocked: make(map[string]struct{}, len(blocked)),
		allowed: make(map[string]struct{}, len(allowed)),
	}

	for _, d := range blocked {
		if d = Normalize(d); d != "" {
			s.blocked[d] = struct{}{}
		}
	}

	for _, d := range allowed {
		if d = Normalize(d); d != "" {
			s.allowed[d] = struct{}{}
		}
	}

	return s
}

func (s *Static) IsDomainBlocked(_ context.Context, host string) (bool, error) {
	host = Normalize(host)
	if host == "" {
		return true, nil
	}

	if matchesSuffix(host, s.blocked) {
		return true, nil
	}

	if len(s.allowed) > 0 && !matchesSuffix(host, s.allowed) {
		return true, nil
	}

	return false, nil
}

// matchesSuffix reports whether host or one of its parent domains is in set.
func matchesSuffix(host string, set map[string]struct{}) bool {
	for {
		if _, ok := set[host]; ok {
			return true
		}

		_, parent, ok := strings.Cut(host, ".")
		if !ok || parent == "" {
			return false
		}

		host = parent
	}
}

// Chain blocks a host when any of its policies does. Errors stop the
// evaluation.
type Chain []Policy

func (c Chain) IsDomainBlocked(ctx context.Context, host string) (bool, error) {
	for _, p := range c {
		blocked, err := p.IsDomainBlocked(ctx, host)
		if err != nil || blocked {
			return blocked, err
		}
	}

	return false, nil
}

var (
	_ Policy = (*Static)(nil)
	_ Policy = Chain(nil)
)
