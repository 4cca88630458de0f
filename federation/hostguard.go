package federation

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/idna"

	"github.com/vitalvas/fedsig/domainpolicy"
)

// validateURL checks scheme and host of a fetch target and returns the
// parsed URL with its host in ASCII form.
func (c *Client) validateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHostValidation, err)
	}

	switch u.Scheme {
	case "https":
	case "http":
		if !c.allowHTTP {
			return nil, fmt.Errorf("%w: plain http not allowed for %s", ErrHostValidation, u.Host)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrHostValidation, u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrHostValidation)
	}

	ascii := host
	if addr, err := netip.ParseAddr(host); err == nil {
		if !c.allowPrivate && isPrivateAddr(addr) {
			return nil, fmt.Errorf("%w: %s is not a public address", ErrHostValidation, host)
		}
	} else {
		ascii, err = idna.Lookup.ToASCII(host)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHostValidation, err)
		}

		if !c.allowPrivate && strings.EqualFold(ascii, "localhost") {
			return nil, fmt.Errorf("%w: %s is not a public address", ErrHostValidation, ascii)
		}
	}

	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(ascii, port)
	} else {
		u.Host = ascii
	}

	return u, nil
}

// checkTarget validates raw and asks the domain policy about its host.
func (c *Client) checkTarget(ctx context.Context, raw string) (*url.URL, error) {
	u, err := c.validateURL(raw)
	if err != nil {
		return nil, err
	}

	host := domainpolicy.Normalize(u.Hostname())

	blocked, err := c.policy.IsDomainBlocked(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("federation: domain policy for %s: %w", host, err)
	}

	if blocked {
		c.logger.Info("refusing fetch from blocked domain", "host", host)
		return nil, fmt.Errorf("%w: %s", ErrHostBlocked, host)
	}

	return u, nil
}

// isPrivateAddr reports addresses a federated fetch must never reach.
func isPrivateAddr(addr netip.Addr) bool {
	addr = addr.Unmap()

	return addr.IsLoopback() ||
		addr.IsPrivate() ||
		addr.IsLinkLocalUnicast() ||
		addr.IsLinkLocalMulticast() ||
		addr.IsInterfaceLocalMulticast() ||
		addr.IsMulticast() ||
		addr.IsUnspecified() ||
		cgnat.Contains(addr)
}

var cgnat = netip.MustParsePrefix("100.64.0.0/10")

// guardedDialer refuses to connect to private addresses after DNS
// resolution, which also covers names that resolve to internal hosts.
func guardedDialer(timeout time.Duration, allowPrivate bool) func(ctx context.Context, network, addr string) (net.Conn, error) {
	d := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			if allowPrivate {
				return nil
			}

			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrHostValidation, err)
			}

			addr, err := netip.ParseAddr(strings.Trim(host, "[]"))
			if err != nil {
				return fmt.Errorf("%w: %v", ErrHostValidation, err)
			}

			if isPrivateAddr(addr) {
				return fmt.Errorf("%w: %s is not a public address", ErrHostValidation, addr)
			}

			return nil
		},
	}

	return d.DialContext
}
