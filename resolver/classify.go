package resolver

import (
	"net/url"
	"strings"

	"github.com/vitalvas/fedsig/domainpolicy"
	"github.com/vitalvas/fedsig/federation"
)

// Kind tags the shape of a key id.
type Kind int

const (
	// KindInvalid is a key id that is neither a handle nor an http(s) URI.
	KindInvalid Kind = iota

	// KindHandle is an acct:user@host key id.
	KindHandle

	// KindLocal is a URI served by this server.
	KindLocal

	// KindRemote is a URI served by another server.
	KindRemote
)

func (k Kind) String() string {
	switch k {
	case KindHandle:
		return "handle"
	case KindLocal:
		return "local"
	case KindRemote:
		return "remote"
	default:
		return "invalid"
	}
}

// KeyRef is a classified key id.
type KeyRef struct {
	Kind  Kind
	KeyID string

	// Handle is user@host for KindHandle.
	Handle string

	// Host is the normalized host the key id points at.
	Host string
}

// Classify sorts keyID into one of the Kind variants. localDomain is the
// host this server answers on.
func Classify(keyID, localDomain string) KeyRef {
	ref := KeyRef{Kind: KindInvalid, KeyID: keyID}

	if strings.HasPrefix(keyID, "acct:") {
		user, host, ok := federation.SplitHandle(keyID)
		if !ok {
			return ref
		}

		ref.Kind = KindHandle
		ref.Handle = user + "@" + host
		ref.Host = domainpolicy.Normalize(host)

		return ref
	}

	u, err := url.Parse(keyID)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return ref
	}

	ref.Host = domainpolicy.Normalize(u.Host)
	if localDomain != "" && ref.Host == domainpolicy.Normalize(localDomain) {
		ref.Kind = KindLocal
	} else {
		ref.Kind = KindRemote
	}

	return ref
}
