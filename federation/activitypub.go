package federation

import (
	"bytes"
	"encoding/json"
	"slices"
)

// Media types accepted from remote servers.
const (
	mediaActivityJSON = "application/activity+json"
	mediaLDJSON       = "application/ld+json"
	mediaJRDJSON      = "application/jrd+json"

	acceptActivity = `application/activity+json, application/ld+json; profile="https://www.w3.org/ns/activitystreams"`
)

// actorTypes are the ActivityStreams types that can own a signing key.
var actorTypes = []string{"Person", "Service", "Application", "Group", "Organization", "PublicGroup"}

// PublicKey is the security vocabulary key object embedded in actors or
// served on its own.
type PublicKey struct {
	ID           string `json:"id"`
	Owner        string `json:"owner"`
	PublicKeyPEM string `json:"publicKeyPem"`
}

// Document is the subset of an actor or key document used to establish an
// identity. A bare key document fills Owner and PublicKeyPEM; an actor
// fills PublicKeys.
type Document struct {
	ID                string      `json:"id"`
	Type              string      `json:"type"`
	PreferredUsername string      `json:"preferredUsername"`
	Inbox             string      `json:"inbox"`
	Owner             string      `json:"owner"`
	PublicKeyPEM      string      `json:"publicKeyPem"`
	PublicKeys        []PublicKey `json:"-"`
}

func (d *Document) UnmarshalJSON(data []byte) error {
	type plain Document

	var raw struct {
		plain
		PublicKey json.RawMessage `json:"publicKey"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*d = Document(raw.plain)
	d.PublicKeys = nil

	key := bytes.TrimSpace(raw.PublicKey)
	switch {
	case len(key) == 0 || bytes.Equal(key, []byte("null")):
	case key[0] == '[':
		if err := json.Unmarshal(key, &d.PublicKeys); err != nil {
			return err
		}
	default:
		var single PublicKey
		if err := json.Unmarshal(key, &single); err != nil {
			return err
		}

		d.PublicKeys = []PublicKey{single}
	}

	return nil
}

// IsActor reports whether the document is an actor.
func (d *Document) IsActor() bool {
	return slices.Contains(actorTypes, d.Type)
}

// IsKey reports whether the document is a standalone key.
func (d *Document) IsKey() bool {
	return d.PublicKeyPEM != "" && d.Owner != ""
}

// OwnKey returns the embedded key that names this actor as owner. When
// keyID is not empty the key id must match as well.
func (d *Document) OwnKey(keyID string) (PublicKey, bool) {
	for _, k := range d.PublicKeys {
		if k.Owner != d.ID || k.PublicKeyPEM == "" {
			continue
		}

		if keyID != "" && k.ID != keyID {
			continue
		}

		return k, true
	}

	return PublicKey{}, false
}
