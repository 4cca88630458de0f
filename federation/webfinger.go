package federation

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Resource is the outcome of a WebFinger lookup: the canonical handle and
// the actor document it points at.
type Resource struct {
	Subject  string
	ActorURI string
}

// Username returns the local part of the subject.
func (r *Resource) Username() string {
	user, _, _ := strings.Cut(strings.TrimPrefix(r.Subject, "acct:"), "@")
	return user
}

// Domain returns the host part of the subject.
func (r *Resource) Domain() string {
	_, domain, _ := strings.Cut(strings.TrimPrefix(r.Subject, "acct:"), "@")
	return domain
}

type jrd struct {
	Subject string    `json:"subject"`
	Links   []jrdLink `json:"links"`
}

type jrdLink struct {
	Rel  string `json:"rel"`
	Type string `json:"type"`
	Href string `json:"href"`
}

func (j *jrd) selfLink() string {
	for _, link := range j.Links {
		if link.Rel != "self" || link.Href == "" {
			continue
		}

		if link.Type == mediaActivityJSON || strings.HasPrefix(link.Type, mediaLDJSON) {
			return link.Href
		}
	}

	return ""
}

// SplitHandle splits "user@host" (optionally prefixed by "acct:" or "@")
// into its parts.
func SplitHandle(handle string) (string, string, bool) {
	handle = strings.TrimPrefix(handle, "acct:")
	handle = strings.TrimPrefix(handle, "@")

	user, host, ok := strings.Cut(handle, "@")
	if !ok || user == "" || host == "" || strings.Contains(host, "@") {
		return "", "", false
	}

	return user, strings.ToLower(host), true
}

// Webfinger resolves a user@host handle to its actor URI. When the
// server answers with a subject on another domain, that domain is asked as
// well and must point at the same actor. A miss returns nil, nil.
func (c *Client) Webfinger(ctx context.Context, handle string) (*Resource, error) {
	user, host, ok := SplitHandle(handle)
	if !ok {
		return nil, fmt.Errorf("%w: invalid handle %q", ErrHostValidation, handle)
	}

	first, err := c.lookupWebfinger(ctx, user, host)
	if err != nil || first == nil {
		return nil, err
	}

	self := first.selfLink()
	if self == "" {
		return nil, nil
	}

	subject := strings.TrimPrefix(first.Subject, "acct:")
	if subject == "" || strings.EqualFold(subject, user+"@"+host) {
		return &Resource{Subject: "acct:" + user + "@" + host, ActorURI: self}, nil
	}

	redirUser, redirHost, ok := SplitHandle(subject)
	if !ok {
		return nil, nil
	}

	second, err := c.lookupWebfinger(ctx, redirUser, redirHost)
	if err != nil || second == nil {
		return nil, err
	}

	if !strings.EqualFold(strings.TrimPrefix(second.Subject, "acct:"), subject) || second.selfLink() != self {
		c.logger.Debug("webfinger redirect mismatch", "handle", handle, "subject", subject)
		return nil, nil
	}

	return &Resource{Subject: "acct:" + redirUser + "@" + redirHost, ActorURI: self}, nil
}

func (c *Client) lookupWebfinger(ctx context.Context, user, host string) (*jrd, error) {
	target := url.URL{
		Scheme:   "https",
		Host:     host,
		Path:     "/.well-known/webfinger",
		RawQuery: "resource=" + url.QueryEscape("acct:"+user+"@"+host),
	}

	var doc jrd

	found, err := c.getJSON(ctx, target.String(), mediaJRDJSON+", application/json", &doc)
	if err != nil || !found {
		return nil, err
	}

	return &doc, nil
}
