package httpsig

import (
	"fmt"
	"regexp"
	"strings"
)

// Parameter names of the Signature header.
const (
	ParamKeyID     = "keyId"
	ParamAlgorithm = "algorithm"
	ParamSignature = "signature"
	ParamHeaders   = "headers"
	ParamCreated   = "created"
	ParamExpires   = "expires"
)

var (
	paramPattern       = regexp.MustCompile(`(?i)([a-z]+)="([^"]+)"`)
	strictParamPattern = regexp.MustCompile(`(?i)^([a-z]+)="([^"]+)"$`)
)

// Params holds the parameters of a Signature header. Names keep the case
// they were sent with.
type Params map[string]string

// ParseParams extracts name="value" pairs from a Signature header value.
// Segments that do not look like a pair are dropped and the last of
// duplicate names wins. An empty or unparsable header yields an empty map.
func ParseParams(raw string) Params {
	params := make(Params)

	for segment := range strings.SplitSeq(raw, ",") {
		m := paramPattern.FindStringSubmatch(segment)
		if m == nil {
			continue
		}

		params[m[1]] = m[2]
	}

	return params
}

// ParseParamsStrict is like ParseParams but rejects any non-empty segment
// that is not exactly one name="value" pair.
func ParseParamsStrict(raw string) (Params, error) {
	params := make(Params)

	for segment := range strings.SplitSeq(raw, ",") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}

		m := strictParamPattern.FindStringSubmatch(segment)
		if m == nil {
			return nil, fmt.Errorf("%w: unexpected segment %q", ErrMalformedParams, segment)
		}

		params[m[1]] = m[2]
	}

	return params, nil
}

// KeyID returns the keyId parameter.
func (p Params) KeyID() string { return p[ParamKeyID] }

// Signature returns the base64 signature parameter.
func (p Params) Signature() string { return p[ParamSignature] }

// Algorithm returns the algorithm parameter, defaulting to hs2019.
func (p Params) Algorithm() Algorithm {
	if alg, ok := p[ParamAlgorithm]; ok {
		return Algorithm(alg)
	}

	return DefaultAlgorithm
}

// SignedHeaders returns the lower-cased names listed in the headers
// parameter. Without one, hs2019 signs (created) and everything else signs
// date.
func (p Params) SignedHeaders() []string {
	raw, ok := p[ParamHeaders]
	if !ok {
		if p.Algorithm() == AlgorithmHS2019 {
			raw = PseudoHeaderCreated
		} else {
			raw = "date"
		}
	}

	return strings.Fields(strings.ToLower(raw))
}
