// Package httpsig verifies inbound HTTP requests signed with the
// draft-cavage HTTP Signatures scheme used between federated servers.
//
// # Supported Algorithms
//
// Two algorithm names are accepted, and both are verified as
// RSASSA-PKCS1-v1_5 with SHA-256:
//
//   - hs2019 (the default; allows the (created) and (expires) pseudo-headers)
//   - rsa-sha256
//
// # Signed String
//
// The headers parameter lists what was signed, in order. Each name becomes
// one line of the signed string:
//
//	(request-target): post /inbox
//	host: remote.example
//	date: Tue, 07 Jun 2024 20:51:35 GMT
//	digest: SHA-256=JeE18werLvQnEoHViKDam+ZK1D8E27TBC2kIISI7pIY=
//
// The digest line is recomputed from the received body, never copied from
// the request's Digest header.
//
// # Time Window
//
// The creation time comes from the created parameter (hs2019 only) or the
// Date header. Without an expires parameter a signature lives for five
// minutes, and never longer than twelve hours. One hour of clock skew is
// tolerated on both ends.
//
// # Verifying Requests
//
// A Verifier resolves the key id through a KeyResolver and checks the
// signature. When the check fails, the identity is refreshed once and the
// check repeated, so a sender that rotated its key is still accepted:
//
//	v, err := httpsig.NewVerifier(httpsig.VerifierConfig{
//	    Resolver: keys,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	outcome, err := v.Verify(req)
//	if err != nil {
//	    // store or network fault, answer 500
//	}
//	if !outcome.Verified() {
//	    // outcome.Failure.Reason, outcome.Failure.Status
//	}
//
// # Server Middleware
//
// Middleware wraps a net/http handler. Rejections are written as
// text/plain with status 401, or 403 when the key's domain is blocked:
//
//	mw, err := httpsig.Middleware(httpsig.MiddlewareConfig{Verifier: v})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	http.Handle("/inbox", mw(inbox))
//
// Handlers read the signer with IdentityFromContext.
package httpsig
