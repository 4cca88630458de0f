package httpsig

// Algorithm identifies the signature algorithm named in the Signature
// header.
type Algorithm string

const (
	// AlgorithmHS2019 defers the algorithm to the key metadata. It is
	// verified as RSASSA-PKCS1-v1_5 with SHA-256 and allows the (created)
	// and (expires) pseudo-headers.
	AlgorithmHS2019 Algorithm = "hs2019"

	// AlgorithmRSASHA256 is RSASSA-PKCS1-v1_5 using SHA-256.
	AlgorithmRSASHA256 Algorithm = "rsa-sha256"
)

// DefaultAlgorithm applies when the algorithm parameter is absent.
const DefaultAlgorithm = AlgorithmHS2019

// String returns the algorithm name as it appears on the wire.
func (a Algorithm) String() string {
	return string(a)
}

// Supported reports whether a can be verified.
func (a Algorithm) Supported() bool {
	return a == AlgorithmHS2019 || a == AlgorithmRSASHA256
}

// allowsPseudoHeaders reports whether (created) and (expires) may be signed.
func (a Algorithm) allowsPseudoHeaders() bool {
	return a == AlgorithmHS2019
}
