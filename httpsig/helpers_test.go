package httpsig

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vitalvas/fedsig/identity"
)

var (
	testKeysOnce sync.Once
	testKeyA     *rsa.PrivateKey
	testKeyB     *rsa.PrivateKey
)

// testKeys returns two fixed 2048-bit keys shared by every test in the
// package.
func testKeys(t *testing.T) (*rsa.PrivateKey, *rsa.PrivateKey) {
	t.Helper()

	testKeysOnce.Do(func() {
		var err error

		testKeyA, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}

		testKeyB, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
	})

	return testKeyA, testKeyB
}

func publicPEM(t *testing.T, key *rsa.PublicKey) string {
	t.Helper()

	der, err := x509.MarshalPKIXPublicKey(key)
	require.NoError(t, err)

	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}))
}

var testNow = time.Date(2024, 6, 7, 20, 51, 35, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// formatParams renders params the way common senders do, with a stable
// order.
func formatParams(params Params) string {
	order := []string{ParamKeyID, ParamAlgorithm, ParamHeaders, ParamCreated, ParamExpires, ParamSignature}
	parts := make([]string, 0, len(params))

	for _, name := range order {
		if value, ok := params[name]; ok {
			parts = append(parts, name+`="`+value+`"`)
		}
	}

	return strings.Join(parts, ",")
}

// signRequest signs r with key over the headers named in params and sets
// the Signature header.
func signRequest(t *testing.T, r *http.Request, key *rsa.PrivateKey, params Params) {
	t.Helper()

	body, err := readAndRestoreBody(r, 0)
	require.NoError(t, err)

	signed, err := BuildSignedString(r, params, body)
	require.NoError(t, err)

	digest := sha256.Sum256([]byte(signed))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	require.NoError(t, err)

	params[ParamSignature] = base64.StdEncoding.EncodeToString(sig)
	r.Header.Set("Signature", formatParams(params))
}

type fakeResolver struct {
	mu           sync.Mutex
	current      *identity.Identity
	refreshed    *identity.Identity
	resolveErr   error
	refreshErr   error
	resolveCalls int
	refreshCalls int
	sources      []string
}

func (f *fakeResolver) Resolve(_ context.Context, _ string, source string) (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.resolveCalls++
	f.sources = append(f.sources, source)

	if f.resolveErr != nil {
		return nil, f.resolveErr
	}

	return f.current.Clone(), nil
}

func (f *fakeResolver) Refresh(_ context.Context, ident *identity.Identity, _ string) (*identity.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.refreshCalls++

	if f.refreshErr != nil {
		return nil, f.refreshErr
	}

	if f.refreshed != nil {
		return f.refreshed.Clone(), nil
	}

	return ident, nil
}

func remoteActor(keyID, pemData string) *identity.Identity {
	return &identity.Identity{
		ID:           "6f1c1b55-08a4-4c9c-9b36-0c1f3c1d7d10",
		URI:          identity.StripFragment(keyID),
		Username:     "alice",
		Domain:       "remote.example",
		KeyID:        keyID,
		PublicKeyPEM: pemData,
		Protocol:     identity.ProtocolActivityPub,
		RefreshedAt:  testNow.Add(-time.Hour),
	}
}
