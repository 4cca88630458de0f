package httpsig

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSignedString(t *testing.T) {
	t.Run("request target and digest", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/inbox", nil)
		params := Params{"headers": "(request-target) digest"}

		got, err := BuildSignedString(req, params, []byte("hi"))
		require.NoError(t, err)
		assert.Equal(t, "(request-target): post /inbox\ndigest: SHA-256=j0NDRmSPa5bfid2pAcUXaxCm2Dlh3TwayItZstwyeqQ=", got)
	})

	t.Run("declared order kept", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "https://local.example/users/bob?page=2", nil)
		req.Header.Set("Date", "Fri, 07 Jun 2024 20:51:35 GMT")
		params := Params{"algorithm": "rsa-sha256", "headers": "date host (request-target)"}

		got, err := BuildSignedString(req, params, nil)
		require.NoError(t, err)
		assert.Equal(t, "date: Fri, 07 Jun 2024 20:51:35 GMT\nhost: local.example\n(request-target): get /users/bob", got)
	})

	t.Run("digest header from sender ignored", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/inbox", nil)
		req.Header.Set("Digest", "SHA-256=spoofed")

		got, err := BuildSignedString(req, Params{"headers": "digest"}, []byte("hi"))
		require.NoError(t, err)
		assert.Equal(t, "digest: SHA-256=j0NDRmSPa5bfid2pAcUXaxCm2Dlh3TwayItZstwyeqQ=", got)
	})

	t.Run("empty body digest", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/inbox", nil)

		got, err := BuildSignedString(req, Params{"headers": "digest"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "digest: SHA-256=47DEQpj8HBSa+/TImW+5JCeuQeRkm5NMpJWZG3hSuFU=", got)
	})

	t.Run("custom headers canonicalized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/inbox", nil)
		req.Header["X-Foo-Bar"] = []string{"one", "two"}
		req.Header.Set("Content-Type", "application/activity+json")

		got, err := BuildSignedString(req, Params{"headers": "x-foo-bar content-type"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "x-foo-bar: one, two\ncontent-type: application/activity+json", got)
	})

	t.Run("missing header signs empty value", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/inbox", nil)

		got, err := BuildSignedString(req, Params{"headers": "x-missing"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "x-missing: ", got)
	})

	t.Run("hs2019 pseudo-headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/inbox", nil)
		params := Params{"headers": "(created) (expires)", "created": "1717793495", "expires": "1717793555"}

		got, err := BuildSignedString(req, params, nil)
		require.NoError(t, err)
		assert.Equal(t, "(created): 1717793495\n(expires): 1717793555", got)
	})

	t.Run("default hs2019 headers", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/inbox", nil)

		got, err := BuildSignedString(req, Params{"created": "1717793495"}, nil)
		require.NoError(t, err)
		assert.Equal(t, "(created): 1717793495", got)
	})

	t.Run("pseudo-header with rsa-sha256", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/inbox", nil)

		for _, name := range []string{"(created)", "(expires)"} {
			params := Params{"algorithm": "rsa-sha256", "headers": name, "created": "1", "expires": "2"}

			_, err := BuildSignedString(req, params, nil)
			require.ErrorIs(t, err, ErrInvalidPseudoHeader)

			var pseudoErr *PseudoHeaderError
			require.ErrorAs(t, err, &pseudoErr)
			assert.Equal(t, "Invalid pseudo-header "+name+" for rsa-sha256", pseudoErr.Reason())
		}
	})

	t.Run("pseudo-header without parameter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/inbox", nil)

		_, err := BuildSignedString(req, Params{"headers": "(expires)"}, nil)
		require.ErrorIs(t, err, ErrMissingPseudoHeaderParam)

		var pseudoErr *PseudoHeaderError
		require.ErrorAs(t, err, &pseudoErr)
		assert.Equal(t, "Pseudo-header (expires) used but corresponding argument missing", pseudoErr.Reason())
	})
}

func TestReadAndRestoreBody(t *testing.T) {
	t.Run("body readable again", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader("payload"))

		body, err := readAndRestoreBody(req, 0)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(body))

		again, err := io.ReadAll(req.Body)
		require.NoError(t, err)
		assert.Equal(t, "payload", string(again))
	})

	t.Run("limit exceeded", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader("0123456789"))

		_, err := readAndRestoreBody(req, 4)
		assert.ErrorIs(t, err, ErrBodyTooLarge)
	})

	t.Run("limit exactly met", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/inbox", strings.NewReader("0123"))

		body, err := readAndRestoreBody(req, 4)
		require.NoError(t, err)
		assert.Equal(t, "0123", string(body))
	})

	t.Run("no body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/inbox", nil)

		body, err := readAndRestoreBody(req, 0)
		require.NoError(t, err)
		assert.Empty(t, body)
	})
}
