package httpsig

import (
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCheckWindow(t *testing.T) {
	now := testNow
	unix := func(t time.Time) string { return strconv.FormatInt(t.Unix(), 10) }
	date := func(t time.Time) string { return t.Format(http.TimeFormat) }

	tests := []struct {
		name    string
		params  Params
		alg     Algorithm
		date    string
		wantErr bool
	}{
		{
			name:   "created now expires in a minute",
			params: Params{"created": unix(now), "expires": unix(now.Add(time.Minute))},
			alg:    AlgorithmHS2019,
		},
		{
			name:    "created beyond skew margin",
			params:  Params{"created": unix(now.Add(2 * time.Hour))},
			alg:     AlgorithmHS2019,
			wantErr: true,
		},
		{
			name:   "created within skew margin",
			params: Params{"created": unix(now.Add(59 * time.Minute))},
			alg:    AlgorithmHS2019,
		},
		{
			name:    "created 13h ago with default expiry",
			params:  Params{"created": unix(now.Add(-13 * time.Hour))},
			alg:     AlgorithmHS2019,
			wantErr: true,
		},
		{
			name:    "claimed expiry clamped to 12h",
			params:  Params{"created": unix(now.Add(-14 * time.Hour)), "expires": unix(now.Add(time.Hour))},
			alg:     AlgorithmHS2019,
			wantErr: true,
		},
		{
			name:   "default expiry plus skew",
			params: Params{"created": unix(now.Add(-64 * time.Minute))},
			alg:    AlgorithmHS2019,
		},
		{
			name:    "default expiry exceeded",
			params:  Params{"created": unix(now.Add(-66 * time.Minute))},
			alg:     AlgorithmHS2019,
			wantErr: true,
		},
		{
			name:   "date header for rsa-sha256",
			params: Params{},
			alg:    AlgorithmRSASHA256,
			date:   date(now.Add(-time.Minute)),
		},
		{
			name:    "old date header",
			params:  Params{},
			alg:     AlgorithmRSASHA256,
			date:    date(now.Add(-2 * time.Hour)),
			wantErr: true,
		},
		{
			name:   "rsa-sha256 ignores created parameter",
			params: Params{"created": unix(now.Add(-24 * time.Hour))},
			alg:    AlgorithmRSASHA256,
			date:   date(now),
		},
		{
			name:   "hs2019 without created falls back to date",
			params: Params{},
			alg:    AlgorithmHS2019,
			date:   date(now),
		},
		{
			name:   "RFC 850 date accepted",
			params: Params{},
			alg:    AlgorithmRSASHA256,
			date:   now.Format(time.RFC850),
		},
		{
			name:    "malformed date",
			params:  Params{},
			alg:     AlgorithmRSASHA256,
			date:    "yesterday",
			wantErr: true,
		},
		{
			name:    "malformed created",
			params:  Params{"created": "soon"},
			alg:     AlgorithmHS2019,
			wantErr: true,
		},
		{
			name:    "malformed expires",
			params:  Params{"created": unix(now), "expires": "never"},
			alg:     AlgorithmHS2019,
			wantErr: true,
		},
		{
			name:   "fractional created truncated",
			params: Params{"created": unix(now) + ".25"},
			alg:    AlgorithmHS2019,
		},
		{
			name:    "expires alone in the past",
			params:  Params{"expires": unix(now.Add(-2 * time.Hour))},
			alg:     AlgorithmHS2019,
			wantErr: true,
		},
		{
			name:   "expires alone in the future",
			params: Params{"expires": unix(now.Add(time.Minute))},
			alg:    AlgorithmHS2019,
		},
		{
			name:   "neither created nor expires",
			params: Params{},
			alg:    AlgorithmHS2019,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckWindow(tt.params, tt.alg, tt.date, now)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrWindowExpired)
				return
			}

			assert.NoError(t, err)
		})
	}
}
