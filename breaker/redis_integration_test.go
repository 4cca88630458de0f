//go:build integration

package breaker

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisBackend(t *testing.T) {
	addr := os.Getenv("FEDSIG_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FEDSIG_TEST_REDIS_ADDR not set")
	}

	r, err := NewRedis(RedisConfig{Addr: addr, Prefix: "fedsig-test:" + uuid.NewString() + ":"})
	require.NoError(t, err)
	defer r.Close()

	ctx := context.Background()

	open, err := r.IsOpen(ctx, "source:S")
	require.NoError(t, err)
	assert.False(t, open)

	opened, err := r.RecordFailure(ctx, "source:S", 2, 500*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, opened)

	opened, err = r.RecordFailure(ctx, "source:S", 2, 500*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, opened)

	open, err = r.IsOpen(ctx, "source:S")
	require.NoError(t, err)
	assert.True(t, open)

	assert.Eventually(t, func() bool {
		open, err := r.IsOpen(ctx, "source:S")
		return err == nil && !open
	}, 3*time.Second, 50*time.Millisecond)
}
