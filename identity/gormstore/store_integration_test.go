//go:build integration

package gormstore

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalvas/fedsig/identity"
)

func setupStore(t *testing.T) *Store {
	t.Helper()

	dsn := os.Getenv("FEDSIG_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("FEDSIG_TEST_DATABASE_URL not set")
	}

	store, err := Open(context.Background(), dsn)
	require.NoError(t, err)

	return store
}

func TestStoreIntegration(t *testing.T) {
	store := setupStore(t)
	ctx := context.Background()
	uri := "https://example.com/users/" + uuid.NewString()

	first, err := store.Save(ctx, &identity.Identity{
		URI:          uri,
		Username:     "alice",
		Domain:       "example.com",
		KeyID:        uri + "#main-key",
		PublicKeyPEM: "pem-1",
		Protocol:     identity.ProtocolActivityPub,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)

	second, err := store.Save(ctx, &identity.Identity{
		URI:          uri,
		Username:     "alice",
		Domain:       "example.com",
		KeyID:        uri + "#main-key",
		PublicKeyPEM: "pem-2",
		Protocol:     identity.ProtocolActivityPub,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	found, err := store.FindByKeyID(ctx, uri+"#main-key")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "pem-2", found.PublicKeyPEM)

	byURI, err := store.FindByKeyID(ctx, uri+"#other")
	require.NoError(t, err)
	require.NotNil(t, byURI)

	missing, err := store.FindByURI(ctx, uri+"/missing")
	require.NoError(t, err)
	assert.Nil(t, missing)

	byHandle, err := store.FindByHandle(ctx, "ALICE", "example.com")
	require.NoError(t, err)
	require.NotNil(t, byHandle)

	sharedKey := "https://example.com/keys/" + uuid.NewString()

	_, err = store.Save(ctx, &identity.Identity{URI: uri + "/a", KeyID: sharedKey, PublicKeyPEM: "older"})
	require.NoError(t, err)

	_, err = store.Save(ctx, &identity.Identity{URI: uri + "/b", KeyID: sharedKey, PublicKeyPEM: "newer"})
	require.NoError(t, err)

	for range 5 {
		shared, err := store.FindByKeyID(ctx, sharedKey)
		require.NoError(t, err)
		require.NotNil(t, shared)
		assert.Equal(t, "newer", shared.PublicKeyPEM)
	}
}
