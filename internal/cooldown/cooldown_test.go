package cooldown

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, store Store, ttl time.Duration) {
	t.Helper()
	ctx := context.Background()
	key := Key("g", uuid.NewString(), "kick")

	ok, err := store.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Acquire(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire within ttl must fail")

	other, err := store.Acquire(ctx, Key("g", uuid.NewString(), "kick"))
	require.NoError(t, err)
	assert.True(t, other)

	require.NoError(t, store.Release(ctx, key))
	ok, err = store.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "released key is free again")

	time.Sleep(ttl + 50*time.Millisecond)
	ok, err = store.Acquire(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok, "expired key is free again")
}

func TestMemStore(t *testing.T) {
	exerciseStore(t, NewMemStore(100, 100*time.Millisecond), 100*time.Millisecond)
}

func TestRedisStore(t *testing.T) {
	url := os.Getenv("SENTINEL_TEST_REDIS_URL")
	if url == "" {
		t.Skip("SENTINEL_TEST_REDIS_URL not set")
	}
	store, err := NewRedisStore(context.Background(), url, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	exerciseStore(t, store, time.Second)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "g/u/ban", Key("g", "u", "ban"))
}
