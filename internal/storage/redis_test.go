package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedisStore(t *testing.T, ttl time.Duration) (KeyValueStore, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisStore(client, ttl), server
}

func TestRedisStore_GetMissing(t *testing.T) {
	kv, _ := newTestRedisStore(t, 0)

	_, err := kv.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRedisStore_SetGetDelete(t *testing.T) {
	kv, server := newTestRedisStore(t, 0)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", []byte(`{"a":1}`)))
	value, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(value))
	assert.Equal(t, time.Duration(0), server.TTL("k"))

	require.NoError(t, kv.Delete(ctx, "k"))
	require.NoError(t, kv.Delete(ctx, "k"))
	_, err = kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRedisStore_TTLExpiresEntries(t *testing.T) {
	kv, server := newTestRedisStore(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", []byte("v")))
	assert.Equal(t, time.Minute, server.TTL("k"))

	server.FastForward(2 * time.Minute)
	_, err := kv.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestRedisStore_KeysByPrefix(t *testing.T) {
	kv, _ := newTestRedisStore(t, 0)
	ctx := context.Background()

	for _, key := range []string{
		"neurobridge_assessment_current_session",
		"neurobridge_assessment_backup",
		"neurobridge_assessment2_current_session",
		"other",
	} {
		require.NoError(t, kv.Set(ctx, key, []byte("{}")))
	}

	keys, err := kv.Keys(ctx, "neurobridge_assessment_")
	require.NoError(t, err)
	assert.Equal(t, []string{"neurobridge_assessment_backup", "neurobridge_assessment_current_session"}, keys)
}

func TestRedisStore_KeysEscapesGlobPrefix(t *testing.T) {
	kv, _ := newTestRedisStore(t, 0)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "tenant*_backup", []byte("{}")))
	require.NoError(t, kv.Set(ctx, "tenantX_backup", []byte("{}")))
	require.NoError(t, kv.Set(ctx, "tenant?_backup", []byte("{}")))

	keys, err := kv.Keys(ctx, "tenant*_")
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant*_backup"}, keys)
}

func TestRedisStore_SessionStoreClearAllKeepsNeighbours(t *testing.T) {
	kv, _ := newTestRedisStore(t, 0)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "neurobridge_assessment2_current_session", []byte("{}")))
	store := NewSessionStore(kv, testLogger())
	require.True(t, store.Save(ctx, sampleSession()))

	assert.Equal(t, 2, store.ClearAll(ctx))
	_, err := kv.Get(ctx, "neurobridge_assessment2_current_session")
	assert.NoError(t, err)
}

func TestEscapeGlob(t *testing.T) {
	assert.Equal(t, "plain_prefix_", escapeGlob("plain_prefix_"))
	assert.Equal(t, `a\*b\?c\[d\]e\\f`, escapeGlob(`a*b?c[d]e\f`))
}
