package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisStoreRemember(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store, err := NewRedisStore(client)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := store.Remember(ctx, "evt_1", time.Hour)
	require.NoError(t, err)
	require.True(t, first)

	again, err := store.Remember(ctx, "evt_1", time.Hour)
	require.NoError(t, err)
	require.False(t, again)
	require.True(t, mr.Exists(keyPrefix+"evt_1"))

	mr.FastForward(2 * time.Hour)
	afterTTL, err := store.Remember(ctx, "evt_1", time.Hour)
	require.NoError(t, err)
	require.True(t, afterTTL)

	_, err = store.Remember(ctx, " ", time.Hour)
	require.Error(t, err)
}

func TestMemoryStoreRemember(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	first, err := store.Remember(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	require.True(t, first)

	dup, err := store.Remember(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	require.False(t, dup)

	now = now.Add(time.Minute)
	expired, err := store.Remember(ctx, "evt_1", time.Minute)
	require.NoError(t, err)
	require.True(t, expired)
}

func TestReserveTreatsExpiredRecordsAsNew(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	created, ok := reserve(nil, "evt_1", now, time.Hour)
	require.True(t, ok)
	require.Equal(t, "evt_1", created.Key)
	require.True(t, created.ExpiresAt.Equal(now.Add(time.Hour)))

	_, ok = reserve(&created, "evt_1", now.Add(59*time.Minute), time.Hour)
	require.False(t, ok)

	renewed, ok := reserve(&created, "evt_1", now.Add(time.Hour), time.Hour)
	require.True(t, ok)
	require.True(t, renewed.ReceivedAt.Equal(now.Add(time.Hour)))

	_, ok = reserve(&eventRecord{Key: "evt_legacy"}, "evt_legacy", now, time.Hour)
	require.False(t, ok)
}

func TestDocumentIDIsPathSafe(t *testing.T) {
	id := documentID("razorpay/evt_1")
	require.NotContains(t, id, "/")
	require.Equal(t, id, documentID("razorpay/evt_1"))
	require.NotEqual(t, id, documentID("razorpay/evt_2"))
}

func TestNewFirestoreStoreRequiresProvider(t *testing.T) {
	_, err := NewFirestoreStore(nil)
	require.Error(t, err)
}
