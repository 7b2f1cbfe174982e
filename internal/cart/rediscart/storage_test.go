package rediscart

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func setupStorage(t *testing.T, session string) (*Storage, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return New(client, session, time.Hour), mr
}

func TestLoad_MissingKey(t *testing.T) {
	storage, _ := setupStorage(t, "s1")

	data, err := storage.Load(context.Background(), cart.StorageKey)
	require.NoError(t, err)
	assert.Nil(t, data)
}

func TestSave_SetsValueAndTTL(t *testing.T) {
	storage, mr := setupStorage(t, "s1")

	require.NoError(t, storage.Save(context.Background(), cart.StorageKey, []byte(`[]`)))

	got, err := mr.Get("storefront:cart:s1")
	require.NoError(t, err)
	assert.Equal(t, "[]", got)
	assert.Equal(t, time.Hour, mr.TTL("storefront:cart:s1"))
}

func TestSessionsAreIsolated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	first := New(client, "alice", 0)
	second := New(client, "bob", 0)

	require.NoError(t, first.Save(context.Background(), cart.StorageKey, []byte(`[{"id":1,"quantity":1}]`)))

	data, err := second.Load(context.Background(), cart.StorageKey)
	require.NoError(t, err)
	assert.Nil(t, data)
	assert.Equal(t, DefaultTTL, mr.TTL("storefront:cart:alice"))
}

func TestStoreRoundTripThroughRedis(t *testing.T) {
	storage, _ := setupStorage(t, "session")

	store := cart.NewStore(storage, nil)
	require.NoError(t, store.Load(context.Background()))
	store.AddItem(domain.LineItem{ProductID: 2, Name: "STEALTH EDITION", DisplayPrice: "$5.97", UnitPrice: decimal.RequireFromString("5.97")})
	store.AddItem(domain.LineItem{ProductID: 2, Name: "STEALTH EDITION", DisplayPrice: "$5.97", UnitPrice: decimal.RequireFromString("5.97")})
	store.Flush()

	restored := cart.NewStore(storage, nil)
	require.NoError(t, restored.Load(context.Background()))
	assert.Equal(t, 2, restored.TotalItems())
	assert.Equal(t, "11.94", restored.FormatTotal())
}

func TestLoad_RedisUnavailable(t *testing.T) {
	storage, mr := setupStorage(t, "s1")
	mr.Close()

	_, err := storage.Load(context.Background(), cart.StorageKey)
	require.Error(t, err)
}
