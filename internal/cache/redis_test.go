package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"casham-store/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis, func()) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	cleanup := func() {
		client.Close()
		mr.Close()
	}

	return NewRedisCache(client), mr, cleanup
}

func testCart() *domain.Cart {
	cart := domain.NewCart(uuid.New())
	cart.Lines = append(cart.Lines, domain.CartLine{
		ProductID:   1,
		ProductName: "Casham Face Pack with Turmeric",
		Variant:     "60g",
		Quantity:    2,
		UnitPrice:   decimal.NewFromInt(70),
	})
	return cart
}

func TestRedisCache_GetHit(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	cart := testCart()
	data, err := json.Marshal(cart)
	require.NoError(t, err)
	require.NoError(t, mr.Set(cacheKey(cart.ID), string(data)))

	result, err := cache.Get(context.Background(), cart.ID)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, result.ID)
	require.Len(t, result.Lines, 1)
	assert.True(t, result.Lines[0].UnitPrice.Equal(decimal.NewFromInt(70)))
	assert.Equal(t, 2, result.Lines[0].Quantity)
}

func TestRedisCache_GetMiss(t *testing.T) {
	cache, _, cleanup := setupTestRedis(t)
	defer cleanup()

	result, err := cache.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, result)
}

func TestRedisCache_GetCorruptEntry(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	id := uuid.New()
	require.NoError(t, mr.Set(cacheKey(id), "not json"))

	_, err := cache.Get(context.Background(), id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_SetAppliesJitteredTTL(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	cart := testCart()
	require.NoError(t, cache.Set(context.Background(), cart))

	assert.True(t, mr.Exists(cacheKey(cart.ID)))

	ttl := mr.TTL(cacheKey(cart.ID))
	assert.GreaterOrEqual(t, ttl, defaultBaseTTL)
	assert.LessOrEqual(t, ttl, defaultBaseTTL+maxJitter)
}

func TestRedisCache_Delete(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	cart := testCart()
	require.NoError(t, cache.Set(ctx, cart))

	require.NoError(t, cache.Delete(ctx, cart.ID))
	assert.False(t, mr.Exists(cacheKey(cart.ID)))

	// deleting an absent key is not an error
	require.NoError(t, cache.Delete(ctx, cart.ID))
}

func TestRedisCache_ServerDown(t *testing.T) {
	cache, mr, cleanup := setupTestRedis(t)
	defer cleanup()

	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := cache.Get(ctx, uuid.New())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
	assert.Error(t, cache.Set(ctx, testCart()))
}

func TestNopCache(t *testing.T) {
	var c CartCache = NopCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, testCart()))
	_, err := c.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.NoError(t, c.Delete(ctx, uuid.New()))
}
