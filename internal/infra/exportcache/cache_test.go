package exportcache

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"keystack/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func sampleOutput() domain.ResolvedOutput {
	return domain.ResolvedOutput{
		StackName:  "license",
		ExportName: "license-key",
		Value:      "arn:aws:kms:eu-west-1:123456789012:key/0b1f",
		UpdatedAt:  time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cache := NewMemory()
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "k", sampleOutput(), time.Minute))
	got, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sampleOutput(), *got)

	now = now.Add(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryCacheDelete(t *testing.T) {
	cache := NewMemory()
	ctx := context.Background()
	require.NoError(t, cache.Put(ctx, "k", sampleOutput(), 0))
	require.NoError(t, cache.Delete(ctx, "k"))
	_, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryCacheNil(t *testing.T) {
	var cache *Memory
	_, ok, err := cache.Get(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, cache.Put(context.Background(), "k", sampleOutput(), time.Second))
}

func TestNewRedisRequiresClient(t *testing.T) {
	_, err := NewRedis(nil)
	require.Error(t, err)
}

func TestRedisCache(t *testing.T) {
	addr := strings.TrimSpace(os.Getenv("KEYSTACK_TEST_REDIS_ADDR"))
	if addr == "" {
		t.Skip("KEYSTACK_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	cache, err := NewRedis(client)
	require.NoError(t, err)

	ctx := context.Background()
	key := "keystack:test:" + time.Now().Format("150405.000000000")
	_, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, cache.Put(ctx, key, sampleOutput(), time.Minute))
	got, ok, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, sampleOutput().Value, got.Value)
	require.True(t, sampleOutput().UpdatedAt.Equal(got.UpdatedAt))

	require.NoError(t, cache.Delete(ctx, key))
	_, ok, err = cache.Get(ctx, key)
	require.NoError(t, err)
	require.False(t, ok)
}
