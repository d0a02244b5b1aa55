package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCache(client, time.Minute), mr
}

func TestCacheBuildKeyTracksVersion(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, keyDashboard(uuid.Nil)...)
	require.NoError(t, err)
	require.Equal(t, "billing:dashboard:default:v1", key)

	require.NoError(t, cache.Bump(ctx))
	key, err = cache.BuildKey(ctx, keyActivity(uuid.MustParse("11111111-1111-1111-1111-111111111111"), 5)...)
	require.NoError(t, err)
	require.Equal(t, "billing:activity:11111111-1111-1111-1111-111111111111:5:v2", key)
}

func TestBumpIsVisibleToCachesSharingRedis(t *testing.T) {
	writer, mr := newTestCache(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	reader := NewCache(client, time.Minute)
	ctx := context.Background()

	before, err := reader.BuildKey(ctx, keyDashboard(uuid.Nil)...)
	require.NoError(t, err)
	require.NoError(t, writer.Bump(ctx))
	after, err := reader.BuildKey(ctx, keyDashboard(uuid.Nil)...)
	require.NoError(t, err)

	require.Equal(t, "billing:dashboard:default:v1", before)
	require.Equal(t, "billing:dashboard:default:v2", after)
	require.Equal(t, "2", mustGet(t, mr, cacheVersionKey))
}

func mustGet(t *testing.T, mr *miniredis.Miniredis, key string) string {
	t.Helper()
	v, err := mr.Get(key)
	require.NoError(t, err)
	return v
}

func TestFetchJSONCachesLoaderResult(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	calls := 0
	loader := func(context.Context) (DashboardSummary, error) {
		calls++
		return NewDashboardSummary(dec("1000"), dec("300"), dec("100")), nil
	}

	first, err := FetchJSON(ctx, cache, "billing:test:v1", loader)
	require.NoError(t, err)
	second, err := FetchJSON(ctx, cache, "billing:test:v1", loader)
	require.NoError(t, err)

	require.Equal(t, 1, calls)
	require.True(t, second.DueBalance.Equal(first.DueBalance))
	require.True(t, second.AvailableCredit.Equal(dec("800")))
	require.True(t, mr.Exists("billing:test:v1"))
	require.Greater(t, mr.TTL("billing:test:v1"), time.Duration(0))
}

func TestFetchJSONDoesNotCacheErrors(t *testing.T) {
	cache, mr := newTestCache(t)
	boom := errors.New("boom")

	_, err := FetchJSON(context.Background(), cache, "billing:err", func(context.Context) (int, error) {
		return 0, boom
	})

	require.ErrorIs(t, err, boom)
	require.False(t, mr.Exists("billing:err"))
}

func TestFetchJSONFallsBackWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute)

	value, err := FetchJSON(context.Background(), cache, "billing:down", func(context.Context) (string, error) {
		return "fresh", nil
	})

	require.NoError(t, err)
	require.Equal(t, "fresh", value)
}

func TestNilCachePassesThrough(t *testing.T) {
	var cache *Cache
	ctx := context.Background()

	key, err := cache.BuildKey(ctx, "billing", "x")
	require.NoError(t, err)
	require.Equal(t, "billing:x", key)
	require.NoError(t, cache.Bump(ctx))

	value, err := FetchJSON(ctx, cache, key, func(context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	require.Equal(t, 7, value)
}

func TestBumpPublishesVersion(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()
	sub := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = sub.Close() })
	pubsub := sub.Subscribe(ctx, bumpChannel)
	t.Cleanup(func() { _ = pubsub.Close() })
	_, err := pubsub.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, cache.Bump(ctx))

	msg, err := pubsub.ReceiveMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, "1", msg.Payload)
}

type lookupCounter struct{ hits, misses int }

func (c *lookupCounter) ObserveCacheLookup(hit bool) {
	if hit {
		c.hits++
		return
	}
	c.misses++
}

func TestFetchJSONReportsLookups(t *testing.T) {
	cache, _ := newTestCache(t)
	counter := &lookupCounter{}
	cache.SetObserver(counter)
	ctx := context.Background()
	loader := func(context.Context) (int, error) { return 7, nil }

	for i := 0; i < 3; i++ {
		v, err := FetchJSON(ctx, cache, "billing:test:v1", loader)
		require.NoError(t, err)
		require.Equal(t, 7, v)
	}

	require.Equal(t, 2, counter.hits)
	require.Equal(t, 1, counter.misses)

	var nilCache *Cache
	nilCache.SetObserver(counter)
}
