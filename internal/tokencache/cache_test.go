package tokencache_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"momo-gateway/internal/tokencache"
)

func TestGetOrFetchCachesToken(t *testing.T) {
	cache := tokencache.New(tokencache.NewMemoryBackend())
	ctx := context.Background()

	var fetches int32
	fetch := func(context.Context) (string, error) {
		atomic.AddInt32(&fetches, 1)
		return "token-1", nil
	}

	token, err := cache.GetOrFetch(ctx, "mtn", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)

	token, err = cache.GetOrFetch(ctx, "mtn", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, "token-1", token)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))
}

func TestGetOrFetchSingleFlight(t *testing.T) {
	cache := tokencache.New(tokencache.NewMemoryBackend())
	ctx := context.Background()

	var fetches int32
	fetch := func(context.Context) (string, error) {
		atomic.AddInt32(&fetches, 1)
		time.Sleep(50 * time.Millisecond)
		return "shared-token", nil
	}

	const workers = 20
	var wg sync.WaitGroup
	tokens := make([]string, workers)
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = cache.GetOrFetch(ctx, "airtel", time.Minute, fetch)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared-token", tokens[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches), "concurrent misses must collapse to one fetch")
}

func TestGetOrFetchRefreshesExpiredToken(t *testing.T) {
	cache := tokencache.New(tokencache.NewMemoryBackend())
	ctx := context.Background()

	var fetches int32
	fetch := func(context.Context) (string, error) {
		atomic.AddInt32(&fetches, 1)
		return "fresh", nil
	}

	_, err := cache.GetOrFetch(ctx, "mtn", 10*time.Millisecond, fetch)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	_, err = cache.GetOrFetch(ctx, "mtn", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetches))
}

func TestInvalidateForcesRefetch(t *testing.T) {
	cache := tokencache.New(tokencache.NewMemoryBackend())
	ctx := context.Background()

	var fetches int32
	fetch := func(context.Context) (string, error) {
		atomic.AddInt32(&fetches, 1)
		return "t", nil
	}

	_, err := cache.GetOrFetch(ctx, "mtn", time.Minute, fetch)
	require.NoError(t, err)

	require.NoError(t, cache.Invalidate(ctx, "mtn"))

	_, err = cache.GetOrFetch(ctx, "mtn", time.Minute, fetch)
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fetches))
}
