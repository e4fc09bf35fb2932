package feed_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/socialfeed/feed"
)

func newCache(st feed.PostStore, clock *fakeClock) *feed.MetadataCache {
	return feed.NewMetadataCache(st, feed.CacheOptions{TTL: 5 * time.Minute, Now: clock.Now})
}

func TestMetadataCache_PopularTagsFirstSeenTieBreak(t *testing.T) {
	st := newCountingStore()
	seed(t, st,
		feed.Post{Content: "one", Tags: []string{"go", "cache"}},
		feed.Post{Content: "two", Tags: []string{"go"}},
		feed.Post{Content: "three", Tags: []string{"rust"}},
	)
	cache := newCache(st, newFakeClock())

	tags, err := cache.PopularTags(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "cache"}, tags)

	all, err := cache.PopularTags(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "cache", "rust"}, all)
	assert.Equal(t, int32(1), st.scans.Load(), "limit must not change the cached ranking")
}

func TestMetadataCache_PopularTagsDefaultLimit(t *testing.T) {
	st := newCountingStore()
	for i := 0; i < 30; i++ {
		seed(t, st, feed.Post{Content: "p", Tags: []string{string(rune('a' + i%26)), string(rune('A' + i%26))}})
	}
	cache := newCache(st, newFakeClock())

	tags, err := cache.PopularTags(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, tags, feed.DefaultPopularTagsLimit)
}

func TestMetadataCache_Categories(t *testing.T) {
	st := newCountingStore()
	seed(t, st,
		feed.Post{Content: "a", Category: "tech"},
		feed.Post{Content: "b", Category: "life"},
		feed.Post{Content: "c", Category: "tech"},
		feed.Post{Content: "d"},
	)
	cache := newCache(st, newFakeClock())

	cats, err := cache.Categories(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tech", "life"}, cats)
}

func TestMetadataCache_EmptyStore(t *testing.T) {
	cache := newCache(newCountingStore(), newFakeClock())

	cats, err := cache.Categories(context.Background())
	require.NoError(t, err)
	assert.Empty(t, cats)

	tags, err := cache.PopularTags(context.Background(), 5)
	require.NoError(t, err)
	assert.Empty(t, tags)
}

func TestMetadataCache_FreshWithinTTL(t *testing.T) {
	st := newCountingStore()
	seed(t, st, feed.Post{Content: "a", Category: "tech", Tags: []string{"go"}})
	clock := newFakeClock()
	cache := newCache(st, clock)
	ctx := context.Background()

	first, err := cache.Categories(ctx)
	require.NoError(t, err)
	require.Equal(t, int32(1), st.scans.Load())

	// a write the cache never heard of
	seed(t, st, feed.Post{Content: "b", Category: "life"})

	clock.Advance(5*time.Minute - time.Second)
	again, err := cache.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, int32(1), st.scans.Load())

	clock.Advance(time.Second)
	expired, err := cache.Categories(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tech", "life"}, expired)
	assert.Equal(t, int32(2), st.scans.Load())
}

func TestMetadataCache_AggregatesTrackedIndependently(t *testing.T) {
	st := newCountingStore()
	seed(t, st, feed.Post{Content: "a", Category: "tech", Tags: []string{"go"}})
	cache := newCache(st, newFakeClock())
	ctx := context.Background()

	_, err := cache.Categories(ctx)
	require.NoError(t, err)
	_, err = cache.PopularTags(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int32(2), st.scans.Load())

	_, err = cache.Categories(ctx)
	require.NoError(t, err)
	_, err = cache.PopularTags(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int32(2), st.scans.Load())
}

func TestMetadataCache_OnPostCreatedForcesRecompute(t *testing.T) {
	st := newCountingStore()
	seed(t, st, feed.Post{Content: "a", Category: "tech", Tags: []string{"go"}})
	cache := newCache(st, newFakeClock())
	ctx := context.Background()

	_, err := cache.Categories(ctx)
	require.NoError(t, err)
	_, err = cache.PopularTags(ctx, 5)
	require.NoError(t, err)

	seed(t, st, feed.Post{Content: "b", Category: "life", Tags: []string{"rust", "rust2"}})
	cache.OnPostCreated()

	cats, err := cache.Categories(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tech", "life"}, cats)

	tags, err := cache.PopularTags(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"go", "rust", "rust2"}, tags)
	assert.Equal(t, int32(4), st.scans.Load())
}

func TestMetadataCache_ReturnsCopies(t *testing.T) {
	st := newCountingStore()
	seed(t, st, feed.Post{Content: "a", Category: "tech", Tags: []string{"go"}})
	cache := newCache(st, newFakeClock())
	ctx := context.Background()

	cats, err := cache.Categories(ctx)
	require.NoError(t, err)
	cats[0] = "mutated"

	again, err := cache.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tech"}, again)
}

func TestMetadataCache_FailureKeepsPriorState(t *testing.T) {
	st := newCountingStore()
	seed(t, st, feed.Post{Content: "a", Category: "tech"})
	clock := newFakeClock()
	cache := newCache(st, clock)
	ctx := context.Background()

	_, err := cache.Categories(ctx)
	require.NoError(t, err)

	st.failScans.Store(true)

	// still fresh: served without touching the store
	cats, err := cache.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tech"}, cats)

	clock.Advance(10 * time.Minute)
	_, err = cache.Categories(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, feed.ErrStoreUnavailable)

	cache.OnPostCreated()
	_, err = cache.Categories(ctx)
	assert.ErrorIs(t, err, feed.ErrStoreUnavailable)

	st.failScans.Store(false)
	scans := st.scans.Load()
	cats, err = cache.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tech"}, cats)
	assert.Equal(t, scans+1, st.scans.Load())

	// recovered entry is fresh again
	_, err = cache.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, scans+1, st.scans.Load())
}

func TestMetadataCache_SingleFlight(t *testing.T) {
	st := newCountingStore()
	seed(t, st,
		feed.Post{Content: "a", Category: "tech", Tags: []string{"go"}},
		feed.Post{Content: "b", Category: "life", Tags: []string{"go", "hike"}},
	)
	cache := newCache(st, newFakeClock())
	release := st.hold()

	const readers = 32
	var wg sync.WaitGroup
	results := make([][]string, readers)
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.PopularTags(context.Background(), 5)
		}(i)
	}

	require.Eventually(t, func() bool { return st.scans.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	release()
	wg.Wait()

	assert.Equal(t, int32(1), st.scans.Load())
	for i := 0; i < readers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, []string{"go", "hike"}, results[i])
	}
}

func TestMetadataCache_CanceledLeaderDoesNotFailFollowers(t *testing.T) {
	st := newCountingStore()
	seed(t, st, feed.Post{Content: "a", Category: "tech"})
	cache := newCache(st, newFakeClock())
	release := st.hold()

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := cache.Categories(leaderCtx)
		leaderErr <- err
	}()
	require.Eventually(t, func() bool { return st.scans.Load() == 1 }, time.Second, time.Millisecond)

	var cats []string
	var followerErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		cats, followerErr = cache.Categories(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case err := <-leaderErr:
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, feed.ErrStoreUnavailable)
	case <-time.After(time.Second):
		t.Fatal("canceled caller kept waiting for the scan")
	}

	release()
	<-done
	require.NoError(t, followerErr)
	assert.Equal(t, []string{"tech"}, cats)

	// the shared scan completed and was cached
	_, err := cache.Categories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), st.scans.Load())
}

func TestMetadataCache_ReadAfterInvalidationDoesNotJoinOlderScan(t *testing.T) {
	st := newCountingStore()
	seed(t, st, feed.Post{Content: "a", Category: "tech"})
	cache := newCache(st, newFakeClock())
	ctx := context.Background()
	release := st.hold()

	var wg sync.WaitGroup
	var before, after []string
	wg.Add(1)
	go func() {
		defer wg.Done()
		before, _ = cache.Categories(ctx)
	}()
	require.Eventually(t, func() bool { return st.scans.Load() == 1 }, time.Second, time.Millisecond)

	seed(t, st, feed.Post{Content: "b", Category: "life"})
	cache.OnPostCreated()

	wg.Add(1)
	go func() {
		defer wg.Done()
		after, _ = cache.Categories(ctx)
	}()
	require.Eventually(t, func() bool { return st.scans.Load() == 2 }, time.Second, time.Millisecond)

	release()
	wg.Wait()

	assert.NotEmpty(t, before)
	assert.ElementsMatch(t, []string{"tech", "life"}, after)

	// the newer scan is the one that was kept
	cats, err := cache.Categories(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"tech", "life"}, cats)
	assert.Equal(t, int32(2), st.scans.Load())
}

func TestMetadataCache_ConcurrentReadsAndInvalidations(t *testing.T) {
	st := newCountingStore()
	seed(t, st, feed.Post{Content: "a", Category: "tech", Tags: []string{"go"}})
	cache := newCache(st, newFakeClock())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := cache.Categories(ctx)
				assert.NoError(t, err)
				_, err = cache.PopularTags(ctx, 3)
				assert.NoError(t, err)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				cache.OnPostCreated()
			}
		}()
	}
	wg.Wait()

	cats, err := cache.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tech"}, cats)
}

func TestMetadataCache_Close(t *testing.T) {
	st := newCountingStore()
	seed(t, st, feed.Post{Content: "a", Category: "tech"})
	cache := newCache(st, newFakeClock())
	ctx := context.Background()

	_, err := cache.Categories(ctx)
	require.NoError(t, err)
	cache.Close()

	_, err = cache.Categories(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), st.scans.Load())
}
