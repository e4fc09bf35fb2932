package feed

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultCacheTTL bounds how long an aggregate is served without a rescan.
	DefaultCacheTTL = 5 * time.Minute
	// DefaultPopularTagsLimit is used when PopularTags is called with limit <= 0.
	DefaultPopularTagsLimit = 20

	// recomputeTimeout bounds a shared scan, which outlives the caller that started it.
	recomputeTimeout = 30 * time.Second
)

// aggregate is one independently tracked cache entry.
type aggregate struct {
	name string

	mu         sync.Mutex
	value      []string
	computedAt time.Time
	valid      bool
	generation uint64
}

// fresh must be called with a.mu held.
func (a *aggregate) fresh(now time.Time, ttl time.Duration) bool {
	return a.valid && now.Sub(a.computedAt) < ttl
}

func (a *aggregate) invalidate() {
	a.mu.Lock()
	a.valid = false
	a.generation++
	a.mu.Unlock()
}

// CacheOptions configures a MetadataCache.
type CacheOptions struct {
	TTL    time.Duration
	Now    func() time.Time
	Logger *zap.Logger
}

// MetadataCache serves derived aggregates over the post collection: the set
// of categories and the tag popularity ranking. Entries are rebuilt lazily by
// a full store scan when they are empty, expired or invalidated. Concurrent
// misses on the same entry share a single scan.
type MetadataCache struct {
	store  PostStore
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	flights    singleflight.Group
	categories aggregate
	tags       aggregate
}

// NewMetadataCache creates an empty cache over store.
func NewMetadataCache(store PostStore, opts CacheOptions) *MetadataCache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &MetadataCache{
		store:      store,
		ttl:        opts.TTL,
		now:        opts.Now,
		logger:     opts.Logger,
		categories: aggregate{name: "categories"},
		tags:       aggregate{name: "tags"},
	}
}

// Categories returns the distinct non-empty categories. The result is a set;
// it is sorted only to keep responses stable.
func (c *MetadataCache) Categories(ctx context.Context) ([]string, error) {
	v, err := c.read(ctx, &c.categories, c.computeCategories)
	if err != nil {
		return nil, err
	}
	return append([]string{}, v...), nil
}

// PopularTags returns up to limit tags, most frequent first.
func (c *MetadataCache) PopularTags(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		limit = DefaultPopularTagsLimit
	}
	v, err := c.read(ctx, &c.tags, c.computeTagRanking)
	if err != nil {
		return nil, err
	}
	if len(v) > limit {
		v = v[:limit]
	}
	return append([]string{}, v...), nil
}

// OnPostCreated marks both aggregates stale regardless of their age.
func (c *MetadataCache) OnPostCreated() {
	c.categories.invalidate()
	c.tags.invalidate()
}

// Close drops the cached values. Later reads rebuild them.
func (c *MetadataCache) Close() {
	for _, a := range []*aggregate{&c.categories, &c.tags} {
		a.mu.Lock()
		a.value = nil
		a.valid = false
		a.generation++
		a.mu.Unlock()
	}
}

func (c *MetadataCache) read(ctx context.Context, a *aggregate, compute func(context.Context) ([]string, error)) ([]string, error) {
	a.mu.Lock()
	if a.fresh(c.now(), c.ttl) {
		v := a.value
		a.mu.Unlock()
		return v, nil
	}
	gen := a.generation
	a.mu.Unlock()

	// The generation is part of the key so a read issued after an
	// invalidation never joins a scan that started before it.
	key := a.name + ":" + strconv.FormatUint(gen, 10)
	ch := c.flights.DoChan(key, func() (any, error) {
		// The scan is shared by every waiter, so one caller going away
		// must not cancel it.
		scanCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recomputeTimeout)
		defer cancel()

		start := c.now()
		value, err := compute(scanCtx)
		if err != nil {
			return nil, err
		}
		a.mu.Lock()
		if a.generation == gen {
			a.value = value
			a.computedAt = start
			a.valid = true
		}
		a.mu.Unlock()
		c.logger.Debug("metadata recomputed", zap.String("aggregate", a.name), zap.Int("size", len(value)))
		return value, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if res.Err != nil {
		c.logger.Warn("metadata recompute failed", zap.String("aggregate", a.name), zap.Bool("shared", res.Shared), zap.Error(res.Err))
		return nil, storeUnavailable("recompute "+a.name, res.Err)
	}
	return res.Val.([]string), nil
}

func (c *MetadataCache) computeCategories(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	err := c.store.ScanPosts(ctx, func(p Post) error {
		if p.Category != "" {
			seen[p.Category] = struct{}{}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for cat := range seen {
		out = append(out, cat)
	}
	sort.Strings(out)
	return out, nil
}

// computeTagRanking orders every tag by descending frequency. Ties keep the
// order in which tags were first seen while scanning by ascending id.
func (c *MetadataCache) computeTagRanking(ctx context.Context) ([]string, error) {
	counts := make(map[string]int)
	var order []string
	err := c.store.ScanPosts(ctx, func(p Post) error {
		for _, t := range p.Tags {
			if t == "" {
				continue
			}
			if _, ok := counts[t]; !ok {
				order = append(order, t)
			}
			counts[t]++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if order == nil {
		order = []string{}
	}
	return order, nil
}
