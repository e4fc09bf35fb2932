package feed_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cppla/socialfeed/feed"
	"github.com/cppla/socialfeed/store"
)

var errDown = errors.New("connection refused")

// countingStore instruments a MemoryStore: it counts full scans and can be
// told to fail or to hold scans until released.
type countingStore struct {
	*store.MemoryStore

	scans     atomic.Int32
	failScans atomic.Bool
	failWrite atomic.Bool

	mu   sync.Mutex
	gate chan struct{}
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: store.NewMemoryStore()}
}

func (s *countingStore) ScanPosts(ctx context.Context, fn func(feed.Post) error) error {
	s.scans.Add(1)
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.failScans.Load() {
		return errDown
	}
	return s.MemoryStore.ScanPosts(ctx, fn)
}

func (s *countingStore) QueryPosts(ctx context.Context, q feed.Query) ([]feed.Post, int64, error) {
	if s.failScans.Load() {
		return nil, 0, errDown
	}
	return s.MemoryStore.QueryPosts(ctx, q)
}

func (s *countingStore) CreatePost(ctx context.Context, p *feed.Post) error {
	if s.failWrite.Load() {
		return errDown
	}
	return s.MemoryStore.CreatePost(ctx, p)
}

// hold makes subsequent scans block until the returned func is called.
func (s *countingStore) hold() (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.gate = nil
		s.mu.Unlock()
		close(gate)
	}
}

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func seed(t *testing.T, s feed.PostStore, posts ...feed.Post) []feed.Post {
	t.Helper()
	out := make([]feed.Post, len(posts))
	for i := range posts {
		p := posts[i]
		require.NoError(t, s.CreatePost(context.Background(), &p))
		out[i] = p
	}
	return out
}

func ids(posts []feed.Post) []uint {
	out := make([]uint, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}
