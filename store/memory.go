package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cppla/socialfeed/feed"
)

// MemoryStore is an in-process feed.PostStore. It keeps posts in insertion
// order, which is also ascending id order.
type MemoryStore struct {
	mu     sync.RWMutex
	posts  []feed.Post
	byID   map[uint]int
	nextID uint
	now    func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID: make(map[uint]int),
		now:  time.Now,
	}
}

// CreatePost assigns the next id. A zero CreatedAt is set to the current
// time; a non-zero one is kept so fixtures can control ordering.
func (s *MemoryStore) CreatePost(ctx context.Context, post *feed.Post) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	post.ID = s.nextID
	if post.CreatedAt.IsZero() {
		post.CreatedAt = s.now().UTC()
	}
	if post.Visibility == "" {
		post.Visibility = feed.DefaultVisibility
	}
	s.byID[post.ID] = len(s.posts)
	s.posts = append(s.posts, clonePost(*post))
	return nil
}

func (s *MemoryStore) QueryPosts(ctx context.Context, q feed.Query) ([]feed.Post, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	s.mu.RLock()
	matched := make([]feed.Post, 0, len(s.posts))
	for _, p := range s.posts {
		if feed.Matches(p, q.Filters) {
			matched = append(matched, clonePost(p))
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return feed.Before(matched[i], matched[j], q.SortField, q.Order)
	})

	total := int64(len(matched))
	if q.Offset >= len(matched) {
		return []feed.Post{}, total, nil
	}
	end := q.Offset + q.Limit
	if q.Limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	return matched[q.Offset:end], total, nil
}

func (s *MemoryStore) ScanPosts(ctx context.Context, fn func(feed.Post) error) error {
	s.mu.RLock()
	snapshot := make([]feed.Post, len(s.posts))
	for i, p := range s.posts {
		snapshot[i] = clonePost(p)
	}
	s.mu.RUnlock()

	for _, p := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemoryStore) GetPost(ctx context.Context, id uint) (*feed.Post, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.byID[id]
	if !ok {
		return nil, feed.ErrPostNotFound
	}
	p := clonePost(s.posts[idx])
	return &p, nil
}

func (s *MemoryStore) IncrementCounter(ctx context.Context, id uint, counter feed.Counter, delta int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return feed.ErrPostNotFound
	}
	p := &s.posts[idx]
	switch counter {
	case feed.CounterLikes:
		p.LikesCount = max(p.LikesCount+delta, 0)
	case feed.CounterViews:
		p.ViewsCount = max(p.ViewsCount+delta, 0)
	default:
		return errUnknownCounter(counter)
	}
	return nil
}

func clonePost(p feed.Post) feed.Post {
	if p.Tags != nil {
		p.Tags = append([]string{}, p.Tags...)
	}
	if p.MediaURL != nil {
		m := *p.MediaURL
		p.MediaURL = &m
	}
	return p
}
