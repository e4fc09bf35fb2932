package feed

import "context"

// Filters restricts a listing. Zero values mean "no restriction".
type Filters struct {
	Category   string
	Visibility string
	Search     string
	Tags       []string
	AuthorID   uint
}

// Query is a normalized listing request handed to the post store.
// SortField is always one of the allow-listed fields and Order is "asc" or "desc".
type Query struct {
	Filters   Filters
	SortField string
	Order     string
	Offset    int
	Limit     int
}

// PostStore is the persistence contract the feed engine depends on.
type PostStore interface {
	// CreatePost persists post and fills in ID and CreatedAt.
	CreatePost(ctx context.Context, post *Post) error

	// QueryPosts returns the posts matching q.Filters ordered by q.SortField
	// (ties broken by id descending) within [Offset, Offset+Limit), together
	// with the total number of matching posts.
	QueryPosts(ctx context.Context, q Query) ([]Post, int64, error)

	// ScanPosts calls fn for every post in ascending id order. A non-nil error
	// from fn stops the scan and is returned.
	ScanPosts(ctx context.Context, fn func(Post) error) error

	// GetPost loads a single post, returning ErrPostNotFound when absent.
	GetPost(ctx context.Context, id uint) (*Post, error)

	// IncrementCounter adds delta to one of the post counters.
	IncrementCounter(ctx context.Context, id uint, counter Counter, delta int64) error
}
