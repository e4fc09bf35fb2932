package feed

import "time"

// DefaultVisibility is applied to posts created without an explicit visibility.
const DefaultVisibility = "public"

// Post is a single feed entry as seen by the query engine and the metadata cache.
type Post struct {
	ID         uint      `json:"id"`
	AuthorID   uint      `json:"user_id"`
	Content    string    `json:"content"`
	MediaURL   *string   `json:"media_url"`
	CreatedAt  time.Time `json:"created_at"`
	Category   string    `json:"category,omitempty"`
	Visibility string    `json:"visibility"`
	Tags       []string  `json:"tags"`
	LikesCount int64     `json:"likes_count"`
	ViewsCount int64     `json:"views_count"`
}

// CreatePostInput carries the caller supplied fields of a new post.
type CreatePostInput struct {
	AuthorID   uint
	Content    string
	MediaURL   *string
	Category   string
	Visibility string
	Tags       []string
}

// Counter names a mutable post counter.
type Counter string

const (
	CounterLikes Counter = "likes_count"
	CounterViews Counter = "views_count"
)
