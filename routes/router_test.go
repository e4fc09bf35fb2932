package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/socialfeed/config"
	"github.com/cppla/socialfeed/feed"
	"github.com/cppla/socialfeed/routes"
	"github.com/cppla/socialfeed/store"
	"github.com/cppla/socialfeed/utils"
)

const secret = "test-secret"

type envelope struct {
	Code      int             `json:"code"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id"`
}

type fixture struct {
	t       *testing.T
	handler http.Handler
	store   *store.MemoryStore
	token   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.AppConfig{}
	cfg.GinMode = "test"
	cfg.JWTSecret = secret
	cfg.RateLimitPerMinute = 600
	cfg.AllowedOrigins = []string{"*"}

	st := store.NewMemoryStore()
	svc := feed.NewService(st,
		feed.NewQueryEngine(st, 0, nil),
		feed.NewMetadataCache(st, feed.CacheOptions{TTL: time.Hour}),
		feed.ServiceOptions{Sanitize: utils.Sanitize},
	)
	token, err := utils.GenerateToken(secret, 7, "alice", time.Hour)
	require.NoError(t, err)

	return &fixture{t: t, handler: routes.SetupRouter(cfg, svc, nil), store: st, token: token}
}

func (f *fixture) do(method, path string, body any, auth bool) (*httptest.ResponseRecorder, envelope) {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)

	var env envelope
	require.NoError(f.t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func (f *fixture) seed(posts ...feed.Post) {
	f.t.Helper()
	for i := range posts {
		require.NoError(f.t, f.store.CreatePost(context.Background(), &posts[i]))
	}
}

type listData struct {
	Items      []feed.Post `json:"items"`
	Pagination struct {
		Page       int   `json:"page"`
		PageSize   int   `json:"page_size"`
		Total      int64 `json:"total"`
		TotalPages int   `json:"total_pages"`
	} `json:"pagination"`
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w, env := f.do(http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.Code)
	assert.NotEmpty(t, env.RequestID)
	assert.Equal(t, env.RequestID, w.Header().Get("X-Request-ID"))
}

func TestListPosts(t *testing.T) {
	f := newFixture(t)
	for _, likes := range []int64{5, 5, 3, 2, 1} {
		f.seed(feed.Post{AuthorID: 1, Content: "tech", Category: "tech", LikesCount: likes, Tags: []string{"go", "cache"}})
	}
	f.seed(feed.Post{AuthorID: 2, Content: "life", Category: "life", Tags: []string{"go"}})

	w, env := f.do(http.MethodGet, "/api/v1/posts?category=tech&sort=likes_count&order=desc&page=1&page_size=2", nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	data := decode[listData](t, env.Data)
	require.Len(t, data.Items, 2)
	assert.Equal(t, uint(2), data.Items[0].ID)
	assert.Equal(t, uint(1), data.Items[1].ID)
	assert.Equal(t, int64(5), data.Pagination.Total)
	assert.Equal(t, 3, data.Pagination.TotalPages)

	_, env = f.do(http.MethodGet, "/api/v1/posts?tags=go,cache&tags=go", nil, false)
	data = decode[listData](t, env.Data)
	assert.Equal(t, int64(5), data.Pagination.Total)

	_, env = f.do(http.MethodGet, "/api/v1/posts?author_id=2", nil, false)
	data = decode[listData](t, env.Data)
	assert.Equal(t, int64(1), data.Pagination.Total)

	// garbage is normalized, never rejected
	w, env = f.do(http.MethodGet, "/api/v1/posts?page=-3&page_size=abc&sort=password&order=up", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
	data = decode[listData](t, env.Data)
	assert.Equal(t, 1, data.Pagination.Page)
	assert.Equal(t, 10, data.Pagination.PageSize)
	assert.Equal(t, uint(6), data.Items[0].ID)

	_, env = f.do(http.MethodGet, "/api/v1/users/1/posts?page=2&page_size=4", nil, false)
	data = decode[listData](t, env.Data)
	assert.Equal(t, int64(5), data.Pagination.Total)
	assert.Len(t, data.Items, 1)

	w, _ = f.do(http.MethodGet, "/api/v1/users/abc/posts", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetPostCountsViews(t *testing.T) {
	f := newFixture(t)
	f.seed(feed.Post{AuthorID: 1, Content: "hello"})

	for i := 0; i < 2; i++ {
		w, _ := f.do(http.MethodGet, "/api/v1/posts/1", nil, false)
		require.Equal(t, http.StatusOK, w.Code)
	}
	got, err := f.store.GetPost(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.ViewsCount)

	w, env := f.do(http.MethodGet, "/api/v1/posts/99", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40401, env.Code)

	w, _ = f.do(http.MethodGet, "/api/v1/posts/zero", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreatePost(t *testing.T) {
	f := newFixture(t)

	w, env := f.do(http.MethodPost, "/api/v1/posts", map[string]any{"content": "hi"}, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, 40101, env.Code)

	w, env = f.do(http.MethodPost, "/api/v1/posts", map[string]any{"content": "   "}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40021, env.Code)
	assert.Contains(t, env.Message, "empty content")

	w, env = f.do(http.MethodPost, "/api/v1/posts", map[string]any{"content": "<b></b><script>x</script>"}, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 40021, env.Code)

	w, env = f.do(http.MethodPost, "/api/v1/posts", map[string]any{
		"content":  "<b>hello</b> feed",
		"category": "tech",
		"tags":     []string{"go", "go", "cache"},
	}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[struct {
		Post feed.Post `json:"post"`
	}](t, env.Data)
	assert.Equal(t, uint(7), created.Post.AuthorID)
	assert.Equal(t, "hello feed", created.Post.Content)
	assert.Equal(t, []string{"go", "cache"}, created.Post.Tags)

	_, env = f.do(http.MethodGet, "/api/v1/feed/categories", nil, false)
	cats := decode[struct {
		Categories []string `json:"categories"`
	}](t, env.Data)
	assert.Equal(t, []string{"tech"}, cats.Categories)
}

func TestSearchMatchesContentAsTyped(t *testing.T) {
	f := newFixture(t)

	w, env := f.do(http.MethodPost, "/api/v1/posts", map[string]any{"content": "Tom & Jerry say 1 < 2"}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[struct {
		Post feed.Post `json:"post"`
	}](t, env.Data)
	assert.Equal(t, "Tom & Jerry say 1 < 2", created.Post.Content)

	for _, q := range []string{"tom+%26+jerry", "1+%3C+2"} {
		_, env = f.do(http.MethodGet, "/api/v1/posts?search="+q, nil, false)
		data := decode[listData](t, env.Data)
		assert.Equal(t, int64(1), data.Pagination.Total, q)
	}

	_, env = f.do(http.MethodGet, "/api/v1/posts?visibility=Public", nil, false)
	data := decode[listData](t, env.Data)
	assert.Equal(t, int64(1), data.Pagination.Total)
}

func TestMetadataEndpoints(t *testing.T) {
	f := newFixture(t)
	f.seed(
		feed.Post{Content: "a", Category: "tech", Tags: []string{"go", "cache"}},
		feed.Post{Content: "b", Category: "life", Tags: []string{"go"}},
		feed.Post{Content: "c", Tags: []string{"rust"}},
	)

	_, env := f.do(http.MethodGet, "/api/v1/feed/tags/popular?limit=2", nil, false)
	tags := decode[struct {
		Tags []string `json:"tags"`
	}](t, env.Data)
	assert.Equal(t, []string{"go", "cache"}, tags.Tags)

	_, env = f.do(http.MethodGet, "/api/v1/feed/categories", nil, false)
	cats := decode[struct {
		Categories []string `json:"categories"`
	}](t, env.Data)
	assert.ElementsMatch(t, []string{"tech", "life"}, cats.Categories)

	// posts created through the API invalidate the cached ranking
	for i := 0; i < 2; i++ {
		w, _ := f.do(http.MethodPost, "/api/v1/posts", map[string]any{"content": "more rust", "tags": []string{"rust"}}, true)
		require.Equal(t, http.StatusCreated, w.Code)
	}
	_, env = f.do(http.MethodGet, "/api/v1/feed/tags/popular?limit=1", nil, false)
	tags = decode[struct {
		Tags []string `json:"tags"`
	}](t, env.Data)
	assert.Equal(t, []string{"rust"}, tags.Tags)
}

func TestLikePost(t *testing.T) {
	f := newFixture(t)
	f.seed(feed.Post{Content: "like me"})

	w, env := f.do(http.MethodPost, "/api/v1/posts/1/like", nil, true)
	require.Equal(t, http.StatusOK, w.Code)
	liked := decode[struct {
		LikesCount int64 `json:"likes_count"`
	}](t, env.Data)
	assert.Equal(t, int64(1), liked.LikesCount)

	w, _ = f.do(http.MethodPost, "/api/v1/posts/5/like", nil, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = f.do(http.MethodPost, "/api/v1/posts/1/like", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestNoRoute(t *testing.T) {
	f := newFixture(t)
	w, env := f.do(http.MethodGet, "/api/v1/nope", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 40400, env.Code)
}
