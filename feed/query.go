package feed

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const (
	SortCreatedAt = "created_at"
	SortLikes     = "likes_count"
	SortViews     = "views_count"
	SortID        = "id"

	OrderAsc  = "asc"
	OrderDesc = "desc"

	DefaultPageSize = 10
	MaxPageSize     = 100
)

// sortable is the allow-list of fields a listing may be ordered by.
var sortable = map[string]struct{}{
	SortCreatedAt: {},
	SortLikes:     {},
	SortViews:     {},
	SortID:        {},
}

// ListRequest is a raw, caller supplied listing request.
type ListRequest struct {
	Filters  Filters
	Sort     string
	Order    string
	Page     int
	PageSize int
}

// Page is one page of a listing.
type Page struct {
	Items     []Post `json:"items"`
	Total     int64  `json:"total"`
	Page      int    `json:"page"`
	PageSize  int    `json:"page_size"`
	PageCount int    `json:"total_pages"`
}

// QueryEngine turns listing requests into bounded store queries. It holds no
// mutable state and is safe for concurrent use.
type QueryEngine struct {
	store       PostStore
	maxPageSize int
	logger      *zap.Logger
}

// NewQueryEngine creates a QueryEngine. maxPageSize values outside
// (0, MaxPageSize] fall back to MaxPageSize.
func NewQueryEngine(store PostStore, maxPageSize int, logger *zap.Logger) *QueryEngine {
	if maxPageSize <= 0 || maxPageSize > MaxPageSize {
		maxPageSize = MaxPageSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryEngine{store: store, maxPageSize: maxPageSize, logger: logger}
}

// Normalize maps out-of-domain input onto defaults instead of rejecting it.
func (e *QueryEngine) Normalize(req ListRequest) ListRequest {
	sort := strings.ToLower(strings.TrimSpace(req.Sort))
	if _, ok := sortable[sort]; !ok {
		sort = SortCreatedAt
	}
	order := strings.ToLower(strings.TrimSpace(req.Order))
	if order != OrderAsc {
		order = OrderDesc
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > e.maxPageSize {
		size = e.maxPageSize
	}
	return ListRequest{
		Filters:  normalizeFilters(req.Filters),
		Sort:     sort,
		Order:    order,
		Page:     page,
		PageSize: size,
	}
}

// ListPosts returns the requested page. An out-of-range page yields no items
// but still reports Total and PageCount.
func (e *QueryEngine) ListPosts(ctx context.Context, req ListRequest) (*Page, error) {
	req = e.Normalize(req)

	q := Query{
		Filters:   req.Filters,
		SortField: req.Sort,
		Order:     req.Order,
		Offset:    (req.Page - 1) * req.PageSize,
		Limit:     req.PageSize,
	}
	items, total, err := e.store.QueryPosts(ctx, q)
	if err != nil {
		e.logger.Warn("list posts failed", zap.String("sort", req.Sort), zap.Int("page", req.Page), zap.Error(err))
		return nil, storeUnavailable("list posts", err)
	}
	if items == nil {
		items = []Post{}
	}

	return &Page{
		Items:     items,
		Total:     total,
		Page:      req.Page,
		PageSize:  req.PageSize,
		PageCount: int((total + int64(req.PageSize) - 1) / int64(req.PageSize)),
	}, nil
}

func normalizeFilters(f Filters) Filters {
	out := Filters{
		Category:   strings.TrimSpace(f.Category),
		Visibility: strings.ToLower(strings.TrimSpace(f.Visibility)),
		Search:     strings.TrimSpace(f.Search),
		AuthorID:   f.AuthorID,
	}
	out.Tags = cleanTags(f.Tags)
	return out
}

// cleanTags trims labels, drops empty ones and removes duplicates while
// keeping the first occurrence order.
func cleanTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
