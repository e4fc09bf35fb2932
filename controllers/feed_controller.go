package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/cppla/socialfeed/feed"
	"github.com/cppla/socialfeed/middleware"
	"github.com/cppla/socialfeed/utils"
)

const maxPopularTagsLimit = 100

// FeedService is the part of feed.Service the HTTP layer needs.
type FeedService interface {
	CreatePost(ctx context.Context, in feed.CreatePostInput) (*feed.Post, error)
	ListPosts(ctx context.Context, req feed.ListRequest) (*feed.Page, error)
	Categories(ctx context.Context) ([]string, error)
	PopularTags(ctx context.Context, limit int) ([]string, error)
	GetPost(ctx context.Context, id uint) (*feed.Post, error)
	LikePost(ctx context.Context, id uint) error
}

// FeedController serves post listings, single posts and feed metadata.
type FeedController struct {
	svc    FeedService
	logger *zap.Logger
}

// NewFeedController creates a new FeedController instance.
func NewFeedController(svc FeedService, logger *zap.Logger) *FeedController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedController{svc: svc, logger: logger}
}

// CreatePost allows authenticated users to publish a post.
func (f *FeedController) CreatePost(ctx *gin.Context) {
	var req struct {
		Content    string   `json:"content"`
		MediaURL   *string  `json:"media_url"`
		Category   string   `json:"category"`
		Visibility string   `json:"visibility"`
		Tags       []string `json:"tags"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		utils.Error(ctx, http.StatusBadRequest, 40020, "invalid request payload")
		return
	}

	userID := middleware.CurrentUserID(ctx)
	if userID == 0 {
		utils.Error(ctx, http.StatusUnauthorized, 40110, "unauthorized")
		return
	}

	post, err := f.svc.CreatePost(ctx.Request.Context(), feed.CreatePostInput{
		AuthorID:   userID,
		Content:    req.Content,
		MediaURL:   req.MediaURL,
		Category:   req.Category,
		Visibility: req.Visibility,
		Tags:       req.Tags,
	})
	if err != nil {
		f.fail(ctx, err)
		return
	}
	utils.Created(ctx, gin.H{"post": post})
}

// ListPosts returns one page of posts matching the query string filters.
func (f *FeedController) ListPosts(ctx *gin.Context) {
	req := listRequestFromQuery(ctx)
	if raw := strings.TrimSpace(ctx.Query("author_id")); raw != "" {
		if id, err := strconv.ParseUint(raw, 10, 64); err == nil {
			req.Filters.AuthorID = uint(id)
		}
	}
	f.respondPage(ctx, req)
}

// ListUserPosts returns posts created by a specific user.
func (f *FeedController) ListUserPosts(ctx *gin.Context) {
	id, ok := parseID(ctx.Param("id"))
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40060, "invalid user id")
		return
	}
	req := listRequestFromQuery(ctx)
	req.Filters.AuthorID = id
	f.respondPage(ctx, req)
}

// GetPost returns a single post.
func (f *FeedController) GetPost(ctx *gin.Context) {
	id, ok := parseID(ctx.Param("id"))
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40061, "invalid post id")
		return
	}
	post, err := f.svc.GetPost(ctx.Request.Context(), id)
	if err != nil {
		f.fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"post": post})
}

// LikePost adds one like to a post.
func (f *FeedController) LikePost(ctx *gin.Context) {
	id, ok := parseID(ctx.Param("id"))
	if !ok {
		utils.Error(ctx, http.StatusBadRequest, 40061, "invalid post id")
		return
	}
	if err := f.svc.LikePost(ctx.Request.Context(), id); err != nil {
		f.fail(ctx, err)
		return
	}
	post, err := f.svc.GetPost(ctx.Request.Context(), id)
	if err != nil {
		f.fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"post_id": post.ID, "likes_count": post.LikesCount})
}

// Categories lists every category in use.
func (f *FeedController) Categories(ctx *gin.Context) {
	cats, err := f.svc.Categories(ctx.Request.Context())
	if err != nil {
		f.fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"categories": cats})
}

// PopularTags lists the most used tags, most frequent first.
func (f *FeedController) PopularTags(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))
	if limit > maxPopularTagsLimit {
		limit = maxPopularTagsLimit
	}
	tags, err := f.svc.PopularTags(ctx.Request.Context(), limit)
	if err != nil {
		f.fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"tags": tags})
}

func (f *FeedController) respondPage(ctx *gin.Context, req feed.ListRequest) {
	page, err := f.svc.ListPosts(ctx.Request.Context(), req)
	if err != nil {
		f.fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{
		"items": page.Items,
		"pagination": gin.H{
			"page":        page.Page,
			"page_size":   page.PageSize,
			"total":       page.Total,
			"total_pages": page.PageCount,
		},
	})
}

// fail maps feed errors onto the response envelope.
func (f *FeedController) fail(ctx *gin.Context, err error) {
	var verr *feed.ValidationError
	switch {
	case errors.As(err, &verr):
		utils.Error(ctx, http.StatusBadRequest, 40021, verr.Error())
	case errors.Is(err, feed.ErrPostNotFound):
		utils.Error(ctx, http.StatusNotFound, 40401, "post not found")
	case errors.Is(err, feed.ErrStoreUnavailable):
		f.logger.Error("feed store unavailable", zap.String("path", ctx.FullPath()), zap.Error(err))
		utils.Error(ctx, http.StatusServiceUnavailable, 50301, "feed temporarily unavailable")
	default:
		f.logger.Error("feed request failed", zap.String("path", ctx.FullPath()), zap.Error(err))
		utils.Error(ctx, http.StatusInternalServerError, 50020, "internal error")
	}
}

// listRequestFromQuery reads raw listing parameters. Bad numbers become zero
// and are normalized by the query engine.
func listRequestFromQuery(ctx *gin.Context) feed.ListRequest {
	page, _ := strconv.Atoi(ctx.Query("page"))
	pageSize, _ := strconv.Atoi(ctx.Query("page_size"))

	var tags []string
	for _, raw := range ctx.QueryArray("tags") {
		tags = append(tags, strings.Split(raw, ",")...)
	}

	return feed.ListRequest{
		Filters: feed.Filters{
			Category:   ctx.Query("category"),
			Visibility: ctx.Query("visibility"),
			Search:     ctx.Query("search"),
			Tags:       tags,
		},
		Sort:     ctx.Query("sort"),
		Order:    ctx.Query("order"),
		Page:     page,
		PageSize: pageSize,
	}
}

func parseID(raw string) (uint, bool) {
	id, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
