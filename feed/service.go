package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	maxCategoryLen = 32
	maxTagLen      = 32
	maxTags        = 10
)

var tracer = otel.Tracer("github.com/cppla/socialfeed/feed")

// Notifier is told about every post this instance creates, after the write
// has succeeded. Implementations fan the news out to other replicas.
type Notifier interface {
	NotifyPostCreated(ctx context.Context, post *Post) error
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// Sanitize cleans user supplied content before validation.
	Sanitize func(string) string
	Notifier Notifier
	Logger   *zap.Logger
}

// Service is the single entry point for feed reads and post writes. It is the
// only component that invalidates the metadata cache.
type Service struct {
	store    PostStore
	engine   *QueryEngine
	cache    *MetadataCache
	sanitize func(string) string
	notifier Notifier
	logger   *zap.Logger
}

// NewService wires a Service around an existing engine and cache.
func NewService(store PostStore, engine *QueryEngine, cache *MetadataCache, opts ServiceOptions) *Service {
	if opts.Sanitize == nil {
		opts.Sanitize = func(s string) string { return s }
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		engine:   engine,
		cache:    cache,
		sanitize: opts.Sanitize,
		notifier: opts.Notifier,
		logger:   opts.Logger,
	}
}

// CreatePost validates and stores a new post, then invalidates the metadata
// cache. The cache is left alone when the write fails.
func (s *Service) CreatePost(ctx context.Context, in CreatePostInput) (*Post, error) {
	ctx, span := tracer.Start(ctx, "feed.CreatePost", trace.WithAttributes(attribute.Int64("author_id", int64(in.AuthorID))))
	defer span.End()

	post, err := s.buildPost(in)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.store.CreatePost(ctx, post); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store write failed")
		s.logger.Error("create post failed", zap.Uint("author_id", in.AuthorID), zap.Error(err))
		return nil, storeUnavailable("create post", err)
	}

	s.cache.OnPostCreated()
	span.SetAttributes(attribute.Int64("post_id", int64(post.ID)))

	if s.notifier != nil {
		if err := s.notifier.NotifyPostCreated(ctx, post); err != nil {
			s.logger.Warn("post created notification failed", zap.Uint("post_id", post.ID), zap.Error(err))
		}
	}
	return post, nil
}

// ListPosts delegates to the query engine.
func (s *Service) ListPosts(ctx context.Context, req ListRequest) (*Page, error) {
	ctx, span := tracer.Start(ctx, "feed.ListPosts")
	defer span.End()

	page, err := s.engine.ListPosts(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int64("total", page.Total), attribute.Int("items", len(page.Items)))
	return page, nil
}

// Categories delegates to the metadata cache.
func (s *Service) Categories(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "feed.Categories")
	defer span.End()
	return s.cache.Categories(ctx)
}

// PopularTags delegates to the metadata cache.
func (s *Service) PopularTags(ctx context.Context, limit int) ([]string, error) {
	ctx, span := tracer.Start(ctx, "feed.PopularTags", trace.WithAttributes(attribute.Int("limit", limit)))
	defer span.End()
	return s.cache.PopularTags(ctx, limit)
}

// GetPost loads one post.
func (s *Service) GetPost(ctx context.Context, id uint) (*Post, error) {
	post, err := s.store.GetPost(ctx, id)
	if err != nil {
		if errors.Is(err, ErrPostNotFound) {
			return nil, err
		}
		return nil, storeUnavailable("get post", err)
	}
	return post, nil
}

// LikePost bumps the like counter. Counters do not feed any cached
// aggregate, so the cache is not touched.
func (s *Service) LikePost(ctx context.Context, id uint) error {
	return s.bump(ctx, id, CounterLikes)
}

// RecordView bumps the view counter.
func (s *Service) RecordView(ctx context.Context, id uint) error {
	return s.bump(ctx, id, CounterViews)
}

// HandleRemotePostCreated applies a post creation observed on another
// replica.
func (s *Service) HandleRemotePostCreated(postID uint) {
	s.logger.Debug("remote post created, invalidating metadata", zap.Uint("post_id", postID))
	s.cache.OnPostCreated()
}

func (s *Service) bump(ctx context.Context, id uint, counter Counter) error {
	if err := s.store.IncrementCounter(ctx, id, counter, 1); err != nil {
		if errors.Is(err, ErrPostNotFound) {
			return err
		}
		return storeUnavailable("increment "+string(counter), err)
	}
	return nil
}

func (s *Service) buildPost(in CreatePostInput) (*Post, error) {
	content := strings.TrimSpace(s.sanitize(in.Content))
	if content == "" {
		return nil, ErrEmptyContent
	}

	category := strings.TrimSpace(in.Category)
	if utf8.RuneCountInString(category) > maxCategoryLen {
		return nil, &ValidationError{Field: "category", Message: fmt.Sprintf("longer than %d characters", maxCategoryLen)}
	}

	visibility := strings.ToLower(strings.TrimSpace(in.Visibility))
	if visibility == "" {
		visibility = DefaultVisibility
	}

	tags := cleanTags(in.Tags)
	if len(tags) > maxTags {
		return nil, &ValidationError{Field: "tags", Message: fmt.Sprintf("at most %d tags", maxTags)}
	}
	for _, t := range tags {
		if utf8.RuneCountInString(t) > maxTagLen {
			return nil, &ValidationError{Field: "tags", Message: fmt.Sprintf("tag %q longer than %d characters", t, maxTagLen)}
		}
	}
	if tags == nil {
		tags = []string{}
	}

	var media *string
	if in.MediaURL != nil {
		if m := strings.TrimSpace(*in.MediaURL); m != "" {
			media = &m
		}
	}

	return &Post{
		AuthorID:   in.AuthorID,
		Content:    content,
		MediaURL:   media,
		Category:   category,
		Visibility: visibility,
		Tags:       tags,
	}, nil
}
