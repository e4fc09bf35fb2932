package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/socialfeed/feed"
	"github.com/cppla/socialfeed/models"
)

const scanBatchSize = 500

// sortColumns maps the engine's allow-listed sort fields to columns.
var sortColumns = map[string]string{
	feed.SortCreatedAt: "created_at",
	feed.SortLikes:     "likes_count",
	feed.SortViews:     "views_count",
	feed.SortID:        "id",
}

var counterColumns = map[feed.Counter]string{
	feed.CounterLikes: "likes_count",
	feed.CounterViews: "views_count",
}

// GormStore implements feed.PostStore on a relational database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an opened database. Migrate must have been run.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates the posts and post_tags tables when missing.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.Post{}, &models.PostTag{})
}

func (s *GormStore) CreatePost(ctx context.Context, post *feed.Post) error {
	row := fromDomain(post)
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	post.ID = row.ID
	post.CreatedAt = row.CreatedAt
	post.Visibility = row.Visibility
	return nil
}

func (s *GormStore) QueryPosts(ctx context.Context, q feed.Query) ([]feed.Post, int64, error) {
	var total int64
	if err := s.filtered(ctx, q.Filters).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count posts: %w", err)
	}
	if total == 0 || int64(q.Offset) >= total {
		return []feed.Post{}, total, nil
	}

	var rows []models.Post
	err := s.filtered(ctx, q.Filters).
		Preload("Tags", orderTags).
		Order(orderBy(q.SortField, q.Order)).
		Offset(q.Offset).
		Limit(q.Limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list posts: %w", err)
	}

	posts := make([]feed.Post, len(rows))
	for i := range rows {
		posts[i] = toDomain(&rows[i])
	}
	return posts, total, nil
}

func (s *GormStore) ScanPosts(ctx context.Context, fn func(feed.Post) error) error {
	var batch []models.Post
	res := s.db.WithContext(ctx).
		Preload("Tags", orderTags).
		FindInBatches(&batch, scanBatchSize, func(tx *gorm.DB, _ int) error {
			for i := range batch {
				if err := fn(toDomain(&batch[i])); err != nil {
					return err
				}
			}
			return nil
		})
	if res.Error != nil {
		return fmt.Errorf("scan posts: %w", res.Error)
	}
	return nil
}

func (s *GormStore) GetPost(ctx context.Context, id uint) (*feed.Post, error) {
	var row models.Post
	err := s.db.WithContext(ctx).Preload("Tags", orderTags).First(&row, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, feed.ErrPostNotFound
		}
		return nil, fmt.Errorf("load post %d: %w", id, err)
	}
	p := toDomain(&row)
	return &p, nil
}

func (s *GormStore) IncrementCounter(ctx context.Context, id uint, counter feed.Counter, delta int64) error {
	col, ok := counterColumns[counter]
	if !ok {
		return errUnknownCounter(counter)
	}
	res := s.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ?", id).
		UpdateColumn(col, gorm.Expr(col+" + ?", delta))
	if res.Error != nil {
		return fmt.Errorf("increment %s: %w", col, res.Error)
	}
	if res.RowsAffected == 0 {
		return feed.ErrPostNotFound
	}
	return nil
}

// filtered returns a fresh query over posts with every active filter applied.
func (s *GormStore) filtered(ctx context.Context, f feed.Filters) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&models.Post{})
	if f.Category != "" {
		q = q.Where("category = ?", f.Category)
	}
	if f.Visibility != "" {
		q = q.Where("visibility = ?", f.Visibility)
	}
	if f.AuthorID != 0 {
		q = q.Where("user_id = ?", f.AuthorID)
	}
	if f.Search != "" {
		q = q.Where("LOWER(content) LIKE ? ESCAPE '!'", "%"+escapeLike(strings.ToLower(f.Search))+"%")
	}
	if len(f.Tags) > 0 {
		withAll := s.db.WithContext(ctx).Model(&models.PostTag{}).
			Select("post_id").
			Where("tag IN ?", f.Tags).
			Group("post_id").
			Having("COUNT(DISTINCT tag) = ?", len(f.Tags))
		q = q.Where("id IN (?)", withAll)
	}
	return q
}

func orderBy(field, order string) clause.OrderBy {
	col, ok := sortColumns[field]
	if !ok {
		col = sortColumns[feed.SortCreatedAt]
	}
	desc := order != feed.OrderAsc
	cols := []clause.OrderByColumn{{Column: clause.Column{Name: col}, Desc: desc}}
	if col != "id" {
		cols = append(cols, clause.OrderByColumn{Column: clause.Column{Name: "id"}, Desc: true})
	}
	return clause.OrderBy{Columns: cols}
}

func orderTags(db *gorm.DB) *gorm.DB {
	return db.Order("position ASC")
}

// escapeLike escapes LIKE wildcards using '!' as the escape character, which
// MySQL, Postgres and SQLite all accept in an ESCAPE clause.
func escapeLike(s string) string {
	return strings.NewReplacer("!", "!!", "%", "!%", "_", "!_").Replace(s)
}

func errUnknownCounter(c feed.Counter) error {
	return fmt.Errorf("unknown counter %q", string(c))
}

func fromDomain(p *feed.Post) models.Post {
	row := models.Post{
		UserID:     p.AuthorID,
		Content:    p.Content,
		MediaURL:   p.MediaURL,
		Category:   p.Category,
		Visibility: p.Visibility,
		LikesCount: p.LikesCount,
		ViewsCount: p.ViewsCount,
		CreatedAt:  p.CreatedAt,
	}
	if row.Visibility == "" {
		row.Visibility = feed.DefaultVisibility
	}
	for i, t := range p.Tags {
		row.Tags = append(row.Tags, models.PostTag{Tag: t, Position: i})
	}
	return row
}

func toDomain(row *models.Post) feed.Post {
	tags := make([]string, 0, len(row.Tags))
	for _, t := range row.Tags {
		if t.Tag != "" {
			tags = append(tags, t.Tag)
		}
	}
	return feed.Post{
		ID:         row.ID,
		AuthorID:   row.UserID,
		Content:    row.Content,
		MediaURL:   row.MediaURL,
		CreatedAt:  row.CreatedAt,
		Category:   row.Category,
		Visibility: row.Visibility,
		Tags:       tags,
		LikesCount: row.LikesCount,
		ViewsCount: row.ViewsCount,
	}
}
