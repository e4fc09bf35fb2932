package models

import "time"

// Post is the persisted form of a feed post.
type Post struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"index;not null" json:"user_id"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	MediaURL   *string   `gorm:"size:256" json:"media_url"`
	Category   string    `gorm:"size:32;index" json:"category"`
	Visibility string    `gorm:"size:16;not null;default:'public';index" json:"visibility"`
	LikesCount int64     `gorm:"not null;default:0" json:"likes_count"`
	ViewsCount int64     `gorm:"not null;default:0" json:"views_count"`
	CreatedAt  time.Time `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Tags       []PostTag `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"tags"`
}

// PostTag stores one label of a post. Position keeps the author's ordering.
type PostTag struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	PostID   uint   `gorm:"index;not null" json:"post_id"`
	Tag      string `gorm:"size:32;not null;index" json:"tag"`
	Position int    `gorm:"not null" json:"position"`
}
