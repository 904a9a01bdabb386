// Package models contains data structures for the feed's domain entities.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Post is a feed entry owned by its author. Content is immutable after creation.
type Post struct {
	ID        string    `gorm:"type:uuid;primaryKey" json:"id"`
	UserID    string    `gorm:"type:uuid;not null;index" json:"user_id"`
	Author    *Profile  `gorm:"foreignKey:UserID" json:"author,omitempty"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	ImageURL  string    `json:"image_url,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	// LikesCount is not persisted; derived from like edges on every fetch
	LikesCount int `gorm:"-" json:"likes_count"`
	// CommentsCount is not persisted; derived from comment rows on every fetch
	CommentsCount int `gorm:"-" json:"comments_count"`
	// ViewerHasLiked is relative to the viewer that requested the snapshot
	ViewerHasLiked bool `gorm:"-" json:"viewer_has_liked"`
}

// TableName specifies the table name for GORM
func (Post) TableName() string {
	return "posts"
}

// BeforeCreate assigns a random identity when the caller did not supply one.
func (p *Post) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// Clone returns a copy of the post that shares no mutable state with p.
func (p Post) Clone() Post {
	if p.Author != nil {
		author := *p.Author
		p.Author = &author
	}
	return p
}
