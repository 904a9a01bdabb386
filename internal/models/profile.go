package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Profile is the public face of an identity. Username is unique and immutable.
type Profile struct {
	ID          string    `gorm:"type:uuid;primaryKey" json:"id"`
	Username    string    `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName string    `json:"display_name,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	Bio         string    `gorm:"type:text" json:"bio,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// Derived on every fetch, never persisted.
	FollowersCount    int  `gorm:"-" json:"followers_count"`
	FollowingCount    int  `gorm:"-" json:"following_count"`
	PostsCount        int  `gorm:"-" json:"posts_count"`
	ViewerIsFollowing bool `gorm:"-" json:"viewer_is_following"`
}

// TableName specifies the table name for GORM
func (Profile) TableName() string {
	return "profiles"
}

// BeforeCreate assigns a random identity when the caller did not supply one.
func (p *Profile) BeforeCreate(_ *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// ProfilePatch carries a partial profile update. Nil fields are left untouched.
type ProfilePatch struct {
	DisplayName *string `json:"display_name,omitempty"`
	AvatarURL   *string `json:"avatar_url,omitempty"`
	Bio         *string `json:"bio,omitempty"`
}

// Columns returns the column updates described by the patch.
func (p ProfilePatch) Columns() map[string]any {
	cols := make(map[string]any, 3)
	if p.DisplayName != nil {
		cols["display_name"] = *p.DisplayName
	}
	if p.AvatarURL != nil {
		cols["avatar_url"] = *p.AvatarURL
	}
	if p.Bio != nil {
		cols["bio"] = *p.Bio
	}
	return cols
}

// Empty reports whether the patch changes nothing.
func (p ProfilePatch) Empty() bool {
	return p.DisplayName == nil && p.AvatarURL == nil && p.Bio == nil
}
