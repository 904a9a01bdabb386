package models

import "time"

// Like is an existence-only edge between a post and the user who liked it.
// The (PostID, UserID) pair is the identity of the edge.
type Like struct {
	PostID    string    `gorm:"type:uuid;primaryKey" json:"post_id"`
	UserID    string    `gorm:"type:uuid;primaryKey;index" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`

	Post *Post    `gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE" json:"-"`
	User *Profile `gorm:"foreignKey:UserID" json:"-"`
}

// TableName specifies the table name for GORM
func (Like) TableName() string {
	return "likes"
}

// Follow is an existence-only edge from follower to followee.
// Self-follows are suppressed by callers, not by the store.
type Follow struct {
	FollowerID  string    `gorm:"type:uuid;primaryKey" json:"follower_id"`
	FollowingID string    `gorm:"type:uuid;primaryKey;index" json:"following_id"`
	CreatedAt   time.Time `json:"created_at"`

	Follower  *Profile `gorm:"foreignKey:FollowerID" json:"-"`
	Following *Profile `gorm:"foreignKey:FollowingID" json:"-"`
}

// TableName specifies the table name for GORM
func (Follow) TableName() string {
	return "follows"
}
