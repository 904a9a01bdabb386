// Package gateway is the remote data gateway the views read from and write to.
package gateway

import (
	"context"

	"spark/internal/models"
)

// DefaultLimit bounds post lists when the query has no limit.
const DefaultLimit = 50

// PostQuery selects posts newest first. Empty IDs and AuthorIDs mean no
// filter on that column.
type PostQuery struct {
	IDs       []string
	AuthorIDs []string
	Limit     int
}

// CommentQuery selects comments oldest first. Without WithAuthor only the
// identity columns are read.
type CommentQuery struct {
	PostIDs    []string
	WithAuthor bool
}

// LikeQuery selects like edges. Empty fields mean no filter.
type LikeQuery struct {
	PostIDs []string
	UserID  string
}

// FollowQuery selects follow edges. Empty fields mean no filter.
type FollowQuery struct {
	FollowerID  string
	FollowingID string
}

type PostGateway interface {
	ListPosts(ctx context.Context, q PostQuery) ([]models.Post, error)
	GetPost(ctx context.Context, postID string) (*models.Post, error)
	CountPosts(ctx context.Context, authorID string) (int, error)
	InsertPost(ctx context.Context, post *models.Post) error
	// DeletePost removes a post owned by viewerID with its likes and comments.
	DeletePost(ctx context.Context, viewerID, postID string) error
}

type CommentGateway interface {
	ListComments(ctx context.Context, q CommentQuery) ([]models.Comment, error)
	CountComments(ctx context.Context, postID string) (int, error)
	InsertComment(ctx context.Context, comment *models.Comment) error
	DeleteComment(ctx context.Context, viewerID, commentID string) error
}

type LikeGateway interface {
	ListLikes(ctx context.Context, q LikeQuery) ([]models.Like, error)
	CountLikes(ctx context.Context, q LikeQuery) (int, error)
	InsertLike(ctx context.Context, postID, userID string) error
	DeleteLike(ctx context.Context, postID, userID string) error
}

type ProfileGateway interface {
	GetProfile(ctx context.Context, profileID string) (*models.Profile, error)
	InsertProfile(ctx context.Context, profile *models.Profile) error
	// UpdateProfile applies patch to targetID, which must be viewerID.
	UpdateProfile(ctx context.Context, viewerID, targetID string, patch models.ProfilePatch) error
}

type FollowGateway interface {
	ListFollows(ctx context.Context, q FollowQuery) ([]models.Follow, error)
	CountFollows(ctx context.Context, q FollowQuery) (int, error)
	InsertFollow(ctx context.Context, followerID, followingID string) error
	DeleteFollow(ctx context.Context, followerID, followingID string) error
}

// Gateway is the full read and write surface of the store.
type Gateway interface {
	PostGateway
	CommentGateway
	LikeGateway
	ProfileGateway
	FollowGateway
}
