package gateway

import (
	"context"

	"spark/internal/cache"
	"spark/internal/models"
	"spark/internal/realtime"

	"gorm.io/gorm"
)

func (s *Store) ListPosts(ctx context.Context, q PostQuery) (posts []models.Post, err error) {
	ctx, finish := s.observe(ctx, "list_posts", realtime.TablePosts)
	defer finish(&err)

	limit := q.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	tx := s.db.WithContext(ctx).Preload("Author")
	if len(q.IDs) > 0 {
		tx = tx.Where("id IN ?", q.IDs)
	}
	if len(q.AuthorIDs) > 0 {
		tx = tx.Where("user_id IN ?", q.AuthorIDs)
	}
	if err := tx.Order("created_at DESC").Limit(limit).Find(&posts).Error; err != nil {
		return nil, translate("list posts", "post", "", err)
	}
	return posts, nil
}

// GetPost returns the post with its author. Base rows are served through the
// cache; the author is attached from the profile cache.
func (s *Store) GetPost(ctx context.Context, postID string) (_ *models.Post, err error) {
	ctx, finish := s.observe(ctx, "get_post", realtime.TablePosts)
	defer finish(&err)

	var post models.Post
	err = s.cache.Aside(ctx, cache.PostKey(postID), &post, cache.PostTTL, func() error {
		return s.db.WithContext(ctx).First(&post, "id = ?", postID).Error
	})
	if err != nil {
		return nil, translate("get post", "post", postID, err)
	}

	author, err := s.GetProfile(ctx, post.UserID)
	switch {
	case err == nil:
		post.Author = author
	case models.ErrorCode(err) != models.CodeNotFound:
		return nil, err
	}
	return &post, nil
}

func (s *Store) CountPosts(ctx context.Context, authorID string) (_ int, err error) {
	ctx, finish := s.observe(ctx, "count_posts", realtime.TablePosts)
	defer finish(&err)

	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Post{}).Where("user_id = ?", authorID).Count(&n).Error; err != nil {
		return 0, translate("count posts", "post", "", err)
	}
	return int(n), nil
}

func (s *Store) InsertPost(ctx context.Context, post *models.Post) (err error) {
	ctx, finish := s.observe(ctx, "insert_post", realtime.TablePosts)
	defer finish(&err)

	if post.UserID == "" {
		return models.NewUnauthenticatedError("creating a post")
	}
	post.Author = nil
	if err := s.db.WithContext(ctx).Create(post).Error; err != nil {
		return translate("insert post", "profile", post.UserID, err)
	}
	s.publish(ctx, realtime.TablePosts, realtime.EventInsert, map[string]string{
		"id":      post.ID,
		"user_id": post.UserID,
	})
	return nil
}

func (s *Store) DeletePost(ctx context.Context, viewerID, postID string) (err error) {
	ctx, finish := s.observe(ctx, "delete_post", realtime.TablePosts)
	defer finish(&err)

	if viewerID == "" {
		return models.NewUnauthenticatedError("deleting a post")
	}

	var post models.Post
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&post, "id = ?", postID).Error; err != nil {
			return err
		}
		if post.UserID != viewerID {
			return models.NewForbiddenError("only the author can delete a post")
		}
		if err := tx.Where("post_id = ?", postID).Delete(&models.Like{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", postID).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Post{}, "id = ?", postID).Error
	})
	if err != nil {
		return translate("delete post", "post", postID, err)
	}

	s.cache.InvalidatePost(ctx, postID)
	s.publish(ctx, realtime.TablePosts, realtime.EventDelete, map[string]string{
		"id":      postID,
		"user_id": post.UserID,
	})
	return nil
}
