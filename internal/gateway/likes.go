package gateway

import (
	"context"

	"spark/internal/models"
	"spark/internal/realtime"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) likeScope(ctx context.Context, q LikeQuery) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&models.Like{})
	if len(q.PostIDs) > 0 {
		tx = tx.Where("post_id IN ?", q.PostIDs)
	}
	if q.UserID != "" {
		tx = tx.Where("user_id = ?", q.UserID)
	}
	return tx
}

func (s *Store) ListLikes(ctx context.Context, q LikeQuery) (likes []models.Like, err error) {
	ctx, finish := s.observe(ctx, "list_likes", realtime.TableLikes)
	defer finish(&err)

	if err := s.likeScope(ctx, q).Find(&likes).Error; err != nil {
		return nil, translate("list likes", "like", "", err)
	}
	return likes, nil
}

func (s *Store) CountLikes(ctx context.Context, q LikeQuery) (_ int, err error) {
	ctx, finish := s.observe(ctx, "count_likes", realtime.TableLikes)
	defer finish(&err)

	var n int64
	if err := s.likeScope(ctx, q).Count(&n).Error; err != nil {
		return 0, translate("count likes", "like", "", err)
	}
	return int(n), nil
}

// InsertLike is idempotent; an existing edge publishes nothing.
func (s *Store) InsertLike(ctx context.Context, postID, userID string) (err error) {
	ctx, finish := s.observe(ctx, "insert_like", realtime.TableLikes)
	defer finish(&err)

	if userID == "" {
		return models.NewUnauthenticatedError("liking a post")
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Like{PostID: postID, UserID: userID})
	if res.Error != nil {
		return translate("insert like", "post", postID, res.Error)
	}
	if res.RowsAffected > 0 {
		s.publish(ctx, realtime.TableLikes, realtime.EventInsert, likeRow(postID, userID))
	}
	return nil
}

func (s *Store) DeleteLike(ctx context.Context, postID, userID string) (err error) {
	ctx, finish := s.observe(ctx, "delete_like", realtime.TableLikes)
	defer finish(&err)

	if userID == "" {
		return models.NewUnauthenticatedError("unliking a post")
	}
	res := s.db.WithContext(ctx).
		Where("post_id = ? AND user_id = ?", postID, userID).
		Delete(&models.Like{})
	if res.Error != nil {
		return translate("delete like", "post", postID, res.Error)
	}
	if res.RowsAffected > 0 {
		s.publish(ctx, realtime.TableLikes, realtime.EventDelete, likeRow(postID, userID))
	}
	return nil
}

func likeRow(postID, userID string) map[string]string {
	return map[string]string{"post_id": postID, "user_id": userID}
}
