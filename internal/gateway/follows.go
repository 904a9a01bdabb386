package gateway

import (
	"context"

	"spark/internal/models"
	"spark/internal/realtime"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func (s *Store) followScope(ctx context.Context, q FollowQuery) *gorm.DB {
	tx := s.db.WithContext(ctx).Model(&models.Follow{})
	if q.FollowerID != "" {
		tx = tx.Where("follower_id = ?", q.FollowerID)
	}
	if q.FollowingID != "" {
		tx = tx.Where("following_id = ?", q.FollowingID)
	}
	return tx
}

func (s *Store) ListFollows(ctx context.Context, q FollowQuery) (follows []models.Follow, err error) {
	ctx, finish := s.observe(ctx, "list_follows", realtime.TableFollows)
	defer finish(&err)

	if err := s.followScope(ctx, q).Find(&follows).Error; err != nil {
		return nil, translate("list follows", "follow", "", err)
	}
	return follows, nil
}

func (s *Store) CountFollows(ctx context.Context, q FollowQuery) (_ int, err error) {
	ctx, finish := s.observe(ctx, "count_follows", realtime.TableFollows)
	defer finish(&err)

	var n int64
	if err := s.followScope(ctx, q).Count(&n).Error; err != nil {
		return 0, translate("count follows", "follow", "", err)
	}
	return int(n), nil
}

func (s *Store) InsertFollow(ctx context.Context, followerID, followingID string) (err error) {
	ctx, finish := s.observe(ctx, "insert_follow", realtime.TableFollows)
	defer finish(&err)

	if followerID == "" {
		return models.NewUnauthenticatedError("following")
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Follow{FollowerID: followerID, FollowingID: followingID})
	if res.Error != nil {
		return translate("insert follow", "profile", followingID, res.Error)
	}
	if res.RowsAffected > 0 {
		s.publish(ctx, realtime.TableFollows, realtime.EventInsert, followRow(followerID, followingID))
	}
	return nil
}

func (s *Store) DeleteFollow(ctx context.Context, followerID, followingID string) (err error) {
	ctx, finish := s.observe(ctx, "delete_follow", realtime.TableFollows)
	defer finish(&err)

	if followerID == "" {
		return models.NewUnauthenticatedError("unfollowing")
	}
	res := s.db.WithContext(ctx).
		Where("follower_id = ? AND following_id = ?", followerID, followingID).
		Delete(&models.Follow{})
	if res.Error != nil {
		return translate("delete follow", "profile", followingID, res.Error)
	}
	if res.RowsAffected > 0 {
		s.publish(ctx, realtime.TableFollows, realtime.EventDelete, followRow(followerID, followingID))
	}
	return nil
}

func followRow(followerID, followingID string) map[string]string {
	return map[string]string{"follower_id": followerID, "following_id": followingID}
}
