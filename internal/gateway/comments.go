package gateway

import (
	"context"

	"spark/internal/models"
	"spark/internal/realtime"

	"gorm.io/gorm"
)

func (s *Store) ListComments(ctx context.Context, q CommentQuery) (comments []models.Comment, err error) {
	ctx, finish := s.observe(ctx, "list_comments", realtime.TableComments)
	defer finish(&err)

	if len(q.PostIDs) == 0 {
		return nil, nil
	}
	tx := s.db.WithContext(ctx).Where("post_id IN ?", q.PostIDs)
	if q.WithAuthor {
		tx = tx.Preload("Author")
	} else {
		tx = tx.Select("id", "post_id", "user_id", "created_at")
	}
	if err := tx.Order("created_at ASC").Find(&comments).Error; err != nil {
		return nil, translate("list comments", "comment", "", err)
	}
	return comments, nil
}

func (s *Store) CountComments(ctx context.Context, postID string) (_ int, err error) {
	ctx, finish := s.observe(ctx, "count_comments", realtime.TableComments)
	defer finish(&err)

	var n int64
	if err := s.db.WithContext(ctx).Model(&models.Comment{}).Where("post_id = ?", postID).Count(&n).Error; err != nil {
		return 0, translate("count comments", "comment", "", err)
	}
	return int(n), nil
}

func (s *Store) InsertComment(ctx context.Context, comment *models.Comment) (err error) {
	ctx, finish := s.observe(ctx, "insert_comment", realtime.TableComments)
	defer finish(&err)

	if comment.UserID == "" {
		return models.NewUnauthenticatedError("commenting")
	}
	comment.Author = nil
	comment.Post = nil
	if err := s.db.WithContext(ctx).Create(comment).Error; err != nil {
		return translate("insert comment", "post", comment.PostID, err)
	}
	s.publish(ctx, realtime.TableComments, realtime.EventInsert, commentRow(comment))
	return nil
}

func (s *Store) DeleteComment(ctx context.Context, viewerID, commentID string) (err error) {
	ctx, finish := s.observe(ctx, "delete_comment", realtime.TableComments)
	defer finish(&err)

	if viewerID == "" {
		return models.NewUnauthenticatedError("deleting a comment")
	}

	var comment models.Comment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&comment, "id = ?", commentID).Error; err != nil {
			return err
		}
		if comment.UserID != viewerID {
			return models.NewForbiddenError("only the author can delete a comment")
		}
		return tx.Delete(&models.Comment{}, "id = ?", commentID).Error
	})
	if err != nil {
		return translate("delete comment", "comment", commentID, err)
	}

	s.publish(ctx, realtime.TableComments, realtime.EventDelete, commentRow(&comment))
	return nil
}

func commentRow(c *models.Comment) map[string]string {
	return map[string]string{
		"id":      c.ID,
		"post_id": c.PostID,
		"user_id": c.UserID,
	}
}
