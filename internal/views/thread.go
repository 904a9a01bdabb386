package views

import (
	"context"
	"time"

	"spark/internal/gateway"
	"spark/internal/identity"
	"spark/internal/models"
	"spark/internal/realtime"
)

// Thread materializes the comments of one post, oldest first.
type Thread struct {
	state

	gw       gateway.Gateway
	identity identity.Provider
	postID   string
	rec      *Reconciler

	// Guarded by state.mu.
	comments []models.Comment
	removed  bool
}

// NewThread builds an inactive thread for postID.
func NewThread(gw gateway.Gateway, source realtime.Subscriber, ident identity.Provider, postID string, debounce time.Duration) *Thread {
	if ident == nil {
		ident = identity.Anonymous{}
	}
	t := &Thread{gw: gw, identity: ident, postID: postID}
	t.init("thread")
	t.rec = NewReconciler(source, "thread", debounce, t.relevant, t.Refresh)
	return t
}

// PostID returns the post the thread belongs to.
func (t *Thread) PostID() string { return t.postID }

// Filters returns the change subscriptions the thread holds while active.
func (t *Thread) Filters(context.Context) []realtime.Filter {
	return []realtime.Filter{
		realtime.RowFilter(realtime.TableComments, "post_id", t.postID),
		realtime.RowFilter(realtime.TablePosts, "id", t.postID, realtime.EventDelete),
	}
}

func (t *Thread) Activate(ctx context.Context) error {
	if err := t.rec.Start(ctx, t.Filters(ctx)); err != nil {
		return err
	}
	t.log.LogLifecycle(ctx, "activate", map[string]any{"post_id": t.postID})
	t.Refresh(ctx)
	return nil
}

func (t *Thread) Deactivate() {
	t.rec.Stop()
	t.log.LogLifecycle(context.Background(), "deactivate", map[string]any{"post_id": t.postID})
}

// Refresh refetches the comments. A removed thread stays empty.
func (t *Thread) Refresh(ctx context.Context) {
	if t.Removed() {
		return
	}
	t.refresh(ctx, func(ctx context.Context) (fetchResult, error) {
		comments, err := t.gw.ListComments(ctx, gateway.CommentQuery{PostIDs: []string{t.postID}, WithAuthor: true})
		if err != nil {
			return fetchResult{}, err
		}
		if comments == nil {
			comments = []models.Comment{}
		}
		return fetchResult{install: func() { t.comments = comments }}, nil
	})
}

// Comments returns a copy of the snapshot.
func (t *Thread) Comments() []models.Comment {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.Comment, len(t.comments))
	for i := range t.comments {
		out[i] = t.comments[i].Clone()
	}
	return out
}

// Removed reports whether the post was deleted while the thread was shown.
func (t *Thread) Removed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.removed
}

// Add posts a comment as the viewer and refetches.
func (t *Thread) Add(ctx context.Context, content string) error {
	viewerID, ok := t.identity.ViewerID(ctx)
	if !ok {
		return models.NewUnauthenticatedError("commenting")
	}
	c := &models.Comment{PostID: t.postID, UserID: viewerID, Content: content}
	if err := t.gw.InsertComment(ctx, c); err != nil {
		t.log.LogMutation(ctx, "add_comment", err, map[string]any{"post_id": t.postID})
		return err
	}
	t.log.LogMutation(ctx, "add_comment", nil, map[string]any{"comment_id": c.ID})
	t.Refresh(ctx)
	return nil
}

// Remove deletes the viewer's comment and drops it locally.
func (t *Thread) Remove(ctx context.Context, commentID string) error {
	viewerID, ok := t.identity.ViewerID(ctx)
	if !ok {
		return models.NewUnauthenticatedError("deleting a comment")
	}
	if err := t.gw.DeleteComment(ctx, viewerID, commentID); err != nil {
		t.log.LogMutation(ctx, "remove_comment", err, map[string]any{"comment_id": commentID})
		return err
	}

	t.mu.Lock()
	if t.loading {
		t.rec.Notify()
	}
	t.invalidate()
	for i := range t.comments {
		if t.comments[i].ID == commentID {
			t.comments = append(t.comments[:i:i], t.comments[i+1:]...)
			break
		}
	}
	t.changed.broadcast()
	t.mu.Unlock()

	t.log.LogMutation(ctx, "remove_comment", nil, map[string]any{"comment_id": commentID})
	return nil
}

func (t *Thread) markRemoved() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.removed {
		return
	}
	t.invalidate()
	t.removed = true
	t.comments = []models.Comment{}
	t.changed.broadcast()
}

func (t *Thread) relevant(ev realtime.Event) bool {
	if ev.Table == realtime.TablePosts && ev.Type == realtime.EventDelete {
		t.markRemoved()
		return false
	}
	return true
}
