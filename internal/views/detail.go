package views

import (
	"context"
	"time"

	"spark/internal/gateway"
	"spark/internal/identity"
	"spark/internal/models"
	"spark/internal/observability"
	"spark/internal/realtime"

	"golang.org/x/sync/errgroup"
)

// PostDetail materializes a single post with its counters.
type PostDetail struct {
	state

	gw       gateway.Gateway
	identity identity.Provider
	postID   string
	ctrl     *Controller
	rec      *Reconciler

	// Guarded by state.mu.
	post    *models.Post
	removed bool
}

// NewPostDetail builds an inactive detail view of postID.
func NewPostDetail(gw gateway.Gateway, source realtime.Subscriber, ident identity.Provider, postID string, debounce time.Duration) *PostDetail {
	if ident == nil {
		ident = identity.Anonymous{}
	}
	d := &PostDetail{
		gw:       gw,
		identity: ident,
		postID:   postID,
		ctrl:     NewController("post_detail"),
	}
	d.init("post_detail")
	d.rec = NewReconciler(source, "post_detail", debounce, d.relevant, d.Refresh)
	return d
}

// Filters returns the change subscriptions the detail view holds while active.
func (d *PostDetail) Filters(context.Context) []realtime.Filter {
	return []realtime.Filter{
		realtime.RowFilter(realtime.TablePosts, "id", d.postID),
		realtime.RowFilter(realtime.TableLikes, "post_id", d.postID),
		realtime.RowFilter(realtime.TableComments, "post_id", d.postID),
	}
}

func (d *PostDetail) Activate(ctx context.Context) error {
	if err := d.rec.Start(ctx, d.Filters(ctx)); err != nil {
		return err
	}
	d.log.LogLifecycle(ctx, "activate", map[string]any{"post_id": d.postID})
	d.Refresh(ctx)
	return nil
}

func (d *PostDetail) Deactivate() {
	d.rec.Stop()
	d.log.LogLifecycle(context.Background(), "deactivate", map[string]any{"post_id": d.postID})
}

// Refresh refetches the post and its counters. A missing post is a valid
// state, not an error.
func (d *PostDetail) Refresh(ctx context.Context) {
	if d.Removed() {
		return
	}
	viewerID, _ := d.identity.ViewerID(ctx)
	d.refresh(ctx, func(ctx context.Context) (fetchResult, error) {
		return d.fetch(ctx, viewerID)
	})
}

func (d *PostDetail) fetch(ctx context.Context, viewerID string) (fetchResult, error) {
	post, err := d.gw.GetPost(ctx, d.postID)
	if err != nil {
		if models.ErrorCode(err) == models.CodeNotFound {
			return fetchResult{
				install: func() { d.post = nil },
				outcome: observability.OutcomeNotFound,
			}, nil
		}
		return fetchResult{}, err
	}

	ids := []string{d.postID}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := d.gw.CountLikes(gctx, gateway.LikeQuery{PostIDs: ids})
		post.LikesCount = n
		return err
	})
	g.Go(func() error {
		n, err := d.gw.CountComments(gctx, d.postID)
		post.CommentsCount = n
		return err
	})
	if viewerID != "" {
		g.Go(func() error {
			n, err := d.gw.CountLikes(gctx, gateway.LikeQuery{PostIDs: ids, UserID: viewerID})
			post.ViewerHasLiked = n > 0
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fetchResult{}, err
	}
	return fetchResult{install: func() { d.post = post }}, nil
}

// Post returns a copy of the post; false while not loaded, missing or removed.
func (d *PostDetail) Post() (models.Post, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.post == nil {
		return models.Post{}, false
	}
	return d.post.Clone(), true
}

// Found reports whether the last settled fetch found the post.
func (d *PostDetail) Found() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.post != nil
}

// Removed reports whether the post was deleted while shown.
func (d *PostDetail) Removed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.removed
}

// ToggleLike flips the viewer's like locally, then confirms it.
func (d *PostDetail) ToggleLike(ctx context.Context) error {
	viewerID, ok := d.identity.ViewerID(ctx)
	if !ok {
		return models.NewUnauthenticatedError("liking a post")
	}
	return d.ctrl.Run(ctx, "toggle_like", d.postID, func() (transition, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.post == nil {
			return transition{}, models.NewNotFoundError("post", d.postID)
		}
		was := flipLike(d.post)
		installs := d.installs
		d.changed.broadcast()

		return transition{
			remote: likeRemote(d.gw, d.postID, viewerID, was),
			undo: func() {
				d.mu.Lock()
				defer d.mu.Unlock()
				if d.installs != installs || d.post == nil {
					return
				}
				restoreLike(d.post, was)
				d.changed.broadcast()
			},
		}, nil
	})
}

// Delete removes the viewer's post; the view becomes removed.
func (d *PostDetail) Delete(ctx context.Context) error {
	viewerID, ok := d.identity.ViewerID(ctx)
	if !ok {
		return models.NewUnauthenticatedError("deleting a post")
	}
	if err := d.gw.DeletePost(ctx, viewerID, d.postID); err != nil {
		d.log.LogMutation(ctx, "delete_post", err, map[string]any{"post_id": d.postID})
		return err
	}
	d.markRemoved()
	d.log.LogMutation(ctx, "delete_post", nil, map[string]any{"post_id": d.postID})
	return nil
}

func (d *PostDetail) markRemoved() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.removed {
		return
	}
	d.invalidate()
	d.removed = true
	d.post = nil
	d.changed.broadcast()
}

func (d *PostDetail) relevant(ev realtime.Event) bool {
	if ev.Table == realtime.TablePosts && ev.Type == realtime.EventDelete {
		d.markRemoved()
		return false
	}
	return true
}
