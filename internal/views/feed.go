package views

import (
	"context"
	"fmt"
	"time"

	"spark/internal/gateway"
	"spark/internal/identity"
	"spark/internal/models"
	"spark/internal/observability"
	"spark/internal/realtime"
)

// FeedMode selects which posts a feed shows.
type FeedMode string

const (
	ModeGlobal    FeedMode = "global"
	ModeFollowing FeedMode = "following"
	ModeAuthor    FeedMode = "author"
)

// FeedOptions configures a Feed. AuthorID is required in author mode.
type FeedOptions struct {
	Mode     FeedMode
	AuthorID string
	PageSize int
	Debounce time.Duration
}

// Feed materializes a list of posts with like and comment counters.
type Feed struct {
	state

	gw       gateway.Gateway
	identity identity.Provider
	opts     FeedOptions
	ctrl     *Controller
	rec      *Reconciler

	// Guarded by state.mu.
	posts     []models.Post
	viewerID  string
	following map[string]struct{}
}

// NewFeed builds an inactive feed; call Activate to subscribe and load.
func NewFeed(gw gateway.Gateway, source realtime.Subscriber, ident identity.Provider, opts FeedOptions) (*Feed, error) {
	switch opts.Mode {
	case "":
		opts.Mode = ModeGlobal
	case ModeGlobal, ModeFollowing:
	case ModeAuthor:
		if opts.AuthorID == "" {
			return nil, models.NewValidationError("author feed requires an author")
		}
	default:
		return nil, models.NewValidationError(fmt.Sprintf("unknown feed mode %q", opts.Mode))
	}
	if opts.PageSize <= 0 {
		opts.PageSize = gateway.DefaultLimit
	}
	if ident == nil {
		ident = identity.Anonymous{}
	}

	name := "feed_" + string(opts.Mode)
	f := &Feed{
		gw:       gw,
		identity: ident,
		opts:     opts,
		ctrl:     NewController(name),
	}
	f.init(name)
	f.rec = NewReconciler(source, name, opts.Debounce, f.relevant, f.Refresh)
	return f, nil
}

// Mode returns the feed mode.
func (f *Feed) Mode() FeedMode { return f.opts.Mode }

// Activate subscribes to changes, then performs the first load.
func (f *Feed) Activate(ctx context.Context) error {
	if err := f.rec.Start(ctx, f.Filters(ctx)); err != nil {
		return err
	}
	f.log.LogLifecycle(ctx, "activate", map[string]any{"mode": string(f.opts.Mode)})
	f.Refresh(ctx)
	return nil
}

// Deactivate releases every subscription and waits for pending reconciliation.
func (f *Feed) Deactivate() {
	f.rec.Stop()
	f.log.LogLifecycle(context.Background(), "deactivate", nil)
}

// Filters returns the change subscriptions the feed holds while active for
// the viewer resolved from ctx.
func (f *Feed) Filters(ctx context.Context) []realtime.Filter {
	viewerID, _ := f.identity.ViewerID(ctx)
	filters := []realtime.Filter{
		realtime.TableFilter(realtime.TableLikes),
		realtime.TableFilter(realtime.TableComments),
	}
	switch f.opts.Mode {
	case ModeAuthor:
		filters = append(filters, realtime.RowFilter(realtime.TablePosts, "user_id", f.opts.AuthorID))
	default:
		filters = append(filters, realtime.TableFilter(realtime.TablePosts))
	}
	if f.opts.Mode == ModeFollowing && viewerID != "" {
		filters = append(filters, realtime.RowFilter(realtime.TableFollows, "follower_id", viewerID))
	}
	return filters
}

// Refresh refetches the feed for the current viewer.
func (f *Feed) Refresh(ctx context.Context) {
	viewerID, _ := f.identity.ViewerID(ctx)
	f.refresh(ctx, func(ctx context.Context) (fetchResult, error) {
		return f.fetch(ctx, viewerID)
	})
}

func (f *Feed) fetch(ctx context.Context, viewerID string) (fetchResult, error) {
	q := gateway.PostQuery{Limit: f.opts.PageSize}
	var following map[string]struct{}

	switch f.opts.Mode {
	case ModeFollowing:
		if viewerID == "" {
			// Without a viewer there is no follow graph; show the global list.
			break
		}
		following = make(map[string]struct{})
		edges, err := f.gw.ListFollows(ctx, gateway.FollowQuery{FollowerID: viewerID})
		if err != nil {
			return fetchResult{}, err
		}
		for _, e := range edges {
			following[e.FollowingID] = struct{}{}
		}
		if len(following) == 0 {
			return fetchResult{
				install: func() { f.install(nil, viewerID, following) },
				outcome: observability.OutcomeShortCircuit,
			}, nil
		}
		q.AuthorIDs = make([]string, 0, len(following))
		for id := range following {
			q.AuthorIDs = append(q.AuthorIDs, id)
		}
	case ModeAuthor:
		q.AuthorIDs = []string{f.opts.AuthorID}
	}

	posts, err := f.gw.ListPosts(ctx, q)
	if err != nil {
		return fetchResult{}, err
	}
	if err := enrichPosts(ctx, f.gw, posts, viewerID); err != nil {
		return fetchResult{}, err
	}
	return fetchResult{install: func() { f.install(posts, viewerID, following) }}, nil
}

func (f *Feed) install(posts []models.Post, viewerID string, following map[string]struct{}) {
	if posts == nil {
		posts = []models.Post{}
	}
	f.posts = posts
	f.viewerID = viewerID
	f.following = following
}

// Posts returns a copy of the current snapshot, newest first.
func (f *Feed) Posts() []models.Post {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]models.Post, len(f.posts))
	for i := range f.posts {
		out[i] = f.posts[i].Clone()
	}
	return out
}

// Post returns one post of the snapshot.
func (f *Feed) Post(postID string) (models.Post, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if i := f.indexOf(postID); i >= 0 {
		return f.posts[i].Clone(), true
	}
	return models.Post{}, false
}

// indexOf requires mu.
func (f *Feed) indexOf(postID string) int {
	for i := range f.posts {
		if f.posts[i].ID == postID {
			return i
		}
	}
	return -1
}

// ToggleLike flips the viewer's like on postID locally, then confirms it with
// the store. A failed confirmation is rolled back and returned.
func (f *Feed) ToggleLike(ctx context.Context, postID string) error {
	viewerID, ok := f.identity.ViewerID(ctx)
	if !ok {
		return models.NewUnauthenticatedError("liking a post")
	}
	return f.ctrl.Run(ctx, "toggle_like", postID, func() (transition, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		i := f.indexOf(postID)
		if i < 0 {
			return transition{}, models.NewNotFoundError("post", postID)
		}
		was := flipLike(&f.posts[i])
		installs := f.installs
		f.changed.broadcast()

		return transition{
			remote: likeRemote(f.gw, postID, viewerID, was),
			undo: func() {
				f.mu.Lock()
				defer f.mu.Unlock()
				if f.installs != installs {
					return
				}
				if j := f.indexOf(postID); j >= 0 {
					restoreLike(&f.posts[j], was)
					f.changed.broadcast()
				}
			},
		}, nil
	})
}

// Create publishes a post as the viewer and refetches.
func (f *Feed) Create(ctx context.Context, content, imageURL string) error {
	viewerID, ok := f.identity.ViewerID(ctx)
	if !ok {
		return models.NewUnauthenticatedError("creating a post")
	}
	post := &models.Post{UserID: viewerID, Content: content, ImageURL: imageURL}
	if err := f.gw.InsertPost(ctx, post); err != nil {
		f.log.LogMutation(ctx, "create_post", err, nil)
		return err
	}
	f.log.LogMutation(ctx, "create_post", nil, map[string]any{"post_id": post.ID})
	f.Refresh(ctx)
	return nil
}

// Delete removes the viewer's post and drops it from the snapshot without a
// refetch.
func (f *Feed) Delete(ctx context.Context, postID string) error {
	viewerID, ok := f.identity.ViewerID(ctx)
	if !ok {
		return models.NewUnauthenticatedError("deleting a post")
	}
	if err := f.gw.DeletePost(ctx, viewerID, postID); err != nil {
		f.log.LogMutation(ctx, "delete_post", err, map[string]any{"post_id": postID})
		return err
	}
	f.remove(postID)
	f.log.LogMutation(ctx, "delete_post", nil, map[string]any{"post_id": postID})
	return nil
}

func (f *Feed) remove(postID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loading {
		// The discarded fetch is replaced once the delete has settled.
		f.rec.Notify()
	}
	f.invalidate()
	i := f.indexOf(postID)
	if i < 0 {
		return
	}
	f.posts = append(f.posts[:i:i], f.posts[i+1:]...)
	f.changed.broadcast()
}

// relevant decides whether ev concerns this feed. Deletes of shown posts are
// applied locally instead of refetching. While a fetch is in flight the
// snapshot cannot tell which posts it will install, so post-scoped events
// count as relevant and schedule another refetch.
func (f *Feed) relevant(ev realtime.Event) bool {
	if ev.Type == realtime.EventResync {
		return true
	}

	switch ev.Table {
	case realtime.TablePosts:
		postID := ev.Value("id")
		if ev.Type == realtime.EventDelete {
			if f.tracks(postID) {
				f.remove(postID)
			}
			return false
		}
		if ev.Type == realtime.EventInsert {
			return f.matchesMode(ev.Value("user_id"))
		}
		return f.tracks(postID)
	case realtime.TableLikes, realtime.TableComments:
		return f.tracks(ev.Value("post_id"))
	case realtime.TableFollows:
		if f.opts.Mode != ModeFollowing {
			return false
		}
		f.mu.RLock()
		defer f.mu.RUnlock()
		return f.viewerID != "" && ev.Value("follower_id") == f.viewerID
	}
	return false
}

// tracks reports whether postID is shown or may be installed by the fetch in
// flight.
func (f *Feed) tracks(postID string) bool {
	if postID == "" {
		return false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.loading || f.indexOf(postID) >= 0
}

func (f *Feed) matchesMode(authorID string) bool {
	switch f.opts.Mode {
	case ModeAuthor:
		return authorID == f.opts.AuthorID
	case ModeFollowing:
		f.mu.RLock()
		defer f.mu.RUnlock()
		if f.loading || f.viewerID == "" {
			return true
		}
		_, ok := f.following[authorID]
		return ok
	default:
		return true
	}
}
