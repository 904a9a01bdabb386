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

// Profile materializes one profile with its follow counters and the viewer's
// relationship to it.
type Profile struct {
	state

	gw        gateway.Gateway
	identity  identity.Provider
	subjectID string
	ctrl      *Controller
	rec       *Reconciler

	// Guarded by state.mu.
	profile *models.Profile
}

// NewProfile builds an inactive relationship view of subjectID.
func NewProfile(gw gateway.Gateway, source realtime.Subscriber, ident identity.Provider, subjectID string, debounce time.Duration) *Profile {
	if ident == nil {
		ident = identity.Anonymous{}
	}
	p := &Profile{
		gw:        gw,
		identity:  ident,
		subjectID: subjectID,
		ctrl:      NewController("profile"),
	}
	p.init("profile")
	p.rec = NewReconciler(source, "profile", debounce, func(realtime.Event) bool { return true }, p.Refresh)
	return p
}

// SubjectID returns the profile being shown.
func (p *Profile) SubjectID() string { return p.subjectID }

// Filters returns the change subscriptions the profile holds while active.
// A profile without a subject subscribes to nothing.
func (p *Profile) Filters(context.Context) []realtime.Filter {
	if p.subjectID == "" {
		return nil
	}
	return []realtime.Filter{
		realtime.RowFilter(realtime.TableProfiles, "id", p.subjectID),
		realtime.RowFilter(realtime.TableFollows, "following_id", p.subjectID),
		realtime.RowFilter(realtime.TableFollows, "follower_id", p.subjectID),
		realtime.RowFilter(realtime.TablePosts, "user_id", p.subjectID),
	}
}

func (p *Profile) Activate(ctx context.Context) error {
	if p.subjectID != "" {
		if err := p.rec.Start(ctx, p.Filters(ctx)); err != nil {
			return err
		}
	}
	p.log.LogLifecycle(ctx, "activate", map[string]any{"subject_id": p.subjectID})
	p.Refresh(ctx)
	return nil
}

func (p *Profile) Deactivate() {
	p.rec.Stop()
	p.log.LogLifecycle(context.Background(), "deactivate", map[string]any{"subject_id": p.subjectID})
}

// Refresh refetches the base row, then the counters concurrently.
func (p *Profile) Refresh(ctx context.Context) {
	if p.subjectID == "" {
		return
	}
	viewerID, _ := p.identity.ViewerID(ctx)
	p.refresh(ctx, func(ctx context.Context) (fetchResult, error) {
		return p.fetch(ctx, viewerID)
	})
}

func (p *Profile) fetch(ctx context.Context, viewerID string) (fetchResult, error) {
	base, err := p.gw.GetProfile(ctx, p.subjectID)
	if err != nil {
		if models.ErrorCode(err) == models.CodeNotFound {
			return fetchResult{
				install: func() { p.profile = nil },
				outcome: observability.OutcomeNotFound,
			}, nil
		}
		return fetchResult{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := p.gw.CountFollows(gctx, gateway.FollowQuery{FollowingID: p.subjectID})
		base.FollowersCount = n
		return err
	})
	g.Go(func() error {
		n, err := p.gw.CountFollows(gctx, gateway.FollowQuery{FollowerID: p.subjectID})
		base.FollowingCount = n
		return err
	})
	g.Go(func() error {
		n, err := p.gw.CountPosts(gctx, p.subjectID)
		base.PostsCount = n
		return err
	})
	if viewerID != "" && viewerID != p.subjectID {
		g.Go(func() error {
			n, err := p.gw.CountFollows(gctx, gateway.FollowQuery{FollowerID: viewerID, FollowingID: p.subjectID})
			base.ViewerIsFollowing = n > 0
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fetchResult{}, err
	}
	return fetchResult{install: func() { p.profile = base }}, nil
}

// Profile returns a copy of the snapshot; false when nothing is loaded or the
// profile does not exist.
func (p *Profile) Profile() (models.Profile, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.profile == nil {
		return models.Profile{}, false
	}
	return *p.profile, true
}

// Update patches the viewer's own profile and refetches.
func (p *Profile) Update(ctx context.Context, patch models.ProfilePatch) error {
	viewerID, ok := p.identity.ViewerID(ctx)
	if !ok {
		return models.NewUnauthenticatedError("updating a profile")
	}
	if err := p.gw.UpdateProfile(ctx, viewerID, viewerID, patch); err != nil {
		p.log.LogMutation(ctx, "update_profile", err, nil)
		return err
	}
	p.log.LogMutation(ctx, "update_profile", nil, nil)
	p.Refresh(ctx)
	return nil
}

// ToggleFollow flips the viewer's follow of the subject locally, then confirms
// it. It does nothing without a viewer, on the viewer's own profile, or
// before a snapshot is loaded.
func (p *Profile) ToggleFollow(ctx context.Context) error {
	viewerID, ok := p.identity.ViewerID(ctx)
	if !ok || p.subjectID == "" || viewerID == p.subjectID {
		return nil
	}
	return p.ctrl.Run(ctx, "toggle_follow", p.subjectID, func() (transition, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.profile == nil {
			return transition{}, nil
		}
		was := p.profile.ViewerIsFollowing
		flipFollow(p.profile)
		installs := p.installs
		p.changed.broadcast()

		return transition{
			remote: func(ctx context.Context) error {
				if was {
					return p.gw.DeleteFollow(ctx, viewerID, p.subjectID)
				}
				return p.gw.InsertFollow(ctx, viewerID, p.subjectID)
			},
			undo: func() {
				p.mu.Lock()
				defer p.mu.Unlock()
				if p.installs != installs || p.profile == nil || p.profile.ViewerIsFollowing == was {
					return
				}
				flipFollow(p.profile)
				p.changed.broadcast()
			},
		}, nil
	})
}

func flipFollow(pr *models.Profile) {
	if pr.ViewerIsFollowing {
		pr.FollowersCount--
	} else {
		pr.FollowersCount++
	}
	pr.ViewerIsFollowing = !pr.ViewerIsFollowing
}
