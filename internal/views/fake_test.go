package views

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"spark/internal/gateway"
	"spark/internal/models"
	"spark/internal/realtime"
)

type edge [2]string

// fakeGateway is an in-memory store that counts calls and publishes change
// events like gateway.Store does.
type fakeGateway struct {
	bus *realtime.Bus

	mu       sync.Mutex
	seq      int
	clock    time.Time
	profiles map[string]models.Profile
	posts    map[string]models.Post
	comments map[string]models.Comment
	likes    map[edge]bool
	follows  map[edge]bool
	calls    map[string]int
	fail     map[string]error
	hooks    map[string]func(call int)
}

var _ gateway.Gateway = (*fakeGateway)(nil)

func newFakeGateway(bus *realtime.Bus) *fakeGateway {
	return &fakeGateway{
		bus:      bus,
		clock:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		profiles: map[string]models.Profile{},
		posts:    map[string]models.Post{},
		comments: map[string]models.Comment{},
		likes:    map[edge]bool{},
		follows:  map[edge]bool{},
		calls:    map[string]int{},
		fail:     map[string]error{},
		hooks:    map[string]func(int){},
	}
}

// enter records a call and returns the configured failure. Callers hold mu.
func (g *fakeGateway) enter(op string) (int, error) {
	g.calls[op]++
	return g.calls[op], g.fail[op]
}

// leave runs the op hook outside the lock.
func (g *fakeGateway) leave(op string, call int) {
	g.mu.Lock()
	hook := g.hooks[op]
	g.mu.Unlock()
	if hook != nil {
		hook(call)
	}
}

func (g *fakeGateway) publish(table realtime.Table, typ realtime.EventType, row map[string]string) {
	if g.bus != nil {
		_ = g.bus.Publish(context.Background(), realtime.NewEvent(table, typ, row))
	}
}

func (g *fakeGateway) callCount(op string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[op]
}

func (g *fakeGateway) setFail(op string, err error) {
	g.mu.Lock()
	g.fail[op] = err
	g.mu.Unlock()
}

func (g *fakeGateway) setHook(op string, hook func(call int)) {
	g.mu.Lock()
	g.hooks[op] = hook
	g.mu.Unlock()
}

func (g *fakeGateway) nextID(prefix string) string {
	g.seq++
	return fmt.Sprintf("%s%d", prefix, g.seq)
}

func (g *fakeGateway) tick() time.Time {
	g.clock = g.clock.Add(time.Second)
	return g.clock
}

// seeding helpers bypass counters and events

func (g *fakeGateway) addProfile(t *testing.T, username string) models.Profile {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	p := models.Profile{ID: g.nextID("u"), Username: username, CreatedAt: g.tick()}
	g.profiles[p.ID] = p
	return p
}

func (g *fakeGateway) addPost(t *testing.T, authorID, content string) models.Post {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	p := models.Post{ID: g.nextID("p"), UserID: authorID, Content: content, CreatedAt: g.tick()}
	g.posts[p.ID] = p
	return p
}

func (g *fakeGateway) addLike(postID, userID string) {
	g.mu.Lock()
	g.likes[edge{postID, userID}] = true
	g.mu.Unlock()
}

func (g *fakeGateway) addComment(t *testing.T, postID, userID, content string) models.Comment {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	c := models.Comment{ID: g.nextID("c"), PostID: postID, UserID: userID, Content: content, CreatedAt: g.tick()}
	g.comments[c.ID] = c
	return c
}

func (g *fakeGateway) addFollow(followerID, followingID string) {
	g.mu.Lock()
	g.follows[edge{followerID, followingID}] = true
	g.mu.Unlock()
}

// likeCount reports the stored like edges of postID.
func (g *fakeGateway) likeCount(postID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.matchLikes(gateway.LikeQuery{PostIDs: []string{postID}}))
}

func (g *fakeGateway) author(id string) *models.Profile {
	p, ok := g.profiles[id]
	if !ok {
		return nil
	}
	return &p
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func (g *fakeGateway) ListPosts(_ context.Context, q gateway.PostQuery) ([]models.Post, error) {
	g.mu.Lock()
	call, err := g.enter("ListPosts")
	var out []models.Post
	if err == nil {
		for _, p := range g.posts {
			if len(q.IDs) > 0 && !contains(q.IDs, p.ID) {
				continue
			}
			if len(q.AuthorIDs) > 0 && !contains(q.AuthorIDs, p.UserID) {
				continue
			}
			p.Author = g.author(p.UserID)
			out = append(out, p)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
		if q.Limit > 0 && len(out) > q.Limit {
			out = out[:q.Limit]
		}
	}
	g.mu.Unlock()
	g.leave("ListPosts", call)
	return out, err
}

func (g *fakeGateway) GetPost(_ context.Context, postID string) (*models.Post, error) {
	g.mu.Lock()
	call, err := g.enter("GetPost")
	var out *models.Post
	if err == nil {
		if p, ok := g.posts[postID]; ok {
			p.Author = g.author(p.UserID)
			out = &p
		} else {
			err = models.NewNotFoundError("post", postID)
		}
	}
	g.mu.Unlock()
	g.leave("GetPost", call)
	return out, err
}

func (g *fakeGateway) CountPosts(_ context.Context, authorID string) (int, error) {
	g.mu.Lock()
	call, err := g.enter("CountPosts")
	n := 0
	for _, p := range g.posts {
		if p.UserID == authorID {
			n++
		}
	}
	g.mu.Unlock()
	g.leave("CountPosts", call)
	return n, err
}

func (g *fakeGateway) InsertPost(_ context.Context, post *models.Post) error {
	g.mu.Lock()
	_, err := g.enter("InsertPost")
	if err == nil {
		post.ID = g.nextID("p")
		post.CreatedAt = g.tick()
		g.posts[post.ID] = *post
	}
	g.mu.Unlock()
	if err != nil {
		return err
	}
	g.publish(realtime.TablePosts, realtime.EventInsert, map[string]string{"id": post.ID, "user_id": post.UserID})
	return nil
}

func (g *fakeGateway) DeletePost(_ context.Context, viewerID, postID string) error {
	g.mu.Lock()
	_, err := g.enter("DeletePost")
	var post models.Post
	if err == nil {
		var ok bool
		post, ok = g.posts[postID]
		switch {
		case !ok:
			err = models.NewNotFoundError("post", postID)
		case post.UserID != viewerID:
			err = models.NewForbiddenError("only the author can delete a post")
		default:
			delete(g.posts, postID)
			for k := range g.likes {
				if k[0] == postID {
					delete(g.likes, k)
				}
			}
			for id, c := range g.comments {
				if c.PostID == postID {
					delete(g.comments, id)
				}
			}
		}
	}
	g.mu.Unlock()
	if err != nil {
		return err
	}
	g.publish(realtime.TablePosts, realtime.EventDelete, map[string]string{"id": postID, "user_id": post.UserID})
	return nil
}

func (g *fakeGateway) ListComments(_ context.Context, q gateway.CommentQuery) ([]models.Comment, error) {
	g.mu.Lock()
	call, err := g.enter("ListComments")
	var out []models.Comment
	if err == nil {
		for _, c := range g.comments {
			if !contains(q.PostIDs, c.PostID) {
				continue
			}
			if q.WithAuthor {
				c.Author = g.author(c.UserID)
			} else {
				c.Content = ""
			}
			out = append(out, c)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	}
	g.mu.Unlock()
	g.leave("ListComments", call)
	return out, err
}

func (g *fakeGateway) CountComments(_ context.Context, postID string) (int, error) {
	g.mu.Lock()
	call, err := g.enter("CountComments")
	n := 0
	for _, c := range g.comments {
		if c.PostID == postID {
			n++
		}
	}
	g.mu.Unlock()
	g.leave("CountComments", call)
	return n, err
}

func (g *fakeGateway) InsertComment(_ context.Context, c *models.Comment) error {
	g.mu.Lock()
	_, err := g.enter("InsertComment")
	if err == nil {
		c.ID = g.nextID("c")
		c.CreatedAt = g.tick()
		g.comments[c.ID] = *c
	}
	g.mu.Unlock()
	if err != nil {
		return err
	}
	g.publish(realtime.TableComments, realtime.EventInsert, map[string]string{"id": c.ID, "post_id": c.PostID, "user_id": c.UserID})
	return nil
}

func (g *fakeGateway) DeleteComment(_ context.Context, viewerID, commentID string) error {
	g.mu.Lock()
	_, err := g.enter("DeleteComment")
	var c models.Comment
	if err == nil {
		var ok bool
		c, ok = g.comments[commentID]
		switch {
		case !ok:
			err = models.NewNotFoundError("comment", commentID)
		case c.UserID != viewerID:
			err = models.NewForbiddenError("only the author can delete a comment")
		default:
			delete(g.comments, commentID)
		}
	}
	g.mu.Unlock()
	if err != nil {
		return err
	}
	g.publish(realtime.TableComments, realtime.EventDelete, map[string]string{"id": c.ID, "post_id": c.PostID, "user_id": c.UserID})
	return nil
}

func (g *fakeGateway) matchLikes(q gateway.LikeQuery) []models.Like {
	var out []models.Like
	for k := range g.likes {
		if len(q.PostIDs) > 0 && !contains(q.PostIDs, k[0]) {
			continue
		}
		if q.UserID != "" && k[1] != q.UserID {
			continue
		}
		out = append(out, models.Like{PostID: k[0], UserID: k[1]})
	}
	return out
}

func (g *fakeGateway) ListLikes(_ context.Context, q gateway.LikeQuery) ([]models.Like, error) {
	g.mu.Lock()
	op := "ListLikes"
	if q.UserID != "" {
		op = "ListViewerLikes"
	}
	call, err := g.enter(op)
	out := g.matchLikes(q)
	g.mu.Unlock()
	g.leave(op, call)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *fakeGateway) CountLikes(_ context.Context, q gateway.LikeQuery) (int, error) {
	g.mu.Lock()
	call, err := g.enter("CountLikes")
	n := len(g.matchLikes(q))
	g.mu.Unlock()
	g.leave("CountLikes", call)
	return n, err
}

func (g *fakeGateway) mutateLike(op, postID, userID string, insert bool) error {
	g.mu.Lock()
	call, err := g.enter(op)
	g.mu.Unlock()
	// The hook runs before the write so it can hold or race the mutation.
	g.leave(op, call)

	g.mu.Lock()
	changed := false
	if err == nil {
		k := edge{postID, userID}
		if _, ok := g.posts[postID]; !ok {
			err = models.NewNotFoundError("post", postID)
		} else if g.likes[k] != insert {
			changed = true
			if insert {
				g.likes[k] = true
			} else {
				delete(g.likes, k)
			}
		}
	}
	g.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		typ := realtime.EventDelete
		if insert {
			typ = realtime.EventInsert
		}
		g.publish(realtime.TableLikes, typ, map[string]string{"post_id": postID, "user_id": userID})
	}
	return nil
}

func (g *fakeGateway) InsertLike(_ context.Context, postID, userID string) error {
	return g.mutateLike("InsertLike", postID, userID, true)
}

func (g *fakeGateway) DeleteLike(_ context.Context, postID, userID string) error {
	return g.mutateLike("DeleteLike", postID, userID, false)
}

func (g *fakeGateway) GetProfile(_ context.Context, profileID string) (*models.Profile, error) {
	g.mu.Lock()
	call, err := g.enter("GetProfile")
	var out *models.Profile
	if err == nil {
		out = g.author(profileID)
		if out == nil {
			err = models.NewNotFoundError("profile", profileID)
		}
	}
	g.mu.Unlock()
	g.leave("GetProfile", call)
	return out, err
}

func (g *fakeGateway) InsertProfile(_ context.Context, p *models.Profile) error {
	g.mu.Lock()
	_, err := g.enter("InsertProfile")
	if err == nil {
		if p.ID == "" {
			p.ID = g.nextID("u")
		}
		g.profiles[p.ID] = *p
	}
	g.mu.Unlock()
	if err != nil {
		return err
	}
	g.publish(realtime.TableProfiles, realtime.EventInsert, map[string]string{"id": p.ID})
	return nil
}

func (g *fakeGateway) UpdateProfile(_ context.Context, viewerID, targetID string, patch models.ProfilePatch) error {
	g.mu.Lock()
	_, err := g.enter("UpdateProfile")
	if err == nil {
		p, ok := g.profiles[targetID]
		switch {
		case viewerID != targetID:
			err = models.NewForbiddenError("a profile can only be updated by its owner")
		case !ok:
			err = models.NewNotFoundError("profile", targetID)
		default:
			if patch.DisplayName != nil {
				p.DisplayName = *patch.DisplayName
			}
			if patch.AvatarURL != nil {
				p.AvatarURL = *patch.AvatarURL
			}
			if patch.Bio != nil {
				p.Bio = *patch.Bio
			}
			g.profiles[targetID] = p
		}
	}
	g.mu.Unlock()
	if err != nil {
		return err
	}
	g.publish(realtime.TableProfiles, realtime.EventUpdate, map[string]string{"id": targetID})
	return nil
}

func (g *fakeGateway) matchFollows(q gateway.FollowQuery) []models.Follow {
	var out []models.Follow
	for k := range g.follows {
		if q.FollowerID != "" && k[0] != q.FollowerID {
			continue
		}
		if q.FollowingID != "" && k[1] != q.FollowingID {
			continue
		}
		out = append(out, models.Follow{FollowerID: k[0], FollowingID: k[1]})
	}
	return out
}

func (g *fakeGateway) ListFollows(_ context.Context, q gateway.FollowQuery) ([]models.Follow, error) {
	g.mu.Lock()
	call, err := g.enter("ListFollows")
	out := g.matchFollows(q)
	g.mu.Unlock()
	g.leave("ListFollows", call)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (g *fakeGateway) CountFollows(_ context.Context, q gateway.FollowQuery) (int, error) {
	g.mu.Lock()
	call, err := g.enter("CountFollows")
	n := len(g.matchFollows(q))
	g.mu.Unlock()
	g.leave("CountFollows", call)
	return n, err
}

func (g *fakeGateway) mutateFollow(op, followerID, followingID string, insert bool) error {
	g.mu.Lock()
	call, err := g.enter(op)
	g.mu.Unlock()
	// The hook runs before the write so it can hold or race the mutation.
	g.leave(op, call)

	g.mu.Lock()
	changed := false
	if err == nil {
		k := edge{followerID, followingID}
		if g.follows[k] != insert {
			changed = true
			if insert {
				g.follows[k] = true
			} else {
				delete(g.follows, k)
			}
		}
	}
	g.mu.Unlock()
	if err != nil {
		return err
	}
	if changed {
		typ := realtime.EventDelete
		if insert {
			typ = realtime.EventInsert
		}
		g.publish(realtime.TableFollows, typ, map[string]string{"follower_id": followerID, "following_id": followingID})
	}
	return nil
}

func (g *fakeGateway) InsertFollow(_ context.Context, followerID, followingID string) error {
	return g.mutateFollow("InsertFollow", followerID, followingID, true)
}

func (g *fakeGateway) DeleteFollow(_ context.Context, followerID, followingID string) error {
	return g.mutateFollow("DeleteFollow", followerID, followingID, false)
}
