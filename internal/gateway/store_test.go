package gateway

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"spark/internal/cache"
	"spark/internal/config"
	"spark/internal/database"
	"spark/internal/models"
	"spark/internal/realtime"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (l *eventLog) Publish(_ context.Context, ev realtime.Event) error {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) of(table realtime.Table) []realtime.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []realtime.Event
	for _, ev := range l.events {
		if ev.Table == table {
			out = append(out, ev)
		}
	}
	return out
}

func setupStore(t *testing.T, c *cache.Cache) (*Store, *eventLog) {
	t.Helper()
	db, err := database.Connect(&config.Config{
		Env:        "test",
		DBDriver:   config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "store.db"),
	})
	require.NoError(t, err)
	log := &eventLog{}
	return NewStore(db, log, c), log
}

func seedProfiles(t *testing.T, s *Store, names ...string) []models.Profile {
	t.Helper()
	out := make([]models.Profile, 0, len(names))
	for _, name := range names {
		p := models.Profile{Username: name, DisplayName: name}
		require.NoError(t, s.InsertProfile(context.Background(), &p))
		out = append(out, p)
	}
	return out
}

func insertPost(t *testing.T, s *Store, authorID, content string, at time.Time) models.Post {
	t.Helper()
	p := models.Post{UserID: authorID, Content: content, CreatedAt: at}
	require.NoError(t, s.InsertPost(context.Background(), &p))
	return p
}

func TestStore_Posts(t *testing.T) {
	s, log := setupStore(t, nil)
	ctx := context.Background()
	people := seedProfiles(t, s, "ada", "bob")
	base := time.Now().Add(-time.Hour)

	p1 := insertPost(t, s, people[0].ID, "first", base)
	p2 := insertPost(t, s, people[1].ID, "second", base.Add(time.Minute))
	p3 := insertPost(t, s, people[0].ID, "third", base.Add(2*time.Minute))

	all, err := s.ListPosts(ctx, PostQuery{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{p3.ID, p2.ID, p1.ID}, []string{all[0].ID, all[1].ID, all[2].ID})
	require.NotNil(t, all[0].Author)
	assert.Equal(t, "ada", all[0].Author.Username)

	byAuthor, err := s.ListPosts(ctx, PostQuery{AuthorIDs: []string{people[0].ID}, Limit: 1})
	require.NoError(t, err)
	require.Len(t, byAuthor, 1)
	assert.Equal(t, p3.ID, byAuthor[0].ID)

	byID, err := s.ListPosts(ctx, PostQuery{IDs: []string{p2.ID}})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	assert.Equal(t, "second", byID[0].Content)

	got, err := s.GetPost(ctx, p1.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Content)
	require.NotNil(t, got.Author)
	assert.Equal(t, people[0].ID, got.Author.ID)

	n, err := s.CountPosts(ctx, people[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	inserts := log.of(realtime.TablePosts)
	require.Len(t, inserts, 3)
	assert.Equal(t, realtime.EventInsert, inserts[0].Type)
	assert.Equal(t, p1.ID, inserts[0].Value("id"))
	assert.Equal(t, people[0].ID, inserts[0].Value("user_id"))

	_, err = s.GetPost(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)

	assert.ErrorIs(t, s.InsertPost(ctx, &models.Post{Content: "anon"}), models.ErrUnauthenticated)
}

func TestStore_DeletePost(t *testing.T) {
	s, log := setupStore(t, nil)
	ctx := context.Background()
	people := seedProfiles(t, s, "ada", "bob")
	post := insertPost(t, s, people[0].ID, "doomed", time.Now())

	require.NoError(t, s.InsertLike(ctx, post.ID, people[1].ID))
	require.NoError(t, s.InsertComment(ctx, &models.Comment{PostID: post.ID, UserID: people[1].ID, Content: "hi"}))

	assert.ErrorIs(t, s.DeletePost(ctx, "", post.ID), models.ErrUnauthenticated)
	assert.ErrorIs(t, s.DeletePost(ctx, people[1].ID, post.ID), models.ErrForbidden)
	assert.ErrorIs(t, s.DeletePost(ctx, people[0].ID, "missing"), models.ErrNotFound)

	require.NoError(t, s.DeletePost(ctx, people[0].ID, post.ID))

	_, err := s.GetPost(ctx, post.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	likes, err := s.CountLikes(ctx, LikeQuery{PostIDs: []string{post.ID}})
	require.NoError(t, err)
	assert.Zero(t, likes)
	comments, err := s.CountComments(ctx, post.ID)
	require.NoError(t, err)
	assert.Zero(t, comments)

	events := log.of(realtime.TablePosts)
	last := events[len(events)-1]
	assert.Equal(t, realtime.EventDelete, last.Type)
	assert.Equal(t, post.ID, last.Value("id"))
}

func TestStore_LikesAreIdempotentEdges(t *testing.T) {
	s, log := setupStore(t, nil)
	ctx := context.Background()
	people := seedProfiles(t, s, "ada", "bob", "cy")
	p1 := insertPost(t, s, people[0].ID, "one", time.Now())
	p2 := insertPost(t, s, people[0].ID, "two", time.Now())

	require.NoError(t, s.InsertLike(ctx, p1.ID, people[1].ID))
	require.NoError(t, s.InsertLike(ctx, p1.ID, people[1].ID))
	require.NoError(t, s.InsertLike(ctx, p1.ID, people[2].ID))
	require.NoError(t, s.InsertLike(ctx, p2.ID, people[1].ID))

	n, err := s.CountLikes(ctx, LikeQuery{PostIDs: []string{p1.ID}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	mine, err := s.ListLikes(ctx, LikeQuery{PostIDs: []string{p1.ID, p2.ID}, UserID: people[1].ID})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	assert.Len(t, log.of(realtime.TableLikes), 3, "a duplicate like publishes nothing")

	require.NoError(t, s.DeleteLike(ctx, p1.ID, people[1].ID))
	require.NoError(t, s.DeleteLike(ctx, p1.ID, people[1].ID))
	events := log.of(realtime.TableLikes)
	require.Len(t, events, 4)
	assert.Equal(t, realtime.EventDelete, events[3].Type)
	assert.Equal(t, p1.ID, events[3].Value("post_id"))

	assert.ErrorIs(t, s.InsertLike(ctx, p1.ID, ""), models.ErrUnauthenticated)
}

func TestStore_EdgesToMissingRowsAreNotFound(t *testing.T) {
	s, log := setupStore(t, nil)
	ctx := context.Background()
	people := seedProfiles(t, s, "ada")
	missing := "00000000-0000-0000-0000-00000000dead"

	assert.ErrorIs(t, s.InsertLike(ctx, missing, people[0].ID), models.ErrNotFound)
	assert.ErrorIs(t, s.InsertFollow(ctx, people[0].ID, missing), models.ErrNotFound)
	assert.Empty(t, log.of(realtime.TableLikes))
	assert.Empty(t, log.of(realtime.TableFollows))
}

func TestStore_Comments(t *testing.T) {
	s, log := setupStore(t, nil)
	ctx := context.Background()
	people := seedProfiles(t, s, "ada", "bob")
	post := insertPost(t, s, people[0].ID, "thread", time.Now())
	base := time.Now().Add(-time.Hour)

	c1 := models.Comment{PostID: post.ID, UserID: people[1].ID, Content: "first", CreatedAt: base}
	c2 := models.Comment{PostID: post.ID, UserID: people[0].ID, Content: "second", CreatedAt: base.Add(time.Minute)}
	require.NoError(t, s.InsertComment(ctx, &c1))
	require.NoError(t, s.InsertComment(ctx, &c2))

	full, err := s.ListComments(ctx, CommentQuery{PostIDs: []string{post.ID}, WithAuthor: true})
	require.NoError(t, err)
	require.Len(t, full, 2)
	assert.Equal(t, "first", full[0].Content)
	assert.Equal(t, "second", full[1].Content)
	require.NotNil(t, full[0].Author)
	assert.Equal(t, "bob", full[0].Author.Username)

	slim, err := s.ListComments(ctx, CommentQuery{PostIDs: []string{post.ID}})
	require.NoError(t, err)
	require.Len(t, slim, 2)
	assert.Empty(t, slim[0].Content)
	assert.Nil(t, slim[0].Author)
	assert.Equal(t, post.ID, slim[0].PostID)

	none, err := s.ListComments(ctx, CommentQuery{})
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.ErrorIs(t, s.DeleteComment(ctx, people[0].ID, c1.ID), models.ErrForbidden)
	require.NoError(t, s.DeleteComment(ctx, people[1].ID, c1.ID))
	n, err := s.CountComments(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	events := log.of(realtime.TableComments)
	require.Len(t, events, 3)
	assert.Equal(t, realtime.EventDelete, events[2].Type)
	assert.Equal(t, post.ID, events[2].Value("post_id"))
}

func TestStore_Follows(t *testing.T) {
	s, log := setupStore(t, nil)
	ctx := context.Background()
	people := seedProfiles(t, s, "ada", "bob", "cy")

	require.NoError(t, s.InsertFollow(ctx, people[0].ID, people[1].ID))
	require.NoError(t, s.InsertFollow(ctx, people[0].ID, people[2].ID))
	require.NoError(t, s.InsertFollow(ctx, people[2].ID, people[1].ID))
	require.NoError(t, s.InsertFollow(ctx, people[2].ID, people[1].ID))

	following, err := s.ListFollows(ctx, FollowQuery{FollowerID: people[0].ID})
	require.NoError(t, err)
	assert.Len(t, following, 2)

	followers, err := s.CountFollows(ctx, FollowQuery{FollowingID: people[1].ID})
	require.NoError(t, err)
	assert.Equal(t, 2, followers)

	exists, err := s.CountFollows(ctx, FollowQuery{FollowerID: people[2].ID, FollowingID: people[1].ID})
	require.NoError(t, err)
	assert.Equal(t, 1, exists)

	require.NoError(t, s.DeleteFollow(ctx, people[2].ID, people[1].ID))
	exists, err = s.CountFollows(ctx, FollowQuery{FollowerID: people[2].ID, FollowingID: people[1].ID})
	require.NoError(t, err)
	assert.Zero(t, exists)

	events := log.of(realtime.TableFollows)
	require.Len(t, events, 4)
	assert.Equal(t, people[2].ID, events[3].Value("follower_id"))
	assert.Equal(t, people[1].ID, events[3].Value("following_id"))
}

func TestStore_UpdateProfileInvalidatesCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	s, log := setupStore(t, cache.New(rdb))
	ctx := context.Background()
	people := seedProfiles(t, s, "ada", "bob")
	ada := people[0]

	got, err := s.GetProfile(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, "ada", got.DisplayName)
	assert.True(t, mr.Exists(cache.ProfileKey(ada.ID)))

	bio := "hello"
	name := "Ada L."
	patch := models.ProfilePatch{DisplayName: &name, Bio: &bio}

	assert.ErrorIs(t, s.UpdateProfile(ctx, people[1].ID, ada.ID, patch), models.ErrForbidden)
	assert.ErrorIs(t, s.UpdateProfile(ctx, "", ada.ID, patch), models.ErrUnauthenticated)
	require.NoError(t, s.UpdateProfile(ctx, ada.ID, ada.ID, models.ProfilePatch{}))
	assert.Empty(t, log.of(realtime.TableProfiles)[2:], "an empty patch publishes nothing")

	require.NoError(t, s.UpdateProfile(ctx, ada.ID, ada.ID, patch))
	assert.False(t, mr.Exists(cache.ProfileKey(ada.ID)))

	got, err = s.GetProfile(ctx, ada.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada L.", got.DisplayName)
	assert.Equal(t, "hello", got.Bio)
	assert.Equal(t, "ada", got.Username)

	events := log.of(realtime.TableProfiles)
	require.Len(t, events, 3)
	assert.Equal(t, realtime.EventUpdate, events[2].Type)

	assert.ErrorIs(t, s.UpdateProfile(ctx, "ghost", "ghost", patch), models.ErrNotFound)
}

func TestStore_GetPostServedFromCache(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = rdb.Close() }()

	s, _ := setupStore(t, cache.New(rdb))
	ctx := context.Background()
	people := seedProfiles(t, s, "ada")
	post := insertPost(t, s, people[0].ID, "cached", time.Now())

	_, err = s.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.True(t, mr.Exists(cache.PostKey(post.ID)))

	require.NoError(t, s.db.Exec("UPDATE posts SET content = ? WHERE id = ?", "changed", post.ID).Error)
	got, err := s.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "cached", got.Content)

	require.NoError(t, s.DeletePost(ctx, people[0].ID, post.ID))
	assert.False(t, mr.Exists(cache.PostKey(post.ID)))
}
