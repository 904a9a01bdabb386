// Package seed creates demo data through the gateway, so every seeded row also
// produces its change event. Intended for development and tests only.
package seed

import (
	"context"
	"fmt"
	"time"

	"spark/internal/gateway"
	"spark/internal/models"
	"spark/internal/observability"

	"github.com/brianvoe/gofakeit/v6"
	"gorm.io/gorm"
)

// Options controls the size of the generated social graph.
type Options struct {
	Users        int
	PostsPerUser int
	MaxFollows   int
	MaxLikes     int
	MaxComments  int
	// Seed makes the generated content reproducible; zero picks a random seed.
	Seed int64
}

// DefaultOptions is a small but connected graph.
var DefaultOptions = Options{
	Users:        12,
	PostsPerUser: 4,
	MaxFollows:   5,
	MaxLikes:     6,
	MaxComments:  3,
}

// Result summarizes what was created.
type Result struct {
	Profiles []models.Profile
	Posts    []models.Post
	Follows  int
	Likes    int
	Comments int
}

// Factory builds and persists domain entities.
type Factory struct {
	gw    gateway.Gateway
	faker *gofakeit.Faker
	seq   int
}

// NewFactory binds a factory to gw.
func NewFactory(gw gateway.Gateway, seed int64) *Factory {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Factory{gw: gw, faker: gofakeit.New(seed)}
}

// CreateProfile persists a profile with generated details. Overrides run
// before saving.
func (f *Factory) CreateProfile(ctx context.Context, overrides ...func(*models.Profile)) (*models.Profile, error) {
	f.seq++
	p := &models.Profile{
		Username:    fmt.Sprintf("%s%d", f.faker.Username(), f.seq),
		DisplayName: f.faker.Name(),
		AvatarURL:   fmt.Sprintf("https://i.pravatar.cc/150?u=%s", f.faker.UUID()),
		Bio:         f.faker.Sentence(10),
	}
	for _, o := range overrides {
		o(p)
	}
	if err := f.gw.InsertProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreatePost persists a post by author. Roughly a third of the posts carry an
// image reference.
func (f *Factory) CreatePost(ctx context.Context, authorID string, overrides ...func(*models.Post)) (*models.Post, error) {
	p := &models.Post{
		UserID:  authorID,
		Content: f.faker.Paragraph(1, 3, 8, " "),
	}
	if f.faker.Number(0, 2) == 0 {
		p.ImageURL = fmt.Sprintf("https://picsum.photos/seed/%s/800/800", f.faker.UUID())
	}
	for _, o := range overrides {
		o(p)
	}
	if err := f.gw.InsertPost(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateComment persists a comment by author on postID.
func (f *Factory) CreateComment(ctx context.Context, postID, authorID string) (*models.Comment, error) {
	c := &models.Comment{PostID: postID, UserID: authorID, Content: f.faker.Sentence(8)}
	if err := f.gw.InsertComment(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// pick returns up to n distinct indexes in [0, size) other than skip.
func (f *Factory) pick(size, n, skip int) []int {
	candidates := make([]int, 0, size)
	for i := 0; i < size; i++ {
		if i != skip {
			candidates = append(candidates, i)
		}
	}
	f.faker.ShuffleAnySlice(candidates)
	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}

// Run seeds profiles, posts, follow edges, likes and comments.
func Run(ctx context.Context, gw gateway.Gateway, opts Options) (*Result, error) {
	if opts.Users <= 0 {
		return nil, models.NewValidationError("seed requires at least one user")
	}
	f := NewFactory(gw, opts.Seed)
	res := &Result{}

	for i := 0; i < opts.Users; i++ {
		p, err := f.CreateProfile(ctx)
		if err != nil {
			return nil, fmt.Errorf("create profile: %w", err)
		}
		res.Profiles = append(res.Profiles, *p)
	}

	for i, p := range res.Profiles {
		for _, j := range f.pick(len(res.Profiles), f.faker.Number(0, opts.MaxFollows), i) {
			if err := gw.InsertFollow(ctx, p.ID, res.Profiles[j].ID); err != nil {
				return nil, fmt.Errorf("create follow: %w", err)
			}
			res.Follows++
		}
	}

	for _, p := range res.Profiles {
		for k := 0; k < opts.PostsPerUser; k++ {
			post, err := f.CreatePost(ctx, p.ID)
			if err != nil {
				return nil, fmt.Errorf("create post: %w", err)
			}
			res.Posts = append(res.Posts, *post)
		}
	}

	for _, post := range res.Posts {
		for _, j := range f.pick(len(res.Profiles), f.faker.Number(0, opts.MaxLikes), -1) {
			if err := gw.InsertLike(ctx, post.ID, res.Profiles[j].ID); err != nil {
				return nil, fmt.Errorf("create like: %w", err)
			}
			res.Likes++
		}
		for c := f.faker.Number(0, opts.MaxComments); c > 0; c-- {
			author := res.Profiles[f.faker.Number(0, len(res.Profiles)-1)]
			if _, err := f.CreateComment(ctx, post.ID, author.ID); err != nil {
				return nil, fmt.Errorf("create comment: %w", err)
			}
			res.Comments++
		}
	}

	observability.Logger.InfoContext(ctx, "seed completed",
		"profiles", len(res.Profiles),
		"posts", len(res.Posts),
		"follows", res.Follows,
		"likes", res.Likes,
		"comments", res.Comments,
	)
	return res, nil
}

// Clear removes every row the seeder can create, edges first.
func Clear(db *gorm.DB) error {
	for _, table := range []string{"likes", "follows", "comments", "posts", "profiles"} {
		if err := db.Exec("DELETE FROM " + table).Error; err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}
