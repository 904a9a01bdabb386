package views

import (
	"context"

	"spark/internal/gateway"
	"spark/internal/models"

	"golang.org/x/sync/errgroup"
)

// enrichPosts fills the derived counters of posts from three independent
// queries scoped to their IDs. Results are combined only after all of them
// resolved, so completion order never matters.
func enrichPosts(ctx context.Context, gw gateway.Gateway, posts []models.Post, viewerID string) error {
	if len(posts) == 0 {
		return nil
	}
	ids := make([]string, len(posts))
	for i := range posts {
		ids[i] = posts[i].ID
	}

	var (
		likes    []models.Like
		comments []models.Comment
		mine     []models.Like
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		likes, err = gw.ListLikes(gctx, gateway.LikeQuery{PostIDs: ids})
		return err
	})
	g.Go(func() error {
		var err error
		comments, err = gw.ListComments(gctx, gateway.CommentQuery{PostIDs: ids})
		return err
	})
	if viewerID != "" {
		g.Go(func() error {
			var err error
			mine, err = gw.ListLikes(gctx, gateway.LikeQuery{PostIDs: ids, UserID: viewerID})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	likeCounts := make(map[string]int, len(posts))
	for _, l := range likes {
		likeCounts[l.PostID]++
	}
	commentCounts := make(map[string]int, len(posts))
	for _, c := range comments {
		commentCounts[c.PostID]++
	}
	liked := make(map[string]bool, len(mine))
	for _, l := range mine {
		liked[l.PostID] = true
	}

	for i := range posts {
		id := posts[i].ID
		posts[i].LikesCount = likeCounts[id]
		posts[i].CommentsCount = commentCounts[id]
		posts[i].ViewerHasLiked = liked[id]
	}
	return nil
}

// flipLike toggles the viewer's like on p and returns the previous value.
func flipLike(p *models.Post) bool {
	was := p.ViewerHasLiked
	p.ViewerHasLiked = !was
	if was {
		p.LikesCount--
	} else {
		p.LikesCount++
	}
	return was
}

// restoreLike reverts flipLike.
func restoreLike(p *models.Post, was bool) {
	if p.ViewerHasLiked == was {
		return
	}
	p.ViewerHasLiked = was
	if was {
		p.LikesCount++
	} else {
		p.LikesCount--
	}
}

func likeRemote(gw gateway.LikeGateway, postID, viewerID string, wasLiked bool) func(context.Context) error {
	return func(ctx context.Context) error {
		if wasLiked {
			return gw.DeleteLike(ctx, postID, viewerID)
		}
		return gw.InsertLike(ctx, postID, viewerID)
	}
}
