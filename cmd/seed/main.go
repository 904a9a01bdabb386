// Command seed fills the store with demo profiles, posts and engagement.
package main

import (
	"context"
	"flag"
	"log"

	"spark/internal/cache"
	"spark/internal/config"
	"spark/internal/database"
	"spark/internal/gateway"
	"spark/internal/realtime"
	"spark/internal/seed"
)

func main() {
	numUsers := flag.Int("users", seed.DefaultOptions.Users, "Number of profiles to create")
	postsPerUser := flag.Int("posts", seed.DefaultOptions.PostsPerUser, "Posts per profile")
	maxFollows := flag.Int("follows", seed.DefaultOptions.MaxFollows, "Maximum follows per profile")
	maxLikes := flag.Int("likes", seed.DefaultOptions.MaxLikes, "Maximum likes per post")
	maxComments := flag.Int("comments", seed.DefaultOptions.MaxComments, "Maximum comments per post")
	randSeed := flag.Int64("seed", 0, "Random seed, 0 for a random run")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	flag.Parse()

	log.Println("Database Seeder")
	log.Printf("Target: %d profiles, %d posts each, clean=%v\n", *numUsers, *postsPerUser, *shouldClean)

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx := context.Background()
	rdb := cache.InitRedis(ctx, cfg.RedisURL)
	if rdb != nil {
		defer func() { _ = rdb.Close() }()
	}

	if *shouldClean {
		if err := seed.Clear(db); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	store := gateway.NewStore(db, realtime.NewRedisBroker(rdb), cache.New(rdb))
	res, err := seed.Run(ctx, store, seed.Options{
		Users:        *numUsers,
		PostsPerUser: *postsPerUser,
		MaxFollows:   *maxFollows,
		MaxLikes:     *maxLikes,
		MaxComments:  *maxComments,
		Seed:         *randSeed,
	})
	if err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Printf("Done: %d profiles, %d posts, %d follows, %d likes, %d comments\n",
		len(res.Profiles), len(res.Posts), res.Follows, res.Likes, res.Comments)
	if len(res.Profiles) > 0 {
		log.Printf("Try: watch -viewer %s -view feed -mode following\n", res.Profiles[0].ID)
	}
}
