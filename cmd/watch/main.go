// Command watch materializes one view and prints its snapshot every time it
// changes. Changes arrive from the relay when RELAY_URL is set, otherwise
// straight from the Redis change channels.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spark/internal/cache"
	"spark/internal/config"
	"spark/internal/database"
	"spark/internal/gateway"
	"spark/internal/identity"
	"spark/internal/observability"
	"spark/internal/realtime"
	"spark/internal/views"
)

// view is the lifecycle every materializer shares.
type view interface {
	Activate(ctx context.Context) error
	Deactivate()
	Filters(ctx context.Context) []realtime.Filter
	Changed() <-chan struct{}
	Loading() bool
	Err() error
}

func main() {
	kind := flag.String("view", "feed", "View to watch: feed, thread, profile or post")
	mode := flag.String("mode", string(views.ModeGlobal), "Feed mode: global, following or author")
	id := flag.String("id", "", "Post ID for thread/post, profile ID for profile, author ID for author feeds")
	viewer := flag.String("viewer", "", "Viewer profile ID; empty watches anonymously")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	observability.Logger = observability.NewLogger(cfg.Env, slog.LevelWarn)

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := cache.InitRedis(ctx, cfg.RedisURL)
	broker := realtime.NewRedisBroker(rdb)
	store := gateway.NewStore(db, broker, cache.New(rdb))

	var ident identity.Provider = identity.Anonymous{}
	token := ""
	if *viewer != "" {
		ident = identity.Static(*viewer)
		if token, err = identity.IssueToken(*viewer, cfg.JWTSecret); err != nil {
			log.Fatalf("Failed to issue viewer token: %v", err)
		}
	}

	bus := realtime.NewBus()
	debounce := time.Duration(cfg.ReconcileDebounceMS) * time.Millisecond

	v, snapshot, err := build(store, bus, ident, *kind, views.FeedMode(*mode), *id, cfg.FeedPageSize, debounce)
	if err != nil {
		log.Fatalf("Invalid view: %v", err)
	}

	if cfg.RelayURL != "" {
		client, err := realtime.DialRelay(ctx, cfg.RelayURL, token, bus, v.Filters(ctx)...)
		if err != nil {
			log.Fatalf("Failed to connect to relay: %v", err)
		}
		defer func() { _ = client.Close() }()
	} else if err := broker.Forward(ctx, bus); err != nil {
		log.Fatalf("Failed to subscribe to changes: %v", err)
	}

	if err := v.Activate(ctx); err != nil {
		log.Fatalf("Failed to activate view: %v", err)
	}
	defer v.Deactivate()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	for {
		changed := v.Changed()
		if !v.Loading() {
			if err := v.Err(); err != nil {
				fmt.Fprintf(os.Stderr, "refresh failed: %v\n", err)
			}
			if err := enc.Encode(snapshot()); err != nil {
				log.Printf("encode snapshot: %v", err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-changed:
		}
	}
}

// build constructs the requested view together with a snapshot function.
func build(gw gateway.Gateway, bus *realtime.Bus, ident identity.Provider, kind string, mode views.FeedMode,
	id string, pageSize int, debounce time.Duration) (view, func() any, error) {
	switch kind {
	case "feed":
		feed, err := views.NewFeed(gw, bus, ident, views.FeedOptions{
			Mode:     mode,
			AuthorID: id,
			PageSize: pageSize,
			Debounce: debounce,
		})
		if err != nil {
			return nil, nil, err
		}
		return feed, func() any { return feed.Posts() }, nil

	case "thread":
		if id == "" {
			return nil, nil, fmt.Errorf("thread requires -id")
		}
		thread := views.NewThread(gw, bus, ident, id, debounce)
		return thread, func() any {
			return map[string]any{"post_id": id, "removed": thread.Removed(), "comments": thread.Comments()}
		}, nil

	case "profile":
		if id == "" {
			return nil, nil, fmt.Errorf("profile requires -id")
		}
		profile := views.NewProfile(gw, bus, ident, id, debounce)
		return profile, func() any {
			p, ok := profile.Profile()
			if !ok {
				return map[string]any{"profile_id": id, "found": false}
			}
			return p
		}, nil

	case "post":
		if id == "" {
			return nil, nil, fmt.Errorf("post requires -id")
		}
		detail := views.NewPostDetail(gw, bus, ident, id, debounce)
		return detail, func() any {
			p, ok := detail.Post()
			if !ok {
				return map[string]any{"post_id": id, "found": detail.Found(), "removed": detail.Removed()}
			}
			return p
		}, nil
	}
	return nil, nil, fmt.Errorf("unknown view %q", kind)
}
