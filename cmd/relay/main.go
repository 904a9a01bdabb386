// Command relay streams store change events to websocket clients.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"spark/internal/cache"
	"spark/internal/config"
	"spark/internal/database"
	"spark/internal/observability"
	"spark/internal/server"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	observability.Logger = observability.NewLogger(cfg.Env, slog.LevelInfo)

	shutdownTracing, err := observability.InitTracing(context.Background(), observability.TracingFromConfig(cfg, "spark-relay"))
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		// The relay only needs the database for readiness.
		observability.Logger.Warn("database unavailable", slog.String("error", err.Error()))
		db = nil
	}

	rdb := cache.InitRedis(context.Background(), cfg.RedisURL)
	if rdb == nil {
		log.Fatal("Redis is required to receive change events")
	}

	srv := server.NewServer(cfg, db, rdb)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		observability.Logger.Info("shutting down relay")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			observability.Logger.Error("relay shutdown error", slog.String("error", err.Error()))
		}
		if err := shutdownTracing(ctx); err != nil {
			observability.Logger.Error("tracing shutdown error", slog.String("error", err.Error()))
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatal(err)
	}
}
