// Package server exposes the change relay over HTTP: an authenticated
// websocket endpoint plus health and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"spark/internal/config"
	"spark/internal/identity"
	"spark/internal/models"
	"spark/internal/observability"
	"spark/internal/realtime"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

var (
	promOnce sync.Once
	prom     *fiberprometheus.FiberPrometheus
)

// initMetrics registers the HTTP collectors once per process.
func initMetrics(serviceName string) *fiberprometheus.FiberPrometheus {
	promOnce.Do(func() {
		prom = fiberprometheus.New(serviceName)
	})
	return prom
}

// Server holds the relay dependencies.
type Server struct {
	config *config.Config
	db     *gorm.DB
	redis  *redis.Client
	bus    *realtime.Bus
	broker *realtime.RedisBroker
	relay  *realtime.Relay
	prom   *fiberprometheus.FiberPrometheus
	app    *fiber.App

	shutdownCtx context.Context
	shutdownFn  context.CancelFunc
}

// NewServer wires a relay fed by the Redis change channels. db and rdb may be
// nil; events can then still be injected through Bus.
func NewServer(cfg *config.Config, db *gorm.DB, rdb *redis.Client) *Server {
	bus := realtime.NewBus()
	s := &Server{
		config: cfg,
		db:     db,
		redis:  rdb,
		bus:    bus,
		broker: realtime.NewRedisBroker(rdb),
		relay:  realtime.NewRelay(bus),
		prom:   initMetrics("spark-relay"),
	}
	s.app = fiber.New(fiber.Config{
		AppName:               "Spark Relay",
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
			return respondWithError(c, status, err)
		},
	})
	s.SetupMiddleware(s.app)
	s.SetupRoutes(s.app)
	return s
}

// App returns the fiber application.
func (s *Server) App() *fiber.App { return s.app }

// Bus returns the local channel the relay serves from.
func (s *Server) Bus() *realtime.Bus { return s.bus }

// Relay returns the websocket relay.
func (s *Server) Relay() *realtime.Relay { return s.relay }

// SetupMiddleware configures middleware for the Fiber app.
func (s *Server) SetupMiddleware(app *fiber.App) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(contextMiddleware())
	if s.prom != nil {
		app.Use(s.prom.Middleware)
	}
	app.Use(structuredLogger())
}

// SetupRoutes mounts health, metrics and the relay endpoint.
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	app.Get("/health", s.ReadinessCheck)

	if s.prom != nil {
		s.prom.RegisterAt(app, "/metrics")
	}

	app.Use("/realtime", upgradeRequired, s.ViewerOptional())
	app.Get("/realtime", websocket.New(s.relay.Handler()))
}

// LivenessCheck reports that the process is up.
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck pings the database and Redis. A missing dependency is
// reported as unavailable and does not fail the check.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "unavailable"
	if s.db != nil {
		dbStatus = "healthy"
		if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
			dbStatus = "unhealthy"
		}
	}

	redisStatus := "unavailable"
	if s.redis != nil {
		redisStatus = "healthy"
		if err := s.redis.Ping(ctx).Err(); err != nil {
			redisStatus = "unhealthy"
		}
	}

	status := fiber.StatusOK
	overall := "healthy"
	if dbStatus == "unhealthy" || redisStatus == "unhealthy" {
		status = fiber.StatusServiceUnavailable
		overall = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overall,
		"checks": fiber.Map{
			"database": dbStatus,
			"redis":    redisStatus,
		},
		"relay_clients": s.relay.Clients(),
		"time":          time.Now(),
	})
}

func upgradeRequired(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// ViewerOptional resolves the viewer from a bearer header or the token query
// parameter. No token means an anonymous viewer; a bad token is rejected.
func (s *Server) ViewerOptional() fiber.Handler {
	return func(c *fiber.Ctx) error {
		tokenString := c.Query("token")
		if tokenString == "" {
			parts := strings.Split(c.Get("Authorization"), " ")
			if len(parts) == 2 && parts[0] == "Bearer" {
				tokenString = parts[1]
			}
		}
		if tokenString == "" {
			return c.Next()
		}

		viewerID, err := identity.ParseToken(tokenString, s.config.JWTSecret)
		if err != nil {
			return respondWithError(c, fiber.StatusUnauthorized,
				models.NewUnauthenticatedError("open relay connection"))
		}

		c.Locals(realtime.ViewerLocal, viewerID)
		c.SetUserContext(observability.WithViewer(c.UserContext(), viewerID))
		return c.Next()
	}
}

// Start forwards Redis change events into the local bus and serves HTTP on
// the relay port. It blocks until the listener stops.
func (s *Server) Start() error {
	s.shutdownCtx, s.shutdownFn = context.WithCancel(context.Background())
	if err := s.broker.Forward(s.shutdownCtx, s.bus); err != nil {
		return fmt.Errorf("start change forwarding: %w", err)
	}

	observability.Logger.Info("relay starting", slog.String("port", s.config.RelayPort))
	return s.app.Listen(":" + s.config.RelayPort)
}

// Shutdown stops forwarding, closes relay connections and releases resources.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.shutdownFn != nil {
		s.shutdownFn()
	}

	if err := s.relay.Shutdown(ctx); err != nil {
		observability.Logger.Error("error shutting down relay", slog.String("error", err.Error()))
	}

	if err := s.app.ShutdownWithContext(ctx); err != nil {
		observability.Logger.Error("error shutting down HTTP server", slog.String("error", err.Error()))
	}

	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			if cerr := sqlDB.Close(); cerr != nil {
				observability.Logger.Error("error closing sql DB", slog.String("error", cerr.Error()))
			}
		}
	}

	if s.redis != nil {
		if rerr := s.redis.Close(); rerr != nil {
			observability.Logger.Error("error closing redis", slog.String("error", rerr.Error()))
		}
	}

	observability.Logger.Info("relay shutdown complete")
	return nil
}
