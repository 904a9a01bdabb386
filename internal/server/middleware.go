package server

import (
	"errors"
	"log/slog"
	"time"

	"spark/internal/models"
	"spark/internal/observability"

	"github.com/gofiber/fiber/v2"
)

// contextMiddleware copies the request ID into the request context so the
// context-aware logger picks it up.
func contextMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rid, ok := c.Locals("requestid").(string); ok && rid != "" {
			c.SetUserContext(observability.WithCorrelationID(c.UserContext(), rid))
		}
		return c.Next()
	}
}

// structuredLogger logs every request once it has been handled.
func structuredLogger() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := []any{
			slog.Int("status", c.Response().StatusCode()),
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("ip", c.IP()),
			slog.Duration("latency", time.Since(start)),
		}
		if err != nil {
			fields = append(fields, slog.String("error", err.Error()))
			observability.Logger.ErrorContext(c.UserContext(), "request failed", fields...)
		} else {
			observability.Logger.InfoContext(c.UserContext(), "request processed", fields...)
		}
		return err
	}
}

// respondWithError writes the error envelope used by every endpoint.
func respondWithError(c *fiber.Ctx, status int, err error) error {
	code := models.ErrorCode(err)
	message := err.Error()
	var fe *fiber.Error
	if code == "" && errors.As(err, &fe) {
		message = fe.Message
	}
	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}
