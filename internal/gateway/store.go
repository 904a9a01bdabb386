package gateway

import (
	"context"
	"errors"
	"log/slog"

	"spark/internal/cache"
	"spark/internal/models"
	"spark/internal/observability"
	"spark/internal/realtime"

	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

// PostgreSQL foreign_key_violation.
const pgForeignKeyViolation = "23503"

// Store implements Gateway with gorm, publishing a change event after every
// successful mutation.
type Store struct {
	db    *gorm.DB
	pub   realtime.Publisher
	cache *cache.Cache
}

var _ Gateway = (*Store)(nil)

// NewStore wires the store. pub and c may be nil.
func NewStore(db *gorm.DB, pub realtime.Publisher, c *cache.Cache) *Store {
	return &Store{db: db, pub: pub, cache: c}
}

// observe opens a span and a latency timer; the returned func closes both.
func (s *Store) observe(ctx context.Context, op string, table realtime.Table) (context.Context, func(*error)) {
	span, ctx := observability.NewSpan(ctx, "gateway."+op,
		attribute.String("db.operation", op),
		attribute.String("db.sql.table", string(table)),
	)
	done := observability.TrackQuery(op, string(table))
	return ctx, func(errp *error) {
		done()
		if errp != nil {
			span.SetError(*errp)
		}
		span.End()
	}
}

func (s *Store) publish(ctx context.Context, table realtime.Table, typ realtime.EventType, row map[string]string) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, realtime.NewEvent(table, typ, row)); err != nil {
		observability.Logger.WarnContext(ctx, "publish change event failed",
			slog.String("table", string(table)),
			slog.String("type", string(typ)),
			slog.String("error", err.Error()),
		)
	}
}

// translate maps driver errors onto AppError codes.
func translate(op, resource, id string, err error) error {
	if err == nil {
		return nil
	}
	var appErr *models.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, gorm.ErrForeignKeyViolated) {
		return models.NewNotFoundError(resource, id)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
		return models.NewNotFoundError(resource, id)
	}
	return models.NewGatewayError(op, err)
}
