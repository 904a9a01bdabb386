package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"spark/internal/observability"

	"github.com/redis/go-redis/v9"
)

const (
	PostKeyPrefix    = "post:%s"
	ProfileKeyPrefix = "profile:%s"
)

const (
	PostTTL    = 30 * time.Minute
	ProfileTTL = 5 * time.Minute
)

func PostKey(postID string) string {
	return fmt.Sprintf(PostKeyPrefix, postID)
}

func ProfileKey(profileID string) string {
	return fmt.Sprintf(ProfileKeyPrefix, profileID)
}

// Cache is a cache-aside layer over Redis. A nil Cache or one without a client
// always loads from the source.
type Cache struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func (c *Cache) enabled() bool {
	return c != nil && c.rdb != nil
}

// Aside reads key into dest, or runs load to fill dest and stores the result.
// Redis failures fall through to load; load errors are returned untouched and
// nothing is cached.
func (c *Cache) Aside(ctx context.Context, key string, dest any, ttl time.Duration, load func() error) error {
	if !c.enabled() {
		return load()
	}

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err == nil {
		if jerr := json.Unmarshal(data, dest); jerr == nil {
			return nil
		}
		c.Invalidate(ctx, key)
	} else if !errors.Is(err, redis.Nil) {
		observability.Logger.WarnContext(ctx, "cache read failed",
			slog.String("key", key), slog.String("error", err.Error()))
	}

	if err := load(); err != nil {
		return err
	}

	payload, err := json.Marshal(dest)
	if err != nil {
		return nil
	}
	if err := c.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		observability.Logger.WarnContext(ctx, "cache write failed",
			slog.String("key", key), slog.String("error", err.Error()))
	}
	return nil
}

// Invalidate drops keys.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) {
	if !c.enabled() || len(keys) == 0 {
		return
	}
	c.rdb.Del(ctx, keys...)
}

func (c *Cache) InvalidatePost(ctx context.Context, postID string) {
	c.Invalidate(ctx, PostKey(postID))
}

func (c *Cache) InvalidateProfile(ctx context.Context, profileID string) {
	c.Invalidate(ctx, ProfileKey(profileID))
}
