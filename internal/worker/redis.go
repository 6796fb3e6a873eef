package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"folioassist/internal/redis"
)

const retiredTTL = 24 * time.Hour

// RetiredCache remembers why a session id left the registry so clients can
// tell an expired conversation from a bogus id. A nil cache remembers nothing.
type RetiredCache struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRetiredCache(client *redis.Client, log zerolog.Logger) *RetiredCache {
	if client == nil {
		return nil
	}
	return &RetiredCache{client: client, log: log}
}

func retiredKey(id string) string {
	return fmt.Sprintf("folioassist:session:retired:%s", id)
}

func (c *RetiredCache) remember(ctx context.Context, id, reason string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Set(ctx, retiredKey(id), reason, retiredTTL); err != nil {
		c.log.Warn().Err(err).Str("session_id", id).Msg("record retired session failed")
	}
}

func (c *RetiredCache) lookup(ctx context.Context, id string) (string, bool) {
	if c == nil || c.client == nil {
		return "", false
	}
	reason, err := c.client.Get(ctx, retiredKey(id))
	if err != nil {
		if !errors.Is(err, redis.ErrCacheMiss) {
			c.log.Warn().Err(err).Str("session_id", id).Msg("load retired session failed")
		}
		return "", false
	}
	return reason, true
}
