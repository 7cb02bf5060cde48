package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"neighborly-auth/internal/client"
	"neighborly-auth/internal/models"
	"neighborly-auth/internal/util"
)

const userPrefix = "user:"

// UserCache is a read-through cache in front of the user store. Cached
// entries carry the decrypted phone, so the cache must never be reachable
// without auth. Misses return (nil, nil); cache failures degrade to misses.
type UserCache struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewUserCache(redisClient *client.RedisClient, ttl time.Duration) *UserCache {
	return &UserCache{
		client: redisClient,
		ttl:    ttl,
	}
}

func (c *UserCache) GetUser(ctx context.Context, userID string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := c.client.Get(ctx, userPrefix+userID)
	if err != nil {
		if errors.Is(err, client.ErrKeyNotFound) {
			return nil, nil
		}
		util.Warn("User cache read failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return nil, nil
	}

	user := &models.User{}
	if err := json.Unmarshal([]byte(raw), user); err != nil {
		util.Warn("User cache entry corrupt, dropping",
			zap.String("user_id", userID),
			zap.Error(err))
		_ = c.client.Del(ctx, userPrefix+userID)
		return nil, nil
	}

	return user, nil
}

func (c *UserCache) SetUser(ctx context.Context, user *models.User) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	raw, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user for cache: %w", err)
	}

	if err := c.client.Set(ctx, userPrefix+user.UserID, raw, c.ttl); err != nil {
		util.Warn("User cache write failed",
			zap.String("user_id", user.UserID),
			zap.Error(err))
		return fmt.Errorf("failed to cache user: %w", err)
	}

	util.Debug("User cached",
		zap.String("user_id", user.UserID),
		zap.Duration("ttl", c.ttl))

	return nil
}

// Invalidate drops the cached entry. Called on every durable mutation (ban,
// unban, self-heal) so stale ban state never outlives the row.
func (c *UserCache) Invalidate(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, userPrefix+userID); err != nil {
		util.Warn("User cache invalidation failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return fmt.Errorf("failed to invalidate cached user: %w", err)
	}

	return nil
}
