package identitycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"userbackend/internal/model"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "userbackend:identity:"

// Cache 将已解析的身份缓存在 Redis 中。rdb 为 nil 时所有操作退化为未命中。
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCache(rdb *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{
		rdb: rdb,
		ttl: ttl,
	}
}

// Get 返回缓存的身份，未命中时 ok 为 false。
func (c *Cache) Get(ctx context.Context, userID string) (model.Identity, bool, error) {
	if c == nil || c.rdb == nil || userID == "" {
		return model.Identity{}, false, nil
	}
	raw, err := c.rdb.Get(ctx, keyPrefix+userID).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Identity{}, false, nil
	}
	if err != nil {
		return model.Identity{}, false, fmt.Errorf("identity cache get: %w", err)
	}
	var id model.Identity
	if err := json.Unmarshal(raw, &id); err != nil {
		return model.Identity{}, false, fmt.Errorf("identity cache decode: %w", err)
	}
	return id, true, nil
}

func (c *Cache) Set(ctx context.Context, id model.Identity) error {
	if c == nil || c.rdb == nil || id.UserID == "" {
		return nil
	}
	raw, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("identity cache encode: %w", err)
	}
	if err := c.rdb.Set(ctx, keyPrefix+id.UserID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("identity cache set: %w", err)
	}
	return nil
}

// Delete 使缓存失效，角色或状态变更后调用。
func (c *Cache) Delete(ctx context.Context, userID string) error {
	if c == nil || c.rdb == nil || userID == "" {
		return nil
	}
	if err := c.rdb.Del(ctx, keyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("identity cache del: %w", err)
	}
	return nil
}
