package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"dmarc-geo/internal/logger"
)

// keyPrefix：与其它业务共用实例时隔离键空间
const keyPrefix = "geo:ip:"

// Redis：redis 后端的缓存实现
// 约束：不设 TTL——过期语义是“读方视为未命中”，由 CreatedAt 判定；
// 若按 TTL 删除，过期窗口配置调大时会丢失本可复用的记录
type Redis struct {
	rc *redis.Client
}

func NewRedis(rc *redis.Client) *Redis { return &Redis{rc: rc} }

func (c *Redis) Find(ctx context.Context, address string) (*Entry, error) {
	s, err := c.rc.Get(ctx, keyPrefix+address).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal([]byte(s), &e); err != nil {
		// 损坏条目视为未命中，等待下次 Upsert 覆盖
		logger.L().Warn("cache_redis_corrupt", "address", address, "err", err)
		return nil, nil
	}
	return &e, nil
}

func (c *Redis) Upsert(ctx context.Context, e *Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.rc.Set(ctx, keyPrefix+e.Address, string(b), 0).Err()
}
