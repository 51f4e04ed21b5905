package cache

import (
	"context"
	"sync"
	"time"
)

// Memory：进程内缓存实现
// 背景：未配置 redis 与数据库时的最低配置运行形态，也供测试使用；进程重启即失效
type Memory struct {
	mu sync.RWMutex
	m  map[string]Entry
}

func NewMemory() *Memory { return &Memory{m: make(map[string]Entry)} }

func (c *Memory) Find(ctx context.Context, address string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.m[address]
	if !ok {
		return nil, nil
	}
	out := e
	return &out, nil
}

func (c *Memory) Upsert(ctx context.Context, e *Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	c.m[e.Address] = *e
	return nil
}
