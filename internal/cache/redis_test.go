package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmarc-geo/internal/geodata"
)

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestRedisFindMiss(t *testing.T) {
	c := newTestRedis(t)
	e, err := c.Find(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestRedisUpsertThenFind(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()
	in := &Entry{
		Address:   "8.8.8.8",
		Location:  geodata.LocationData{CountryCode: "US", City: "Mountain View"},
		CreatedAt: time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}
	require.NoError(t, c.Upsert(ctx, in))

	out, err := c.Find(ctx, "8.8.8.8")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in.Location, out.Location)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
}

func TestRedisUpsertOverwrites(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()
	require.NoError(t, c.Upsert(ctx, &Entry{Address: "1.1.1.1", Location: geodata.LocationData{CountryCode: "AU"}}))
	require.NoError(t, c.Upsert(ctx, &Entry{Address: "1.1.1.1", Location: geodata.LocationData{CountryCode: "US"}}))
	out, err := c.Find(ctx, "1.1.1.1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "US", out.Location.CountryCode)
}

// 全空记录合法入缓存：用于抑制对死地址的重复外部查询
func TestRedisStoresEmptyLocation(t *testing.T) {
	c := newTestRedis(t)
	ctx := context.Background()
	require.NoError(t, c.Upsert(ctx, &Entry{Address: "203.0.113.1"}))
	out, err := c.Find(ctx, "203.0.113.1")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.True(t, out.Location.IsEmpty())
	assert.False(t, out.CreatedAt.IsZero())
}

func TestRedisCorruptEntryTreatedAsMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	require.NoError(t, mr.Set(keyPrefix+"8.8.8.8", "{not json"))
	c := NewRedis(rc)
	out, err := c.Find(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestMemoryCache(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	out, err := c.Find(ctx, "8.8.8.8")
	require.NoError(t, err)
	assert.Nil(t, out)

	require.NoError(t, c.Upsert(ctx, &Entry{Address: "8.8.8.8", Location: geodata.LocationData{CountryCode: "US"}}))
	out, err = c.Find(ctx, "8.8.8.8")
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "US", out.Location.CountryCode)

	// 返回副本：调用方修改不回写缓存
	out.Location.CountryCode = "DE"
	again, _ := c.Find(ctx, "8.8.8.8")
	assert.Equal(t, "US", again.Location.CountryCode)
}
