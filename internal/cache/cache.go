// 包 cache：按地址键控的归属地缓存契约与实现
// 背景：同一地址在报表场景会被反复解析，缓存首次结果以避免重复出站调用
// 约束：过期判定（按 CreatedAt 年龄）由读方负责，存储层不删除过期条目；
// “确定未命中”以全空记录落缓存，用于抑制对死地址的重复查询
package cache

import (
	"context"
	"time"

	"dmarc-geo/internal/geodata"
)

// Entry：一条缓存记录；Address 为唯一键
type Entry struct {
	Address   string               `json:"address"`
	Location  geodata.LocationData `json:"location"`
	CreatedAt time.Time            `json:"created_at"`
}

// Age：距写入的时长
func (e *Entry) Age(now time.Time) time.Duration { return now.Sub(e.CreatedAt) }

// Cache：编排层消费的窄读写契约
// Find 未命中返回 (nil, nil)；Upsert 以地址为冲突键覆盖写
type Cache interface {
	Find(ctx context.Context, address string) (*Entry, error)
	Upsert(ctx context.Context, e *Entry) error
}
