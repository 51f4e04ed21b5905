// 包 quota：单提供商的分钟/天/月三窗口准入控制与等待时间估算
// 背景：免费额度按多种滚动窗口计量，触顶前必须在本进程内自行拦截出站调用
// 约束：仅建议性判定，不强制阻塞调用方；不做跨进程协调
package quota

import (
	"context"
	"sync"
	"time"

	"dmarc-geo/internal/logger"
)

const (
	windowMinute = time.Minute
	windowDay    = 24 * time.Hour
	windowMonth  = 30 * 24 * time.Hour

	// WaitForSlot 的轮询间隔
	pollInterval = time.Second
)

// Limits：各窗口上限，0 表示该窗口不设限
type Limits struct {
	PerMinute int
	PerDay    int
	PerMonth  int
}

// Unlimited：三个窗口均未配置
func (l Limits) Unlimited() bool { return l.PerMinute == 0 && l.PerDay == 0 && l.PerMonth == 0 }

// Usage：各窗口当前占用快照，供观测接口输出
type Usage struct {
	Limits     Limits
	MinuteUsed int
	DayUsed    int
	MonthUsed  int
}

// Tracker：按时间戳列表记录出站尝试并在读写前剪除窗口外条目
// 约束：每个提供商实例独占一个 Tracker；多协程并发访问由互斥锁保护
type Tracker struct {
	mu     sync.Mutex
	limits Limits
	minute []time.Time
	day    []time.Time
	month  []time.Time
	now    func() time.Time
}

func NewTracker(limits Limits) *Tracker {
	return &Tracker{limits: limits, now: time.Now}
}

// prune：剪除已滑出各自窗口的时间戳；必须在持锁状态下调用
func (t *Tracker) prune(now time.Time) {
	t.minute = pruneWindow(t.minute, now, windowMinute)
	t.day = pruneWindow(t.day, now, windowDay)
	t.month = pruneWindow(t.month, now, windowMonth)
}

// pruneWindow：时间戳按追加顺序单调递增，剪除只需找到首个仍在窗口内的下标
func pruneWindow(ts []time.Time, now time.Time, w time.Duration) []time.Time {
	cut := now.Add(-w)
	i := 0
	for i < len(ts) && !ts[i].After(cut) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

// CanProceed：任一已配置窗口达到或超过上限即拒绝；未配置窗口忽略
func (t *Tracker) CanProceed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.now())
	if t.limits.PerMinute > 0 && len(t.minute) >= t.limits.PerMinute {
		return false
	}
	if t.limits.PerDay > 0 && len(t.day) >= t.limits.PerDay {
		return false
	}
	if t.limits.PerMonth > 0 && len(t.month) >= t.limits.PerMonth {
		return false
	}
	return true
}

// RecordAttempt：无条件向三个窗口各追加一条当前时间
// 约束：每次出站尝试恰好调用一次，成功与否都要记（失败的请求同样消耗远端配额）
func (t *Tracker) RecordAttempt() {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.prune(now)
	t.minute = append(t.minute, now)
	t.day = append(t.day, now)
	t.month = append(t.month, now)
}

// TimeUntilNextSlot：当前可通过时返回 0；否则按分钟→天→月的优先级，
// 返回首个越限窗口中最旧时间戳滑出该窗口还需的时长
func (t *Tracker) TimeUntilNextSlot() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.prune(now)
	if t.limits.PerMinute > 0 && len(t.minute) >= t.limits.PerMinute {
		return t.minute[0].Add(windowMinute).Sub(now)
	}
	if t.limits.PerDay > 0 && len(t.day) >= t.limits.PerDay {
		return t.day[0].Add(windowDay).Sub(now)
	}
	if t.limits.PerMonth > 0 && len(t.month) >= t.limits.PerMonth {
		return t.month[0].Add(windowMonth).Sub(now)
	}
	return 0
}

// WaitForSlot：以固定间隔轮询 CanProceed，直到放行或超出 maxWait
// 背景：离线批量补采场景下宁可等待也不触发远端 429；轮询间挂起而非自旋
// 返回：是否在期限内获得名额；ctx 取消视为未获得
func (t *Tracker) WaitForSlot(ctx context.Context, maxWait time.Duration) bool {
	if t.CanProceed() {
		return true
	}
	deadline := time.Now().Add(maxWait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.L().Debug("quota_wait_cancelled")
			return false
		case now := <-ticker.C:
			if t.CanProceed() {
				return true
			}
			if now.After(deadline) {
				logger.L().Debug("quota_wait_timeout", "max_wait", maxWait.String())
				return false
			}
		}
	}
}

// Stats：返回剪除后的占用快照
func (t *Tracker) Stats() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prune(t.now())
	return Usage{
		Limits:     t.limits,
		MinuteUsed: len(t.minute),
		DayUsed:    len(t.day),
		MonthUsed:  len(t.month),
	}
}

// Limits：返回配置的各窗口上限
func (t *Tracker) Limits() Limits { return t.limits }

// Reset：清空三个窗口，测试与人工干预用
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.minute = t.minute[:0]
	t.day = t.day[:0]
	t.month = t.month[:0]
}
