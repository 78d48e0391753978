package alert

import (
	"context"
	"sync"
	"time"
)

// CooldownGuard 判断规则是否处于冷却期 并提供按规则加锁
type CooldownGuard struct {
	events EventStore

	mu    sync.Mutex
	locks map[int64]*ruleLock
}

type ruleLock struct {
	mu   sync.Mutex
	refs int
}

// NewCooldownGuard 创建冷却判断器
func NewCooldownGuard(events EventStore) *CooldownGuard {
	return &CooldownGuard{
		events: events,
		locks:  make(map[int64]*ruleLock),
	}
}

// InCooldown 最近一次事件的创建时间晚于 now-cooldown 时返回 true
// 冷却时间为 0 或没有历史事件时永远返回 false
func (g *CooldownGuard) InCooldown(ctx context.Context, ruleID int64, cooldownMinutes int, now time.Time) (bool, error) {
	if cooldownMinutes <= 0 {
		return false, nil
	}
	last, ok, err := g.events.LatestEventTime(ctx, ruleID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return last.After(now.Add(-cooldownWindow(cooldownMinutes))), nil
}

// Lock 获取规则级互斥锁 返回解锁函数
func (g *CooldownGuard) Lock(ruleID int64) func() {
	g.mu.Lock()
	l, ok := g.locks[ruleID]
	if !ok {
		l = &ruleLock{}
		g.locks[ruleID] = l
	}
	l.refs++
	g.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		g.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(g.locks, ruleID)
		}
		g.mu.Unlock()
	}
}

func cooldownWindow(minutes int) time.Duration {
	if minutes <= 0 {
		return 0
	}
	return time.Duration(minutes) * time.Minute
}
