package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wellness-alert/internal/models"
	"wellness-alert/internal/store"
)

// ErrAlertNotFound 表示告警事件不存在
var ErrAlertNotFound = errors.New("告警事件不存在")

// LifecycleManager 处理告警确认与解决
type LifecycleManager struct {
	events EventStore
	now    func() time.Time
}

// NewLifecycleManager 创建告警生命周期管理器
func NewLifecycleManager(events EventStore, now func() time.Time) *LifecycleManager {
	if now == nil {
		now = time.Now
	}
	return &LifecycleManager{events: events, now: now}
}

// Acknowledge 记录确认人 重复确认只刷新确认时间
func (m *LifecycleManager) Acknowledge(ctx context.Context, alertID, userID int64) (*models.AlertEvent, error) {
	if err := m.events.AcknowledgeEvent(ctx, alertID, userID, m.now()); err != nil {
		return nil, mapNotFound(err, alertID)
	}
	return m.get(ctx, alertID)
}

// Resolve 记录解决时间 与是否确认无关
func (m *LifecycleManager) Resolve(ctx context.Context, alertID int64) (*models.AlertEvent, error) {
	if err := m.events.ResolveEvent(ctx, alertID, m.now()); err != nil {
		return nil, mapNotFound(err, alertID)
	}
	return m.get(ctx, alertID)
}

func (m *LifecycleManager) get(ctx context.Context, alertID int64) (*models.AlertEvent, error) {
	ev, err := m.events.GetEvent(ctx, alertID)
	if err != nil {
		return nil, mapNotFound(err, alertID)
	}
	return ev, nil
}

func mapNotFound(err error, alertID int64) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %d", ErrAlertNotFound, alertID)
	}
	return err
}
