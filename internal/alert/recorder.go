package alert

import (
	"context"
	"fmt"
	"time"

	"wellness-alert/internal/models"
)

// AlertRecorder 负责写入告警事件与回写投递结果
type AlertRecorder struct {
	events EventStore
	now    func() time.Time
}

// NewAlertRecorder 创建事件记录器
func NewAlertRecorder(events EventStore, now func() time.Time) *AlertRecorder {
	if now == nil {
		now = time.Now
	}
	return &AlertRecorder{events: events, now: now}
}

// Record 写入告警事件 冷却窗口内已有更新事件时返回 store.ErrInCooldown
func (r *AlertRecorder) Record(ctx context.Context, ev *models.AlertEvent, cooldownMinutes int) (int64, error) {
	if r == nil || r.events == nil {
		return 0, fmt.Errorf("事件存储未配置")
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now()
	}
	return r.events.InsertEvent(ctx, ev, cooldownWindow(cooldownMinutes))
}

// MarkDelivered 按投递结果回写渠道标记与已通知用户
func (r *AlertRecorder) MarkDelivered(ctx context.Context, id int64, result DeliveryResult, notified []int64) error {
	if r == nil || r.events == nil {
		return fmt.Errorf("事件存储未配置")
	}
	return r.events.UpdateDelivery(ctx, id, result.Flags(notified))
}
