// 本文件用于定义告警引擎依赖的外部协作接口
package alert

import (
	"context"
	"time"

	"wellness-alert/internal/models"
)

// MetricSource 计算告警类型在给定范围内的当前值
type MetricSource interface {
	Metric(ctx context.Context, alertType models.AlertType, scope models.MetricScope) (float64, error)
}

// RuleStore 管理告警规则
type RuleStore interface {
	ListEnabledRules(ctx context.Context) ([]models.AlertRule, error)
	ListRules(ctx context.Context) ([]models.AlertRule, error)
	GetRule(ctx context.Context, id int64) (*models.AlertRule, error)
	CreateRule(ctx context.Context, rule *models.AlertRule) error
	UpdateRule(ctx context.Context, rule *models.AlertRule) error
	DeleteRule(ctx context.Context, id int64) error
}

// OrgThresholdStore 读写组织级阈值覆盖
type OrgThresholdStore interface {
	GetOrgThresholds(ctx context.Context, orgID int64) (*models.OrganizationThresholds, error)
	UpsertOrgThresholds(ctx context.Context, t *models.OrganizationThresholds) error
}

// EventStore 持久化告警事件
// InsertEvent 需要在 cooldown 窗口内已有更新事件时拒绝写入
type EventStore interface {
	LatestEventTime(ctx context.Context, ruleID int64) (time.Time, bool, error)
	LatestEvent(ctx context.Context, ruleID int64) (*models.AlertEvent, error)
	InsertEvent(ctx context.Context, ev *models.AlertEvent, cooldown time.Duration) (int64, error)
	UpdateDelivery(ctx context.Context, id int64, flags models.DeliveryFlags) error
	AcknowledgeEvent(ctx context.Context, id, userID int64, at time.Time) error
	ResolveEvent(ctx context.Context, id int64, at time.Time) error
	GetEvent(ctx context.Context, id int64) (*models.AlertEvent, error)
	ListEvents(ctx context.Context, ruleID *int64, limit int) ([]models.AlertEvent, error)
}

// Directory 提供用户 部门与站内通知
type Directory interface {
	UsersByRole(ctx context.Context, role models.Role) ([]models.User, error)
	DepartmentName(ctx context.Context, id int64) (string, error)
	DepartmentOrganizationID(ctx context.Context, id int64) (int64, error)
	OrganizationName(ctx context.Context, id int64) (string, error)
	InsertInAppNotification(ctx context.Context, n models.InAppNotification) error
}

// EmailSender 发送单封邮件
type EmailSender interface {
	Send(ctx context.Context, address, subject, body string) error
}

// PushSender 向用户的全部设备推送
type PushSender interface {
	SendToUser(ctx context.Context, userID int64, payload models.PushPayload) (models.PushResult, error)
}

// WebhookSender 调用聊天机器人 webhook
type WebhookSender interface {
	Post(ctx context.Context, url string, msg models.WebhookMessage) error
}

// OwnerNotifier 通知系统负责人
type OwnerNotifier interface {
	Notify(ctx context.Context, title, content string) error
}
