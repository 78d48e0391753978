// 本文件用于定义告警评估相关的数据结构
// 文件职责：统一评估结果 决策状态与原因文案
// 边界与容错：评估路径不向上返回错误 失败原因写入结果由调用方展示

package alert

import (
	"time"

	"wellness-alert/internal/models"
)

// 未触发原因
const (
	ReasonRuleDisabled           = "rule disabled"
	ReasonConditionNotMet        = "condition not met"
	ReasonInCooldown             = "in cooldown"
	ReasonSeverityMuted          = "severity muted by organization policy"
	ReasonMetricUnavailable      = "metric unavailable"
	ReasonPersistenceUnavailable = "persistence unavailable"
	ReasonPanic                  = "evaluation panicked"
)

// DecisionStatus 表示告警决策状态
type DecisionStatus string

const (
	// StatusTriggered 表示已触发并投递
	StatusTriggered DecisionStatus = "triggered"
	// StatusSuppressed 表示被冷却期或组织策略抑制
	StatusSuppressed DecisionStatus = "suppressed"
	// StatusSkipped 表示条件不满足或规则停用
	StatusSkipped DecisionStatus = "skipped"
	// StatusFailed 表示取数或持久化失败
	StatusFailed DecisionStatus = "failed"
)

// ScopeContext 表示一次评估的作用范围
type ScopeContext struct {
	OrganizationID *int64 `json:"organizationId,omitempty"`
	DepartmentID   *int64 `json:"departmentId,omitempty"`
	UserID         *int64 `json:"userId,omitempty"`
	ScopeName      string `json:"scopeName,omitempty"`
}

// TriggerResult 表示单条规则的评估结果
type TriggerResult struct {
	RuleID       int64            `json:"ruleId"`
	RuleName     string           `json:"ruleName"`
	AlertType    models.AlertType `json:"alertType"`
	Triggered    bool             `json:"triggered"`
	AlertID      int64            `json:"alertId,omitempty"`
	Message      string           `json:"message,omitempty"`
	Severity     models.Severity  `json:"severity,omitempty"`
	Reason       string           `json:"reason,omitempty"`
	CurrentValue float64          `json:"currentValue"`
	Threshold    float64          `json:"threshold"`
	Delivery     *DeliveryResult  `json:"delivery,omitempty"`
	Error        string           `json:"error,omitempty"`
	EvaluatedAt  time.Time        `json:"evaluatedAt"`
}

// Status 将评估结果归类为决策状态
func (r TriggerResult) Status() DecisionStatus {
	if r.Triggered {
		return StatusTriggered
	}
	switch r.Reason {
	case ReasonInCooldown, ReasonSeverityMuted:
		return StatusSuppressed
	case ReasonRuleDisabled, ReasonConditionNotMet:
		return StatusSkipped
	default:
		return StatusFailed
	}
}

// SummarizePass 统计一轮评估结果
func SummarizePass(results []TriggerResult) models.PassStats {
	stats := models.PassStats{Evaluated: len(results)}
	for _, r := range results {
		switch r.Status() {
		case StatusTriggered:
			stats.Triggered++
		case StatusSuppressed:
			stats.Suppressed++
		case StatusSkipped:
			stats.NotTriggered++
		default:
			stats.Failed++
		}
	}
	return stats
}
