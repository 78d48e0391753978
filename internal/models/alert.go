// 本文件用于定义告警规则 告警事件与组织阈值模型
package models

import (
	"fmt"
	"strings"
	"time"
)

// AlertType 表示告警类型
type AlertType string

const (
	AlertFWIDepartmentLow  AlertType = "fwi_department_low"
	AlertFWIIndividualLow  AlertType = "fwi_individual_low"
	AlertFWITrendNegative  AlertType = "fwi_trend_negative"
	AlertEWAPendingCount   AlertType = "ewa_pending_count"
	AlertEWAPendingAmount  AlertType = "ewa_pending_amount"
	AlertEWAUserExcessive  AlertType = "ewa_user_excessive"
	AlertHighRiskPercent   AlertType = "high_risk_percentage"
	AlertNewHighRiskUser   AlertType = "new_high_risk_user"
	AlertWeeklyRiskSummary AlertType = "weekly_risk_summary"
)

// AllAlertTypes 按固定顺序返回全部告警类型
func AllAlertTypes() []AlertType {
	return []AlertType{
		AlertFWIDepartmentLow,
		AlertFWIIndividualLow,
		AlertFWITrendNegative,
		AlertEWAPendingCount,
		AlertEWAPendingAmount,
		AlertEWAUserExcessive,
		AlertHighRiskPercent,
		AlertNewHighRiskUser,
		AlertWeeklyRiskSummary,
	}
}

// UnitDomain 表示阈值的量纲
type UnitDomain string

const (
	UnitScore      UnitDomain = "score"
	UnitPercentage UnitDomain = "percentage"
	UnitCurrency   UnitDomain = "currency"
	UnitCount      UnitDomain = "count"
)

// Valid 判断告警类型是否在枚举内
func (t AlertType) Valid() bool {
	switch t {
	case AlertFWIDepartmentLow, AlertFWIIndividualLow, AlertFWITrendNegative,
		AlertEWAPendingCount, AlertEWAPendingAmount, AlertEWAUserExcessive,
		AlertHighRiskPercent, AlertNewHighRiskUser, AlertWeeklyRiskSummary:
		return true
	default:
		return false
	}
}

// Unit 返回告警类型声明的量纲
func (t AlertType) Unit() UnitDomain {
	switch t {
	case AlertFWIDepartmentLow, AlertFWIIndividualLow, AlertFWITrendNegative:
		return UnitScore
	case AlertHighRiskPercent:
		return UnitPercentage
	case AlertEWAPendingAmount:
		return UnitCurrency
	case AlertEWAPendingCount, AlertEWAUserExcessive, AlertNewHighRiskUser, AlertWeeklyRiskSummary:
		return UnitCount
	default:
		return UnitCount
	}
}

// ParseAlertType 用于解析告警类型
func ParseAlertType(raw string) (AlertType, error) {
	t := AlertType(strings.ToLower(strings.TrimSpace(raw)))
	if !t.Valid() {
		return "", fmt.Errorf("无效的告警类型: %s", raw)
	}
	return t, nil
}

// Severity 表示告警严重级别
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid 判断严重级别是否合法
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

// Rank 返回严重级别的排序值 越大越严重
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 2
	case SeverityWarning:
		return 1
	default:
		return 0
	}
}

// Operator 表示阈值比较运算符
type Operator string

const (
	OpLT  Operator = "lt"
	OpLTE Operator = "lte"
	OpGT  Operator = "gt"
	OpGTE Operator = "gte"
	OpEQ  Operator = "eq"
)

// Valid 判断运算符是否合法
func (o Operator) Valid() bool {
	switch o {
	case OpLT, OpLTE, OpGT, OpGTE, OpEQ:
		return true
	default:
		return false
	}
}

// Compare 按运算符比较当前值与阈值
func (o Operator) Compare(value, threshold float64) bool {
	switch o {
	case OpLT:
		return value < threshold
	case OpLTE:
		return value <= threshold
	case OpGT:
		return value > threshold
	case OpGTE:
		return value >= threshold
	case OpEQ:
		return value == threshold
	default:
		return false
	}
}

// ParseOperator 用于解析比较运算符
func ParseOperator(raw string) (Operator, error) {
	op := Operator(strings.ToLower(strings.TrimSpace(raw)))
	if !op.Valid() {
		return "", fmt.Errorf("无效的比较运算符: %s", raw)
	}
	return op, nil
}

// Role 表示平台用户角色
type Role string

const (
	RoleAdmin           Role = "admin"
	RoleDepartmentAdmin Role = "b2b_admin"
	RoleEmployee        Role = "employee"
)

// AlertRule 表示一条可配置的告警规则
type AlertRule struct {
	ID                     int64     `json:"id" yaml:"-"`
	Name                   string    `json:"name" yaml:"name"`
	Description            string    `json:"description" yaml:"description"`
	AlertType              AlertType `json:"alertType" yaml:"alert_type"`
	Threshold              float64   `json:"threshold" yaml:"threshold"`
	Operator               Operator  `json:"comparisonOperator" yaml:"operator"`
	DepartmentID           *int64    `json:"departmentId,omitempty" yaml:"department_id"`
	Enabled                bool      `json:"isEnabled" yaml:"enabled"`
	NotifyEmail            bool      `json:"notifyEmail" yaml:"notify_email"`
	NotifyPush             bool      `json:"notifyPush" yaml:"notify_push"`
	NotifyInApp            bool      `json:"notifyInApp" yaml:"notify_in_app"`
	NotifyAdmins           bool      `json:"notifyAdmins" yaml:"notify_admins"`
	NotifyDepartmentAdmins bool      `json:"notifyDepartmentAdmins" yaml:"notify_department_admins"`
	CooldownMinutes        int       `json:"cooldownMinutes" yaml:"cooldown_minutes"`
	CreatedBy              int64     `json:"createdBy" yaml:"created_by"`
	CreatedAt              time.Time `json:"createdAt" yaml:"-"`
	UpdatedAt              time.Time `json:"updatedAt" yaml:"-"`
}

// Validate 校验规则字段与量纲约束
func (r *AlertRule) Validate() error {
	if r == nil {
		return fmt.Errorf("告警规则为空")
	}
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("告警规则名称不能为空")
	}
	if !r.AlertType.Valid() {
		return fmt.Errorf("无效的告警类型: %s", r.AlertType)
	}
	if !r.Operator.Valid() {
		return fmt.Errorf("无效的比较运算符: %s", r.Operator)
	}
	if r.CooldownMinutes < 0 {
		return fmt.Errorf("冷却时间不能为负数: %d", r.CooldownMinutes)
	}
	switch r.AlertType.Unit() {
	case UnitScore:
		// 趋势类指标是分数差值 允许负数
		if r.AlertType != AlertFWITrendNegative && (r.Threshold < 0 || r.Threshold > 100) {
			return fmt.Errorf("分数阈值超出范围 0-100: %v", r.Threshold)
		}
		if r.AlertType == AlertFWITrendNegative && (r.Threshold < -100 || r.Threshold > 100) {
			return fmt.Errorf("趋势阈值超出范围 -100-100: %v", r.Threshold)
		}
	case UnitPercentage:
		if r.Threshold < 0 || r.Threshold > 100 {
			return fmt.Errorf("百分比阈值超出范围 0-100: %v", r.Threshold)
		}
	case UnitCurrency, UnitCount:
		if r.Threshold < 0 {
			return fmt.Errorf("阈值不能为负数: %v", r.Threshold)
		}
	}
	return nil
}

// OrganizationThresholds 表示组织级阈值覆盖 未设置的字段使用平台默认值
type OrganizationThresholds struct {
	OrganizationID int64 `json:"organizationId"`
	PlatformDefaults
	EmailRecipients []string  `json:"emailRecipients,omitempty"`
	WebhookURL      string    `json:"webhookUrl,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// AlertEvent 表示一次告警触发的审计记录
type AlertEvent struct {
	ID              int64      `json:"id"`
	RuleID          int64      `json:"ruleId"`
	AlertType       AlertType  `json:"alertType"`
	OrganizationID  *int64     `json:"organizationId,omitempty"`
	DepartmentID    *int64     `json:"departmentId,omitempty"`
	UserID          *int64     `json:"userId,omitempty"`
	PreviousValue   *float64   `json:"previousValue,omitempty"`
	CurrentValue    float64    `json:"currentValue"`
	Threshold       float64    `json:"threshold"`
	Message         string     `json:"message"`
	Severity        Severity   `json:"severity"`
	EmailSent       bool       `json:"emailSent"`
	PushSent        bool       `json:"pushSent"`
	InAppSent       bool       `json:"inAppSent"`
	NotifiedUserIDs []int64    `json:"notifiedUsers"`
	AcknowledgedBy  *int64     `json:"acknowledgedBy,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledgedAt,omitempty"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// DeliveryFlags 表示告警事件的投递结果标记
type DeliveryFlags struct {
	EmailSent       bool
	PushSent        bool
	InAppSent       bool
	NotifiedUserIDs []int64
}

// User 表示通知目标用户
type User struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	Email          string `json:"email"`
	Role           Role   `json:"role"`
	OrganizationID *int64 `json:"organizationId,omitempty"`
	DepartmentID   *int64 `json:"departmentId,omitempty"`
}

// Department 表示组织下的部门
type Department struct {
	ID             int64  `json:"id"`
	OrganizationID int64  `json:"organizationId"`
	Name           string `json:"name"`
}

// PushSubscription 表示用户注册的推送设备
type PushSubscription struct {
	ID       int64  `json:"id"`
	UserID   int64  `json:"userId"`
	Endpoint string `json:"endpoint"`
	P256dh   string `json:"p256dh"`
	Auth     string `json:"auth"`
}

// InAppNotification 表示站内通知
type InAppNotification struct {
	UserID       int64
	Title        string
	Body         string
	AlertEventID int64
	CreatedAt    time.Time
}

// MetricScope 表示指标取值范围
type MetricScope struct {
	OrganizationID *int64
	DepartmentID   *int64
	UserID         *int64
}
