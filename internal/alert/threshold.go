// 本文件用于解析规则的生效阈值与组织通知策略
package alert

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"wellness-alert/internal/logger"
	"wellness-alert/internal/models"
	"wellness-alert/internal/store"
)

const defaultOverrideCacheTTL = time.Minute

// Policy 表示组织按严重级别的通知开关
type Policy struct {
	NotifyCritical bool `json:"notifyCritical"`
	NotifyWarning  bool `json:"notifyWarning"`
	NotifyInfo     bool `json:"notifyInfo"`
}

// AllowAll 返回放行全部级别的策略
func AllowAll() Policy {
	return Policy{NotifyCritical: true, NotifyWarning: true, NotifyInfo: true}
}

// Allows 判断策略是否放行该级别
func (p Policy) Allows(sev models.Severity) bool {
	switch sev {
	case models.SeverityCritical:
		return p.NotifyCritical
	case models.SeverityWarning:
		return p.NotifyWarning
	case models.SeverityInfo:
		return p.NotifyInfo
	default:
		return false
	}
}

// Resolution 表示阈值解析结果
type Resolution struct {
	Threshold       float64  `json:"threshold"`
	Policy          Policy   `json:"policy"`
	WebhookURL      string   `json:"webhookUrl,omitempty"`
	EmailRecipients []string `json:"emailRecipients,omitempty"`
	Overridden      bool     `json:"overridden"`
}

// ThresholdResolver 按 组织覆盖 -> 平台默认 -> 规则阈值 逐字段解析
type ThresholdResolver struct {
	store OrgThresholdStore

	mu       sync.RWMutex
	defaults models.PlatformDefaults

	// 组织覆盖缓存 未配置的组织缓存为 nil
	cache *ttlcache.Cache[int64, *models.OrganizationThresholds]
}

// NewThresholdResolver 创建阈值解析器
func NewThresholdResolver(s OrgThresholdStore, defaults models.PlatformDefaults, ttl time.Duration) *ThresholdResolver {
	if ttl <= 0 {
		ttl = defaultOverrideCacheTTL
	}
	return &ThresholdResolver{
		store:    s,
		defaults: defaults,
		cache: ttlcache.New[int64, *models.OrganizationThresholds](
			ttlcache.WithTTL[int64, *models.OrganizationThresholds](ttl),
		),
	}
}

// SetDefaults 热更新平台默认值
func (r *ThresholdResolver) SetDefaults(defaults models.PlatformDefaults) {
	r.mu.Lock()
	r.defaults = defaults
	r.mu.Unlock()
}

// Defaults 返回当前平台默认值
func (r *ThresholdResolver) Defaults() models.PlatformDefaults {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaults
}

// Invalidate 清除组织覆盖缓存
func (r *ThresholdResolver) Invalidate(orgID int64) {
	r.cache.Delete(orgID)
}

// Resolve 解析规则在组织下的生效阈值与通知策略
// 没有组织 没有覆盖或读取失败时使用规则阈值并放行全部级别
func (r *ThresholdResolver) Resolve(ctx context.Context, alertType models.AlertType, orgID *int64, ruleThreshold float64) Resolution {
	fallback := Resolution{Threshold: ruleThreshold, Policy: AllowAll()}
	if r == nil || orgID == nil {
		return fallback
	}
	override, err := r.lookup(ctx, *orgID)
	if err != nil {
		logger.Warn("读取组织阈值失败 使用规则阈值: org=%d err=%v", *orgID, err)
		return fallback
	}
	if override == nil {
		return fallback
	}

	defaults := r.Defaults()
	effective := defaults.Merge(override.PlatformDefaults)
	return Resolution{
		Threshold: thresholdFor(alertType, effective, ruleThreshold),
		Policy: Policy{
			NotifyCritical: flagOr(effective.NotifyOnCritical, true),
			NotifyWarning:  flagOr(effective.NotifyOnWarning, true),
			NotifyInfo:     flagOr(effective.NotifyOnInfo, true),
		},
		WebhookURL:      override.WebhookURL,
		EmailRecipients: append([]string(nil), override.EmailRecipients...),
		Overridden:      true,
	}
}

func (r *ThresholdResolver) lookup(ctx context.Context, orgID int64) (*models.OrganizationThresholds, error) {
	if item := r.cache.Get(orgID); item != nil {
		return item.Value(), nil
	}
	if r.store == nil {
		return nil, nil
	}
	override, err := r.store.GetOrgThresholds(ctx, orgID)
	if errors.Is(err, store.ErrNotFound) {
		r.cache.Set(orgID, nil, ttlcache.DefaultTTL)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.cache.Set(orgID, override, ttlcache.DefaultTTL)
	return override, nil
}

// thresholdFor 返回告警类型对应的阈值字段 未映射的类型使用规则阈值
func thresholdFor(alertType models.AlertType, d models.PlatformDefaults, ruleThreshold float64) float64 {
	var field *float64
	switch alertType {
	case models.AlertFWIDepartmentLow:
		field = d.FWIWarning
	case models.AlertFWIIndividualLow:
		field = d.FWICritical
	case models.AlertHighRiskPercent:
		field = d.RiskWarningPct
	case models.AlertEWAPendingCount:
		field = d.EWAMaxPendingCount
	case models.AlertEWAPendingAmount:
		field = d.EWAMaxPendingAmount
	case models.AlertEWAUserExcessive:
		field = d.EWAMaxRequestsPerUser
	case models.AlertFWITrendNegative, models.AlertNewHighRiskUser, models.AlertWeeklyRiskSummary:
		return ruleThreshold
	}
	if field == nil {
		return ruleThreshold
	}
	return *field
}

func flagOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
