// 本文件用于定义配置与运行期统计模型
package models

// Config 配置结构体
type Config struct {
	DBPath         string `yaml:"db_path"`
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	APIBind        string `yaml:"api_bind"` // API 服务监听地址
	APIAuthToken   string `yaml:"api_auth_token"`
	APICORSOrigins string `yaml:"api_cors_origins"`

	AlertEnabled     bool             `yaml:"alert_enabled"`
	AlertInterval    string           `yaml:"alert_interval"`    // 定时评估间隔 默认 60m
	AlertRunOnStart  bool             `yaml:"alert_run_on_start"`
	AlertParallelism int              `yaml:"alert_parallelism"` // 批量评估并发度
	AlertRulesFile   string           `yaml:"alert_rules_file"`
	ChannelTimeout   string           `yaml:"channel_timeout"` // 单个通知渠道超时
	AlertDefaults    PlatformDefaults `yaml:"alert_defaults"`
	OverrideCacheTTL string           `yaml:"override_cache_ttl"`

	EmailHost   string `yaml:"email_host"`
	EmailPort   int    `yaml:"email_port"`
	EmailUser   string `yaml:"email_user"`
	EmailPass   string `yaml:"email_pass"`
	EmailFrom   string `yaml:"email_from"`
	EmailUseTLS bool   `yaml:"email_use_tls"`

	PushRelayURL   string `yaml:"push_relay_url"`
	PushRelayToken string `yaml:"push_relay_token"`

	WebhookHost       string  `yaml:"webhook_host"`
	WebhookPathPrefix string  `yaml:"webhook_path_prefix"`
	WebhookRateLimit  float64 `yaml:"webhook_rate_limit"` // 每秒允许的 webhook 调用数

	OwnerNotifyURL   string `yaml:"owner_notify_url"`
	OwnerNotifyToken string `yaml:"owner_notify_token"`
	OwnerEmail       string `yaml:"owner_email"`

	ArchiveEnabled bool   `yaml:"archive_enabled"`
	ArchivePrefix  string `yaml:"archive_prefix"`
	Bucket         string `yaml:"bucket"`
	AK             string `yaml:"ak"`
	SK             string `yaml:"sk"`
	Endpoint       string `yaml:"endpoint"`
	DisableSSL     bool   `yaml:"disable_ssl"`
}

// PlatformDefaults 表示平台级默认阈值 组织未覆盖的字段回落到这里
type PlatformDefaults struct {
	FWICritical           *float64 `yaml:"fwi_critical" json:"fwiCritical,omitempty"`
	FWIWarning            *float64 `yaml:"fwi_warning" json:"fwiWarning,omitempty"`
	FWIHealthy            *float64 `yaml:"fwi_healthy" json:"fwiHealthy,omitempty"`
	RiskCriticalPct       *float64 `yaml:"risk_critical_pct" json:"riskCriticalPct,omitempty"`
	RiskWarningPct        *float64 `yaml:"risk_warning_pct" json:"riskWarningPct,omitempty"`
	EWAMaxPendingCount    *float64 `yaml:"ewa_max_pending_count" json:"ewaMaxPendingCount,omitempty"`
	EWAMaxPendingAmount   *float64 `yaml:"ewa_max_pending_amount" json:"ewaMaxPendingAmount,omitempty"`
	EWAMaxRequestsPerUser *float64 `yaml:"ewa_max_requests_per_user" json:"ewaMaxRequestsPerUser,omitempty"`
	NotifyOnCritical      *bool    `yaml:"notify_on_critical" json:"notifyOnCritical,omitempty"`
	NotifyOnWarning       *bool    `yaml:"notify_on_warning" json:"notifyOnWarning,omitempty"`
	NotifyOnInfo          *bool    `yaml:"notify_on_info" json:"notifyOnInfo,omitempty"`
}

// DefaultPlatformDefaults 返回内置的平台默认阈值
func DefaultPlatformDefaults() PlatformDefaults {
	return PlatformDefaults{
		FWICritical:           Float(40),
		FWIWarning:            Float(50),
		FWIHealthy:            Float(70),
		RiskCriticalPct:       Float(30),
		RiskWarningPct:        Float(20),
		EWAMaxPendingCount:    Float(10),
		EWAMaxPendingAmount:   Float(50000),
		EWAMaxRequestsPerUser: Float(3),
		NotifyOnCritical:      Bool(true),
		NotifyOnWarning:       Bool(true),
		NotifyOnInfo:          Bool(true),
	}
}

// Merge 用 other 中已设置的字段覆盖当前值
func (d PlatformDefaults) Merge(other PlatformDefaults) PlatformDefaults {
	out := d
	pickFloat(&out.FWICritical, other.FWICritical)
	pickFloat(&out.FWIWarning, other.FWIWarning)
	pickFloat(&out.FWIHealthy, other.FWIHealthy)
	pickFloat(&out.RiskCriticalPct, other.RiskCriticalPct)
	pickFloat(&out.RiskWarningPct, other.RiskWarningPct)
	pickFloat(&out.EWAMaxPendingCount, other.EWAMaxPendingCount)
	pickFloat(&out.EWAMaxPendingAmount, other.EWAMaxPendingAmount)
	pickFloat(&out.EWAMaxRequestsPerUser, other.EWAMaxRequestsPerUser)
	pickBool(&out.NotifyOnCritical, other.NotifyOnCritical)
	pickBool(&out.NotifyOnWarning, other.NotifyOnWarning)
	pickBool(&out.NotifyOnInfo, other.NotifyOnInfo)
	return out
}

func pickFloat(dst **float64, src *float64) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

func pickBool(dst **bool, src *bool) {
	if src != nil {
		v := *src
		*dst = &v
	}
}

// Float 返回浮点指针
func Float(v float64) *float64 { return &v }

// Bool 返回布尔指针
func Bool(v bool) *bool { return &v }

// Int64 返回整型指针
func Int64(v int64) *int64 { return &v }

// PassStats 表示单轮评估的统计
type PassStats struct {
	Evaluated    int `json:"evaluated"`
	Triggered    int `json:"triggered"`
	Suppressed   int `json:"suppressed"`
	NotTriggered int `json:"notTriggered"`
	Failed       int `json:"failed"`
}
