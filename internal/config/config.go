package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"wellness-alert/internal/models"
)

const (
	defaultDBPath            = "data/alerts.db"
	defaultAlertInterval     = "60m"
	defaultChannelTimeout    = "10s"
	defaultAlertParallelism  = 4
	defaultOverrideCacheTTL  = "1m"
	defaultWebhookHost       = "hooks.slack.com"
	defaultWebhookPathPrefix = "/services/"
	defaultWebhookRateLimit  = 1
	defaultArchivePrefix     = "alert-events"
	defaultAPIBind           = ":8080"
	defaultEmailPort         = 587
)

// LoadConfig 加载配置文件
func LoadConfig(configFile string) (*models.Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %v", err)
	}

	var config models.Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %v", err)
	}

	runtime, err := loadRuntimeConfig(configFile)
	if err != nil {
		return nil, err
	}
	applyRuntimeConfig(&config, runtime)
	if err := applyEnvOverrides(&config); err != nil {
		return nil, err
	}
	applyDefaults(&config)
	return &config, nil
}

func applyDefaults(config *models.Config) {
	if strings.TrimSpace(config.DBPath) == "" {
		config.DBPath = defaultDBPath
	}
	if config.LogLevel == "" {
		config.LogLevel = "info"
	}
	if strings.TrimSpace(config.APIBind) == "" {
		config.APIBind = defaultAPIBind
	}
	if strings.TrimSpace(config.AlertInterval) == "" {
		config.AlertInterval = defaultAlertInterval
	}
	if strings.TrimSpace(config.ChannelTimeout) == "" {
		config.ChannelTimeout = defaultChannelTimeout
	}
	if config.AlertParallelism <= 0 {
		config.AlertParallelism = defaultAlertParallelism
	}
	if strings.TrimSpace(config.OverrideCacheTTL) == "" {
		config.OverrideCacheTTL = defaultOverrideCacheTTL
	}
	if strings.TrimSpace(config.WebhookHost) == "" {
		config.WebhookHost = defaultWebhookHost
	}
	if strings.TrimSpace(config.WebhookPathPrefix) == "" {
		config.WebhookPathPrefix = defaultWebhookPathPrefix
	}
	if config.WebhookRateLimit <= 0 {
		config.WebhookRateLimit = defaultWebhookRateLimit
	}
	if strings.TrimSpace(config.ArchivePrefix) == "" {
		config.ArchivePrefix = defaultArchivePrefix
	}
	if config.EmailPort <= 0 {
		config.EmailPort = defaultEmailPort
	}
	// 未填写的平台默认阈值使用内置值
	config.AlertDefaults = models.DefaultPlatformDefaults().Merge(config.AlertDefaults)
}

// 环境变量优先于配置文件 便于在容器中注入敏感信息
func applyEnvOverrides(config *models.Config) error {
	config.DBPath = stringFromEnv("ALERT_DB_PATH", config.DBPath)
	config.LogLevel = stringFromEnv("LOG_LEVEL", config.LogLevel)
	config.APIBind = stringFromEnv("API_BIND", config.APIBind)
	config.APIAuthToken = resolveEnvPlaceholder(stringFromEnv("API_AUTH_TOKEN", config.APIAuthToken))
	config.EmailPass = resolveEnvPlaceholder(stringFromEnv("EMAIL_PASS", config.EmailPass))
	config.PushRelayToken = resolveEnvPlaceholder(stringFromEnv("PUSH_RELAY_TOKEN", config.PushRelayToken))
	config.OwnerNotifyToken = resolveEnvPlaceholder(stringFromEnv("OWNER_NOTIFY_TOKEN", config.OwnerNotifyToken))
	config.AK = resolveEnvPlaceholder(stringFromEnv("OSS_AK", config.AK))
	config.SK = resolveEnvPlaceholder(stringFromEnv("OSS_SK", config.SK))
	config.AlertInterval = stringFromEnv("ALERT_INTERVAL", config.AlertInterval)

	if v, ok, err := boolFromEnv("ALERT_ENABLED"); err != nil {
		return err
	} else if ok {
		config.AlertEnabled = v
	}
	if v, ok, err := intFromEnv("ALERT_PARALLELISM"); err != nil {
		return err
	} else if ok {
		config.AlertParallelism = v
	}
	return nil
}

func stringFromEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intFromEnv(key string) (int, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, fmt.Errorf("环境变量 %s 不是有效整数: %s", key, raw)
	}
	return v, true, nil
}

func boolFromEnv(key string) (bool, bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false, fmt.Errorf("环境变量 %s 不是有效布尔值: %s", key, raw)
	}
	return v, true, nil
}

// resolveEnvPlaceholder 把 ${VAR} 形式的值替换为环境变量
func resolveEnvPlaceholder(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}") {
		return strings.TrimSpace(os.Getenv(trimmed[2 : len(trimmed)-1]))
	}
	return trimmed
}

// ValidateConfig 验证配置
func ValidateConfig(config *models.Config) error {
	if config == nil {
		return fmt.Errorf("配置为空")
	}
	if strings.TrimSpace(config.DBPath) == "" {
		return fmt.Errorf("数据库路径不能为空")
	}
	switch strings.ToLower(strings.TrimSpace(config.LogLevel)) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("无效的日志级别: %s", config.LogLevel)
	}
	if _, _, err := net.SplitHostPort(config.APIBind); err != nil {
		return fmt.Errorf("API 监听地址无效: %s", config.APIBind)
	}
	if _, err := ParseAlertInterval(config.AlertInterval); err != nil {
		return err
	}
	if _, err := parsePositiveDuration("通知渠道超时", config.ChannelTimeout); err != nil {
		return err
	}
	if _, err := parsePositiveDuration("阈值缓存时间", config.OverrideCacheTTL); err != nil {
		return err
	}
	if config.AlertParallelism <= 0 {
		return fmt.Errorf("评估并发度必须大于 0")
	}
	if !strings.HasPrefix(config.WebhookPathPrefix, "/") {
		return fmt.Errorf("webhook 路径前缀必须以 / 开头: %s", config.WebhookPathPrefix)
	}
	if err := ValidateDefaults(config.AlertDefaults); err != nil {
		return err
	}
	if strings.TrimSpace(config.EmailHost) != "" && strings.TrimSpace(config.EmailFrom) == "" {
		return fmt.Errorf("配置了邮件服务器时发件人不能为空")
	}
	if config.ArchiveEnabled {
		if config.Bucket == "" {
			return fmt.Errorf("OSS Bucket不能为空")
		}
		if config.AK == "" || config.SK == "" {
			return fmt.Errorf("OSS认证信息不能为空")
		}
		if config.Endpoint == "" {
			return fmt.Errorf("OSS Endpoint不能为空")
		}
	}
	return nil
}

// ValidateDefaults 校验平台默认阈值的取值范围
func ValidateDefaults(d models.PlatformDefaults) error {
	checks := []struct {
		name string
		val  *float64
		max  float64
	}{
		{"fwi_critical", d.FWICritical, 100},
		{"fwi_warning", d.FWIWarning, 100},
		{"fwi_healthy", d.FWIHealthy, 100},
		{"risk_critical_pct", d.RiskCriticalPct, 100},
		{"risk_warning_pct", d.RiskWarningPct, 100},
		{"ewa_max_pending_count", d.EWAMaxPendingCount, -1},
		{"ewa_max_pending_amount", d.EWAMaxPendingAmount, -1},
		{"ewa_max_requests_per_user", d.EWAMaxRequestsPerUser, -1},
	}
	for _, c := range checks {
		if c.val == nil {
			continue
		}
		if *c.val < 0 {
			return fmt.Errorf("平台默认阈值 %s 不能为负数", c.name)
		}
		if c.max > 0 && *c.val > c.max {
			return fmt.Errorf("平台默认阈值 %s 超出范围 0-%v", c.name, c.max)
		}
	}
	return nil
}

// ParseAlertInterval 解析定时评估间隔 最小 1 分钟
func ParseAlertInterval(raw string) (time.Duration, error) {
	d, err := parsePositiveDuration("评估间隔", raw)
	if err != nil {
		return 0, err
	}
	if d < time.Minute {
		return 0, fmt.Errorf("评估间隔不能小于 1 分钟: %s", raw)
	}
	return d, nil
}

// ParseDurationOr 解析时长 失败时返回默认值
func ParseDurationOr(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parsePositiveDuration(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s格式无效: %s", name, raw)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s必须大于 0: %s", name, raw)
	}
	return d, nil
}
