package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"wellness-alert/internal/models"
)

// 覆盖配置加载流程
func TestLoadConfig(t *testing.T) {
	tempConfig := `
db_path: "/var/lib/alertd/alerts.db"
log_level: "debug"
log_file: "/var/log/alertd.log"
api_bind: ":9000"
alert_enabled: true
alert_interval: "30m"
alert_parallelism: 8
channel_timeout: "5s"
email_host: "smtp.example.com"
email_port: 465
email_from: "alerts@example.com"
email_use_tls: true
webhook_host: "hooks.example.com"
alert_defaults:
  fwi_warning: 55
  notify_on_info: false
`
	configPath := writeTempConfig(t, tempConfig)

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if config.DBPath != "/var/lib/alertd/alerts.db" {
		t.Errorf("DBPath 期望 /var/lib/alertd/alerts.db, 实际 %s", config.DBPath)
	}
	if config.LogLevel != "debug" {
		t.Errorf("LogLevel 期望 debug, 实际 %s", config.LogLevel)
	}
	if config.APIBind != ":9000" {
		t.Errorf("APIBind 期望 :9000, 实际 %s", config.APIBind)
	}
	if !config.AlertEnabled {
		t.Errorf("AlertEnabled 期望 true")
	}
	if config.AlertInterval != "30m" {
		t.Errorf("AlertInterval 期望 30m, 实际 %s", config.AlertInterval)
	}
	if config.AlertParallelism != 8 {
		t.Errorf("AlertParallelism 期望 8, 实际 %d", config.AlertParallelism)
	}
	if config.EmailPort != 465 || !config.EmailUseTLS {
		t.Errorf("邮件配置不符合预期: port=%d tls=%v", config.EmailPort, config.EmailUseTLS)
	}
	if config.WebhookHost != "hooks.example.com" {
		t.Errorf("WebhookHost 期望 hooks.example.com, 实际 %s", config.WebhookHost)
	}
	if got := *config.AlertDefaults.FWIWarning; got != 55 {
		t.Errorf("fwi_warning 期望 55, 实际 %v", got)
	}
	if got := *config.AlertDefaults.FWICritical; got != 40 {
		t.Errorf("fwi_critical 应回落默认值 40, 实际 %v", got)
	}
	if *config.AlertDefaults.NotifyOnInfo {
		t.Errorf("notify_on_info 期望 false")
	}
	if err := ValidateConfig(config); err != nil {
		t.Fatalf("配置校验失败: %v", err)
	}
}

func TestLoadConfigWithDefaults(t *testing.T) {
	configPath := writeTempConfig(t, "log_level: info\n")

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if config.AlertInterval != "60m" {
		t.Errorf("AlertInterval 默认值期望 60m, 实际 %s", config.AlertInterval)
	}
	if config.ChannelTimeout != "10s" {
		t.Errorf("ChannelTimeout 默认值期望 10s, 实际 %s", config.ChannelTimeout)
	}
	if config.AlertParallelism != 4 {
		t.Errorf("AlertParallelism 默认值期望 4, 实际 %d", config.AlertParallelism)
	}
	if config.WebhookHost != "hooks.slack.com" || config.WebhookPathPrefix != "/services/" {
		t.Errorf("webhook 默认值不符合预期: %s %s", config.WebhookHost, config.WebhookPathPrefix)
	}
	if config.APIBind != ":8080" {
		t.Errorf("APIBind 默认值期望 :8080, 实际 %s", config.APIBind)
	}
	if config.DBPath != "data/alerts.db" {
		t.Errorf("DBPath 默认值期望 data/alerts.db, 实际 %s", config.DBPath)
	}
	if config.AlertDefaults.EWAMaxPendingAmount == nil || *config.AlertDefaults.EWAMaxPendingAmount != 50000 {
		t.Errorf("ewa_max_pending_amount 默认值期望 50000")
	}
	if err := ValidateConfig(config); err != nil {
		t.Fatalf("默认配置应通过校验: %v", err)
	}
}

func TestValidateConfig(t *testing.T) {
	base := func() *models.Config {
		return &models.Config{
			DBPath:            "alerts.db",
			LogLevel:          "info",
			APIBind:           ":8080",
			AlertInterval:     "60m",
			ChannelTimeout:    "10s",
			OverrideCacheTTL:  "1m",
			AlertParallelism:  4,
			WebhookPathPrefix: "/services/",
			AlertDefaults:     models.DefaultPlatformDefaults(),
		}
	}

	t.Run("valid config", func(t *testing.T) {
		if err := ValidateConfig(base()); err != nil {
			t.Fatalf("有效配置验证失败: %v", err)
		}
	})

	cases := []struct {
		name   string
		mutate func(*models.Config)
	}{
		{"invalid log level", func(c *models.Config) { c.LogLevel = "infos" }},
		{"interval too short", func(c *models.Config) { c.AlertInterval = "30s" }},
		{"bad channel timeout", func(c *models.Config) { c.ChannelTimeout = "soon" }},
		{"zero parallelism", func(c *models.Config) { c.AlertParallelism = 0 }},
		{"bad bind", func(c *models.Config) { c.APIBind = "8080" }},
		{"negative default", func(c *models.Config) { c.AlertDefaults.EWAMaxPendingCount = models.Float(-1) }},
		{"percentage over 100", func(c *models.Config) { c.AlertDefaults.RiskWarningPct = models.Float(120) }},
		{"archive without bucket", func(c *models.Config) { c.ArchiveEnabled = true }},
		{"email without sender", func(c *models.Config) { c.EmailHost = "smtp.example.com" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			if err := ValidateConfig(cfg); err == nil {
				t.Fatal("无效配置应该验证失败")
			}
		})
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	configPath := writeTempConfig(t, `
api_auth_token: "${ALERT_TEST_TOKEN}"
ak: "file-ak"
sk: "file-sk"
alert_parallelism: 2
`)
	t.Setenv("ALERT_TEST_TOKEN", "secret-token")
	t.Setenv("OSS_AK", "env-ak")
	t.Setenv("OSS_SK", "env-sk")
	t.Setenv("ALERT_PARALLELISM", "7")
	t.Setenv("ALERT_ENABLED", "true")
	t.Setenv("API_BIND", ":18080")

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if config.APIAuthToken != "secret-token" {
		t.Errorf("APIAuthToken 应从占位符解析, 实际 %s", config.APIAuthToken)
	}
	if config.AK != "env-ak" || config.SK != "env-sk" {
		t.Errorf("AK/SK 应从环境变量覆盖, 实际 ak=%s sk=%s", config.AK, config.SK)
	}
	if config.AlertParallelism != 7 {
		t.Errorf("AlertParallelism 应从环境变量覆盖为 7, 实际 %d", config.AlertParallelism)
	}
	if !config.AlertEnabled {
		t.Errorf("AlertEnabled 应从环境变量覆盖为 true")
	}
	if config.APIBind != ":18080" {
		t.Errorf("APIBind 应从环境变量覆盖为 :18080, 实际 %s", config.APIBind)
	}
}

func TestLoadConfigInvalidEnv(t *testing.T) {
	configPath := writeTempConfig(t, "log_level: info\n")
	t.Setenv("ALERT_PARALLELISM", "many")
	if _, err := LoadConfig(configPath); err == nil {
		t.Fatal("无效整数环境变量应返回错误")
	}
}

func TestResolveEnvPlaceholder(t *testing.T) {
	t.Setenv("PLACE", " value ")
	if got := resolveEnvPlaceholder("${PLACE}"); got != "value" {
		t.Fatalf("期望 'value'，实际 '%s'", got)
	}
	if got := resolveEnvPlaceholder("${MISSING_ALERT_VAR}"); got != "" {
		t.Fatalf("期望 ''，实际 '%s'", got)
	}
	if got := resolveEnvPlaceholder(" plain "); got != "plain" {
		t.Fatalf("期望 'plain'，实际 '%s'", got)
	}
}

func TestRuntimeConfigRoundTrip(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("alert_interval: 60m\n"), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	if err := UpdateRuntimeConfig(configPath, RuntimeUpdate{
		AlertEnabled:  models.Bool(true),
		AlertInterval: stringPtr("15m"),
		AlertDefaults: &models.PlatformDefaults{FWICritical: models.Float(35)},
	}); err != nil {
		t.Fatalf("保存运行时配置失败: %v", err)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(configPath), "config.runtime.yaml")); err != nil {
		t.Fatalf("运行时配置文件应存在: %v", err)
	}

	reloaded, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("重新加载配置失败: %v", err)
	}
	if reloaded.AlertInterval != "15m" || !reloaded.AlertEnabled {
		t.Fatalf("运行时配置未生效: interval=%s enabled=%v", reloaded.AlertInterval, reloaded.AlertEnabled)
	}
	if *reloaded.AlertDefaults.FWICritical != 35 {
		t.Fatalf("fwi_critical 期望 35, 实际 %v", *reloaded.AlertDefaults.FWICritical)
	}
}

func stringPtr(v string) *string { return &v }

func TestRuntimeUpdateKeepsUnsubmittedFieldsFromMainFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("alert_interval: 60m\nalert_enabled: true\n"), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	if err := UpdateRuntimeConfig(configPath, RuntimeUpdate{AlertDefaults: &models.PlatformDefaults{FWIWarning: models.Float(55)}}); err != nil {
		t.Fatalf("保存运行时配置失败: %v", err)
	}
	// 主配置文件随后被编辑
	if err := os.WriteFile(configPath, []byte("alert_interval: 30m\nalert_enabled: true\n"), 0o644); err != nil {
		t.Fatalf("改写配置失败: %v", err)
	}
	if err := UpdateRuntimeConfig(configPath, RuntimeUpdate{AlertEnabled: models.Bool(false)}); err != nil {
		t.Fatalf("保存运行时配置失败: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("加载配置失败: %v", err)
	}
	if cfg.AlertInterval != "30m" {
		t.Fatalf("未提交的间隔应跟随主配置 期望 30m 实际 %s", cfg.AlertInterval)
	}
	if cfg.AlertEnabled {
		t.Fatal("提交的开关应生效")
	}
	if cfg.AlertDefaults.FWIWarning == nil || *cfg.AlertDefaults.FWIWarning != 55 {
		t.Fatalf("之前提交的默认值应保留: %v", cfg.AlertDefaults.FWIWarning)
	}
	if cfg.AlertDefaults.FWICritical == nil || *cfg.AlertDefaults.FWICritical != 40 {
		t.Fatalf("未提交的默认值应为内置值: %v", cfg.AlertDefaults.FWICritical)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("alert_interval: 60m\n"), 0o644); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes := make(chan *models.Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, configPath, func(cfg *models.Config) { changes <- cfg })
	}()

	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case cfg := <-changes:
			if cfg.AlertInterval != "20m" {
				continue
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch 返回错误: %v", err)
			}
			return
		case <-ticker.C:
			// 监听器启动前的写入会丢失 持续写入直到收到回调
			_ = os.WriteFile(configPath, []byte("alert_interval: 20m\n"), 0o644)
		case <-deadline:
			t.Fatal("等待配置热加载超时")
		}
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入临时文件失败: %v", err)
	}
	return path
}
