// 本文件用于按配置组装告警服务的各个组件
package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wellness-alert/internal/alert"
	"wellness-alert/internal/archive"
	"wellness-alert/internal/config"
	"wellness-alert/internal/email"
	"wellness-alert/internal/logger"
	"wellness-alert/internal/metrics"
	"wellness-alert/internal/models"
	"wellness-alert/internal/owner"
	"wellness-alert/internal/push"
	"wellness-alert/internal/slack"
	"wellness-alert/internal/store"
)

// app 持有一次进程生命周期内的全部组件
type app struct {
	cfg        *models.Config
	configPath string

	store     *store.Store
	collector *metrics.Collector
	resolver  *alert.ThresholdResolver
	state     *alert.State
	evaluator *alert.Evaluator
	scheduler *alert.Scheduler
	lifecycle *alert.LifecycleManager
	archiver  *archive.Archiver
}

func loadConfig(configPath string) (*models.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildApp 打开存储并组装评估链路 早于 archiveSince 的事件不归档
func buildApp(ctx context.Context, configPath string, archiveSince time.Time) (*app, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.InitLogger(cfg); err != nil {
		return nil, err
	}
	logConfig(cfg)

	var storeOpts []store.Option
	if cfg.AlertDefaults.FWICritical != nil {
		storeOpts = append(storeOpts, store.WithHighRiskScore(*cfg.AlertDefaults.FWICritical))
	}
	st, err := store.Open(cfg.DBPath, storeOpts...)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, configPath: configPath, store: st, collector: metrics.Global()}

	if strings.TrimSpace(cfg.AlertRulesFile) != "" {
		seeds, err := alert.LoadRuleSeeds(cfg.AlertRulesFile)
		if err != nil {
			a.close()
			return nil, err
		}
		if _, err := alert.SeedRules(ctx, st, seeds); err != nil {
			a.close()
			return nil, err
		}
	}

	a.resolver = alert.NewThresholdResolver(st, cfg.AlertDefaults, config.ParseDurationOr(cfg.OverrideCacheTTL, time.Minute))
	a.state = alert.NewState()
	a.evaluator = alert.NewEvaluator(alert.EvaluatorDeps{
		Rules:       st,
		Metrics:     st,
		Events:      st,
		Directory:   st,
		Resolver:    a.resolver,
		Dispatcher:  buildDispatcher(cfg, st, a.collector),
		State:       a.state,
		Collector:   a.collector,
		Parallelism: cfg.AlertParallelism,
	})
	interval, err := config.ParseAlertInterval(cfg.AlertInterval)
	if err != nil {
		interval = alert.DefaultInterval
	}
	a.scheduler = alert.NewScheduler(a.evaluator, interval)
	a.lifecycle = alert.NewLifecycleManager(st, nil)

	if cfg.ArchiveEnabled {
		uploader, err := archive.NewOSSUploader(cfg)
		if err != nil {
			a.close()
			return nil, err
		}
		a.archiver = archive.NewArchiver(st, uploader, cfg.ArchivePrefix, archiveSince, a.collector)
	}
	return a, nil
}

// buildDispatcher 只接入已配置的通知渠道
func buildDispatcher(cfg *models.Config, st *store.Store, collector *metrics.Collector) *alert.Dispatcher {
	opts := alert.DispatcherOptions{
		Directory:         st,
		Webhook:           slack.NewClient(cfg.WebhookRateLimit),
		ChannelTimeout:    config.ParseDurationOr(cfg.ChannelTimeout, 10*time.Second),
		WebhookHost:       cfg.WebhookHost,
		WebhookPathPrefix: cfg.WebhookPathPrefix,
		Metrics:           collector,
	}
	var mail owner.MailSender
	if sender := email.NewSenderFromConfig(cfg); sender != nil {
		opts.Email = sender
		mail = sender
	} else {
		logger.Warn("未配置邮件服务器 邮件通知将跳过")
	}
	if strings.TrimSpace(cfg.PushRelayURL) != "" {
		opts.Push = push.NewRelay(cfg.PushRelayURL, cfg.PushRelayToken, st)
	}
	if notifier := owner.NewNotifier(cfg.OwnerNotifyURL, cfg.OwnerNotifyToken, cfg.OwnerEmail, mail); notifier != nil {
		opts.Owner = notifier
	}
	return alert.NewDispatcher(opts)
}

// applySettings 热更新平台默认值 评估间隔与调度开关
func (a *app) applySettings(ctx context.Context, cfg *models.Config) {
	if cfg == nil {
		return
	}
	a.resolver.SetDefaults(cfg.AlertDefaults)
	if interval, err := config.ParseAlertInterval(cfg.AlertInterval); err == nil {
		a.scheduler.SetInterval(interval)
	}
	running := a.scheduler.CronStatus().IsRunning
	switch {
	case cfg.AlertEnabled && !running:
		a.scheduler.Start(ctx, false)
	case !cfg.AlertEnabled && running:
		a.scheduler.Stop()
	}
}

// archiveHook 每轮定时评估后导出新增事件
func (a *app) archiveHook(ctx context.Context, source string, _ []alert.TriggerResult) {
	if a.archiver == nil || source != "scheduler" {
		return
	}
	if _, err := a.archiver.Export(ctx); err != nil {
		logger.Warn("告警事件归档失败: %v", err)
	}
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Warn("关闭数据库失败: %v", err)
		}
	}
}

func logConfig(cfg *models.Config) {
	logger.Info("配置加载成功")
	logger.Info("数据库: %s", cfg.DBPath)
	logger.Info("API 监听: %s", cfg.APIBind)
	logger.Info("定时评估: enabled=%v interval=%s parallelism=%d", cfg.AlertEnabled, cfg.AlertInterval, cfg.AlertParallelism)
	logger.Info("通知渠道超时: %s", cfg.ChannelTimeout)
	if cfg.EmailHost != "" {
		logger.Info("SMTP: %s:%d tls=%v", cfg.EmailHost, cfg.EmailPort, cfg.EmailUseTLS)
	}
	if cfg.PushRelayURL != "" {
		logger.Info("推送中继: %s", cfg.PushRelayURL)
	}
	logger.Info("webhook 限定: https://%s%s", cfg.WebhookHost, cfg.WebhookPathPrefix)
	if cfg.ArchiveEnabled {
		logger.Info("审计归档: bucket=%s endpoint=%s prefix=%s", cfg.Bucket, cfg.Endpoint, cfg.ArchivePrefix)
	}
}

func describeInterval(d time.Duration) string {
	return fmt.Sprintf("%d 分钟", int64(d/time.Minute))
}
