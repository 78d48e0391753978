// 本文件用于程序启动入口
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"wellness-alert/internal/api"
	"wellness-alert/internal/config"
	"wellness-alert/internal/logger"
	"wellness-alert/internal/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	rootCmd := &cobra.Command{
		Use:          "alertd",
		Short:        "员工健康告警评估与通知服务",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "配置文件路径")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "启动定时评估与 HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath)
		},
	})

	var orgID int64
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "立即执行一轮评估并输出结果",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var org *int64
			if cmd.Flags().Changed("org") {
				org = &orgID
			}
			return runCheck(cmd.Context(), cmd.OutOrStdout(), configPath, org)
		},
	}
	checkCmd.Flags().Int64Var(&orgID, "org", 0, "只评估该组织")
	rootCmd.AddCommand(checkCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "查询运行中服务的定时评估状态",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd.OutOrStdout(), configPath)
		},
	})

	var since time.Duration
	archiveCmd := &cobra.Command{
		Use:   "archive",
		Short: "导出告警事件到 OSS",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runArchive(cmd.Context(), cmd.OutOrStdout(), configPath, since)
		},
	}
	archiveCmd.Flags().DurationVar(&since, "since", 24*time.Hour, "导出该时长内创建的事件")
	rootCmd.AddCommand(archiveCmd)
	return rootCmd
}

func runServe(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, configPath, time.Now())
	if err != nil {
		return err
	}
	defer logger.Close()
	defer a.close()

	a.scheduler.OnPass(a.archiveHook)
	if a.cfg.AlertEnabled {
		a.scheduler.Start(ctx, a.cfg.AlertRunOnStart)
	} else {
		logger.Warn("定时评估未启用 仅提供手动评估")
	}

	apiServer := api.NewServer(api.Deps{
		Config:     a.cfg,
		ConfigPath: configPath,
		Scheduler:  a.scheduler,
		State:      a.state,
		Rules:      a.store,
		Events:     a.store,
		Thresholds: a.store,
		Resolver:   a.resolver,
		Lifecycle:  a.lifecycle,
		Store:      a.store,
		Metrics:    a.collector,
		OnSettings: func(cfg *models.Config) { a.applySettings(ctx, cfg) },
	})
	apiServer.Start()

	go func() {
		err := config.Watch(ctx, configPath, func(cfg *models.Config) {
			logger.Info("应用新配置: interval=%s", cfg.AlertInterval)
			apiServer.SetConfig(cfg)
			a.applySettings(ctx, cfg)
		})
		if err != nil {
			logger.Warn("配置热加载不可用: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("收到退出信号，正在关闭服务...")
	a.scheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("关闭 API 服务失败: %v", err)
	}
	logger.Info("程序已退出")
	return nil
}

func runCheck(ctx context.Context, out io.Writer, configPath string, orgID *int64) error {
	a, err := buildApp(ctx, configPath, time.Now())
	if err != nil {
		return err
	}
	defer logger.Close()
	defer a.close()

	results := a.scheduler.TriggerManualCheck(ctx, orgID)
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func runArchive(ctx context.Context, out io.Writer, configPath string, since time.Duration) error {
	a, err := buildApp(ctx, configPath, time.Now().Add(-since))
	if err != nil {
		return err
	}
	defer logger.Close()
	defer a.close()

	if a.archiver == nil {
		return fmt.Errorf("审计归档未启用: 请设置 archive_enabled")
	}
	res, err := a.archiver.Export(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "已归档 %d 条事件 key=%s\n", res.Count, res.Key)
	return err
}

// runStatus 通过 API 查询运行中服务的调度状态
func runStatus(ctx context.Context, out io.Writer, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	host, port, err := net.SplitHostPort(cfg.APIBind)
	if err != nil {
		return fmt.Errorf("API 监听地址无效: %s", cfg.APIBind)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	url := "http://" + net.JoinHostPort(host, port) + "/api/alerts/status"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if token := strings.TrimSpace(cfg.APIAuthToken); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return fmt.Errorf("服务未运行或无法访问: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("查询状态失败: HTTP %d", resp.StatusCode)
	}
	var status struct {
		IsRunning       bool  `json:"isRunning"`
		IntervalMinutes int64 `json:"intervalMinutes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("解析状态失败: %w", err)
	}
	_, err = fmt.Fprintf(out, "running=%v interval=%s\n", status.IsRunning, describeInterval(time.Duration(status.IntervalMinutes)*time.Minute))
	return err
}
