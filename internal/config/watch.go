// 本文件用于监听配置文件变化并热加载
package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"wellness-alert/internal/logger"
	"wellness-alert/internal/models"
)

// Watch 监听配置文件 写入后重新加载并回调 直到 ctx 结束
// 重新加载失败时保留旧配置 不触发回调
func Watch(ctx context.Context, path string, onChange func(*models.Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// 监听目录 以便捕获编辑器原子保存和运行时配置文件
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)
	runtimeTarget := filepath.Clean(runtimeConfigPath(path))

	logger.Info("开始监听配置文件: %s", path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Clean(event.Name)
			if name != target && name != runtimeTarget {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadConfig(path)
			if err != nil {
				logger.Error("重新加载配置失败 保留旧配置: %v", err)
				continue
			}
			if err := ValidateConfig(cfg); err != nil {
				logger.Error("新配置校验失败 保留旧配置: %v", err)
				continue
			}
			logger.Info("配置已重新加载: %s", path)
			onChange(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("配置监听出错: %v", err)
		}
	}
}
