// 本文件用于告警运行时配置的读取与持久化
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v2"

	"wellness-alert/internal/models"
)

// runtimeSettings 是在线设置接口写回的字段 与主配置同目录保存为 *.runtime.yaml
type runtimeSettings struct {
	AlertEnabled  *bool                    `yaml:"alert_enabled,omitempty"`
	AlertInterval *string                  `yaml:"alert_interval,omitempty"`
	AlertDefaults *models.PlatformDefaults `yaml:"alert_defaults,omitempty"`
}

// runtimeConfigPath config.yaml 对应 config.runtime.yaml
func runtimeConfigPath(configPath string) string {
	configPath = strings.TrimSpace(configPath)
	if configPath == "" {
		return ""
	}
	ext := filepath.Ext(configPath)
	if ext == "" {
		ext = ".yaml"
	}
	return strings.TrimSuffix(configPath, filepath.Ext(configPath)) + ".runtime" + ext
}

func loadRuntimeConfig(configPath string) (*runtimeSettings, error) {
	path := runtimeConfigPath(configPath)
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("读取运行时配置失败: %s: %w", path, err)
	}
	settings := &runtimeSettings{}
	if err := yaml.Unmarshal(data, settings); err != nil {
		return nil, fmt.Errorf("运行时配置格式错误: %s: %w", path, err)
	}
	return settings, nil
}

// applyRuntimeConfig 运行时配置优先于主配置 平台默认值逐字段合并
func applyRuntimeConfig(cfg *models.Config, rs *runtimeSettings) {
	if cfg == nil || rs == nil {
		return
	}
	if rs.AlertEnabled != nil {
		cfg.AlertEnabled = *rs.AlertEnabled
	}
	if rs.AlertInterval != nil && strings.TrimSpace(*rs.AlertInterval) != "" {
		cfg.AlertInterval = strings.TrimSpace(*rs.AlertInterval)
	}
	if rs.AlertDefaults != nil {
		cfg.AlertDefaults = cfg.AlertDefaults.Merge(*rs.AlertDefaults)
	}
}

// RuntimeUpdate 表示一次在线设置 只有非 nil 字段会写入运行时配置
type RuntimeUpdate struct {
	AlertEnabled  *bool
	AlertInterval *string
	AlertDefaults *models.PlatformDefaults
}

// UpdateRuntimeConfig 把本次提交的字段合并进已有运行时配置
// 未提交的字段不落盘 继续跟随主配置文件
func UpdateRuntimeConfig(configPath string, u RuntimeUpdate) error {
	path := runtimeConfigPath(configPath)
	if path == "" {
		return nil
	}
	rs, err := loadRuntimeConfig(configPath)
	if err != nil {
		return err
	}
	if rs == nil {
		rs = &runtimeSettings{}
	}
	if u.AlertEnabled != nil {
		enabled := *u.AlertEnabled
		rs.AlertEnabled = &enabled
	}
	if u.AlertInterval != nil {
		interval := strings.TrimSpace(*u.AlertInterval)
		rs.AlertInterval = &interval
	}
	if u.AlertDefaults != nil {
		var merged models.PlatformDefaults
		if rs.AlertDefaults != nil {
			merged = *rs.AlertDefaults
		}
		merged = merged.Merge(*u.AlertDefaults)
		rs.AlertDefaults = &merged
	}
	data, err := yaml.Marshal(rs)
	if err != nil {
		return fmt.Errorf("序列化运行时配置失败: %w", err)
	}
	if err := replaceFile(path, data); err != nil {
		return fmt.Errorf("保存运行时配置失败: %s: %w", path, err)
	}
	return nil
}

// replaceFile 先写同目录临时文件再重命名 读取方不会看到半截内容
func replaceFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".runtime-*.yaml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
