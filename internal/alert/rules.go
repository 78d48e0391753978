package alert

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"

	"wellness-alert/internal/logger"
	"wellness-alert/internal/models"
)

const defaultSeedCooldownMinutes = 60

// RuleSeeds 表示规则种子文件
type RuleSeeds struct {
	Version  int          `yaml:"version" json:"version"`
	Defaults SeedDefaults `yaml:"defaults" json:"defaults"`
	Rules    []RuleSeed   `yaml:"rules" json:"rules"`
}

// SeedDefaults 表示种子规则的默认配置
type SeedDefaults struct {
	CooldownMinutes *int  `yaml:"cooldown_minutes" json:"cooldown_minutes"`
	NotifyEmail     *bool `yaml:"notify_email" json:"notify_email"`
	NotifyPush      *bool `yaml:"notify_push" json:"notify_push"`
	NotifyInApp     *bool `yaml:"notify_in_app" json:"notify_in_app"`
	NotifyAdmins    *bool `yaml:"notify_admins" json:"notify_admins"`
}

// RuleSeed 表示单条种子规则 未填写的开关沿用默认配置
type RuleSeed struct {
	Name                   string  `yaml:"name" json:"name"`
	Description            string  `yaml:"description" json:"description"`
	AlertType              string  `yaml:"alert_type" json:"alert_type"`
	Threshold              float64 `yaml:"threshold" json:"threshold"`
	Operator               string  `yaml:"operator" json:"operator"`
	DepartmentID           *int64  `yaml:"department_id" json:"department_id"`
	Enabled                *bool   `yaml:"enabled" json:"enabled"`
	NotifyEmail            *bool   `yaml:"notify_email" json:"notify_email"`
	NotifyPush             *bool   `yaml:"notify_push" json:"notify_push"`
	NotifyInApp            *bool   `yaml:"notify_in_app" json:"notify_in_app"`
	NotifyAdmins           *bool   `yaml:"notify_admins" json:"notify_admins"`
	NotifyDepartmentAdmins *bool   `yaml:"notify_department_admins" json:"notify_department_admins"`
	CooldownMinutes        *int    `yaml:"cooldown_minutes" json:"cooldown_minutes"`
}

// LoadRuleSeeds 读取并解析规则种子文件
func LoadRuleSeeds(path string) ([]models.AlertRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取告警规则失败: %w", err)
	}
	return ParseRuleSeeds(data)
}

// ParseRuleSeeds 解析规则种子内容并转换为规则
func ParseRuleSeeds(data []byte) ([]models.AlertRule, error) {
	var seeds RuleSeeds
	if err := yaml.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("解析告警规则失败: %w", err)
	}
	if len(seeds.Rules) == 0 {
		return nil, fmt.Errorf("告警规则不能为空")
	}
	rules := make([]models.AlertRule, 0, len(seeds.Rules))
	for i := range seeds.Rules {
		rule, err := seeds.Rules[i].toRule(seeds.Defaults, i)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

func (s RuleSeed) toRule(defaults SeedDefaults, idx int) (models.AlertRule, error) {
	alertType, err := models.ParseAlertType(s.AlertType)
	if err != nil {
		return models.AlertRule{}, fmt.Errorf("第 %d 条规则: %w", idx+1, err)
	}
	opRaw := strings.TrimSpace(s.Operator)
	if opRaw == "" {
		opRaw = string(models.OpLT)
	}
	op, err := models.ParseOperator(opRaw)
	if err != nil {
		return models.AlertRule{}, fmt.Errorf("第 %d 条规则: %w", idx+1, err)
	}
	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = fmt.Sprintf("%s-%d", alertType, idx+1)
	}
	cooldown := defaultSeedCooldownMinutes
	if defaults.CooldownMinutes != nil {
		cooldown = *defaults.CooldownMinutes
	}
	if s.CooldownMinutes != nil {
		cooldown = *s.CooldownMinutes
	}
	rule := models.AlertRule{
		Name:                   name,
		Description:            strings.TrimSpace(s.Description),
		AlertType:              alertType,
		Threshold:              s.Threshold,
		Operator:               op,
		DepartmentID:           s.DepartmentID,
		Enabled:                flagOr(s.Enabled, true),
		NotifyEmail:            flagOr(s.NotifyEmail, flagOr(defaults.NotifyEmail, true)),
		NotifyPush:             flagOr(s.NotifyPush, flagOr(defaults.NotifyPush, false)),
		NotifyInApp:            flagOr(s.NotifyInApp, flagOr(defaults.NotifyInApp, true)),
		NotifyAdmins:           flagOr(s.NotifyAdmins, flagOr(defaults.NotifyAdmins, true)),
		NotifyDepartmentAdmins: flagOr(s.NotifyDepartmentAdmins, s.DepartmentID != nil),
		CooldownMinutes:        cooldown,
	}
	if err := rule.Validate(); err != nil {
		return models.AlertRule{}, fmt.Errorf("第 %d 条规则: %w", idx+1, err)
	}
	return rule, nil
}

// SeedRules 规则表为空时写入种子规则 返回写入条数
func SeedRules(ctx context.Context, rules RuleStore, seeds []models.AlertRule) (int, error) {
	existing, err := rules.ListRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("读取已有规则失败: %w", err)
	}
	if len(existing) > 0 {
		logger.Info("规则表已有数据 跳过种子规则: existing=%d", len(existing))
		return 0, nil
	}
	created := 0
	for i := range seeds {
		rule := seeds[i]
		if err := rules.CreateRule(ctx, &rule); err != nil {
			return created, fmt.Errorf("写入种子规则失败: %s: %w", rule.Name, err)
		}
		created++
	}
	logger.Info("已写入种子规则: count=%d", created)
	return created, nil
}
