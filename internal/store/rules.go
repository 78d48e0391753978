package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wellness-alert/internal/models"
)

const ruleColumns = `
	id, name, description, alert_type, threshold, comparison_operator, department_id,
	is_enabled, notify_email, notify_push, notify_in_app, notify_admins,
	notify_department_admins, cooldown_minutes, created_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (models.AlertRule, error) {
	var (
		rule                                      models.AlertRule
		alertType, operator, createdAt, updatedAt string
		departmentID                              sql.NullInt64
		enabled, email, push, inApp, admins, dept int64
	)
	if err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.Description,
		&alertType,
		&rule.Threshold,
		&operator,
		&departmentID,
		&enabled,
		&email,
		&push,
		&inApp,
		&admins,
		&dept,
		&rule.CooldownMinutes,
		&rule.CreatedBy,
		&createdAt,
		&updatedAt,
	); err != nil {
		return models.AlertRule{}, err
	}
	rule.AlertType = models.AlertType(alertType)
	rule.Operator = models.Operator(operator)
	rule.DepartmentID = int64Ptr(departmentID)
	rule.Enabled = enabled != 0
	rule.NotifyEmail = email != 0
	rule.NotifyPush = push != 0
	rule.NotifyInApp = inApp != 0
	rule.NotifyAdmins = admins != 0
	rule.NotifyDepartmentAdmins = dept != 0
	rule.CreatedAt = parseTime(createdAt)
	rule.UpdatedAt = parseTime(updatedAt)
	return rule, nil
}

// ListEnabledRules 返回全部启用的规则 按 id 升序
func (s *Store) ListEnabledRules(ctx context.Context) ([]models.AlertRule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE is_enabled = 1 ORDER BY id ASC`)
}

// ListRules 返回全部规则
func (s *Store) ListRules(ctx context.Context) ([]models.AlertRule, error) {
	return s.queryRules(ctx, `SELECT `+ruleColumns+` FROM alert_rules ORDER BY id ASC`)
}

func (s *Store) queryRules(ctx context.Context, query string, args ...any) ([]models.AlertRule, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询告警规则失败: %w", err)
	}
	defer rows.Close()

	out := make([]models.AlertRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("读取告警规则失败: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// GetRule 按 id 读取规则
func (s *Store) GetRule(ctx context.Context, id int64) (*models.AlertRule, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM alert_rules WHERE id = ?`, id)
	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取告警规则失败: %w", err)
	}
	return &rule, nil
}

// CreateRule 写入新规则并回填 id 与时间
func (s *Store) CreateRule(ctx context.Context, rule *models.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_rules (
			name, description, alert_type, threshold, comparison_operator, department_id,
			is_enabled, notify_email, notify_push, notify_in_app, notify_admins,
			notify_department_admins, cooldown_minutes, created_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rule.Name,
		rule.Description,
		string(rule.AlertType),
		rule.Threshold,
		string(rule.Operator),
		nullInt64(rule.DepartmentID),
		boolInt(rule.Enabled),
		boolInt(rule.NotifyEmail),
		boolInt(rule.NotifyPush),
		boolInt(rule.NotifyInApp),
		boolInt(rule.NotifyAdmins),
		boolInt(rule.NotifyDepartmentAdmins),
		rule.CooldownMinutes,
		rule.CreatedBy,
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("写入告警规则失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("读取规则 id 失败: %w", err)
	}
	rule.ID = id
	rule.CreatedAt = now
	rule.UpdatedAt = now
	return nil
}

// UpdateRule 覆盖更新规则 创建人与创建时间保持不变
func (s *Store) UpdateRule(ctx context.Context, rule *models.AlertRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_rules SET
			name = ?, description = ?, alert_type = ?, threshold = ?, comparison_operator = ?,
			department_id = ?, is_enabled = ?, notify_email = ?, notify_push = ?, notify_in_app = ?,
			notify_admins = ?, notify_department_admins = ?, cooldown_minutes = ?, updated_at = ?
		WHERE id = ?
	`,
		rule.Name,
		rule.Description,
		string(rule.AlertType),
		rule.Threshold,
		string(rule.Operator),
		nullInt64(rule.DepartmentID),
		boolInt(rule.Enabled),
		boolInt(rule.NotifyEmail),
		boolInt(rule.NotifyPush),
		boolInt(rule.NotifyInApp),
		boolInt(rule.NotifyAdmins),
		boolInt(rule.NotifyDepartmentAdmins),
		rule.CooldownMinutes,
		formatTime(now),
		rule.ID,
	)
	if err != nil {
		return fmt.Errorf("更新告警规则失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	rule.UpdatedAt = now
	return nil
}

// DeleteRule 删除规则 历史事件保留
func (s *Store) DeleteRule(ctx context.Context, id int64) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("删除告警规则失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountRules 返回规则总数
func (s *Store) CountRules(ctx context.Context) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alert_rules`).Scan(&n); err != nil {
		return 0, fmt.Errorf("统计告警规则失败: %w", err)
	}
	return n, nil
}
