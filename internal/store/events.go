package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"wellness-alert/internal/models"
)

const eventColumns = `
	id, rule_id, alert_type, organization_id, department_id, user_id, previous_value,
	current_value, threshold, message, severity, email_sent, push_sent, in_app_sent,
	notified_users, acknowledged_by, acknowledged_at, resolved_at, created_at`

func scanEvent(row rowScanner) (models.AlertEvent, error) {
	var (
		ev                                models.AlertEvent
		alertType, severity, notifiedJSON string
		ackAt, resolvedAt, createdAt      string
		orgID, deptID, userID, ackBy      sql.NullInt64
		previous                          sql.NullFloat64
		emailSent, pushSent, inAppSent    int64
	)
	if err := row.Scan(
		&ev.ID,
		&ev.RuleID,
		&alertType,
		&orgID,
		&deptID,
		&userID,
		&previous,
		&ev.CurrentValue,
		&ev.Threshold,
		&ev.Message,
		&severity,
		&emailSent,
		&pushSent,
		&inAppSent,
		&notifiedJSON,
		&ackBy,
		&ackAt,
		&resolvedAt,
		&createdAt,
	); err != nil {
		return models.AlertEvent{}, err
	}
	ev.AlertType = models.AlertType(alertType)
	ev.Severity = models.Severity(severity)
	ev.OrganizationID = int64Ptr(orgID)
	ev.DepartmentID = int64Ptr(deptID)
	ev.UserID = int64Ptr(userID)
	ev.PreviousValue = floatPtr(previous)
	ev.EmailSent = emailSent != 0
	ev.PushSent = pushSent != 0
	ev.InAppSent = inAppSent != 0
	ev.NotifiedUserIDs = decodeIDs(notifiedJSON)
	ev.AcknowledgedBy = int64Ptr(ackBy)
	ev.AcknowledgedAt = parseTimePtr(ackAt)
	ev.ResolvedAt = parseTimePtr(resolvedAt)
	ev.CreatedAt = parseTime(createdAt)
	return ev, nil
}

// LatestEventTime 返回规则最近一次事件的创建时间
func (s *Store) LatestEventTime(ctx context.Context, ruleID int64) (time.Time, bool, error) {
	if s == nil || s.db == nil {
		return time.Time{}, false, fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var raw sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(created_at) FROM alert_events WHERE rule_id = ?`, ruleID,
	).Scan(&raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("查询最近告警时间失败: %w", err)
	}
	if !raw.Valid || strings.TrimSpace(raw.String) == "" {
		return time.Time{}, false, nil
	}
	return parseTime(raw.String), true, nil
}

// LatestEvent 返回规则最近一次事件 没有事件时返回 ErrNotFound
func (s *Store) LatestEvent(ctx context.Context, ruleID int64) (*models.AlertEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+eventColumns+`
		FROM alert_events
		WHERE rule_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, ruleID)
	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取最近告警失败: %w", err)
	}
	return &ev, nil
}

// InsertEvent 在冷却窗口外写入告警事件
// 写入与冷却判断在同一条语句中完成 窗口内已有更新事件时返回 ErrInCooldown
func (s *Store) InsertEvent(ctx context.Context, ev *models.AlertEvent, cooldown time.Duration) (int64, error) {
	if ev == nil {
		return 0, fmt.Errorf("告警事件为空")
	}
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("存储未初始化")
	}
	notified, err := encodeIDs(ev.NotifiedUserIDs)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := ev.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	createdAt = createdAt.UTC()
	args := []any{
		ev.RuleID,
		string(ev.AlertType),
		nullInt64(ev.OrganizationID),
		nullInt64(ev.DepartmentID),
		nullInt64(ev.UserID),
		nullFloat(ev.PreviousValue),
		ev.CurrentValue,
		ev.Threshold,
		ev.Message,
		string(ev.Severity),
		boolInt(ev.EmailSent),
		boolInt(ev.PushSent),
		boolInt(ev.InAppSent),
		notified,
		formatTime(createdAt),
	}
	query := `
		INSERT INTO alert_events (
			rule_id, alert_type, organization_id, department_id, user_id, previous_value,
			current_value, threshold, message, severity, email_sent, push_sent, in_app_sent,
			notified_users, created_at
		)
		SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?`
	if cooldown > 0 {
		query += `
		WHERE NOT EXISTS (
			SELECT 1 FROM alert_events WHERE rule_id = ? AND created_at > ?
		)`
		args = append(args, ev.RuleID, formatTime(createdAt.Add(-cooldown)))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("写入告警事件失败: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("读取写入行数失败: %w", err)
	}
	if n == 0 {
		return 0, ErrInCooldown
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("读取告警事件 id 失败: %w", err)
	}
	ev.ID = id
	ev.CreatedAt = createdAt
	return id, nil
}

// UpdateDelivery 记录事件的投递结果
func (s *Store) UpdateDelivery(ctx context.Context, id int64, flags models.DeliveryFlags) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("存储未初始化")
	}
	notified, err := encodeIDs(flags.NotifiedUserIDs)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE alert_events
		SET email_sent = ?, push_sent = ?, in_app_sent = ?, notified_users = ?
		WHERE id = ?
	`, boolInt(flags.EmailSent), boolInt(flags.PushSent), boolInt(flags.InAppSent), notified, id)
	if err != nil {
		return fmt.Errorf("更新投递结果失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AcknowledgeEvent 记录确认人与确认时间 重复确认只刷新确认时间
func (s *Store) AcknowledgeEvent(ctx context.Context, id, userID int64, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE alert_events SET acknowledged_by = COALESCE(acknowledged_by, ?), acknowledged_at = ? WHERE id = ?`,
		userID, formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("确认告警失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ResolveEvent 记录告警解决时间
func (s *Store) ResolveEvent(ctx context.Context, id int64, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE alert_events SET resolved_at = ? WHERE id = ?`, formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("解决告警失败: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetEvent 按 id 读取事件
func (s *Store) GetEvent(ctx context.Context, id int64) (*models.AlertEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, err := scanEvent(s.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM alert_events WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取告警事件失败: %w", err)
	}
	return &ev, nil
}

// ListEvents 按创建时间倒序列出事件 ruleID 为空时不过滤
func (s *Store) ListEvents(ctx context.Context, ruleID *int64, limit int) ([]models.AlertEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `SELECT ` + eventColumns + ` FROM alert_events`
	args := []any{}
	if ruleID != nil {
		query += ` WHERE rule_id = ?`
		args = append(args, *ruleID)
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit)
	return s.queryEvents(ctx, query, args...)
}

// ListEventsAfter 按自增 id 正序列出 afterID 之后且不早于 since 的事件 用于审计归档
func (s *Store) ListEventsAfter(ctx context.Context, afterID int64, since time.Time, limit int) ([]models.AlertEvent, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.queryEvents(ctx, `
		SELECT `+eventColumns+`
		FROM alert_events
		WHERE id > ? AND created_at >= ?
		ORDER BY id ASC
		LIMIT ?
	`, afterID, formatTime(since), limit)
}

func (s *Store) queryEvents(ctx context.Context, query string, args ...any) ([]models.AlertEvent, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询告警事件失败: %w", err)
	}
	defer rows.Close()

	out := make([]models.AlertEvent, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("读取告警事件失败: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func encodeIDs(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("序列化通知用户失败: %w", err)
	}
	return string(data), nil
}

func decodeIDs(raw string) []int64 {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return []int64{}
	}
	var out []int64
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return []int64{}
	}
	if out == nil {
		return []int64{}
	}
	return out
}
