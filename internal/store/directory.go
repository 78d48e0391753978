package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"wellness-alert/internal/models"
)

const userColumns = `id, name, email, role, organization_id, department_id`

func scanUser(row rowScanner) (models.User, error) {
	var (
		u            models.User
		role         string
		orgID, depID sql.NullInt64
	)
	if err := row.Scan(&u.ID, &u.Name, &u.Email, &role, &orgID, &depID); err != nil {
		return models.User{}, err
	}
	u.Role = models.Role(role)
	u.OrganizationID = int64Ptr(orgID)
	u.DepartmentID = int64Ptr(depID)
	return u, nil
}

// UsersByRole 返回指定角色的全部用户
func (s *Store) UsersByRole(ctx context.Context, role models.Role) ([]models.User, error) {
	return s.queryUsers(ctx, `SELECT `+userColumns+` FROM users WHERE role = ? ORDER BY id ASC`, string(role))
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...any) ([]models.User, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("查询用户失败: %w", err)
	}
	defer rows.Close()

	out := make([]models.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("读取用户失败: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// DepartmentName 返回部门名称
func (s *Store) DepartmentName(ctx context.Context, id int64) (string, error) {
	return s.lookupName(ctx, `SELECT name FROM departments WHERE id = ?`, id)
}

// OrganizationName 返回组织名称
func (s *Store) OrganizationName(ctx context.Context, id int64) (string, error) {
	return s.lookupName(ctx, `SELECT name FROM organizations WHERE id = ?`, id)
}

// DepartmentOrganizationID 返回部门所属组织
func (s *Store) DepartmentOrganizationID(ctx context.Context, id int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var orgID int64
	err := s.db.QueryRowContext(ctx, `SELECT organization_id FROM departments WHERE id = ?`, id).Scan(&orgID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("查询部门组织失败: %w", err)
	}
	return orgID, nil
}

// UserName 返回用户姓名
func (s *Store) UserName(ctx context.Context, id int64) (string, error) {
	return s.lookupName(ctx, `SELECT name FROM users WHERE id = ?`, id)
}

func (s *Store) lookupName(ctx context.Context, query string, id int64) (string, error) {
	if s == nil || s.db == nil {
		return "", fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var name string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("查询名称失败: %w", err)
	}
	return name, nil
}

// PushSubscriptions 返回用户注册的全部推送设备
func (s *Store) PushSubscriptions(ctx context.Context, userID int64) ([]models.PushSubscription, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth
		FROM push_subscriptions
		WHERE user_id = ?
		ORDER BY id ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("查询推送订阅失败: %w", err)
	}
	defer rows.Close()

	out := make([]models.PushSubscription, 0)
	for rows.Next() {
		var sub models.PushSubscription
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dh, &sub.Auth); err != nil {
			return nil, fmt.Errorf("读取推送订阅失败: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

// InsertInAppNotification 写入一条站内通知
func (s *Store) InsertInAppNotification(ctx context.Context, n models.InAppNotification) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	var eventID sql.NullInt64
	if n.AlertEventID > 0 {
		eventID = sql.NullInt64{Int64: n.AlertEventID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (user_id, title, body, alert_event_id, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, n.UserID, n.Title, n.Body, eventID, formatTime(createdAt))
	if err != nil {
		return fmt.Errorf("写入站内通知失败: %w", err)
	}
	return nil
}

// CountNotifications 统计用户的站内通知数量
func (s *Store) CountNotifications(ctx context.Context, userID int64) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("统计站内通知失败: %w", err)
	}
	return n, nil
}
