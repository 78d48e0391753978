// 本文件用于写入目录与业务样本数据 供导入脚本和测试使用
package store

import (
	"context"
	"fmt"
	"time"

	"wellness-alert/internal/models"
)

// CreateOrganization 创建组织
func (s *Store) CreateOrganization(ctx context.Context, name string) (int64, error) {
	return s.insert(ctx, `INSERT INTO organizations (name) VALUES (?)`, name)
}

// CreateDepartment 创建部门
func (s *Store) CreateDepartment(ctx context.Context, orgID int64, name string) (int64, error) {
	return s.insert(ctx, `INSERT INTO departments (organization_id, name) VALUES (?, ?)`, orgID, name)
}

// CreateUser 创建用户 fwiScore 为空表示尚未测评
func (s *Store) CreateUser(ctx context.Context, u models.User, fwiScore *float64) (int64, error) {
	role := u.Role
	if role == "" {
		role = models.RoleEmployee
	}
	return s.insert(ctx, `
		INSERT INTO users (organization_id, department_id, name, email, role, fwi_score)
		VALUES (?, ?, ?, ?, ?, ?)
	`, nullInt64(u.OrganizationID), nullInt64(u.DepartmentID), u.Name, u.Email, string(role), nullFloat(fwiScore))
}

// RecordFWIScore 记录一次 FWI 测评并同步用户当前分数
func (s *Store) RecordFWIScore(ctx context.Context, userID int64, score float64, at time.Time) error {
	if _, err := s.insert(ctx, `
		INSERT INTO fwi_score_history (user_id, score, recorded_at) VALUES (?, ?, ?)
	`, userID, score, formatTime(at)); err != nil {
		return err
	}
	_, err := s.insert(ctx, `UPDATE users SET fwi_score = ? WHERE id = ?`, score, userID)
	return err
}

// CreateEWARequest 创建薪资预支申请
func (s *Store) CreateEWARequest(ctx context.Context, userID int64, amount float64, status string, at time.Time) (int64, error) {
	if status == "" {
		status = ewaStatusPending
	}
	return s.insert(ctx, `
		INSERT INTO ewa_requests (user_id, amount, status, created_at) VALUES (?, ?, ?, ?)
	`, userID, amount, status, formatTime(at))
}

// AddPushSubscription 注册推送设备 重复注册保持幂等
func (s *Store) AddPushSubscription(ctx context.Context, sub models.PushSubscription) (int64, error) {
	return s.insert(ctx, `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, endpoint) DO UPDATE SET p256dh = excluded.p256dh, auth = excluded.auth
	`, sub.UserID, sub.Endpoint, sub.P256dh, sub.Auth)
}

func (s *Store) insert(ctx context.Context, query string, args ...any) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("写入数据失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, nil
	}
	return id, nil
}
