// 本文件用于按告警类型计算业务指标
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"wellness-alert/internal/models"
)

const (
	ewaStatusPending = "pending"
	trendWindow      = 7 * 24 * time.Hour
	ewaUsageWindow   = 30 * 24 * time.Hour
)

// Metric 计算告警类型在给定范围内的当前值
// 需要的数据为空时返回 ErrNoData
func (s *Store) Metric(ctx context.Context, alertType models.AlertType, scope models.MetricScope) (float64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("存储未初始化")
	}
	where, args := scopeFilter(scope)
	now := s.now().UTC()

	switch alertType {
	case models.AlertFWIDepartmentLow:
		return s.nullableFloat(ctx, `SELECT AVG(u.fwi_score) FROM users u WHERE u.fwi_score IS NOT NULL`+where, args...)
	case models.AlertFWIIndividualLow:
		return s.nullableFloat(ctx, `SELECT MIN(u.fwi_score) FROM users u WHERE u.fwi_score IS NOT NULL`+where, args...)
	case models.AlertFWITrendNegative:
		return s.fwiTrend(ctx, where, args, now)
	case models.AlertEWAPendingCount:
		return s.scalar(ctx, `
			SELECT COUNT(*) FROM ewa_requests r JOIN users u ON u.id = r.user_id
			WHERE r.status = ?`+where, prepend(ewaStatusPending, args)...)
	case models.AlertEWAPendingAmount:
		return s.scalar(ctx, `
			SELECT COALESCE(SUM(r.amount), 0) FROM ewa_requests r JOIN users u ON u.id = r.user_id
			WHERE r.status = ?`+where, prepend(ewaStatusPending, args)...)
	case models.AlertEWAUserExcessive:
		return s.scalar(ctx, `
			SELECT COALESCE(MAX(cnt), 0) FROM (
				SELECT COUNT(*) AS cnt FROM ewa_requests r JOIN users u ON u.id = r.user_id
				WHERE r.created_at >= ?`+where+`
				GROUP BY r.user_id
			)`, prepend(formatTime(now.Add(-ewaUsageWindow)), args)...)
	case models.AlertHighRiskPercent:
		return s.nullableFloat(ctx, `
			SELECT CASE WHEN COUNT(*) = 0 THEN NULL
				ELSE 100.0 * SUM(CASE WHEN u.fwi_score < ? THEN 1 ELSE 0 END) / COUNT(*) END
			FROM users u WHERE u.fwi_score IS NOT NULL`+where, prepend(s.highRiskScore, args)...)
	case models.AlertNewHighRiskUser:
		since := formatTime(now.Add(-trendWindow))
		return s.scalar(ctx, `
			SELECT COUNT(DISTINCT u.id) FROM users u
			JOIN fwi_score_history h ON h.user_id = u.id
			WHERE h.recorded_at >= ? AND h.score < ?
				AND NOT EXISTS (
					SELECT 1 FROM fwi_score_history p
					WHERE p.user_id = u.id AND p.recorded_at < ? AND p.score < ?
				)`+where, append([]any{since, s.highRiskScore, since, s.highRiskScore}, args...)...)
	case models.AlertWeeklyRiskSummary:
		return s.scalar(ctx, `SELECT COUNT(*) FROM users u WHERE u.fwi_score < ?`+where, prepend(s.highRiskScore, args)...)
	default:
		return 0, fmt.Errorf("不支持的告警类型: %s", alertType)
	}
}

// 近 7 天平均分减去前 7 天平均分 负数表示恶化
func (s *Store) fwiTrend(ctx context.Context, where string, args []any, now time.Time) (float64, error) {
	windowStart := formatTime(now.Add(-trendWindow))
	prevStart := formatTime(now.Add(-2 * trendWindow))
	base := `SELECT AVG(h.score) FROM fwi_score_history h JOIN users u ON u.id = h.user_id
		WHERE h.recorded_at >= ? AND h.recorded_at < ?` + where
	current, err := s.nullableFloat(ctx, base, append([]any{windowStart, formatTime(now.Add(time.Second))}, args...)...)
	if err != nil {
		return 0, err
	}
	previous, err := s.nullableFloat(ctx, base, append([]any{prevStart, windowStart}, args...)...)
	if err != nil {
		return 0, err
	}
	return current - previous, nil
}

func (s *Store) scalar(ctx context.Context, query string, args ...any) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v float64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		return 0, fmt.Errorf("计算指标失败: %w", err)
	}
	return v, nil
}

func (s *Store) nullableFloat(ctx context.Context, query string, args ...any) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var v sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&v); err != nil {
		return 0, fmt.Errorf("计算指标失败: %w", err)
	}
	if !v.Valid {
		return 0, ErrNoData
	}
	return v.Float64, nil
}

func scopeFilter(scope models.MetricScope) (string, []any) {
	var (
		parts []string
		args  []any
	)
	if scope.OrganizationID != nil {
		parts = append(parts, "u.organization_id = ?")
		args = append(args, *scope.OrganizationID)
	}
	if scope.DepartmentID != nil {
		parts = append(parts, "u.department_id = ?")
		args = append(args, *scope.DepartmentID)
	}
	if scope.UserID != nil {
		parts = append(parts, "u.id = ?")
		args = append(args, *scope.UserID)
	}
	if len(parts) == 0 {
		return "", nil
	}
	return " AND " + strings.Join(parts, " AND "), args
}

func prepend(v any, args []any) []any {
	return append([]any{v}, args...)
}
