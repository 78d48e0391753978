package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"wellness-alert/internal/models"
)

// GetOrgThresholds 读取组织阈值覆盖 不存在时返回 ErrNotFound
func (s *Store) GetOrgThresholds(ctx context.Context, orgID int64) (*models.OrganizationThresholds, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("存储未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		out                                       models.OrganizationThresholds
		fwiCritical, fwiWarning, fwiHealthy       sql.NullFloat64
		riskCritical, riskWarning                 sql.NullFloat64
		pendingCount, pendingAmount, perUser      sql.NullFloat64
		notifyCritical, notifyWarning, notifyInfo sql.NullInt64
		recipientsJSON, updatedAt                 string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
			organization_id, fwi_critical, fwi_warning, fwi_healthy, risk_critical_pct,
			risk_warning_pct, ewa_max_pending_count, ewa_max_pending_amount,
			ewa_max_requests_per_user, notify_on_critical, notify_on_warning, notify_on_info,
			email_recipients, webhook_url, updated_at
		FROM organization_thresholds
		WHERE organization_id = ?
	`, orgID).Scan(
		&out.OrganizationID,
		&fwiCritical,
		&fwiWarning,
		&fwiHealthy,
		&riskCritical,
		&riskWarning,
		&pendingCount,
		&pendingAmount,
		&perUser,
		&notifyCritical,
		&notifyWarning,
		&notifyInfo,
		&recipientsJSON,
		&out.WebhookURL,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("读取组织阈值失败: %w", err)
	}
	out.FWICritical = floatPtr(fwiCritical)
	out.FWIWarning = floatPtr(fwiWarning)
	out.FWIHealthy = floatPtr(fwiHealthy)
	out.RiskCriticalPct = floatPtr(riskCritical)
	out.RiskWarningPct = floatPtr(riskWarning)
	out.EWAMaxPendingCount = floatPtr(pendingCount)
	out.EWAMaxPendingAmount = floatPtr(pendingAmount)
	out.EWAMaxRequestsPerUser = floatPtr(perUser)
	out.NotifyOnCritical = boolPtr(notifyCritical)
	out.NotifyOnWarning = boolPtr(notifyWarning)
	out.NotifyOnInfo = boolPtr(notifyInfo)
	out.EmailRecipients = decodeStrings(recipientsJSON)
	out.UpdatedAt = parseTime(updatedAt)
	return &out, nil
}

// UpsertOrgThresholds 写入组织阈值覆盖 整条记录替换
func (s *Store) UpsertOrgThresholds(ctx context.Context, t *models.OrganizationThresholds) error {
	if t == nil {
		return fmt.Errorf("组织阈值为空")
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("存储未初始化")
	}
	recipients, err := json.Marshal(nonNilStrings(t.EmailRecipients))
	if err != nil {
		return fmt.Errorf("序列化邮件收件人失败: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO organization_thresholds (
			organization_id, fwi_critical, fwi_warning, fwi_healthy, risk_critical_pct,
			risk_warning_pct, ewa_max_pending_count, ewa_max_pending_amount,
			ewa_max_requests_per_user, notify_on_critical, notify_on_warning, notify_on_info,
			email_recipients, webhook_url, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(organization_id) DO UPDATE SET
			fwi_critical = excluded.fwi_critical,
			fwi_warning = excluded.fwi_warning,
			fwi_healthy = excluded.fwi_healthy,
			risk_critical_pct = excluded.risk_critical_pct,
			risk_warning_pct = excluded.risk_warning_pct,
			ewa_max_pending_count = excluded.ewa_max_pending_count,
			ewa_max_pending_amount = excluded.ewa_max_pending_amount,
			ewa_max_requests_per_user = excluded.ewa_max_requests_per_user,
			notify_on_critical = excluded.notify_on_critical,
			notify_on_warning = excluded.notify_on_warning,
			notify_on_info = excluded.notify_on_info,
			email_recipients = excluded.email_recipients,
			webhook_url = excluded.webhook_url,
			updated_at = excluded.updated_at
	`,
		t.OrganizationID,
		nullFloat(t.FWICritical),
		nullFloat(t.FWIWarning),
		nullFloat(t.FWIHealthy),
		nullFloat(t.RiskCriticalPct),
		nullFloat(t.RiskWarningPct),
		nullFloat(t.EWAMaxPendingCount),
		nullFloat(t.EWAMaxPendingAmount),
		nullFloat(t.EWAMaxRequestsPerUser),
		nullBool(t.NotifyOnCritical),
		nullBool(t.NotifyOnWarning),
		nullBool(t.NotifyOnInfo),
		string(recipients),
		strings.TrimSpace(t.WebhookURL),
		formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("写入组织阈值失败: %w", err)
	}
	t.UpdatedAt = now
	return nil
}

func decodeStrings(raw string) []string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return nil
	}
	return out
}

func nonNilStrings(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
