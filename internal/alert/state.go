package alert

import (
	"fmt"
	"sync"
	"time"

	"wellness-alert/internal/models"
)

const (
	maxDecisionRecords = 200
	overviewWindow     = 24 * time.Hour // 告警态势概览统计窗口
)

// Dashboard 表示告警控制台数据
type Dashboard struct {
	Overview  Overview        `json:"overview"`
	Decisions []Decision      `json:"decisions"`
	Stats     Stats           `json:"stats"`
	Rules     RulesSummary    `json:"rules"`
	Schedule  ScheduleSummary `json:"schedule"`
}

// Overview 表示告警态势概览
type Overview struct {
	Window     string `json:"window"`
	Risk       string `json:"risk"`
	Critical   int    `json:"critical"`
	Warning    int    `json:"warning"`
	Info       int    `json:"info"`
	Triggered  int    `json:"triggered"`
	Suppressed int    `json:"suppressed"`
	Latest     string `json:"latest"`
}

// Decision 表示告警列表项
type Decision struct {
	Time      string `json:"time"`
	RuleID    int64  `json:"ruleId"`
	Rule      string `json:"rule"`
	AlertType string `json:"alertType"`
	Severity  string `json:"severity,omitempty"`
	Message   string `json:"message,omitempty"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	AlertID   int64  `json:"alertId,omitempty"`
}

// Stats 表示累计评估统计
type Stats struct {
	Triggered  int `json:"triggered"`
	Suppressed int `json:"suppressed"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// RulesSummary 表示规则摘要
type RulesSummary struct {
	Source     string         `json:"source"`
	LastLoaded string         `json:"lastLoaded"`
	Total      int            `json:"total"`
	Enabled    int            `json:"enabled"`
	ByType     map[string]int `json:"byType"`
	Error      string         `json:"error,omitempty"`
}

// ScheduleSummary 表示定时评估摘要
type ScheduleSummary struct {
	Interval  string           `json:"interval"`
	Running   bool             `json:"running"`
	LastPass  string           `json:"lastPass"`
	NextPass  string           `json:"nextPass"`
	LastRunID string           `json:"lastRunId,omitempty"`
	LastStats models.PassStats `json:"lastStats"`
}

type decisionRecord struct {
	at        time.Time
	ruleID    int64
	rule      string
	alertType models.AlertType
	severity  models.Severity
	message   string
	status    DecisionStatus
	reason    string
	alertID   int64
}

// State 维护告警决策运行态
type State struct {
	mu       sync.RWMutex
	records  []decisionRecord
	stats    Stats
	rules    RulesSummary
	schedule ScheduleSummary
	lastPass time.Time
	now      func() time.Time
}

// NewState 创建告警运行态
func NewState() *State {
	return &State{
		records: make([]decisionRecord, 0, maxDecisionRecords),
		now:     time.Now,
	}
}

// Record 记录单条规则的评估结果
func (s *State) Record(result TriggerResult) {
	if s == nil {
		return
	}
	status := result.Status()
	at := result.EvaluatedAt
	if at.IsZero() {
		at = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, decisionRecord{
		at:        at,
		ruleID:    result.RuleID,
		rule:      result.RuleName,
		alertType: result.AlertType,
		severity:  result.Severity,
		message:   result.Message,
		status:    status,
		reason:    result.Reason,
		alertID:   result.AlertID,
	})
	if len(s.records) > maxDecisionRecords {
		s.records = append([]decisionRecord(nil), s.records[len(s.records)-maxDecisionRecords:]...)
	}

	switch status {
	case StatusTriggered:
		s.stats.Triggered++
	case StatusSuppressed:
		s.stats.Suppressed++
	case StatusSkipped:
		s.stats.Skipped++
	case StatusFailed:
		s.stats.Failed++
	}
}

// RecordPass 记录一轮批量评估
func (s *State) RecordPass(runID string, stats models.PassStats, at time.Time) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.lastPass = at
	s.schedule.LastRunID = runID
	s.schedule.LastStats = stats
	s.schedule.LastPass = formatTime(at)
	s.mu.Unlock()
}

// LastPass 返回最近一轮评估时间
func (s *State) LastPass() time.Time {
	if s == nil {
		return time.Time{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastPass
}

// UpdateSchedule 更新定时状态 保留最近一轮的统计
func (s *State) UpdateSchedule(interval time.Duration, running bool, next time.Time) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.schedule.Interval = formatInterval(interval)
	s.schedule.Running = running
	s.schedule.NextPass = formatTime(next)
	s.mu.Unlock()
}

// UpdateRulesSummary 根据规则列表刷新规则摘要
func (s *State) UpdateRulesSummary(source string, rules []models.AlertRule, loadErr error) {
	if s == nil {
		return
	}
	summary := RulesSummary{
		Source:     source,
		LastLoaded: formatTime(s.now()),
		Total:      len(rules),
		ByType:     make(map[string]int),
	}
	for _, rule := range rules {
		if rule.Enabled {
			summary.Enabled++
		}
		summary.ByType[string(rule.AlertType)]++
	}
	if loadErr != nil {
		summary.Error = loadErr.Error()
	}
	s.mu.Lock()
	s.rules = summary
	s.mu.Unlock()
}

// Dashboard 输出告警面板数据 决策按时间倒序
func (s *State) Dashboard() Dashboard {
	s.mu.RLock()
	records := append([]decisionRecord(nil), s.records...)
	stats := s.stats
	rules := s.rules
	schedule := s.schedule
	s.mu.RUnlock()

	decisions := make([]Decision, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		rec := records[i]
		decisions = append(decisions, Decision{
			Time:      formatTime(rec.at),
			RuleID:    rec.ruleID,
			Rule:      rec.rule,
			AlertType: string(rec.alertType),
			Severity:  string(rec.severity),
			Message:   rec.message,
			Status:    string(rec.status),
			Reason:    rec.reason,
			AlertID:   rec.alertID,
		})
	}
	if rules.ByType == nil {
		rules.ByType = map[string]int{}
	}
	schedule.LastPass = defaultTime(schedule.LastPass)
	schedule.NextPass = defaultTime(schedule.NextPass)

	return Dashboard{
		Overview:  buildOverview(records, s.now()),
		Decisions: decisions,
		Stats:     stats,
		Rules:     rules,
		Schedule:  schedule,
	}
}

func buildOverview(records []decisionRecord, now time.Time) Overview {
	// 仅统计窗口内的记录用于概览
	windowStart := now.Add(-overviewWindow)

	var overview Overview
	var latest string
	for _, record := range records {
		if record.at.Before(windowStart) {
			continue
		}
		switch record.status {
		case StatusTriggered:
			overview.Triggered++
			switch record.severity {
			case models.SeverityCritical:
				overview.Critical++
			case models.SeverityWarning:
				overview.Warning++
			case models.SeverityInfo:
				overview.Info++
			}
			latest = formatTime(record.at)
		case StatusSuppressed:
			overview.Suppressed++
		}
	}

	overview.Risk = "低"
	if overview.Critical > 0 {
		overview.Risk = "严重"
	} else if overview.Warning > 0 {
		overview.Risk = "高"
	} else if overview.Info > 0 {
		overview.Risk = "中"
	}
	overview.Window = formatWindow(overviewWindow)
	overview.Latest = defaultTime(latest)
	return overview
}

// formatWindow 统一概览窗口的展示文案
func formatWindow(window time.Duration) string {
	if window%time.Hour == 0 {
		return fmt.Sprintf("最近%d小时", int(window.Hours()))
	}
	return fmt.Sprintf("最近%d分钟", int(window.Minutes()))
}

func formatInterval(d time.Duration) string {
	if d <= 0 {
		return "--"
	}
	if d%time.Hour == 0 {
		return fmt.Sprintf("%d小时", int(d.Hours()))
	}
	return fmt.Sprintf("%d分钟", int(d.Minutes()))
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.Format("2006-01-02 15:04:05")
}

func defaultTime(raw string) string {
	if raw == "" {
		return "--"
	}
	return raw
}
