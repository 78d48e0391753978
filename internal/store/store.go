// 本文件用于告警引擎的 SQLite 持久化存储
// 规则 组织阈值 告警事件与通知目录共用一个数据库 访问由互斥锁串行化

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// 固定宽度的 UTC 文本时间 字典序与时间序一致 便于在 SQL 中直接比较
const timeLayout = "2006-01-02T15:04:05.000000000Z"

var (
	// ErrNotFound 表示记录不存在
	ErrNotFound = errors.New("记录不存在")
	// ErrInCooldown 表示冷却窗口内已有更新的事件 本次写入被拒绝
	ErrInCooldown = errors.New("规则处于冷却期")
	// ErrNoData 表示指标所需的数据为空
	ErrNoData = errors.New("指标无数据")
)

// Store 是基于 SQLite 的告警存储
type Store struct {
	mu     sync.Mutex
	db     *sql.DB
	dbPath string
	now    func() time.Time

	highRiskScore float64
}

// Option 用于调整 Store 行为
type Option func(*Store)

// WithClock 替换时间源 测试时使用
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithHighRiskScore 设置高风险员工的 FWI 分数上限
func WithHighRiskScore(score float64) Option {
	return func(s *Store) {
		if score > 0 {
			s.highRiskScore = score
		}
	}
}

// Open 打开或创建数据库并执行迁移
func Open(dbPath string, opts ...Option) (*Store, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("数据库路径不能为空")
	}
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("打开 sqlite 失败: %w", err)
	}
	// 单连接配合互斥锁 避免 sqlite 写锁竞争
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("设置 sqlite WAL 失败: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("设置 sqlite busy_timeout 失败: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	s := newStore(db, opts...)
	s.dbPath = dbPath
	return s, nil
}

// NewWithDB 使用已有连接构造 Store 不执行迁移
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	return newStore(db, opts...)
}

func newStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:            db,
		now:           time.Now,
		highRiskScore: 40,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close 关闭数据库
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DBPath 返回数据库文件路径
func (s *Store) DBPath() string {
	if s == nil {
		return ""
	}
	return s.dbPath
}

// Ping 检查数据库是否可用
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("存储未初始化")
	}
	return s.db.PingContext(ctx)
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS organizations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS departments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			name TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER,
			department_id INTEGER,
			name TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			role TEXT NOT NULL DEFAULT 'employee',
			fwi_score REAL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);`,
		`CREATE INDEX IF NOT EXISTS idx_users_department ON users(department_id);`,
		`CREATE TABLE IF NOT EXISTS fwi_score_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			score REAL NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fwi_history_user_time
			ON fwi_score_history(user_id, recorded_at DESC);`,
		`CREATE TABLE IF NOT EXISTS ewa_requests (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			amount REAL NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_ewa_requests_status ON ewa_requests(status);`,
		`CREATE TABLE IF NOT EXISTS push_subscriptions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			endpoint TEXT NOT NULL,
			p256dh TEXT NOT NULL DEFAULT '',
			auth TEXT NOT NULL DEFAULT '',
			UNIQUE(user_id, endpoint)
		);`,
		`CREATE TABLE IF NOT EXISTS notifications (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			body TEXT NOT NULL,
			alert_event_id INTEGER,
			is_read INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS alert_rules (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			alert_type TEXT NOT NULL,
			threshold REAL NOT NULL,
			comparison_operator TEXT NOT NULL,
			department_id INTEGER,
			is_enabled INTEGER NOT NULL DEFAULT 1,
			notify_email INTEGER NOT NULL DEFAULT 0,
			notify_push INTEGER NOT NULL DEFAULT 0,
			notify_in_app INTEGER NOT NULL DEFAULT 0,
			notify_admins INTEGER NOT NULL DEFAULT 0,
			notify_department_admins INTEGER NOT NULL DEFAULT 0,
			cooldown_minutes INTEGER NOT NULL DEFAULT 0,
			created_by INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS organization_thresholds (
			organization_id INTEGER PRIMARY KEY,
			fwi_critical REAL,
			fwi_warning REAL,
			fwi_healthy REAL,
			risk_critical_pct REAL,
			risk_warning_pct REAL,
			ewa_max_pending_count REAL,
			ewa_max_pending_amount REAL,
			ewa_max_requests_per_user REAL,
			notify_on_critical INTEGER,
			notify_on_warning INTEGER,
			notify_on_info INTEGER,
			email_recipients TEXT NOT NULL DEFAULT '[]',
			webhook_url TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS alert_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			rule_id INTEGER NOT NULL,
			alert_type TEXT NOT NULL,
			organization_id INTEGER,
			department_id INTEGER,
			user_id INTEGER,
			previous_value REAL,
			current_value REAL NOT NULL,
			threshold REAL NOT NULL,
			message TEXT NOT NULL,
			severity TEXT NOT NULL,
			email_sent INTEGER NOT NULL DEFAULT 0,
			push_sent INTEGER NOT NULL DEFAULT 0,
			in_app_sent INTEGER NOT NULL DEFAULT 0,
			notified_users TEXT NOT NULL DEFAULT '[]',
			acknowledged_by INTEGER,
			acknowledged_at TEXT NOT NULL DEFAULT '',
			resolved_at TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_rule_created
			ON alert_events(rule_id, created_at DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_alert_events_created
			ON alert_events(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("迁移 sqlite 失败: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(raw string) time.Time {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}
	}
	if t, err := time.Parse(timeLayout, trimmed); err == nil {
		return t.UTC()
	}
	// 兼容手工写入的 RFC3339 数据
	if t, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

func parseTimePtr(raw string) *time.Time {
	t := parseTime(raw)
	if t.IsZero() {
		return nil
	}
	return &t
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullBool(v *bool) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: boolInt(*v), Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	out := v.Int64
	return &out
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	out := v.Float64
	return &out
}

func boolPtr(v sql.NullInt64) *bool {
	if !v.Valid {
		return nil
	}
	out := v.Int64 != 0
	return &out
}

func boolInt(v bool) int64 {
	if v {
		return 1
	}
	return 0
}
