package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"wellness-alert/internal/models"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "alerts.db"), opts...)
	if err != nil {
		t.Fatalf("打开测试数据库失败: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleRule() *models.AlertRule {
	return &models.AlertRule{
		Name:            "部门 FWI 偏低",
		AlertType:       models.AlertFWIDepartmentLow,
		Threshold:       50,
		Operator:        models.OpLT,
		DepartmentID:    models.Int64(3),
		Enabled:         true,
		NotifyEmail:     true,
		NotifyAdmins:    true,
		CooldownMinutes: 1440,
		CreatedBy:       1,
	}
}

func TestRuleCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	rule := sampleRule()
	if err := s.CreateRule(ctx, rule); err != nil {
		t.Fatalf("创建规则失败: %v", err)
	}
	if rule.ID == 0 || rule.CreatedAt.IsZero() {
		t.Fatalf("创建后应回填 id 与时间: %+v", rule)
	}
	disabled := sampleRule()
	disabled.Name = "停用规则"
	disabled.Enabled = false
	if err := s.CreateRule(ctx, disabled); err != nil {
		t.Fatalf("创建规则失败: %v", err)
	}

	got, err := s.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("读取规则失败: %v", err)
	}
	if got.Name != rule.Name || got.Operator != models.OpLT || got.DepartmentID == nil || *got.DepartmentID != 3 {
		t.Fatalf("读取的规则不符合预期: %+v", got)
	}
	if !got.NotifyEmail || got.NotifyPush || !got.NotifyAdmins {
		t.Fatalf("通知开关不符合预期: %+v", got)
	}

	enabled, err := s.ListEnabledRules(ctx)
	if err != nil {
		t.Fatalf("列出启用规则失败: %v", err)
	}
	if len(enabled) != 1 || enabled[0].ID != rule.ID {
		t.Fatalf("只应返回启用的规则: %+v", enabled)
	}

	got.Threshold = 45
	got.DepartmentID = nil
	if err := s.UpdateRule(ctx, got); err != nil {
		t.Fatalf("更新规则失败: %v", err)
	}
	updated, _ := s.GetRule(ctx, rule.ID)
	if updated.Threshold != 45 || updated.DepartmentID != nil {
		t.Fatalf("更新未生效: %+v", updated)
	}

	if err := s.DeleteRule(ctx, rule.ID); err != nil {
		t.Fatalf("删除规则失败: %v", err)
	}
	if _, err := s.GetRule(ctx, rule.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("删除后应返回 ErrNotFound, 实际 %v", err)
	}
	if err := s.DeleteRule(ctx, rule.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("重复删除应返回 ErrNotFound, 实际 %v", err)
	}
	n, err := s.CountRules(ctx)
	if err != nil || n != 1 {
		t.Fatalf("规则数量期望 1, 实际 %d err=%v", n, err)
	}
}

func TestCreateRuleRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	rule := sampleRule()
	rule.CooldownMinutes = -1
	if err := s.CreateRule(context.Background(), rule); err == nil {
		t.Fatal("负冷却时间应被拒绝")
	}
	rule = sampleRule()
	rule.AlertType = models.AlertHighRiskPercent
	rule.Threshold = 150
	if err := s.CreateRule(context.Background(), rule); err == nil {
		t.Fatal("超过 100 的百分比阈值应被拒绝")
	}
}

func TestOrgThresholdsRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.GetOrgThresholds(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Fatalf("未配置时应返回 ErrNotFound, 实际 %v", err)
	}
	in := &models.OrganizationThresholds{
		OrganizationID: 7,
		PlatformDefaults: models.PlatformDefaults{
			FWIWarning:      models.Float(55),
			NotifyOnWarning: models.Bool(false),
		},
		EmailRecipients: []string{"finanzas@example.com"},
		WebhookURL:      "https://hooks.slack.com/services/T000/B000/XXX",
	}
	if err := s.UpsertOrgThresholds(ctx, in); err != nil {
		t.Fatalf("写入组织阈值失败: %v", err)
	}
	got, err := s.GetOrgThresholds(ctx, 7)
	if err != nil {
		t.Fatalf("读取组织阈值失败: %v", err)
	}
	if got.FWIWarning == nil || *got.FWIWarning != 55 {
		t.Fatalf("FWIWarning 期望 55: %+v", got)
	}
	if got.FWICritical != nil {
		t.Fatalf("未设置的字段应保持为空: %v", *got.FWICritical)
	}
	if got.NotifyOnWarning == nil || *got.NotifyOnWarning {
		t.Fatalf("NotifyOnWarning 期望 false")
	}
	if got.NotifyOnCritical != nil {
		t.Fatalf("NotifyOnCritical 应为空")
	}
	if len(got.EmailRecipients) != 1 || got.EmailRecipients[0] != "finanzas@example.com" {
		t.Fatalf("邮件收件人不符合预期: %v", got.EmailRecipients)
	}
	if got.WebhookURL != in.WebhookURL {
		t.Fatalf("webhook 不符合预期: %s", got.WebhookURL)
	}
}

func TestInsertEventCooldownBoundary(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cooldown := 60 * time.Minute

	first := &models.AlertEvent{RuleID: 1, AlertType: models.AlertEWAPendingCount, CurrentValue: 11, Threshold: 10, Message: "m", Severity: models.SeverityInfo, CreatedAt: t0}
	if _, err := s.InsertEvent(ctx, first, cooldown); err != nil {
		t.Fatalf("首次写入失败: %v", err)
	}

	early := &models.AlertEvent{RuleID: 1, AlertType: models.AlertEWAPendingCount, CurrentValue: 12, Threshold: 10, Message: "m", Severity: models.SeverityInfo, CreatedAt: t0.Add(cooldown - time.Minute)}
	if _, err := s.InsertEvent(ctx, early, cooldown); !errors.Is(err, ErrInCooldown) {
		t.Fatalf("冷却期内写入应返回 ErrInCooldown, 实际 %v", err)
	}

	other := &models.AlertEvent{RuleID: 2, AlertType: models.AlertEWAPendingCount, CurrentValue: 12, Threshold: 10, Message: "m", Severity: models.SeverityInfo, CreatedAt: t0.Add(time.Minute)}
	if _, err := s.InsertEvent(ctx, other, cooldown); err != nil {
		t.Fatalf("其他规则不受冷却影响: %v", err)
	}

	late := &models.AlertEvent{RuleID: 1, AlertType: models.AlertEWAPendingCount, CurrentValue: 13, Threshold: 10, Message: "m", Severity: models.SeverityInfo, CreatedAt: t0.Add(cooldown + time.Minute)}
	id, err := s.InsertEvent(ctx, late, cooldown)
	if err != nil {
		t.Fatalf("冷却期后写入失败: %v", err)
	}

	latest, ok, err := s.LatestEventTime(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("读取最近事件时间失败: ok=%v err=%v", ok, err)
	}
	if !latest.Equal(late.CreatedAt) {
		t.Fatalf("最近事件时间期望 %v, 实际 %v", late.CreatedAt, latest)
	}
	ev, err := s.LatestEvent(ctx, 1)
	if err != nil || ev.ID != id || ev.CurrentValue != 13 {
		t.Fatalf("最近事件不符合预期: %+v err=%v", ev, err)
	}
	if _, ok, _ := s.LatestEventTime(ctx, 99); ok {
		t.Fatal("没有事件的规则不应返回时间")
	}
}

func TestInsertEventZeroCooldownAlwaysWrites(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		ev := &models.AlertEvent{RuleID: 5, AlertType: models.AlertNewHighRiskUser, CurrentValue: 1, Threshold: 0, Message: "m", Severity: models.SeverityCritical, CreatedAt: now}
		if _, err := s.InsertEvent(ctx, ev, 0); err != nil {
			t.Fatalf("零冷却写入失败: %v", err)
		}
	}
	events, err := s.ListEvents(ctx, models.Int64(5), 10)
	if err != nil || len(events) != 3 {
		t.Fatalf("期望 3 条事件, 实际 %d err=%v", len(events), err)
	}
}

func TestDeliveryAndLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	ev := &models.AlertEvent{RuleID: 1, AlertType: models.AlertFWIDepartmentLow, PreviousValue: models.Float(47), CurrentValue: 42, Threshold: 50, Message: "m", Severity: models.SeverityWarning}
	id, err := s.InsertEvent(ctx, ev, time.Hour)
	if err != nil {
		t.Fatalf("写入事件失败: %v", err)
	}
	if err := s.UpdateDelivery(ctx, id, models.DeliveryFlags{EmailSent: true, InAppSent: true, NotifiedUserIDs: []int64{4, 9}}); err != nil {
		t.Fatalf("更新投递结果失败: %v", err)
	}

	ackAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.AcknowledgeEvent(ctx, id, 4, ackAt); err != nil {
		t.Fatalf("确认失败: %v", err)
	}
	if err := s.AcknowledgeEvent(ctx, id, 9, ackAt.Add(time.Minute)); err != nil {
		t.Fatalf("重复确认失败: %v", err)
	}
	if err := s.ResolveEvent(ctx, id, ackAt.Add(2*time.Minute)); err != nil {
		t.Fatalf("解决失败: %v", err)
	}

	got, err := s.GetEvent(ctx, id)
	if err != nil {
		t.Fatalf("读取事件失败: %v", err)
	}
	if !got.EmailSent || got.PushSent || !got.InAppSent {
		t.Fatalf("投递标记不符合预期: %+v", got)
	}
	if len(got.NotifiedUserIDs) != 2 || got.NotifiedUserIDs[1] != 9 {
		t.Fatalf("通知用户不符合预期: %v", got.NotifiedUserIDs)
	}
	if got.AcknowledgedBy == nil || *got.AcknowledgedBy != 4 {
		t.Fatalf("确认人应保持首次确认的用户: %v", got.AcknowledgedBy)
	}
	if got.AcknowledgedAt == nil || !got.AcknowledgedAt.Equal(ackAt.Add(time.Minute)) {
		t.Fatalf("确认时间应被刷新: %v", got.AcknowledgedAt)
	}
	if got.ResolvedAt == nil {
		t.Fatal("解决时间应已设置")
	}
	if got.PreviousValue == nil || *got.PreviousValue != 47 {
		t.Fatalf("previousValue 不符合预期: %v", got.PreviousValue)
	}

	if err := s.AcknowledgeEvent(ctx, 999, 1, ackAt); !errors.Is(err, ErrNotFound) {
		t.Fatalf("未知事件应返回 ErrNotFound, 实际 %v", err)
	}
	if err := s.ResolveEvent(ctx, 999, ackAt); !errors.Is(err, ErrNotFound) {
		t.Fatalf("未知事件应返回 ErrNotFound, 实际 %v", err)
	}
}

func TestListEventsAfterOrdersByID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	// 写入顺序与创建时间不一致 第 3 条最早创建
	offsets := []time.Duration{-2 * time.Hour, time.Hour, 2 * time.Hour, 30 * time.Minute}
	var ids []int64
	for i, off := range offsets {
		ev := &models.AlertEvent{RuleID: int64(i + 1), AlertType: models.AlertEWAPendingCount, CurrentValue: 1, Message: "m", Severity: models.SeverityInfo, CreatedAt: base.Add(off)}
		id, err := s.InsertEvent(ctx, ev, 0)
		if err != nil {
			t.Fatalf("写入事件失败: %v", err)
		}
		ids = append(ids, id)
	}
	events, err := s.ListEventsAfter(ctx, ids[1], base, 10)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(events) != 2 || events[0].ID != ids[2] || events[1].ID != ids[3] {
		t.Fatalf("应按 id 正序返回游标之后的事件: %+v", events)
	}
	events, err = s.ListEventsAfter(ctx, 0, base, 10)
	if err != nil {
		t.Fatalf("查询失败: %v", err)
	}
	if len(events) != 3 || events[0].ID != ids[1] {
		t.Fatalf("早于 since 的事件不应返回: %+v", events)
	}
}

func TestDirectoryLookups(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	orgID, _ := s.CreateOrganization(ctx, "Acme")
	deptID, _ := s.CreateDepartment(ctx, orgID, "Ventas")
	adminID, _ := s.CreateUser(ctx, models.User{Name: "Ana", Email: "ana@example.com", Role: models.RoleAdmin, OrganizationID: &orgID}, nil)
	_, _ = s.CreateUser(ctx, models.User{Name: "Beto", Email: "beto@example.com", Role: models.RoleDepartmentAdmin, OrganizationID: &orgID, DepartmentID: &deptID}, nil)
	empID, _ := s.CreateUser(ctx, models.User{Name: "Caro", Email: "caro@example.com", OrganizationID: &orgID, DepartmentID: &deptID}, models.Float(60))

	admins, err := s.UsersByRole(ctx, models.RoleAdmin)
	if err != nil || len(admins) != 1 || admins[0].ID != adminID {
		t.Fatalf("管理员查询不符合预期: %+v err=%v", admins, err)
	}
	employees, err := s.UsersByRole(ctx, models.RoleEmployee)
	if err != nil || len(employees) != 1 || employees[0].ID != empID {
		t.Fatalf("未指定角色的用户应为 employee: %+v err=%v", employees, err)
	}
	if name, err := s.DepartmentName(ctx, deptID); err != nil || name != "Ventas" {
		t.Fatalf("部门名称不符合预期: %s err=%v", name, err)
	}
	if _, err := s.OrganizationName(ctx, 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("未知组织应返回 ErrNotFound, 实际 %v", err)
	}

	for _, endpoint := range []string{"https://push.example/a", "https://push.example/b", "https://push.example/a"} {
		if _, err := s.AddPushSubscription(ctx, models.PushSubscription{UserID: empID, Endpoint: endpoint, P256dh: "k", Auth: "a"}); err != nil {
			t.Fatalf("注册推送设备失败: %v", err)
		}
	}
	subs, err := s.PushSubscriptions(ctx, empID)
	if err != nil || len(subs) != 2 {
		t.Fatalf("推送设备应去重为 2 个, 实际 %d err=%v", len(subs), err)
	}

	if err := s.InsertInAppNotification(ctx, models.InAppNotification{UserID: empID, Title: "t", Body: "b", AlertEventID: 1}); err != nil {
		t.Fatalf("写入站内通知失败: %v", err)
	}
	if n, err := s.CountNotifications(ctx, empID); err != nil || n != 1 {
		t.Fatalf("站内通知数量期望 1, 实际 %d err=%v", n, err)
	}
}

func TestMetrics(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	s := newTestStore(t, WithClock(func() time.Time { return now }), WithHighRiskScore(40))

	orgID, _ := s.CreateOrganization(ctx, "Acme")
	deptA, _ := s.CreateDepartment(ctx, orgID, "Ventas")
	deptB, _ := s.CreateDepartment(ctx, orgID, "Soporte")
	u1, _ := s.CreateUser(ctx, models.User{Name: "u1", OrganizationID: &orgID, DepartmentID: &deptA}, nil)
	u2, _ := s.CreateUser(ctx, models.User{Name: "u2", OrganizationID: &orgID, DepartmentID: &deptA}, nil)
	u3, _ := s.CreateUser(ctx, models.User{Name: "u3", OrganizationID: &orgID, DepartmentID: &deptB}, nil)
	_, _ = s.CreateUser(ctx, models.User{Name: "sin puntaje", OrganizationID: &orgID, DepartmentID: &deptB}, nil)

	record := func(user int64, score float64, ago time.Duration) {
		t.Helper()
		if err := s.RecordFWIScore(ctx, user, score, now.Add(-ago)); err != nil {
			t.Fatalf("记录 FWI 失败: %v", err)
		}
	}
	day := 24 * time.Hour
	record(u1, 60, 10*day)
	record(u2, 50, 10*day)
	record(u3, 70, 10*day)
	record(u1, 48, 2*day)
	record(u2, 36, day)
	record(u3, 70, day)

	scopeA := models.MetricScope{OrganizationID: &orgID, DepartmentID: &deptA}
	orgScope := models.MetricScope{OrganizationID: &orgID}

	assertMetric := func(alertType models.AlertType, scope models.MetricScope, want float64) {
		t.Helper()
		got, err := s.Metric(ctx, alertType, scope)
		if err != nil {
			t.Fatalf("%s 计算失败: %v", alertType, err)
		}
		if got < want-0.001 || got > want+0.001 {
			t.Fatalf("%s 期望 %v, 实际 %v", alertType, want, got)
		}
	}

	assertMetric(models.AlertFWIDepartmentLow, scopeA, 42)
	assertMetric(models.AlertFWIIndividualLow, orgScope, 36)
	// 近 7 天 (48+36+70)/3 前 7 天 (60+50+70)/3
	assertMetric(models.AlertFWITrendNegative, orgScope, (48.0+36+70)/3-(60.0+50+70)/3)
	assertMetric(models.AlertHighRiskPercent, orgScope, 100.0/3)
	assertMetric(models.AlertNewHighRiskUser, orgScope, 1)
	assertMetric(models.AlertWeeklyRiskSummary, orgScope, 1)

	for i := 0; i < 4; i++ {
		if _, err := s.CreateEWARequest(ctx, u1, 1000.5, "", now.Add(-time.Duration(i)*day)); err != nil {
			t.Fatalf("创建 EWA 申请失败: %v", err)
		}
	}
	_, _ = s.CreateEWARequest(ctx, u3, 200, "approved", now.Add(-day))
	_, _ = s.CreateEWARequest(ctx, u3, 300, "pending", now.Add(-40*day))

	assertMetric(models.AlertEWAPendingCount, orgScope, 5)
	assertMetric(models.AlertEWAPendingAmount, orgScope, 4*1000.5+300)
	assertMetric(models.AlertEWAUserExcessive, orgScope, 4)
	assertMetric(models.AlertEWAPendingCount, scopeA, 4)

	emptyDept, _ := s.CreateDepartment(ctx, orgID, "Vacío")
	if _, err := s.Metric(ctx, models.AlertFWIDepartmentLow, models.MetricScope{DepartmentID: &emptyDept}); !errors.Is(err, ErrNoData) {
		t.Fatalf("空部门应返回 ErrNoData, 实际 %v", err)
	}
	if _, err := s.Metric(ctx, models.AlertType("unknown"), orgScope); err == nil {
		t.Fatal("未知告警类型应返回错误")
	}
}

func TestStoreReportsDatabaseFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("创建 sqlmock 失败: %v", err)
	}
	defer db.Close()
	s := NewWithDB(db)
	ctx := context.Background()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("database is locked"))
	if _, err := s.ListEnabledRules(ctx); err == nil {
		t.Fatal("数据库错误应向上返回")
	}

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("disk I/O error"))
	if _, err := s.GetOrgThresholds(ctx, 7); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("数据库错误不应被当作记录不存在: %v", err)
	}

	mock.ExpectExec("INSERT INTO alert_events").WillReturnError(errors.New("disk full"))
	ev := &models.AlertEvent{RuleID: 1, AlertType: models.AlertEWAPendingCount, Severity: models.SeverityInfo}
	if _, err := s.InsertEvent(ctx, ev, time.Hour); err == nil || errors.Is(err, ErrInCooldown) {
		t.Fatalf("写入失败不应被当作冷却: %v", err)
	}

	mock.ExpectExec("INSERT INTO alert_events").WillReturnResult(sqlmock.NewResult(0, 0))
	if _, err := s.InsertEvent(ctx, ev, time.Hour); !errors.Is(err, ErrInCooldown) {
		t.Fatalf("未写入任何行应返回 ErrInCooldown, 实际 %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("sqlmock 期望未满足: %v", err)
	}
}

func TestTimeLayoutSortsLexicographically(t *testing.T) {
	a := formatTime(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))
	b := formatTime(time.Date(2026, 1, 1, 10, 0, 0, 5, time.UTC))
	if !(a < b) {
		t.Fatalf("时间文本应按字典序排序: %s %s", a, b)
	}
	if got := parseTime(b); !got.Equal(time.Date(2026, 1, 1, 10, 0, 0, 5, time.UTC)) {
		t.Fatalf("时间解析不一致: %v", got)
	}
}
