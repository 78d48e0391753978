package alert

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"wellness-alert/internal/models"
	"wellness-alert/internal/store"
)

type memoryEvents struct {
	mu     sync.Mutex
	events []models.AlertEvent
	nextID int64
	err    error
}

func (m *memoryEvents) LatestEventTime(ctx context.Context, ruleID int64) (time.Time, bool, error) {
	ev, err := m.LatestEvent(ctx, ruleID)
	if errors.Is(err, store.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return ev.CreatedAt, true, nil
}

func (m *memoryEvents) LatestEvent(_ context.Context, ruleID int64) (*models.AlertEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var latest *models.AlertEvent
	for i := range m.events {
		ev := m.events[i]
		if ev.RuleID != ruleID {
			continue
		}
		if latest == nil || ev.CreatedAt.After(latest.CreatedAt) {
			latest = &ev
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (m *memoryEvents) InsertEvent(_ context.Context, ev *models.AlertEvent, cooldown time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return 0, m.err
	}
	if cooldown > 0 {
		for _, prior := range m.events {
			if prior.RuleID == ev.RuleID && prior.CreatedAt.After(ev.CreatedAt.Add(-cooldown)) {
				return 0, store.ErrInCooldown
			}
		}
	}
	m.nextID++
	ev.ID = m.nextID
	m.events = append(m.events, *ev)
	return ev.ID, nil
}

func (m *memoryEvents) UpdateDelivery(_ context.Context, id int64, flags models.DeliveryFlags) error {
	return m.update(id, func(ev *models.AlertEvent) {
		ev.EmailSent = flags.EmailSent
		ev.PushSent = flags.PushSent
		ev.InAppSent = flags.InAppSent
		ev.NotifiedUserIDs = flags.NotifiedUserIDs
	})
}

func (m *memoryEvents) AcknowledgeEvent(_ context.Context, id, userID int64, at time.Time) error {
	return m.update(id, func(ev *models.AlertEvent) {
		if ev.AcknowledgedBy == nil {
			ev.AcknowledgedBy = &userID
		}
		ev.AcknowledgedAt = &at
	})
}

func (m *memoryEvents) ResolveEvent(_ context.Context, id int64, at time.Time) error {
	return m.update(id, func(ev *models.AlertEvent) { ev.ResolvedAt = &at })
}

func (m *memoryEvents) GetEvent(_ context.Context, id int64) (*models.AlertEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			ev := m.events[i]
			return &ev, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memoryEvents) ListEvents(_ context.Context, ruleID *int64, limit int) ([]models.AlertEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.AlertEvent, 0, len(m.events))
	for _, ev := range m.events {
		if ruleID == nil || ev.RuleID == *ruleID {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m *memoryEvents) update(id int64, fn func(ev *models.AlertEvent)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for i := range m.events {
		if m.events[i].ID == id {
			fn(&m.events[i])
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memoryEvents) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

type memoryDirectory struct {
	mu       sync.Mutex
	users    []models.User
	depts    map[int64]models.Department
	orgs     map[int64]string
	inApp    []models.InAppNotification
	roleErr  error
	inAppErr error
}

func (d *memoryDirectory) UsersByRole(_ context.Context, role models.Role) ([]models.User, error) {
	if d.roleErr != nil {
		return nil, d.roleErr
	}
	var out []models.User
	for _, u := range d.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	return out, nil
}

func (d *memoryDirectory) DepartmentName(_ context.Context, id int64) (string, error) {
	dept, ok := d.depts[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return dept.Name, nil
}

func (d *memoryDirectory) DepartmentOrganizationID(_ context.Context, id int64) (int64, error) {
	dept, ok := d.depts[id]
	if !ok {
		return 0, store.ErrNotFound
	}
	return dept.OrganizationID, nil
}

func (d *memoryDirectory) OrganizationName(_ context.Context, id int64) (string, error) {
	name, ok := d.orgs[id]
	if !ok {
		return "", store.ErrNotFound
	}
	return name, nil
}

func (d *memoryDirectory) InsertInAppNotification(_ context.Context, n models.InAppNotification) error {
	if d.inAppErr != nil {
		return d.inAppErr
	}
	d.mu.Lock()
	d.inApp = append(d.inApp, n)
	d.mu.Unlock()
	return nil
}

type fakeEmail struct {
	mu     sync.Mutex
	sent   []string
	failOn map[string]bool
}

func (f *fakeEmail) Send(_ context.Context, address, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[address] {
		return errors.New("smtp rejected")
	}
	f.sent = append(f.sent, address)
	return nil
}

func (f *fakeEmail) addresses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.sent...)
	sort.Strings(out)
	return out
}

type fakePush struct {
	mu       sync.Mutex
	results  map[int64]models.PushResult
	payloads []models.PushPayload
	calls    int
}

func (f *fakePush) SendToUser(_ context.Context, userID int64, payload models.PushPayload) (models.PushResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.payloads = append(f.payloads, payload)
	res, ok := f.results[userID]
	if !ok {
		return models.PushResult{Success: 1}, nil
	}
	return res, nil
}

type fakeWebhook struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeWebhook) Post(_ context.Context, _ string, _ models.WebhookMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

type fakeOwner struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (f *fakeOwner) Notify(_ context.Context, title, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	return f.err
}

type fakeMetrics struct {
	values map[models.AlertType]float64
	errs   map[models.AlertType]error
	panics map[models.AlertType]bool
}

func (f *fakeMetrics) Metric(_ context.Context, alertType models.AlertType, _ models.MetricScope) (float64, error) {
	if f.panics[alertType] {
		panic("metric exploded")
	}
	if err := f.errs[alertType]; err != nil {
		return 0, err
	}
	return f.values[alertType], nil
}

type memoryRules struct {
	mu    sync.Mutex
	rules []models.AlertRule
	err   error
}

func (m *memoryRules) ListEnabledRules(_ context.Context) ([]models.AlertRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AlertRule
	for _, r := range m.rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memoryRules) ListRules(_ context.Context) ([]models.AlertRule, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.AlertRule(nil), m.rules...), nil
}

func (m *memoryRules) GetRule(_ context.Context, id int64) (*models.AlertRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rules {
		if r.ID == id {
			rule := r
			return &rule, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *memoryRules) CreateRule(_ context.Context, rule *models.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule.ID = int64(len(m.rules) + 1)
	m.rules = append(m.rules, *rule)
	return nil
}

func (m *memoryRules) UpdateRule(_ context.Context, rule *models.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == rule.ID {
			m.rules[i] = *rule
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memoryRules) DeleteRule(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.rules {
		if m.rules[i].ID == id {
			m.rules = append(m.rules[:i], m.rules[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

type memoryThresholds struct {
	mu        sync.Mutex
	overrides map[int64]models.OrganizationThresholds
	reads     int
	err       error
}

func (m *memoryThresholds) GetOrgThresholds(_ context.Context, orgID int64) (*models.OrganizationThresholds, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if m.err != nil {
		return nil, m.err
	}
	t, ok := m.overrides[orgID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (m *memoryThresholds) UpsertOrgThresholds(_ context.Context, t *models.OrganizationThresholds) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.overrides == nil {
		m.overrides = make(map[int64]models.OrganizationThresholds)
	}
	m.overrides[t.OrganizationID] = *t
	return nil
}

// fixture 组装评估所需的全部替身
type fixture struct {
	now        time.Time
	events     *memoryEvents
	dir        *memoryDirectory
	email      *fakeEmail
	push       *fakePush
	webhook    *fakeWebhook
	owner      *fakeOwner
	source     *fakeMetrics
	rules      *memoryRules
	thresholds *memoryThresholds
	state      *State
	evaluator  *Evaluator
}

func newFixture() *fixture {
	f := &fixture{
		now:    time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		events: &memoryEvents{},
		dir: &memoryDirectory{
			users: []models.User{
				{ID: 1, Name: "Ana", Email: "ana@example.com", Role: models.RoleAdmin},
				{ID: 2, Name: "Luis", Email: "luis@example.com", Role: models.RoleDepartmentAdmin},
				{ID: 3, Name: "Eva", Email: "eva@example.com", Role: models.RoleEmployee},
			},
			depts: map[int64]models.Department{5: {ID: 5, OrganizationID: 7, Name: "Ventas"}},
			orgs:  map[int64]string{7: "Acme"},
		},
		email:      &fakeEmail{},
		push:       &fakePush{},
		webhook:    &fakeWebhook{},
		owner:      &fakeOwner{},
		source:     &fakeMetrics{values: map[models.AlertType]float64{}},
		rules:      &memoryRules{},
		thresholds: &memoryThresholds{},
		state:      NewState(),
	}
	f.build()
	return f
}

func (f *fixture) build() {
	dispatcher := NewDispatcher(DispatcherOptions{
		Email:     f.email,
		Push:      f.push,
		Webhook:   f.webhook,
		Owner:     f.owner,
		Directory: f.dir,
	})
	f.evaluator = NewEvaluator(EvaluatorDeps{
		Rules:      f.rules,
		Metrics:    f.source,
		Events:     f.events,
		Directory:  f.dir,
		Resolver:   NewThresholdResolver(f.thresholds, models.DefaultPlatformDefaults(), time.Minute),
		Dispatcher: dispatcher,
		State:      f.state,
		Now:        func() time.Time { return f.now },
	})
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func departmentRule() models.AlertRule {
	return models.AlertRule{
		ID:                     1,
		Name:                   "FWI bajo Ventas",
		AlertType:              models.AlertFWIDepartmentLow,
		Threshold:              50,
		Operator:               models.OpLT,
		DepartmentID:           models.Int64(5),
		Enabled:                true,
		NotifyEmail:            true,
		NotifyPush:             true,
		NotifyInApp:            true,
		NotifyAdmins:           true,
		NotifyDepartmentAdmins: true,
		CooldownMinutes:        1440,
	}
}
