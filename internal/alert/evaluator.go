// 本文件用于告警规则评估 串联阈值解析 冷却判断 分级 持久化与投递
package alert

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"wellness-alert/internal/logger"
	"wellness-alert/internal/metrics"
	"wellness-alert/internal/models"
	"wellness-alert/internal/store"
)

const defaultParallelism = 4

// EvaluatorDeps 表示评估器依赖
type EvaluatorDeps struct {
	Rules       RuleStore
	Metrics     MetricSource
	Events      EventStore
	Directory   Directory
	Resolver    *ThresholdResolver
	Dispatcher  *Dispatcher
	State       *State
	Collector   *metrics.Collector
	Parallelism int
	Now         func() time.Time
}

// Evaluator 负责单条规则与整批规则的评估
type Evaluator struct {
	rules       RuleStore
	source      MetricSource
	events      EventStore
	dir         Directory
	resolver    *ThresholdResolver
	guard       *CooldownGuard
	recorder    *AlertRecorder
	recipients  *RecipientResolver
	dispatcher  *Dispatcher
	state       *State
	collector   *metrics.Collector
	parallelism int
	now         func() time.Time
}

// NewEvaluator 创建评估器
func NewEvaluator(deps EvaluatorDeps) *Evaluator {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	parallelism := deps.Parallelism
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = NewDispatcher(DispatcherOptions{Directory: deps.Directory, Metrics: deps.Collector})
	}
	return &Evaluator{
		rules:       deps.Rules,
		source:      deps.Metrics,
		events:      deps.Events,
		dir:         deps.Directory,
		resolver:    deps.Resolver,
		guard:       NewCooldownGuard(deps.Events),
		recorder:    NewAlertRecorder(deps.Events, now),
		recipients:  NewRecipientResolver(deps.Directory),
		dispatcher:  dispatcher,
		state:       deps.State,
		collector:   deps.Collector,
		parallelism: parallelism,
		now:         now,
	}
}

// Resolver 返回阈值解析器
func (e *Evaluator) Resolver() *ThresholdResolver {
	return e.resolver
}

// Evaluate 评估单条规则 不返回错误 失败原因写入结果
func (e *Evaluator) Evaluate(ctx context.Context, rule *models.AlertRule, current float64, previous *float64, scope ScopeContext) TriggerResult {
	result := TriggerResult{CurrentValue: current, EvaluatedAt: e.now()}
	if rule == nil {
		result.Reason = ReasonRuleDisabled
		return result
	}
	result.RuleID = rule.ID
	result.RuleName = rule.Name
	result.AlertType = rule.AlertType
	result.Threshold = rule.Threshold

	if !rule.Enabled {
		result.Reason = ReasonRuleDisabled
		return e.finish(result)
	}

	resolution := e.resolver.Resolve(ctx, rule.AlertType, scope.OrganizationID, rule.Threshold)
	result.Threshold = resolution.Threshold

	if !rule.Operator.Compare(current, resolution.Threshold) {
		result.Reason = ReasonConditionNotMet
		return e.finish(result)
	}

	ev, ok := e.admit(ctx, rule, current, previous, scope, resolution, &result)
	if !ok {
		return e.finish(result)
	}

	recipients := e.recipients.Resolve(ctx, rule, scope)
	delivery := e.dispatcher.Dispatch(ctx, ev, rule, recipients, ev.Severity, Channels{
		WebhookURL:      resolution.WebhookURL,
		EmailRecipients: resolution.EmailRecipients,
		Policy:          resolution.Policy,
	})
	notified := userIDs(recipients)
	if err := e.recorder.MarkDelivered(ctx, ev.ID, delivery, notified); err != nil {
		logger.Warn("回写投递结果失败: alert=%d err=%v", ev.ID, err)
	}

	result.Triggered = true
	result.AlertID = ev.ID
	result.Delivery = &delivery
	logger.Info("告警已触发: rule=%d type=%s severity=%s value=%v threshold=%v alert=%d",
		rule.ID, rule.AlertType, ev.Severity, current, resolution.Threshold, ev.ID)
	return e.finish(result)
}

// admit 在规则锁内完成冷却判断 分级 策略过滤与事件写入
func (e *Evaluator) admit(ctx context.Context, rule *models.AlertRule, current float64, previous *float64, scope ScopeContext, resolution Resolution, result *TriggerResult) (*models.AlertEvent, bool) {
	unlock := e.guard.Lock(rule.ID)
	defer unlock()

	now := e.now()
	inCooldown, err := e.guard.InCooldown(ctx, rule.ID, rule.CooldownMinutes, now)
	if err != nil {
		logger.Error("冷却判断失败: rule=%d err=%v", rule.ID, err)
		result.Reason = ReasonPersistenceUnavailable
		result.Error = err.Error()
		return nil, false
	}
	if inCooldown {
		result.Reason = ReasonInCooldown
		result.Message = cooldownMessage(rule.CooldownMinutes)
		return nil, false
	}

	sev := ClassifySeverity(rule.AlertType, current, resolution.Threshold)
	result.Severity = sev
	if !resolution.Policy.Allows(sev) {
		result.Reason = ReasonSeverityMuted
		result.Message = mutedMessage(sev)
		return nil, false
	}

	msg := ComposeMessage(MessageInput{
		AlertType:    rule.AlertType,
		CurrentValue: current,
		Threshold:    resolution.Threshold,
		ScopeName:    scope.ScopeName,
		OrgWide:      rule.DepartmentID == nil,
	})
	result.Message = msg

	ev := &models.AlertEvent{
		RuleID:          rule.ID,
		AlertType:       rule.AlertType,
		OrganizationID:  scope.OrganizationID,
		DepartmentID:    scope.DepartmentID,
		UserID:          scope.UserID,
		PreviousValue:   previous,
		CurrentValue:    current,
		Threshold:       resolution.Threshold,
		Message:         msg,
		Severity:        sev,
		NotifiedUserIDs: []int64{},
		CreatedAt:       now,
	}
	if _, err := e.recorder.Record(ctx, ev, rule.CooldownMinutes); err != nil {
		if errors.Is(err, store.ErrInCooldown) {
			result.Reason = ReasonInCooldown
			result.Message = cooldownMessage(rule.CooldownMinutes)
			return nil, false
		}
		logger.Error("写入告警事件失败: rule=%d err=%v", rule.ID, err)
		result.Reason = ReasonPersistenceUnavailable
		result.Error = err.Error()
		return nil, false
	}
	return ev, true
}

func (e *Evaluator) finish(result TriggerResult) TriggerResult {
	if e.collector != nil {
		outcome := string(result.Status())
		if result.Reason != "" {
			outcome = result.Reason
		}
		e.collector.ObserveEvaluation(string(result.AlertType), outcome)
	}
	if e.state != nil {
		e.state.Record(result)
	}
	return result
}

// EvaluateAll 评估全部启用规则 单条规则失败不影响其他规则 结果保持规则顺序
func (e *Evaluator) EvaluateAll(ctx context.Context, orgID *int64) []TriggerResult {
	runID := uuid.NewString()
	rules, err := e.rules.ListEnabledRules(ctx)
	if err != nil {
		logger.Error("读取启用规则失败: run=%s err=%v", runID, err)
		return []TriggerResult{}
	}
	results := make([]TriggerResult, len(rules))
	if len(rules) == 0 {
		return results
	}
	logger.Info("开始批量评估: run=%s rules=%d", runID, len(rules))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.parallelism)
	for i := range rules {
		i := i
		g.Go(func() error {
			results[i] = e.evaluateRule(gctx, runID, &rules[i], orgID)
			return nil
		})
	}
	_ = g.Wait()

	stats := SummarizePass(results)
	logger.Info("批量评估完成: run=%s evaluated=%d triggered=%d suppressed=%d failed=%d",
		runID, stats.Evaluated, stats.Triggered, stats.Suppressed, stats.Failed)
	if e.state != nil {
		e.state.RecordPass(runID, stats, e.now())
	}
	return results
}

// evaluateRule 取数后评估 单条规则内的 panic 转换为失败结果
func (e *Evaluator) evaluateRule(ctx context.Context, runID string, rule *models.AlertRule, orgID *int64) (result TriggerResult) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("规则评估异常: run=%s rule=%d panic=%v", runID, rule.ID, r)
			result = TriggerResult{
				RuleID:      rule.ID,
				RuleName:    rule.Name,
				AlertType:   rule.AlertType,
				Threshold:   rule.Threshold,
				Reason:      ReasonPanic,
				Error:       fmt.Sprint(r),
				EvaluatedAt: e.now(),
			}
			result = e.finish(result)
		}
	}()

	scope := e.scopeFor(ctx, rule, orgID)
	current, err := e.source.Metric(ctx, rule.AlertType, models.MetricScope{
		OrganizationID: scope.OrganizationID,
		DepartmentID:   scope.DepartmentID,
		UserID:         scope.UserID,
	})
	if err != nil {
		if !errors.Is(err, store.ErrNoData) {
			logger.Warn("读取指标失败: run=%s rule=%d type=%s err=%v", runID, rule.ID, rule.AlertType, err)
		}
		return e.finish(TriggerResult{
			RuleID:      rule.ID,
			RuleName:    rule.Name,
			AlertType:   rule.AlertType,
			Threshold:   rule.Threshold,
			Reason:      ReasonMetricUnavailable,
			Error:       err.Error(),
			EvaluatedAt: e.now(),
		})
	}
	return e.Evaluate(ctx, rule, current, e.previousValue(ctx, rule.ID), scope)
}

// scopeFor 确定规则的组织 部门与展示名称
func (e *Evaluator) scopeFor(ctx context.Context, rule *models.AlertRule, orgID *int64) ScopeContext {
	scope := ScopeContext{OrganizationID: orgID, DepartmentID: rule.DepartmentID}
	if e.dir == nil {
		return scope
	}
	if rule.DepartmentID != nil {
		if scope.OrganizationID == nil {
			if id, err := e.dir.DepartmentOrganizationID(ctx, *rule.DepartmentID); err == nil {
				scope.OrganizationID = &id
			}
		}
		if name, err := e.dir.DepartmentName(ctx, *rule.DepartmentID); err == nil {
			scope.ScopeName = name
		}
		return scope
	}
	if scope.OrganizationID != nil {
		if name, err := e.dir.OrganizationName(ctx, *scope.OrganizationID); err == nil {
			scope.ScopeName = name
		}
	}
	return scope
}

// previousValue 返回规则最近一次事件的当前值
func (e *Evaluator) previousValue(ctx context.Context, ruleID int64) *float64 {
	last, err := e.events.LatestEvent(ctx, ruleID)
	if err != nil || last == nil {
		return nil
	}
	v := last.CurrentValue
	return &v
}

func cooldownMessage(minutes int) string {
	return fmt.Sprintf("La regla está en período de enfriamiento (%d min) desde la última alerta.", minutes)
}

func mutedMessage(sev models.Severity) string {
	return fmt.Sprintf("La organización desactivó las notificaciones de severidad %s.", SeverityLabel(sev))
}
