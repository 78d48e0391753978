// 本文件用于告警定时调度 支持启动 停止 状态查询与手动触发
package alert

import (
	"context"
	"sync"
	"time"

	"wellness-alert/internal/logger"
	"wellness-alert/internal/metrics"
)

// DefaultInterval 默认评估间隔
const DefaultInterval = 60 * time.Minute

// PassHook 在每轮评估结束后调用
type PassHook func(ctx context.Context, source string, results []TriggerResult)

// CronStatus 表示定时评估状态
type CronStatus struct {
	IsRunning       bool  `json:"isRunning"`
	IntervalMs      int64 `json:"intervalMs"`
	IntervalMinutes int64 `json:"intervalMinutes"`
}

// Scheduler 周期性驱动批量评估
type Scheduler struct {
	evaluator *Evaluator
	state     *State
	collector *metrics.Collector

	mu       sync.Mutex
	interval time.Duration
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	reset    chan time.Duration
	nextRun  time.Time
	hooks    []PassHook
	// 同一时刻只允许一轮定时评估
	passMu sync.Mutex
	rules  RuleStore
}

// NewScheduler 创建调度器 interval 非法时使用默认值
func NewScheduler(evaluator *Evaluator, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	s := &Scheduler{
		evaluator: evaluator,
		interval:  interval,
	}
	if evaluator != nil {
		s.state = evaluator.state
		s.collector = evaluator.collector
		s.rules = evaluator.rules
	}
	return s
}

// OnPass 注册每轮评估后的回调
func (s *Scheduler) OnPass(hook PassHook) {
	if s == nil || hook == nil {
		return
	}
	s.mu.Lock()
	s.hooks = append(s.hooks, hook)
	s.mu.Unlock()
}

// Start 启动定时评估 runNow 为 true 时立即执行一轮
func (s *Scheduler) Start(ctx context.Context, runNow bool) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.reset = make(chan time.Duration, 1)
	s.running = true
	s.nextRun = time.Now().Add(s.interval)
	s.publishLocked()
	go s.loop(runCtx, s.interval, s.reset, s.done, runNow)
	logger.Info("告警定时评估已启动: interval=%s", s.interval)
}

// Stop 停止定时评估并等待当前循环退出
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.nextRun = time.Time{}
	s.publishLocked()
	s.mu.Unlock()

	cancel()
	<-done
	logger.Info("告警定时评估已停止")
}

// SetInterval 修改评估间隔 运行中时从当前时刻重新计时
func (s *Scheduler) SetInterval(d time.Duration) {
	if s == nil || d <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == s.interval {
		return
	}
	s.interval = d
	if s.running {
		s.nextRun = time.Now().Add(d)
		select {
		case s.reset <- d:
		default:
			// 未被消费的旧值直接替换
			select {
			case <-s.reset:
			default:
			}
			s.reset <- d
		}
	}
	s.publishLocked()
	logger.Info("告警评估间隔已更新: interval=%s", d)
}

// CronStatus 返回定时评估状态
func (s *Scheduler) CronStatus() CronStatus {
	if s == nil {
		return CronStatus{IntervalMs: DefaultInterval.Milliseconds(), IntervalMinutes: int64(DefaultInterval / time.Minute)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return CronStatus{
		IsRunning:       s.running,
		IntervalMs:      s.interval.Milliseconds(),
		IntervalMinutes: int64(s.interval / time.Minute),
	}
}

// TriggerManualCheck 立即执行一轮评估 orgID 为空时评估全部范围
func (s *Scheduler) TriggerManualCheck(ctx context.Context, orgID *int64) []TriggerResult {
	return s.runPass(ctx, "manual", orgID)
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, reset <-chan time.Duration, done chan<- struct{}, runNow bool) {
	defer close(done)
	if runNow {
		s.runPass(ctx, "scheduler", nil)
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-reset:
			interval = d
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(interval)
		case <-timer.C:
			s.runPass(ctx, "scheduler", nil)
			if !s.scheduleNext(ctx, interval) {
				return
			}
			timer.Reset(interval)
		}
	}
}

// scheduleNext 记录下一轮时间 评估期间已被 Stop 时保持停止态
func (s *Scheduler) scheduleNext(ctx context.Context, interval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || ctx.Err() != nil {
		return false
	}
	s.nextRun = time.Now().Add(interval)
	s.publishLocked()
	return true
}

// runPass 执行一轮评估并触发回调
func (s *Scheduler) runPass(ctx context.Context, source string, orgID *int64) []TriggerResult {
	if s == nil || s.evaluator == nil {
		return []TriggerResult{}
	}
	if source == "scheduler" {
		s.passMu.Lock()
		defer s.passMu.Unlock()
	}
	if s.rules != nil && s.state != nil {
		rules, err := s.rules.ListRules(ctx)
		s.state.UpdateRulesSummary("数据库", rules, err)
	}

	start := time.Now()
	results := s.evaluator.EvaluateAll(ctx, orgID)
	s.collector.ObservePass(source, time.Since(start), time.Now())

	s.mu.Lock()
	hooks := append([]PassHook(nil), s.hooks...)
	s.mu.Unlock()
	for _, hook := range hooks {
		hook(ctx, source, results)
	}
	return results
}

// publishLocked 同步运行态与指标 调用方需持有 s.mu
func (s *Scheduler) publishLocked() {
	s.state.UpdateSchedule(s.interval, s.running, s.nextRun)
	s.collector.SetSchedulerRunning(s.running)
}

