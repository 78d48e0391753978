// 本文件用于 Prometheus 指标聚合与导出 将告警引擎运行指标统一收口便于监控接入

package metrics

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "wellness_alert"

// Collector 聚合告警引擎运行期指标
type Collector struct {
	registry *prometheus.Registry

	evaluations   *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	passDuration  prometheus.Histogram
	passTotal     *prometheus.CounterVec
	schedulerUp   prometheus.Gauge
	lastPassUnix  prometheus.Gauge
	archiveEvents prometheus.Counter
}

var (
	globalMu        sync.RWMutex
	globalCollector = NewCollector()
)

// Global 返回进程级全局指标收集器。
func Global() *Collector {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalCollector
}

// ResetGlobalForTest 重置全局收集器 仅用于测试
func ResetGlobalForTest() *Collector {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalCollector = NewCollector()
	return globalCollector
}

// NewCollector 创建使用独立 Registry 的指标收集器。
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		evaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evaluations_total",
			Help:      "按告警类型与结果统计的规则评估次数",
		}, []string{"alert_type", "outcome"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deliveries_total",
			Help:      "按渠道与结果统计的通知投递次数",
		}, []string{"channel", "outcome"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pass_duration_seconds",
			Help:      "单轮批量评估耗时",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		passTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "passes_total",
			Help:      "按触发来源统计的批量评估次数",
		}, []string{"source"}),
		schedulerUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "定时评估是否在运行",
		}),
		lastPassUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_pass_timestamp_seconds",
			Help:      "最近一轮评估完成时间",
		}),
		archiveEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archived_events_total",
			Help:      "已归档到对象存储的告警事件数",
		}),
	}
	c.registry.MustRegister(
		c.evaluations,
		c.deliveries,
		c.passDuration,
		c.passTotal,
		c.schedulerUp,
		c.lastPassUnix,
		c.archiveEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveEvaluation 记录一次规则评估结果
func (c *Collector) ObserveEvaluation(alertType, outcome string) {
	if c == nil {
		return
	}
	c.evaluations.WithLabelValues(labelOr(alertType, "unknown"), labelOr(outcome, "unknown")).Inc()
}

// ObserveDelivery 记录渠道投递结果 count 为 0 时不记录
func (c *Collector) ObserveDelivery(channel, outcome string, count int) {
	if c == nil || count <= 0 {
		return
	}
	c.deliveries.WithLabelValues(labelOr(channel, "unknown"), labelOr(outcome, "unknown")).Add(float64(count))
}

// ObservePass 记录一轮批量评估
func (c *Collector) ObservePass(source string, d time.Duration, at time.Time) {
	if c == nil {
		return
	}
	c.passTotal.WithLabelValues(labelOr(source, "unknown")).Inc()
	c.passDuration.Observe(d.Seconds())
	c.lastPassUnix.Set(float64(at.Unix()))
}

// SetSchedulerRunning 更新定时评估运行状态
func (c *Collector) SetSchedulerRunning(running bool) {
	if c == nil {
		return
	}
	if running {
		c.schedulerUp.Set(1)
		return
	}
	c.schedulerUp.Set(0)
}

// AddArchived 累加归档事件数
func (c *Collector) AddArchived(n int) {
	if c == nil || n <= 0 {
		return
	}
	c.archiveEvents.Add(float64(n))
}

// Handler 返回 /metrics 处理器
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry 返回底层 Registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func labelOr(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}
