// 本文件用于把告警事件导出为 JSON Lines 审计归档
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"wellness-alert/internal/logger"
	"wellness-alert/internal/models"
)

const (
	defaultPrefix = "alert-events"
	batchLimit    = 1000
)

// EventLister 按事件 id 正序列出事件
type EventLister interface {
	ListEventsAfter(ctx context.Context, afterID int64, since time.Time, limit int) ([]models.AlertEvent, error)
}

// Counter 记录归档条数
type Counter interface {
	AddArchived(n int)
}

// Archiver 以最后归档的事件 id 为游标 每次只导出之后写入的事件
// 创建时间可能与提交顺序不一致 不能作为游标
type Archiver struct {
	events   EventLister
	uploader Uploader
	prefix   string
	metrics  Counter
	now      func() time.Time
	since    time.Time

	mu     sync.Mutex
	cursor int64
}

// Result 表示一次导出的结果
type Result struct {
	Key    string `json:"key"`
	Count  int    `json:"count"`
	Cursor int64  `json:"cursor"`
}

// NewArchiver 创建归档器 早于 since 创建的事件不导出
func NewArchiver(events EventLister, uploader Uploader, prefix string, since time.Time, metrics Counter) *Archiver {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Archiver{
		events:   events,
		uploader: uploader,
		prefix:   prefix,
		metrics:  metrics,
		now:      time.Now,
		since:    since,
	}
}

// Export 导出游标之后的事件 没有新事件时不上传
func (a *Archiver) Export(ctx context.Context) (Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := Result{Cursor: a.cursor}
	evs, err := a.events.ListEventsAfter(ctx, a.cursor, a.since, batchLimit)
	if err != nil {
		return res, fmt.Errorf("读取待归档事件失败: %w", err)
	}
	if len(evs) == 0 {
		return res, nil
	}
	data, err := encodeJSONLines(evs)
	if err != nil {
		return res, err
	}
	at := a.now().UTC()
	key := ObjectKey(a.prefix, at)
	if err := a.uploader.Put(ctx, key, data); err != nil {
		return res, fmt.Errorf("上传归档失败: %w", err)
	}
	a.cursor = evs[len(evs)-1].ID
	if a.metrics != nil {
		a.metrics.AddArchived(len(evs))
	}
	logger.Info("告警事件已归档: key=%s count=%d", key, len(evs))
	return Result{Key: key, Count: len(evs), Cursor: a.cursor}, nil
}

// ObjectKey 返回 <prefix>/YYYY/MM/DD/<unix>.jsonl
func ObjectKey(prefix string, at time.Time) string {
	at = at.UTC()
	return path.Join(prefix, at.Format("2006"), at.Format("01"), at.Format("02"), fmt.Sprintf("%d.jsonl", at.Unix()))
}

func encodeJSONLines(evs []models.AlertEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range evs {
		if err := enc.Encode(&evs[i]); err != nil {
			return nil, fmt.Errorf("序列化归档事件失败: %w", err)
		}
	}
	return buf.Bytes(), nil
}
