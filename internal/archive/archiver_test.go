package archive

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"wellness-alert/internal/models"
)

type sliceEvents struct {
	evs     []models.AlertEvent
	err     error
	afterID []int64
}

func (s *sliceEvents) ListEventsAfter(ctx context.Context, afterID int64, since time.Time, limit int) ([]models.AlertEvent, error) {
	s.afterID = append(s.afterID, afterID)
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.AlertEvent, 0)
	for _, ev := range s.evs {
		if ev.ID > afterID && !ev.CreatedAt.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

type memoryUploader struct {
	objects map[string][]byte
	err     error
}

func (m *memoryUploader) Put(ctx context.Context, key string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[key] = append([]byte(nil), data...)
	return nil
}

type countingMetrics struct{ n int }

func (c *countingMetrics) AddArchived(n int) { c.n += n }

func TestExportWritesJSONLinesAndAdvancesCursor(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	events := &sliceEvents{evs: []models.AlertEvent{
		{ID: 1, RuleID: 1, AlertType: models.AlertFWIDepartmentLow, Severity: models.SeverityWarning, CreatedAt: base},
		{ID: 2, RuleID: 2, AlertType: models.AlertEWAPendingCount, Severity: models.SeverityCritical, CreatedAt: base.Add(time.Minute)},
	}}
	up := &memoryUploader{}
	counter := &countingMetrics{}
	a := NewArchiver(events, up, "", time.Time{}, counter)
	a.now = func() time.Time { return base.Add(time.Hour) }

	res, err := a.Export(context.Background())
	if err != nil {
		t.Fatalf("导出失败: %v", err)
	}
	wantKey := "alert-events/2026/03/02/1772445600.jsonl"
	if res.Key != wantKey || res.Count != 2 || res.Cursor != 2 {
		t.Fatalf("导出结果异常: %+v", res)
	}
	data, ok := up.objects[wantKey]
	if !ok {
		t.Fatalf("对象未上传: %v", up.objects)
	}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	var ids []int64
	for scanner.Scan() {
		var ev models.AlertEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("行不是合法 JSON: %v", err)
		}
		ids = append(ids, ev.ID)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("归档内容异常: %v", ids)
	}
	if counter.n != 2 {
		t.Fatalf("归档计数异常: %d", counter.n)
	}

	res, err = a.Export(context.Background())
	if err != nil || res.Count != 0 || res.Key != "" {
		t.Fatalf("无新事件时不应上传: %+v %v", res, err)
	}
	if len(up.objects) != 1 {
		t.Fatalf("不应产生新对象: %d", len(up.objects))
	}
}

func TestExportKeepsCursorOnUploadFailure(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	events := &sliceEvents{evs: []models.AlertEvent{{ID: 1, CreatedAt: base}}}
	up := &memoryUploader{err: errors.New("network down")}
	a := NewArchiver(events, up, "audit/", time.Time{}, nil)

	if _, err := a.Export(context.Background()); err == nil {
		t.Fatal("上传失败应报错")
	}
	up.err = nil
	res, err := a.Export(context.Background())
	if err != nil || res.Count != 1 {
		t.Fatalf("失败后应重新导出: %+v %v", res, err)
	}
	if len(res.Key) < len("audit/") || res.Key[:6] != "audit/" {
		t.Fatalf("前缀异常: %s", res.Key)
	}
}

func TestExportIncludesLateCommittedEventWithOlderTimestamp(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	events := &sliceEvents{evs: []models.AlertEvent{
		{ID: 1, CreatedAt: base},
		{ID: 2, CreatedAt: base.Add(2 * time.Minute)},
	}}
	up := &memoryUploader{}
	a := NewArchiver(events, up, "", base.Add(-time.Hour), nil)
	a.now = func() time.Time { return base.Add(time.Hour) }

	if res, err := a.Export(context.Background()); err != nil || res.Count != 2 || res.Cursor != 2 {
		t.Fatalf("首次导出异常: %+v %v", res, err)
	}
	// 第 3 条事件创建时间早于上次游标事件 但提交得更晚
	events.evs = append(events.evs, models.AlertEvent{ID: 3, CreatedAt: base.Add(time.Minute)})
	a.now = func() time.Time { return base.Add(2 * time.Hour) }

	res, err := a.Export(context.Background())
	if err != nil || res.Count != 1 || res.Cursor != 3 {
		t.Fatalf("晚提交的事件应被导出: %+v %v", res, err)
	}
	if events.afterID[1] != 2 {
		t.Fatalf("第二次查询应从事件 id 2 之后开始: %v", events.afterID)
	}
}

func TestExportSkipsEventsCreatedBeforeSince(t *testing.T) {
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	events := &sliceEvents{evs: []models.AlertEvent{
		{ID: 1, CreatedAt: base.Add(-2 * time.Hour)},
		{ID: 2, CreatedAt: base},
	}}
	a := NewArchiver(events, &memoryUploader{}, "", base.Add(-time.Hour), nil)
	res, err := a.Export(context.Background())
	if err != nil || res.Count != 1 || res.Cursor != 2 {
		t.Fatalf("早于起点的事件不应导出: %+v %v", res, err)
	}
}

func TestNormalizeOSSEndpoint(t *testing.T) {
	cases := []struct {
		raw        string
		disableSSL bool
		want       string
		wantErr    bool
	}{
		{raw: "oss-cn-hangzhou.aliyuncs.com", want: "https://oss-cn-hangzhou.aliyuncs.com"},
		{raw: "oss-cn-hangzhou.aliyuncs.com/", disableSSL: true, want: "http://oss-cn-hangzhou.aliyuncs.com"},
		{raw: "https://oss.example.com", want: "https://oss.example.com"},
		{raw: "  ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := normalizeOSSEndpoint(tc.raw, tc.disableSSL)
		if (err != nil) != tc.wantErr || got != tc.want {
			t.Fatalf("normalizeOSSEndpoint(%q) = %q, %v", tc.raw, got, err)
		}
	}
}

func TestContextReaderStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &contextReader{ctx: ctx, reader: bytes.NewReader([]byte("abc"))}
	buf := make([]byte, 1)
	if n, err := r.Read(buf); n != 1 || err != nil {
		t.Fatalf("首次读取异常: %d %v", n, err)
	}
	cancel()
	if _, err := r.Read(buf); !errors.Is(err, context.Canceled) {
		t.Fatalf("取消后应返回 context.Canceled: %v", err)
	}
}
