// 本文件用于服务健康检查
package api

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// processStats 表示当前进程的资源占用
type processStats struct {
	PID        int32   `json:"pid"`
	CPUPercent float64 `json:"cpuPercent"`
	RSSBytes   uint64  `json:"rssBytes"`
	Threads    int32   `json:"threads"`
	Goroutines int     `json:"goroutines"`
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	status := http.StatusOK
	dbStatus := "ok"
	if h.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := h.deps.Store.Ping(ctx)
		cancel()
		if err != nil {
			status = http.StatusServiceUnavailable
			dbStatus = err.Error()
		}
	}
	writeJSON(w, status, map[string]any{
		"ok":        status == http.StatusOK,
		"database":  dbStatus,
		"scheduler": h.deps.Scheduler.CronStatus(),
		"uptime":    time.Since(h.started).Round(time.Second).String(),
		"process":   collectProcessStats(),
	})
}

// collectProcessStats 采集失败的字段保持零值
func collectProcessStats() processStats {
	stats := processStats{PID: int32(os.Getpid()), Goroutines: runtime.NumGoroutine()}
	proc, err := process.NewProcess(stats.PID)
	if err != nil {
		return stats
	}
	if pct, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = pct
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if threads, err := proc.NumThreads(); err == nil {
		stats.Threads = threads
	}
	return stats
}
