// 本文件用于告警调度 看板与在线设置接口
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"wellness-alert/internal/alert"
	"wellness-alert/internal/config"
	"wellness-alert/internal/logger"
	"wellness-alert/internal/models"
)

func (h *handler) alertStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, h.deps.Scheduler.CronStatus())
}

func (h *handler) alertCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		OrganizationID *int64 `json:"organizationId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if h.deps.Scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not ready")
		return
	}
	results := h.deps.Scheduler.TriggerManualCheck(r.Context(), req.OrganizationID)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"results": results,
		"stats":   alert.SummarizePass(results),
	})
}

func (h *handler) alertDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if h.deps.State == nil {
		writeError(w, http.StatusInternalServerError, "alert state not ready")
		return
	}
	writeJSON(w, http.StatusOK, h.deps.State.Dashboard())
}

type settingsPayload struct {
	AlertEnabled  *bool                    `json:"alertEnabled"`
	AlertInterval *string                  `json:"alertInterval"`
	AlertDefaults *models.PlatformDefaults `json:"alertDefaults"`
}

func settingsSnapshot(cfg *models.Config) map[string]any {
	return map[string]any{
		"alertEnabled":  cfg.AlertEnabled,
		"alertInterval": cfg.AlertInterval,
		"alertDefaults": cfg.AlertDefaults,
	}
}

// setConfig 替换接口看到的配置 配置文件热加载后调用
func (h *handler) setConfig(cfg *models.Config) {
	if cfg == nil {
		return
	}
	h.mu.Lock()
	h.cfg = cfg
	h.mu.Unlock()
}

func (h *handler) alertSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, settingsSnapshot(h.config()))
	case http.MethodPut, http.MethodPost:
		h.updateSettings(w, r)
	default:
		methodNotAllowed(w)
	}
}

func (h *handler) updateSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	h.mu.Lock()
	next := *h.cfg
	if req.AlertEnabled != nil {
		next.AlertEnabled = *req.AlertEnabled
	}
	if req.AlertInterval != nil {
		next.AlertInterval = strings.TrimSpace(*req.AlertInterval)
		if _, err := config.ParseAlertInterval(next.AlertInterval); err != nil {
			h.mu.Unlock()
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if req.AlertDefaults != nil {
		next.AlertDefaults = next.AlertDefaults.Merge(*req.AlertDefaults)
		if err := config.ValidateDefaults(next.AlertDefaults); err != nil {
			h.mu.Unlock()
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if h.deps.ConfigPath != "" {
		err := config.UpdateRuntimeConfig(h.deps.ConfigPath, config.RuntimeUpdate{
			AlertEnabled:  req.AlertEnabled,
			AlertInterval: req.AlertInterval,
			AlertDefaults: req.AlertDefaults,
		})
		if err != nil {
			h.mu.Unlock()
			logger.Error("保存运行时配置失败: %v", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	h.cfg = &next
	h.mu.Unlock()

	if h.deps.OnSettings != nil {
		h.deps.OnSettings(&next)
	}
	logger.Info("告警设置已更新: enabled=%v interval=%s", next.AlertEnabled, next.AlertInterval)
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"settings": settingsSnapshot(&next),
	})
}
