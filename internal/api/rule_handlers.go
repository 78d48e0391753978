// 本文件用于告警规则 事件与组织阈值接口
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"wellness-alert/internal/alert"
	"wellness-alert/internal/config"
	"wellness-alert/internal/logger"
	"wellness-alert/internal/models"
	"wellness-alert/internal/store"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

func (h *handler) alertRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rules, err := h.deps.Rules.ListRules(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
	case http.MethodPost:
		var rule models.AlertRule
		if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		rule.ID = 0
		if err := rule.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.deps.Rules.CreateRule(r.Context(), &rule); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		logger.Info("告警规则已创建: id=%d name=%s", rule.ID, rule.Name)
		writeJSON(w, http.StatusCreated, rule)
	default:
		methodNotAllowed(w)
	}
}

func (h *handler) alertRule(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid rule id")
		return
	}
	switch r.Method {
	case http.MethodGet:
		rule, err := h.deps.Rules.GetRule(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rule)
	case http.MethodPut:
		rule, err := h.deps.Rules.GetRule(r.Context(), id)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		// 只覆盖请求中出现的字段
		if err := json.NewDecoder(r.Body).Decode(rule); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		rule.ID = id
		if err := rule.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.deps.Rules.UpdateRule(r.Context(), rule); err != nil {
			writeStoreError(w, err)
			return
		}
		logger.Info("告警规则已更新: id=%d", id)
		writeJSON(w, http.StatusOK, rule)
	case http.MethodDelete:
		if err := h.deps.Rules.DeleteRule(r.Context(), id); err != nil {
			writeStoreError(w, err)
			return
		}
		logger.Info("告警规则已删除: id=%d", id)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "id": id})
	default:
		methodNotAllowed(w)
	}
}

func (h *handler) alertEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	q := r.URL.Query()
	var ruleID *int64
	if raw := strings.TrimSpace(q.Get("ruleId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "invalid ruleId")
			return
		}
		ruleID = &id
	}
	limit := defaultEventLimit
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxEventLimit)
	}
	events, err := h.deps.Events.ListEvents(r.Context(), ruleID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *handler) acknowledgeEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	var req struct {
		UserID int64 `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	ev, err := h.deps.Lifecycle.Acknowledge(r.Context(), id, req.UserID)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *handler) resolveEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	ev, err := h.deps.Lifecycle.Resolve(r.Context(), id)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *handler) orgThresholds(w http.ResponseWriter, r *http.Request) {
	orgID, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid organization id")
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.writeThresholds(w, r, orgID)
	case http.MethodPut:
		var req models.OrganizationThresholds
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		req.OrganizationID = orgID
		if err := h.validateThresholds(&req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.deps.Thresholds.UpsertOrgThresholds(r.Context(), &req); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if h.deps.Resolver != nil {
			h.deps.Resolver.Invalidate(orgID)
		}
		logger.Info("组织阈值已更新: org=%d", orgID)
		h.writeThresholds(w, r, orgID)
	default:
		methodNotAllowed(w)
	}
}

func (h *handler) writeThresholds(w http.ResponseWriter, r *http.Request, orgID int64) {
	var defaults models.PlatformDefaults
	if h.deps.Resolver != nil {
		defaults = h.deps.Resolver.Defaults()
	}
	t, err := h.deps.Thresholds.GetOrgThresholds(r.Context(), orgID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"organizationId": orgID,
		"thresholds":     t,
		"defaults":       defaults,
	})
}

func (h *handler) validateThresholds(t *models.OrganizationThresholds) error {
	cfg := h.config()
	host, prefix := cfg.WebhookHost, cfg.WebhookPathPrefix
	if strings.TrimSpace(host) == "" {
		host = alert.DefaultWebhookHost
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = alert.DefaultWebhookPathPrefix
	}
	t.WebhookURL = strings.TrimSpace(t.WebhookURL)
	if t.WebhookURL != "" {
		if err := alert.ValidateWebhookURL(t.WebhookURL, host, prefix); err != nil {
			return err
		}
	}
	for _, addr := range t.EmailRecipients {
		if !strings.Contains(addr, "@") {
			return errors.New("invalid email recipient: " + addr)
		}
	}
	return config.ValidateDefaults(t.PlatformDefaults)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeLifecycleError(w http.ResponseWriter, err error) {
	if errors.Is(err, alert.ErrAlertNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
