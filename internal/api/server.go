package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"wellness-alert/internal/alert"
	"wellness-alert/internal/logger"
	"wellness-alert/internal/metrics"
	"wellness-alert/internal/models"
)

// Pinger 检查存储连通性
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps 汇总 API 依赖的组件
type Deps struct {
	Config     *models.Config
	ConfigPath string
	Scheduler  *alert.Scheduler
	State      *alert.State
	Rules      alert.RuleStore
	Events     alert.EventStore
	Thresholds alert.OrgThresholdStore
	Resolver   *alert.ThresholdResolver
	Lifecycle  *alert.LifecycleManager
	Store      Pinger
	Metrics    *metrics.Collector
	// OnSettings 在线修改设置后回调 用于同步调度间隔与平台默认值
	OnSettings func(*models.Config)
}

// Server wraps the HTTP API server.
type Server struct {
	httpServer *http.Server
	handler    *handler
}

type handler struct {
	deps    Deps
	started time.Time

	mu  sync.RWMutex
	cfg *models.Config
}

// NewServer builds the HTTP server for alert management.
func NewServer(deps Deps) *Server {
	cfg := deps.Config
	if cfg == nil {
		cfg = &models.Config{}
	}
	h := newHandler(deps)
	srv := &http.Server{
		Addr:         cfg.APIBind,
		Handler:      h.routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 2 * time.Minute, // 手动评估可能较慢
	}
	return &Server{httpServer: srv, handler: h}
}

func newHandler(deps Deps) *handler {
	if deps.Config == nil {
		deps.Config = &models.Config{}
	}
	return &handler{deps: deps, cfg: deps.Config, started: time.Now()}
}

// routes 构建带鉴权与 CORS 的路由
func (h *handler) routes() http.Handler {
	deps := h.deps
	mux := http.NewServeMux()
	mux.HandleFunc("/api/alerts/status", h.alertStatus)
	mux.HandleFunc("/api/alerts/check", h.alertCheck)
	mux.HandleFunc("/api/alerts/dashboard", h.alertDashboard)
	mux.HandleFunc("/api/alerts/settings", h.alertSettings)
	mux.HandleFunc("/api/alert-rules", h.alertRules)
	mux.HandleFunc("/api/alert-rules/{id}", h.alertRule)
	mux.HandleFunc("/api/alert-events", h.alertEvents)
	mux.HandleFunc("/api/alert-events/{id}/acknowledge", h.acknowledgeEvent)
	mux.HandleFunc("/api/alert-events/{id}/resolve", h.resolveEvent)
	mux.HandleFunc("/api/organizations/{id}/thresholds", h.orgThresholds)
	mux.HandleFunc("/api/health", h.health)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics.Handler())
	}
	return withCORS(deps.Config, withAPIAuth(deps.Config, mux))
}

// Start boots the API server asynchronously.
func (s *Server) Start() {
	go func() {
		logger.Info("API 服务监听 %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API 服务异常退出: %v", err)
		}
	}()
}

// SetConfig 同步热加载后的配置 在线设置接口以此为基准
func (s *Server) SetConfig(cfg *models.Config) {
	if s == nil || s.handler == nil {
		return
	}
	s.handler.setConfig(cfg)
}

// Shutdown gracefully stops the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (h *handler) config() *models.Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// authToken 返回生效的 API token 未替换的占位符视为未配置
func authToken(cfg *models.Config) string {
	if cfg == nil {
		return ""
	}
	token := strings.TrimSpace(cfg.APIAuthToken)
	if strings.HasPrefix(token, "${") && strings.HasSuffix(token, "}") {
		return ""
	}
	return token
}

func authEnabled(cfg *models.Config) bool {
	if disabled, err := strconv.ParseBool(strings.TrimSpace(os.Getenv("API_AUTH_DISABLED"))); err == nil && disabled {
		return false
	}
	return authToken(cfg) != ""
}

// withAPIAuth 校验 Authorization: Bearer <token> 预检与 /api/health 不校验
func withAPIAuth(cfg *models.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !authEnabled(cfg) || r.Method == http.MethodOptions || r.URL.Path == "/api/health" {
			next.ServeHTTP(w, r)
			return
		}
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, prefix) || strings.TrimSpace(header[len(prefix):]) != authToken(cfg) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withCORS 未配置白名单时 鉴权开启只放行本机与同主机来源 鉴权关闭放行全部
func withCORS(cfg *models.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))
		if origin != "" {
			if !originAllowed(cfg, origin, r.Host) {
				writeError(w, http.StatusForbidden, "origin not allowed")
				return
			}
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(cfg *models.Config, origin, requestHost string) bool {
	var allowList string
	if cfg != nil {
		allowList = strings.TrimSpace(cfg.APICORSOrigins)
	}
	if allowList != "" {
		for _, item := range strings.Split(allowList, ",") {
			item = strings.TrimRight(strings.TrimSpace(item), "/")
			if item == "*" || strings.EqualFold(item, origin) {
				return true
			}
		}
		return false
	}
	if !authEnabled(cfg) {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Hostname() == "" {
		return false
	}
	host := parsed.Hostname()
	if isLoopback(host) {
		return true
	}
	reqHost := requestHost
	if h, _, err := net.SplitHostPort(requestHost); err == nil {
		reqHost = h
	}
	return strings.EqualFold(host, reqHost)
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
