package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nebur242/deploy-hub/internal/service/auth"
	"github.com/nebur242/deploy-hub/internal/service/deploy"
	"github.com/nebur242/deploy-hub/internal/ws"
)

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitSignup    = 5
	rateLimitLogin     = 12
	rateLimitWrite     = 30
	rateLimitRead      = 120
	rateLimitWebsocket = 30
	rateLimitWebhook   = 120
	healthCheckTimeout = 2 * time.Second
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux           *http.ServeMux
	logger        *slog.Logger
	auth          auth.Service
	deploy        *deploy.Service
	hub           *ws.Hub
	upgrader      websocket.Upgrader
	limiter       RateLimiter
	webhookSecret string
	dbHealth      func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
	deploymentOutcomes *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, deploySvc *deploy.Service, hub *ws.Hub, limiter RateLimiter, webhookSecret string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:    http.NewServeMux(),
		logger: logger,
		auth:   authSvc,
		deploy: deploySvc,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:       limiter,
		webhookSecret: webhookSecret,
		dbHealth:      dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("GET /healthz", r.audit(r.handleHealthz))
	r.mux.Handle("GET /metrics", promhttp.Handler())

	r.mux.HandleFunc("POST /auth/signup", r.audit(r.withRateLimit("signup", rateLimitSignup, rateWindowDefault, rateLimitKeyIP, r.handleSignup)))
	r.mux.HandleFunc("POST /auth/login", r.audit(r.withRateLimit("login", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleLogin)))

	r.mux.HandleFunc("POST /deployments", r.audit(r.handlerAuthRate("deployments_create", rateLimitWrite, rateWindowDefault, r.handleCreateDeployment)))
	r.mux.HandleFunc("GET /deployments/{id}", r.audit(r.handlerAuthRate("deployments_get", rateLimitRead, rateWindowDefault, r.handleGetDeployment)))
	r.mux.HandleFunc("GET /deployments/{id}/logs", r.audit(r.handlerAuthRate("deployments_logs", rateLimitRead, rateWindowDefault, r.handleDeploymentLogs)))
	r.mux.HandleFunc("POST /deployments/{id}/retry", r.audit(r.handlerAuthRate("deployments_retry", rateLimitWrite, rateWindowDefault, r.handleRetryDeployment)))
	r.mux.HandleFunc("POST /deployments/{id}/cancel", r.audit(r.handlerAuthRate("deployments_cancel", rateLimitWrite, rateWindowDefault, r.handleCancelDeployment)))
	r.mux.HandleFunc("POST /deployments/{id}/redeploy", r.audit(r.handlerAuthRate("deployments_redeploy", rateLimitWrite, rateWindowDefault, r.handleRedeployDeployment)))
	r.mux.HandleFunc("GET /projects/{id}/deployments", r.audit(r.handlerAuthRate("project_deployments", rateLimitRead, rateWindowDefault, r.handleProjectDeployments)))

	r.mux.HandleFunc("GET /ws/deployments", r.audit(r.handlerAuthRate("ws_deployments", rateLimitWebsocket, rateWindowRealtime, r.handleDeploymentsWS)))
	r.mux.HandleFunc("POST /webhooks/github", r.audit(r.withRateLimit("webhook_github", rateLimitWebhook, rateWindowDefault, rateLimitKeyIP, r.handleGithubWebhook)))
}

func (r *Router) handleSignup(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Signup(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"user":         map[string]any{"id": user.ID, "email": user.Email},
		"access_token": token,
	})
}

func (r *Router) handleLogin(w http.ResponseWriter, req *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, token, err := r.auth.Login(req.Context(), payload.Email, payload.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":         map[string]any{"id": user.ID, "email": user.Email},
		"access_token": token,
	})
}

func (r *Router) handleCreateDeployment(w http.ResponseWriter, req *http.Request) {
	user, ok := userFromContext(req.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	var payload deploy.CreateRequest
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	deployment, err := r.deploy.Create(req.Context(), payload, user)
	if err != nil {
		// A dispatch failure still produced a (FAILED) record; return it
		// alongside the error kind so the client can retry.
		if svcErr, ok := deploy.AsError(err); ok && svcErr.Kind == deploy.KindDispatch && deployment != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"deployment": deploymentView(deployment),
				"error":      svcErr.Message,
				"kind":       string(svcErr.Kind),
			})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, deploymentView(deployment))
}

func (r *Router) handleGetDeployment(w http.ResponseWriter, req *http.Request) {
	user, _ := userFromContext(req.Context())
	deployment, err := r.deploy.Get(req.Context(), req.PathValue("id"), user.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deploymentView(deployment))
}

func (r *Router) handleDeploymentLogs(w http.ResponseWriter, req *http.Request) {
	user, _ := userFromContext(req.Context())
	logs, err := r.deploy.Logs(req.Context(), req.PathValue("id"), user.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": logs})
}

func (r *Router) handleRetryDeployment(w http.ResponseWriter, req *http.Request) {
	user, _ := userFromContext(req.Context())
	deployment, err := r.deploy.Retry(req.Context(), req.PathValue("id"), user.ID)
	if err != nil {
		if svcErr, ok := deploy.AsError(err); ok && svcErr.Kind == deploy.KindDispatch && deployment != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"deployment": deploymentView(deployment),
				"error":      svcErr.Message,
				"kind":       string(svcErr.Kind),
			})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deploymentView(deployment))
}

func (r *Router) handleCancelDeployment(w http.ResponseWriter, req *http.Request) {
	user, _ := userFromContext(req.Context())
	deployment, err := r.deploy.Cancel(req.Context(), req.PathValue("id"), user.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deploymentView(deployment))
}

func (r *Router) handleRedeployDeployment(w http.ResponseWriter, req *http.Request) {
	user, _ := userFromContext(req.Context())
	var overrides deploy.RedeployOverrides
	if req.Body != nil && req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&overrides); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	deployment, err := r.deploy.Redeploy(req.Context(), req.PathValue("id"), overrides, user)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, deploymentView(deployment))
}

func (r *Router) handleProjectDeployments(w http.ResponseWriter, req *http.Request) {
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	deployments, err := r.deploy.ListByProject(req.Context(), req.PathValue("id"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(deployments))
	for i := range deployments {
		views = append(views, deploymentView(&deployments[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"deployments": views})
}

func (r *Router) handleDeploymentsWS(w http.ResponseWriter, req *http.Request) {
	projectID := req.URL.Query().Get("project_id")
	if projectID == "" {
		writeError(w, http.StatusBadRequest, "project_id is required")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.hub.Register(projectID, client)
	defer r.hub.Unregister(projectID, client)

	// Reader loop only detects disconnects; clients receive, never send.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
	defer cancel()
	if r.dbHealth != nil {
		if err := r.dbHealth(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
