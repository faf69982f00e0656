// Package api provides the HTTP API for geodeploy.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/routing"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/api/middleware"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/api/openapi"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/compliance"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/metrics"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/orchestrator"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/router"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/store"
)

// =============================================================================
// Collaborators
// =============================================================================

// DeploymentService runs and reports deployments.
type DeploymentService interface {
	Submit(ctx context.Context, cfg domain.DeploymentConfig) (*domain.DeploymentStatus, error)
	GetStatus(ctx context.Context, id string) (*domain.DeploymentStatus, error)
	List(ctx context.Context, opts store.ListOptions) ([]domain.DeploymentStatus, error)
	Events(ctx context.Context, id string) ([]domain.DeploymentEvent, error)
	Rollback(ctx context.Context, id string) error
}

// RegionService is the region catalog.
type RegionService interface {
	Get(id string) (domain.Region, error)
	List() []domain.Region
	UpdateCapacity(id string, capacity domain.Capacity) (domain.Region, error)
}

// HealthService reports region health and incidents.
type HealthService interface {
	CheckHealth(ctx context.Context, region string) (domain.RegionHealth, error)
	Health(region string) (domain.RegionHealth, bool)
	AllHealth() []domain.RegionHealth
	OpenIncidents() []domain.Incident
	GlobalMetrics() domain.GlobalMetrics
}

// ComplianceService answers compliance queries and records consent and
// audits.
type ComplianceService interface {
	ValidateDataLocation(dataType, region string) domain.LocationResult
	ValidateEncryption(dataType string, level domain.EncryptionLevel) domain.EncryptionResult
	ManageConsent(ctx context.Context, userID, consentType string, action domain.ConsentAction) (*compliance.ConsentResult, error)
	AuditRegulation(ctx context.Context, region, regulation string) ([]domain.ComplianceAudit, error)
	ListAudits(ctx context.Context, filter store.AuditFilter) ([]domain.ComplianceAudit, error)
	VerifyConsentLedger(ctx context.Context) error
	VerifyAuditLedger(ctx context.Context) error
}

// RoutingService routes data operations over the replicated store.
type RoutingService interface {
	Primary() string
	Members() []router.Member
	Route(ctx context.Context, op routing.Operation, level routing.ConsistencyLevel, caller string) (*routing.SelectResult, error)
	Failover(region string) (string, error)
}

// History is the persisted record the API reads directly.
type History interface {
	Ping(ctx context.Context) error
	ListIncidents(ctx context.Context, filter store.IncidentFilter) ([]domain.Incident, error)
}

// Config wires the handler to its collaborators.
type Config struct {
	Deployments DeploymentService
	Regions     RegionService
	Monitor     HealthService
	Compliance  ComplianceService
	Router      RoutingService
	History     History

	// Gatherer backs /metrics. If nil, /metrics is not served.
	Gatherer prometheus.Gatherer
	Metrics  *metrics.Metrics

	// Token guards mutating endpoints. Empty disables the check.
	Token string

	Logger *slog.Logger
}

// Handler handles HTTP requests.
type Handler struct {
	deployments DeploymentService
	regions     RegionService
	monitor     HealthService
	compliance  ComplianceService
	router      RoutingService
	history     History
	gatherer    prometheus.Gatherer
	metrics     *metrics.Metrics
	token       string
	logger      *slog.Logger
	docs        *openapi.Generator
}

// NewHandler creates a new HTTP handler.
func NewHandler(cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	h := &Handler{
		deployments: cfg.Deployments,
		regions:     cfg.Regions,
		monitor:     cfg.Monitor,
		compliance:  cfg.Compliance,
		router:      cfg.Router,
		history:     cfg.History,
		gatherer:    cfg.Gatherer,
		metrics:     cfg.Metrics,
		token:       cfg.Token,
		logger:      cfg.Logger.With("component", "api"),
		docs:        openapi.NewGenerator(),
	}
	for _, rt := range h.endpoints() {
		h.docs.Register(rt.doc)
	}
	return h
}

// endpoint pairs a route's documentation with its handler.
type endpoint struct {
	doc     openapi.Route
	handler http.HandlerFunc
}

// Routes returns the router with all routes configured.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Metrics(h.metrics))
	r.Use(middleware.RequestLogger(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(h.requestIDHeader)

	// Operational endpoints
	r.Get("/health", h.handleHealth)
	r.Get("/ready", h.handleReady)
	r.Get("/openapi.json", h.docs.Handler())
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	guard := middleware.RequireToken(middleware.TokenConfig{Token: h.token, Logger: h.logger})
	r.Group(func(r chi.Router) {
		r.Use(h.jsonContentType)
		for _, ep := range h.endpoints() {
			if ep.doc.Protected {
				r.With(guard).Method(ep.doc.Method, ep.doc.Path, ep.handler)
				continue
			}
			r.Method(ep.doc.Method, ep.doc.Path, ep.handler)
		}
	})

	return r
}

// endpoints lists every /api/v1 route.
func (h *Handler) endpoints() []endpoint {
	const v1 = "/api/v1"
	return []endpoint{
		// Deployments
		{openapi.Route{Method: http.MethodPost, Path: v1 + "/deployments", OperationID: "createDeployment", Summary: "Submit a deployment", Tag: "Deployments", Request: domain.DeploymentConfig{}, Response: DeploymentAccepted{}, Status: http.StatusAccepted, Protected: true}, h.handleCreateDeployment},
		{openapi.Route{Method: http.MethodGet, Path: v1 + "/deployments", OperationID: "listDeployments", Summary: "List deployments", Tag: "Deployments", Query: []string{"limit", "offset"}, Response: ListResponse[domain.DeploymentStatus]{}}, h.handleListDeployments},
		{openapi.Route{Method: http.MethodGet, Path: v1 + "/deployments/{id}", OperationID: "getDeployment", Summary: "Get deployment status", Tag: "Deployments", Response: domain.DeploymentStatus{}}, h.handleGetDeployment},
		{openapi.Route{Method: http.MethodGet, Path: v1 + "/deployments/{id}/events", OperationID: "listDeploymentEvents", Summary: "List deployment events", Tag: "Deployments", Response: []domain.DeploymentEvent{}}, h.handleListDeploymentEvents},
		{openapi.Route{Method: http.MethodPost, Path: v1 + "/deployments/{id}/rollback", OperationID: "rollbackDeployment", Summary: "Roll back a deployment", Tag: "Deployments", Response: DeploymentAccepted{}, Status: http.StatusAccepted, Protected: true}, h.handleRollbackDeployment},

		// Regions and health
		{openapi.Route{Method: http.MethodGet, Path: v1 + "/regions", OperationID: "listRegions", Summary: "List regions", Tag: "Regions", Response: []domain.Region{}}, h.handleListRegions},
		{openapi.Route{Method: http.MethodGet, Path: v1 + "/regions/{id}", OperationID: "getRegion", Summary: "Get a region", Tag: "Regions", Response: domain.Region{}}, h.handleGetRegion},
		{openapi.Route{Method: http.MethodPut, Path: v1 + "/regions/{id}/capacity", OperationID: "updateRegionCapacity", Summary: "Update region capacity", Tag: "Regions", Request: UpdateCapacityRequest{}, Response: domain.Region{}, Protected: true}, h.handleUpdateCapacity},
		{openapi.Route{Method: http.MethodGet, Path: v1 + "/regions/{id}/health", OperationID: "getRegionHealth", Summary: "Get region health", Tag: "Health", Query: []string{"refresh"}, Response: domain.RegionHealth{}}, h.handleRegionHealth},
		{openapi.Route{Method: http.MethodGet, Path: v1 + "/health", OperationID: "listRegionHealth", Summary: "Health of every region", Tag: "Health", Response: []domain.RegionHealth{}}, h.handleAllHealth},
		{openapi.Route{Method: http.MethodGet, Path: v1 + "/health/global", OperationID: "getGlobalMetrics", Summary: "Global metrics", Tag: "Health", Response: domain.GlobalMetrics{}}, h.handleGlobalMetrics},
		{openapi.Route{Method: http.MethodGet, Path: v1 + "/incidents", OperationID: "listIncidents", Summary: "List incidents", Tag: "Health", Query: []string{"region", "open", "limit", "offset"}, Response: ListResponse[domain.Incident]{}}, h.handleListIncidents},

		// Compliance
		{openapi.Route{Method: http.MethodPost, Path: v1 + "/compliance/data-location", OperationID: "validateDataLocation", Summary: "Validate data location", Tag: "Compliance", Request: DataLocationRequest{}, Response: domain.LocationResult{}}, h.handleDataLocation},
		{openapi.Route{Method: http.MethodPost, Path: v1 + "/compliance/encryption", OperationID: "validateEncryption", Summary: "Validate encryption level", Tag: "Compliance", Request: EncryptionRequest{}, Response: domain.EncryptionResult{}}, h.handleEncryption},
		{openapi.Route{Method: http.MethodPost, Path: v1 + "/compliance/consent", OperationID: "manageConsent", Summary: "Grant, withdraw or query consent", Tag: "Compliance", Request: ConsentRequest{}, Response: compliance.ConsentResult{}, Protected: true}, h.handleConsent},
		{openapi.Route{Method: http.MethodPost, Path: v1 + "/compliance/audits", OperationID: "runAudit", Summary: "Audit a region", Tag: "Compliance", Request: AuditRequest{}, Response: []domain.ComplianceAudit{}, Status: http.StatusCreated, Protected: true}, h.handleRunAudit},
		{openapi.Route{Method: http.MethodGet, Path: v1 + "/compliance/audits", OperationID: "listAudits", Summary: "List audits", Tag: "Compliance", Query: []string{"region", "regulation", "limit", "offset"}, Response: ListResponse[domain.ComplianceAudit]{}}, h.handleListAudits},
		{openapi.Route{Method: http.MethodGet, Path: v1 + "/compliance/ledgers/{ledger}/verify", OperationID: "verifyLedger", Summary: "Verify a hash-chained ledger", Tag: "Compliance", Response: LedgerResponse{}}, h.handleVerifyLedger},

		// Routing
		{openapi.Route{Method: http.MethodGet, Path: v1 + "/routing/route", OperationID: "routeOperation", Summary: "Route a data operation", Tag: "Routing", Query: []string{"operation", "consistency", "caller"}, Response: RouteResponse{}}, h.handleRoute},
		{openapi.Route{Method: http.MethodGet, Path: v1 + "/routing/topology", OperationID: "getTopology", Summary: "Replication topology", Tag: "Routing", Response: TopologyResponse{}}, h.handleTopology},
		{openapi.Route{Method: http.MethodPost, Path: v1 + "/routing/failover", OperationID: "failover", Summary: "Promote a replica to primary", Tag: "Routing", Request: FailoverRequest{}, Response: FailoverResponse{}, Protected: true}, h.handleFailover},
	}
}

// =============================================================================
// Middleware
// =============================================================================

// jsonContentType sets Content-Type header to application/json.
func (h *Handler) jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader copies the request ID to the response header.
func (h *Handler) requestIDHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if reqID := chimw.GetReqID(r.Context()); reqID != "" {
			w.Header().Set("X-Request-ID", reqID)
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Health Handlers
// =============================================================================

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	h.writeJSON(w, http.StatusOK, HealthResponse{Status: "healthy"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	checks := make(map[string]string)

	if h.history != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.history.Ping(ctx); err != nil {
			checks["database"] = "failed"
			h.writeJSON(w, http.StatusServiceUnavailable, ReadyResponse{
				Status: "not_ready",
				Checks: checks,
			})
			return
		}
	}
	checks["database"] = "ok"

	h.writeJSON(w, http.StatusOK, ReadyResponse{
		Status: "ready",
		Checks: checks,
	})
}

// =============================================================================
// Helpers
// =============================================================================

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode JSON", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message, code string) {
	h.writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// decode reads a JSON body into v, writing a 400 on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error(), "bad_request")
		return false
	}
	return true
}

// writeFailure maps an error from a collaborator onto a status code.
func (h *Handler) writeFailure(w http.ResponseWriter, r *http.Request, action string, err error) {
	var (
		validation *domain.ValidationError
		conflict   *domain.ConflictError
	)
	switch {
	case errors.As(err, &validation):
		h.writeError(w, http.StatusUnprocessableEntity, validation.Error(), "validation_error")
	case errors.As(err, &conflict):
		h.writeError(w, http.StatusConflict, conflict.Error(), "conflict")
	case isNotFound(err):
		h.writeError(w, http.StatusNotFound, err.Error(), "not_found")
	case errors.Is(err, domain.ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error(), "invalid_transition")
	case errors.Is(err, routing.ErrInvalidOperation):
		h.writeError(w, http.StatusUnprocessableEntity, err.Error(), "validation_error")
	case errors.Is(err, orchestrator.ErrShuttingDown), errors.Is(err, routing.ErrNoPrimary):
		h.writeError(w, http.StatusServiceUnavailable, err.Error(), "unavailable")
	default:
		h.logger.Error("request failed",
			"action", action,
			"path", r.URL.Path,
			"request_id", chimw.GetReqID(r.Context()),
			"error", err,
		)
		h.writeError(w, http.StatusInternalServerError, "failed to "+action, "internal_error")
	}
}

// isNotFound checks if an error is a not found error.
func isNotFound(err error) bool {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnknownRegion) {
		return true
	}
	return store.IsNotFound(err)
}

// listOptions reads limit and offset query parameters.
func listOptions(r *http.Request) store.ListOptions {
	opts := store.DefaultListOptions()
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if l, err := strconv.Atoi(limit); err == nil {
			opts.Limit = l
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if o, err := strconv.Atoi(offset); err == nil && o >= 0 {
			opts.Offset = o
		}
	}
	return opts.Normalize()
}

// nonNil keeps empty collections encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
