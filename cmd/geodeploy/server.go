package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/ledger"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/api"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/catalog"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/compliance"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/controlplane"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/metrics"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/monitor"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/notify"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/orchestrator"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/probe"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/registry"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/router"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/store"
)

// =============================================================================
// Exit Codes
// =============================================================================

const (
	ExitSuccess           = 0
	ExitConfigError       = 1
	ExitDatabaseError     = 2
	ExitHTTPServerError   = 4
	ExitValidationFailure = 5
)

// =============================================================================
// Server
// =============================================================================

// Server wires every component behind the HTTP API.
type Server struct {
	config     *Config
	httpServer *http.Server
	store      *store.SQLiteStore
	monitor    *monitor.Monitor
	compliance *compliance.Engine
	orch       *orchestrator.Orchestrator
	router     *router.Router
	redis      *redis.Client
	replicas   map[string]*sqlx.DB
	heartbeat  *router.HeartbeatLagReader
	logger     *slog.Logger

	stopBeat context.CancelFunc
	beatDone chan struct{}
}

// NewServer creates a new server with all dependencies.
func NewServer(cfg *Config, logger *slog.Logger) (*Server, error) {
	s := &Server{config: cfg, logger: logger}

	// Create store
	if err := ensureDataDir(cfg.Database.DSN); err != nil {
		return nil, &ServerError{Op: "NewServer", Err: err, ExitCode: ExitDatabaseError}
	}
	st, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return nil, &ServerError{
			Op:       "NewServer",
			Err:      fmt.Errorf("failed to create store: %w", err),
			ExitCode: ExitDatabaseError,
		}
	}
	s.store = st

	// From here on, release what was opened if a later step fails.
	fail := func(op string, err error, code int) (*Server, error) {
		s.closeResources()
		return nil, &ServerError{Op: op, Err: err, ExitCode: code}
	}

	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return fail("NewServer", err, ExitConfigError)
	}
	regions, err := registry.New(cat.Regions...)
	if err != nil {
		return fail("NewServer", fmt.Errorf("failed to build region registry: %w", err), ExitConfigError)
	}

	// Metrics
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(promReg)
	if err != nil {
		return fail("NewServer", fmt.Errorf("failed to register metrics: %w", err), ExitConfigError)
	}

	dispatcher, err := s.buildDispatcher(cfg, m)
	if err != nil {
		return fail("NewServer", err, ExitConfigError)
	}

	// Regional backends
	var (
		prober probe.Prober
		cp     controlplane.RegionControlPlane
	)
	if cfg.ControlPlane.Mode == ModeLive {
		prober = probe.NewHTTPProber(regions, probe.Config{
			Timeout: cfg.Monitor.ProbeTimeout,
			Path:    cfg.Monitor.ProbePath,
		})
		cp = controlplane.NewHTTPClient(regions, controlplane.Config{
			Token:   cfg.ControlPlane.Token,
			Timeout: cfg.ControlPlane.Timeout,
		})
	} else {
		logger.Warn("using simulated control plane; no regions will be changed")
		prober = probe.NewSimulated()
		cp = controlplane.NewSimulated()
	}

	// Health & incident monitor
	s.monitor = monitor.New(prober, regions, st, dispatcher, cat.AlertRules, cfg.MonitorSettings(), logger, m)
	ctx := context.Background()
	if err := s.monitor.Reload(ctx); err != nil {
		return fail("NewServer", fmt.Errorf("failed to reload open incidents: %w", err), ExitDatabaseError)
	}

	// Compliance engine
	chain, err := ledger.New([]byte(cfg.Compliance.LedgerKey))
	if err != nil {
		return fail("NewServer", err, ExitConfigError)
	}
	s.compliance = compliance.NewEngine(cat.Tables(), regions, st, chain, dispatcher, cfg.ComplianceSettings(), logger, m)

	// Replicated data router
	rt, err := s.buildRouter(ctx, cfg, cat, logger, m)
	if err != nil {
		return fail("NewServer", err, ExitDatabaseError)
	}
	s.router = rt

	// Deployment orchestrator
	s.orch = orchestrator.New(cp, s.monitor, s.compliance, regions, st, cfg.OrchestratorSettings(), logger, m)

	handler := api.NewHandler(api.Config{
		Deployments: s.orch,
		Regions:     regions,
		Monitor:     s.monitor,
		Compliance:  s.compliance,
		Router:      s.router,
		History:     st,
		Gatherer:    promReg,
		Metrics:     m,
		Token:       cfg.Server.Token,
		Logger:      logger,
	})
	if cfg.Server.Token == "" {
		logger.Warn("server.token is empty; mutating endpoints are unauthenticated")
	}

	s.httpServer = &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      handler.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return s, nil
}

func (s *Server) buildDispatcher(cfg *Config, m *metrics.Metrics) (*notify.Dispatcher, error) {
	var fallback []notify.Sink
	if cfg.Notify.Log {
		fallback = append(fallback, notify.NewLogSink(s.logger))
	}
	if cfg.Notify.Redis.Addr != "" {
		sink, client, err := notify.NewRedisSink(cfg.Notify.Redis.Addr, cfg.Notify.Redis.Password, cfg.Notify.Redis.DB, cfg.Notify.Redis.Prefix)
		if err != nil {
			return nil, fmt.Errorf("failed to create redis sink: %w", err)
		}
		s.redis = client
		fallback = append(fallback, sink)
	}

	d := notify.NewDispatcher(s.logger, m, fallback...)
	if len(cfg.Notify.Webhooks) > 0 {
		webhooks := notify.NewWebhookSink(cfg.Notify.Webhooks, cfg.Notify.WebhookTimeout)
		for channel := range cfg.Notify.Webhooks {
			d.Route(channel, webhooks)
		}
	}
	return d, nil
}

func (s *Server) buildRouter(ctx context.Context, cfg *Config, cat *catalog.Catalog, logger *slog.Logger, m *metrics.Metrics) (*router.Router, error) {
	members := make([]router.Member, 0, len(cat.Topology.Replicas))
	for _, rc := range cat.Topology.Replicas {
		members = append(members, router.Member{Region: rc.Region, Sync: rc.Sync, MaxLag: rc.MaxLag})
	}
	rcfg := router.Config{
		Primary:      cat.Topology.Primary,
		Members:      members,
		Proximity:    cat.Proximity,
		MaxStaleness: cfg.Router.MaxStaleness,
		PollInterval: cfg.Router.PollInterval,
	}

	if len(cfg.Router.Databases) == 0 {
		return router.New(rcfg, s.monitor, router.NewStaticLags(), nil, logger, m)
	}

	s.replicas = make(map[string]*sqlx.DB, len(cfg.Router.Databases))
	for region, dsn := range cfg.Router.Databases {
		db, err := sqlx.Open("sqlite3", dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open replica database for %s: %w", region, err)
		}
		s.replicas[region] = db
	}

	var rt *router.Router
	s.heartbeat = router.NewHeartbeatLagReader(s.replicas, func() string { return rt.Primary() })
	if err := s.heartbeat.Init(ctx); err != nil {
		return nil, err
	}
	rt, err := router.New(rcfg, s.monitor, s.heartbeat, s.replicas, logger, m)
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// ensureDataDir creates the parent directory of a file-backed DSN.
func ensureDataDir(dsn string) error {
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return nil
	}
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return nil
}

// Start starts the server and blocks until shutdown.
func (s *Server) Start(ctx context.Context) error {
	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// Resume deployments interrupted by the last shutdown.
	recovered, err := s.orch.Recover(ctx)
	if err != nil {
		s.logger.Error("failed to recover deployments", "error", err)
	} else if recovered > 0 {
		s.logger.Info("recovered deployments", "count", recovered)
	}

	s.monitor.Start()

	if s.config.Compliance.AuditSchedule != "" {
		if err := s.compliance.StartScheduler(s.config.Compliance.AuditSchedule); err != nil {
			return &ServerError{Op: "Start", Err: err, ExitCode: ExitConfigError}
		}
	}

	if s.heartbeat != nil {
		s.startHeartbeat()
	}

	// Start HTTP server in goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server",
			"address", s.config.Server.Address(),
			"control_plane", s.config.ControlPlane.Mode)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		s.logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		_ = s.Shutdown(context.Background())
		return &ServerError{
			Op:       "Start",
			Err:      err,
			ExitCode: ExitHTTPServerError,
		}
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown(context.Background())
}

func (s *Server) startHeartbeat() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopBeat = cancel
	s.beatDone = make(chan struct{})

	interval := s.config.Router.HeartbeatInterval
	if interval <= 0 {
		interval = time.Second
	}
	go func() {
		defer close(s.beatDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.heartbeat.Beat(ctx); err != nil && ctx.Err() == nil {
					s.logger.Warn("replication heartbeat failed", "primary", s.router.Primary(), "error", err)
				}
			}
		}
	}()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	// Create shutdown context with timeout
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.Server.ShutdownTimeout)
	defer cancel()

	// Shutdown HTTP server
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	// Stop in-flight deployments before their health source goes away.
	if err := s.orch.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("orchestrator shutdown error", "error", err)
	}

	s.monitor.Stop()
	s.compliance.StopScheduler()

	if s.stopBeat != nil {
		s.stopBeat()
		<-s.beatDone
	}

	s.closeResources()

	s.logger.Info("shutdown complete")
	return nil
}

// closeResources releases connections opened by NewServer.
func (s *Server) closeResources() {
	for region, db := range s.replicas {
		if err := db.Close(); err != nil {
			s.logger.Error("replica database close error", "region", region, "error", err)
		}
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Error("redis close error", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		}
	}
}

// =============================================================================
// Server Error
// =============================================================================

// ServerError represents an error during server operation.
type ServerError struct {
	Op       string
	Err      error
	ExitCode int
}

func (e *ServerError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *ServerError) Unwrap() error {
	return e.Err
}
