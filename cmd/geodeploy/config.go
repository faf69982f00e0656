package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/compliance"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/monitor"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/orchestrator"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Log          LogConfig          `mapstructure:"log"`
	Catalog      CatalogConfig      `mapstructure:"catalog"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Monitor      MonitorConfig      `mapstructure:"monitor"`
	Router       RouterConfig       `mapstructure:"router"`
	Compliance   ComplianceConfig   `mapstructure:"compliance"`
	Notify       NotifyConfig       `mapstructure:"notify"`
	ControlPlane ControlPlaneConfig `mapstructure:"control_plane"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// Token guards mutating API endpoints. Empty leaves them open.
	// Set via GEODEPLOY_SERVER_TOKEN.
	Token string `mapstructure:"token"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// CatalogConfig locates the region and compliance catalog.
type CatalogConfig struct {
	// Path to a YAML catalog. Empty uses the embedded default.
	Path string `mapstructure:"path"`
}

// OrchestratorConfig holds deployment timing and retry settings.
type OrchestratorConfig struct {
	StepPercent       float64       `mapstructure:"step_percent"`
	StepInterval      time.Duration `mapstructure:"step_interval"`
	Cooldown          time.Duration `mapstructure:"cooldown"`
	ObservationWindow time.Duration `mapstructure:"observation_window"`
	CanaryObservation time.Duration `mapstructure:"canary_observation"`
	CallTimeout       time.Duration `mapstructure:"call_timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	RollbackBudget    time.Duration `mapstructure:"rollback_budget"`
	RollbackStepWait  time.Duration `mapstructure:"rollback_step_wait"`
}

// MonitorConfig holds health polling settings.
type MonitorConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	ProbePath        string        `mapstructure:"probe_path"`
	MaxConcurrent    int           `mapstructure:"max_concurrent"`
	OpenAfter        int           `mapstructure:"open_after"`
	CloseAfter       int           `mapstructure:"close_after"`
	IncidentChannels []string      `mapstructure:"incident_channels"`
}

// RouterConfig holds replicated store settings. The topology itself comes
// from the catalog.
type RouterConfig struct {
	MaxStaleness      time.Duration `mapstructure:"max_staleness"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`

	// Databases maps region ids to SQLite DSNs of the replicated store.
	// When empty, replication lag is treated as zero.
	Databases map[string]string `mapstructure:"databases"`
}

// ComplianceConfig holds audit and ledger settings.
type ComplianceConfig struct {
	// AuditSchedule is a cron spec for periodic audits. Empty disables them.
	AuditSchedule string   `mapstructure:"audit_schedule"`
	AlertChannels []string `mapstructure:"alert_channels"`

	// LedgerKey keys the consent and audit hash chains (at most 64 bytes).
	// Set via GEODEPLOY_COMPLIANCE_LEDGER_KEY.
	LedgerKey string `mapstructure:"ledger_key"`
}

// NotifyConfig configures notification sinks.
type NotifyConfig struct {
	// Webhooks maps channel names to webhook URLs.
	Webhooks       map[string]string `mapstructure:"webhooks"`
	WebhookTimeout time.Duration     `mapstructure:"webhook_timeout"`
	Redis          RedisConfig       `mapstructure:"redis"`

	// Log writes every notification to the application log.
	Log bool `mapstructure:"log"`
}

// RedisConfig configures the Redis pub/sub sink. Empty Addr disables it.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// ControlPlaneConfig selects the regional control plane and probe backends.
type ControlPlaneConfig struct {
	// Mode is "live" (HTTP against region endpoints) or "simulated".
	Mode    string        `mapstructure:"mode"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Control plane modes.
const (
	ModeLive      = "live"
	ModeSimulated = "simulated"
)

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.token", "")
	v.SetDefault("database.dsn", "./data/geodeploy.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("catalog.path", "")

	od := orchestrator.DefaultConfig()
	v.SetDefault("orchestrator.step_percent", od.StepPercent)
	v.SetDefault("orchestrator.step_interval", od.StepInterval)
	v.SetDefault("orchestrator.cooldown", od.Cooldown)
	v.SetDefault("orchestrator.observation_window", od.ObservationWindow)
	v.SetDefault("orchestrator.canary_observation", od.CanaryObservation)
	v.SetDefault("orchestrator.call_timeout", od.CallTimeout)
	v.SetDefault("orchestrator.max_attempts", od.MaxAttempts)
	v.SetDefault("orchestrator.retry_backoff", od.RetryBackoff)
	v.SetDefault("orchestrator.max_backoff", od.MaxBackoff)
	v.SetDefault("orchestrator.rollback_budget", od.RollbackBudget)
	v.SetDefault("orchestrator.rollback_step_wait", od.RollbackStepWait)

	md := monitor.DefaultConfig()
	v.SetDefault("monitor.interval", md.Interval)
	v.SetDefault("monitor.probe_timeout", md.ProbeTimeout)
	v.SetDefault("monitor.probe_path", "/healthz")
	v.SetDefault("monitor.max_concurrent", md.MaxConcurrent)
	v.SetDefault("monitor.open_after", md.OpenAfter)
	v.SetDefault("monitor.close_after", md.CloseAfter)
	v.SetDefault("monitor.incident_channels", md.IncidentChannels)

	v.SetDefault("router.max_staleness", "5s")
	v.SetDefault("router.poll_interval", "50ms")
	v.SetDefault("router.heartbeat_interval", "1s")

	v.SetDefault("compliance.audit_schedule", "@every 6h")
	v.SetDefault("compliance.alert_channels", []string{"compliance"})
	v.SetDefault("compliance.ledger_key", "")

	v.SetDefault("notify.webhook_timeout", "5s")
	v.SetDefault("notify.redis.addr", "")
	v.SetDefault("notify.redis.prefix", "geodeploy")
	v.SetDefault("notify.log", true)

	v.SetDefault("control_plane.mode", ModeSimulated)
	v.SetDefault("control_plane.token", "")
	v.SetDefault("control_plane.timeout", "30s")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("GEODEPLOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component could run with.
func (c *Config) Validate() error {
	switch c.ControlPlane.Mode {
	case ModeLive, ModeSimulated:
	default:
		return fmt.Errorf("control_plane.mode must be %q or %q, got %q", ModeLive, ModeSimulated, c.ControlPlane.Mode)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Orchestrator.MaxAttempts < 1 {
		return fmt.Errorf("orchestrator.max_attempts must be at least 1")
	}
	if len(c.Compliance.LedgerKey) > 64 {
		return fmt.Errorf("compliance.ledger_key must be at most 64 bytes")
	}
	return nil
}

// OrchestratorSettings converts the section into orchestrator.Config.
func (c *Config) OrchestratorSettings() orchestrator.Config {
	o := c.Orchestrator
	return orchestrator.Config{
		StepPercent:       o.StepPercent,
		StepInterval:      o.StepInterval,
		Cooldown:          o.Cooldown,
		ObservationWindow: o.ObservationWindow,
		CanaryObservation: o.CanaryObservation,
		CallTimeout:       o.CallTimeout,
		MaxAttempts:       o.MaxAttempts,
		RetryBackoff:      o.RetryBackoff,
		MaxBackoff:        o.MaxBackoff,
		RollbackBudget:    o.RollbackBudget,
		RollbackStepWait:  o.RollbackStepWait,
	}
}

// MonitorSettings converts the section into monitor.Config.
func (c *Config) MonitorSettings() monitor.Config {
	m := c.Monitor
	return monitor.Config{
		Interval:         m.Interval,
		ProbeTimeout:     m.ProbeTimeout,
		MaxConcurrent:    m.MaxConcurrent,
		OpenAfter:        m.OpenAfter,
		CloseAfter:       m.CloseAfter,
		IncidentChannels: m.IncidentChannels,
	}
}

// ComplianceSettings converts the section into compliance.Config.
func (c *Config) ComplianceSettings() compliance.Config {
	return compliance.Config{AlertChannels: c.Compliance.AlertChannels}
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}
