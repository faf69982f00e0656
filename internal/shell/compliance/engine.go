// Package compliance is the compliance engine: data location and encryption
// checks, the consent ledger, and persisted compliance audits.
package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron"

	rules "github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/compliance"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/ledger"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/metrics"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/store"
)

// RegionSource provides the current view of registered regions.
type RegionSource interface {
	Get(id string) (domain.Region, error)
	List() []domain.Region
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, channels []string, severity domain.Severity, message string) int
}

// Config configures the engine.
type Config struct {
	// AlertChannels receive non-compliant audit results.
	AlertChannels []string

	// Clock returns the current time. Default: time.Now.
	Clock func() time.Time
}

// Engine is the compliance engine. Location and encryption checks are pure
// reads of the rule tables; consent and audit writes are serialized so each
// ledger stays a single hash chain.
type Engine struct {
	tables   rules.Tables
	regions  RegionSource
	store    store.Store
	chain    *ledger.Chain
	notifier Notifier
	config   Config
	logger   *slog.Logger
	metrics  *metrics.Metrics

	// ledgerMu serializes appends to the consent and audit chains.
	ledgerMu sync.Mutex

	cronMu sync.Mutex
	cron   *cron.Cron
}

// NewEngine creates a compliance engine.
func NewEngine(
	tables rules.Tables,
	regions RegionSource,
	s store.Store,
	chain *ledger.Chain,
	notifier Notifier,
	config Config,
	logger *slog.Logger,
	m *metrics.Metrics,
) *Engine {
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		tables:   tables,
		regions:  regions,
		store:    s,
		chain:    chain,
		notifier: notifier,
		config:   config,
		logger:   logger.With("component", "compliance"),
		metrics:  m,
	}
}

// Tables returns the rule tables.
func (e *Engine) Tables() rules.Tables {
	return e.tables
}

// =============================================================================
// Data Location and Encryption
// =============================================================================

// ValidateDataLocation reports whether dataType may live in region.
func (e *Engine) ValidateDataLocation(dataType, region string) domain.LocationResult {
	return e.tables.ValidateDataLocation(dataType, region)
}

// ValidateEncryption compares level against the data type's requirement.
func (e *Engine) ValidateEncryption(dataType string, level domain.EncryptionLevel) domain.EncryptionResult {
	return e.tables.ValidateEncryption(dataType, level)
}

// CheckDeployment returns a *domain.ComplianceViolationError when region may
// not host one of dataTypes.
func (e *Engine) CheckDeployment(region string, dataTypes []string) error {
	return e.tables.CheckDeployment(region, dataTypes)
}

// =============================================================================
// Consent
// =============================================================================

// ConsentResult is the outcome of a consent action.
type ConsentResult struct {
	Status     domain.ConsentStatus       `json:"status"`
	Record     domain.ConsentRecord       `json:"record"`
	Obligation *domain.DeletionObligation `json:"deletion_obligation,omitempty"`
}

// ManageConsent appends a consent record and returns the resulting status.
// Every call is recorded, queries included; queries never change the status.
// A withdrawal raises a deletion obligation in the same transaction.
func (e *Engine) ManageConsent(ctx context.Context, userID, consentType string, action domain.ConsentAction) (*ConsentResult, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, domain.NewValidationError("user_id", "required")
	}
	if strings.TrimSpace(consentType) == "" {
		return nil, domain.NewValidationError("consent_type", "required")
	}
	if !action.Valid() {
		return nil, domain.NewValidationError("action", fmt.Sprintf("unknown action %q", action))
	}

	e.ledgerMu.Lock()
	defer e.ledgerMu.Unlock()

	result := &ConsentResult{}
	err := e.store.WithTx(ctx, func(tx store.Store) error {
		prev, err := tx.LastConsentHash(ctx)
		if err != nil {
			return err
		}
		rec := e.chain.SealConsent(domain.ConsentRecord{
			ID:          uuid.New().String(),
			UserID:      userID,
			ConsentType: consentType,
			Action:      action,
			RecordedAt:  e.config.Clock().UTC(),
		}, prev)
		if err := tx.AppendConsent(ctx, &rec); err != nil {
			return err
		}
		result.Record = rec

		if action == domain.ConsentWithdraw {
			obligation := domain.NewDeletionObligation(rec)
			if err := tx.CreateDeletionObligation(ctx, &obligation); err != nil {
				return err
			}
			result.Obligation = &obligation
		}

		history, err := tx.ListConsent(ctx, userID, consentType)
		if err != nil {
			return err
		}
		result.Status = consentStatus(userID, consentType, history)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record consent: %w", err)
	}

	e.logger.Info("consent recorded",
		"user_id", userID,
		"consent_type", consentType,
		"action", action,
		"granted", result.Status.Granted,
	)
	if result.Obligation != nil {
		e.logger.Info("deletion obligation raised",
			"obligation_id", result.Obligation.ID,
			"user_id", userID,
			"consent_type", consentType,
		)
	}
	return result, nil
}

// consentStatus folds the ledger: the latest grant or withdraw wins.
func consentStatus(userID, consentType string, history []domain.ConsentRecord) domain.ConsentStatus {
	status := domain.ConsentStatus{UserID: userID, ConsentType: consentType}
	for _, rec := range history {
		if rec.Action == domain.ConsentQuery {
			continue
		}
		at := rec.RecordedAt
		status.Granted = rec.Action == domain.ConsentGrant
		status.UpdatedAt = &at
		status.RecordID = rec.ID
	}
	return status
}

// VerifyConsentLedger recomputes the consent hash chain.
func (e *Engine) VerifyConsentLedger(ctx context.Context) error {
	records, err := e.store.ListAllConsent(ctx)
	if err != nil {
		return err
	}
	return e.chain.VerifyConsent(records)
}

// =============================================================================
// Audits
// =============================================================================

// Audit runs every requirement of rule against region, persists the result
// on the audit chain, and notifies when the region is not compliant.
func (e *Engine) Audit(ctx context.Context, regionID string, rule domain.ComplianceRule) (*domain.ComplianceAudit, error) {
	region, err := e.regions.Get(regionID)
	if err != nil {
		return nil, err
	}

	findings := rules.Evaluate(rules.AuditInput{
		Region:          region,
		Rule:            rule,
		Classifications: e.tables.Classifications,
		ConsentLedger:   e.store != nil,
	})
	score := rules.Score(findings)
	audit := domain.ComplianceAudit{
		ID:         uuid.New().String(),
		Region:     regionID,
		Regulation: rule.Regulation,
		Score:      score,
		Status:     rules.Classify(score),
		Findings:   findings,
		AuditedAt:  e.config.Clock().UTC(),
	}

	e.ledgerMu.Lock()
	err = e.store.WithTx(ctx, func(tx store.Store) error {
		prev, err := tx.LastAuditHash(ctx)
		if err != nil {
			return err
		}
		audit = e.chain.SealAudit(audit, prev)
		return tx.CreateAudit(ctx, &audit)
	})
	e.ledgerMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to persist audit: %w", err)
	}

	e.metrics.Audit(audit.Regulation, string(audit.Status))
	e.logger.Info("compliance audit completed",
		"audit_id", audit.ID,
		"region", regionID,
		"regulation", audit.Regulation,
		"score", audit.Score,
		"status", audit.Status,
	)

	if audit.Status != domain.AuditCompliant && e.notifier != nil && len(e.config.AlertChannels) > 0 {
		severity := domain.SeverityWarning
		if audit.Status == domain.AuditNonCompliant {
			severity = domain.SeverityCritical
		}
		e.notifier.Notify(ctx, e.config.AlertChannels, severity,
			fmt.Sprintf("%s audit of %s scored %d (%s)", audit.Regulation, regionID, audit.Score, audit.Status))
	}
	return &audit, nil
}

// AuditRegulation audits region against every rule of the named regulation
// and returns the audits in rule order.
func (e *Engine) AuditRegulation(ctx context.Context, regionID, regulation string) ([]domain.ComplianceAudit, error) {
	matched := e.tables.RulesFor(regulation)
	if len(matched) == 0 {
		return nil, fmt.Errorf("%w: regulation %s", domain.ErrNotFound, regulation)
	}
	out := make([]domain.ComplianceAudit, 0, len(matched))
	for _, rule := range matched {
		a, err := e.Audit(ctx, regionID, rule)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, nil
}

// AuditAll audits every rule against the regions it governs: the rule's
// listed regions, or every region carrying the regulation tag when the rule
// lists none. Failures are logged and skipped.
func (e *Engine) AuditAll(ctx context.Context) int {
	done := 0
	for _, rule := range e.tables.Rules {
		for _, regionID := range e.governedRegions(rule) {
			if _, err := e.Audit(ctx, regionID, rule); err != nil {
				e.logger.Error("scheduled audit failed",
					"region", regionID,
					"regulation", rule.Regulation,
					"error", err,
				)
				continue
			}
			done++
		}
	}
	return done
}

func (e *Engine) governedRegions(rule domain.ComplianceRule) []string {
	if len(rule.Regions) > 0 {
		return rule.Regions
	}
	var out []string
	for _, r := range e.regions.List() {
		if r.Satisfies(rule.Regulation) {
			out = append(out, r.ID)
		}
	}
	return out
}

// ListAudits returns persisted audits in ledger order.
func (e *Engine) ListAudits(ctx context.Context, filter store.AuditFilter) ([]domain.ComplianceAudit, error) {
	return e.store.ListAudits(ctx, filter)
}

// VerifyAuditLedger recomputes the audit hash chain.
func (e *Engine) VerifyAuditLedger(ctx context.Context) error {
	var audits []domain.ComplianceAudit
	opts := store.ListOptions{Limit: 1000}
	for {
		page, err := e.store.ListAudits(ctx, store.AuditFilter{ListOptions: opts})
		if err != nil {
			return err
		}
		audits = append(audits, page...)
		if len(page) < opts.Limit {
			break
		}
		opts.Offset += len(page)
	}
	return e.chain.VerifyAudits(audits)
}

// =============================================================================
// Scheduled Audits
// =============================================================================

// StartScheduler runs AuditAll on a cron schedule such as "@every 6h".
func (e *Engine) StartScheduler(schedule string) error {
	e.cronMu.Lock()
	defer e.cronMu.Unlock()
	if e.cron != nil {
		return fmt.Errorf("audit scheduler already running")
	}

	c := cron.New()
	err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		n := e.AuditAll(ctx)
		e.logger.Info("scheduled audits completed", "count", n)
	})
	if err != nil {
		return fmt.Errorf("invalid audit schedule %q: %w", schedule, err)
	}
	c.Start()
	e.cron = c
	e.logger.Info("audit scheduler started", "schedule", schedule)
	return nil
}

// StopScheduler stops scheduled audits.
func (e *Engine) StopScheduler() {
	e.cronMu.Lock()
	defer e.cronMu.Unlock()
	if e.cron == nil {
		return
	}
	e.cron.Stop()
	e.cron = nil
	e.logger.Info("audit scheduler stopped")
}
