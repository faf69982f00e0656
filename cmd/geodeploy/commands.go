package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/ledger"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/rollout"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/catalog"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/compliance"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/registry"
	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/shell/store"
)

// =============================================================================
// validate
// =============================================================================

// validateDeployment checks a deployment config the same way a submission
// would be checked, plus the per-region compliance gate, without touching any
// region. Every problem is printed; the returned error carries
// ExitValidationFailure when there was at least one.
func validateDeployment(cfg *Config, in io.Reader, out io.Writer) error {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return withExit(ExitConfigError, err)
	}
	regions, err := registry.New(cat.Regions...)
	if err != nil {
		return withExit(ExitConfigError, err)
	}

	var dc domain.DeploymentConfig
	if err := json.NewDecoder(in).Decode(&dc); err != nil {
		return withExit(ExitValidationFailure, fmt.Errorf("invalid deployment config: %w", err))
	}

	var problems []string
	if err := rollout.ValidateConfig(dc); err != nil {
		problems = append(problems, err.Error())
	}
	tables := cat.Tables()
	for i, rc := range dc.Regions {
		if !regions.Has(rc.Region) {
			problems = append(problems, fmt.Sprintf("regions[%d].region: unknown region %q", i, rc.Region))
			continue
		}
		if err := tables.CheckDeployment(rc.Region, dc.DataTypes); err != nil {
			problems = append(problems, err.Error())
		}
	}

	if len(problems) == 0 {
		fmt.Fprintf(out, "deployment %s is valid (%d regions, %s)\n", dc.Version, len(dc.Regions), dc.Strategy)
		return nil
	}
	for _, p := range problems {
		fmt.Fprintf(out, "- %s\n", p)
	}
	return withExit(ExitValidationFailure, fmt.Errorf("%d problem(s) in deployment %s", len(problems), dc.Version))
}

// =============================================================================
// audit
// =============================================================================

// runAudit audits one region against one regulation and appends the result to
// the audit ledger in the configured database.
func runAudit(ctx context.Context, cfg *Config, logger *slog.Logger, region, regulation string, out io.Writer) error {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return withExit(ExitConfigError, err)
	}
	regions, err := registry.New(cat.Regions...)
	if err != nil {
		return withExit(ExitConfigError, err)
	}
	chain, err := ledger.New([]byte(cfg.Compliance.LedgerKey))
	if err != nil {
		return withExit(ExitConfigError, err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		return withExit(ExitDatabaseError, err)
	}
	defer st.Close()

	engine := compliance.NewEngine(cat.Tables(), regions, st, chain, nil, cfg.ComplianceSettings(), logger, nil)
	audits, err := engine.AuditRegulation(ctx, region, regulation)
	if err != nil {
		return withExit(ExitValidationFailure, err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(audits); err != nil {
		return err
	}

	for _, a := range audits {
		if a.Status == domain.AuditNonCompliant {
			return withExit(ExitValidationFailure, fmt.Errorf("%s audit of %s failed", regulation, region))
		}
	}
	return nil
}
