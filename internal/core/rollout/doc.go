// Package rollout provides pure functions for planning deployments.
//
// Nothing here performs I/O. The orchestrator in internal/shell/orchestrator
// uses these functions to decide what to do next and then performs the calls
// against regional control planes.
//
// # Functions
//
//   - Validation: structural checks of a DeploymentConfig (ValidateConfig)
//   - Ordering: priority-aware dependency ordering of regions (OrderRegions)
//   - Ramping: traffic steps toward a region's target (RampSteps)
//   - Canary: stage resolution and per-stage health thresholds (ResolveStages)
//   - Rollback: drain steps and rollback targets (DrainSteps, RampDrainSteps, RollbackTargets)
//
// # Usage
//
//	if err := rollout.ValidateConfig(cfg); err != nil {
//	    return err
//	}
//	for _, rc := range rollout.OrderRegions(cfg.Regions) {
//	    for _, pct := range rollout.RampSteps(rc.Percentage, 10) {
//	        // set traffic, check health
//	    }
//	}
package rollout
