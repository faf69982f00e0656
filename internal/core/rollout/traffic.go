package rollout

import (
	"math"
	"sort"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// DefaultStepPercent is the rolling ramp increment when none is configured.
const DefaultStepPercent = 10.0

// DefaultCanaryStages is the canary stage list used when none is configured.
var DefaultCanaryStages = []float64{1, 5, 10, 25, 50, 100}

// =============================================================================
// Ramp Steps
// =============================================================================

// RampSteps returns the traffic levels a region passes through on its way
// from 0 to target, in increments of step. The last level is always target
// and no level exceeds it.
//
//	RampSteps(60, 25) // [25, 50, 60]
func RampSteps(target, step float64) []float64 {
	if target <= 0 {
		return nil
	}
	if step <= 0 {
		step = DefaultStepPercent
	}
	var steps []float64
	for level := step; level < target; level += step {
		steps = append(steps, round(level))
	}
	return append(steps, target)
}

// =============================================================================
// Canary Stages
// =============================================================================

// StageThreshold returns the default aggregate health score a canary stage
// must hold. Small stages are held to a stricter bar.
func StageThreshold(percentage float64) float64 {
	switch {
	case percentage <= 1:
		return 95
	case percentage <= 5:
		return 92
	case percentage <= 10:
		return 90
	case percentage <= 25:
		return 88
	case percentage <= 50:
		return 85
	default:
		return 80
	}
}

// ResolveStages returns the configured stages, or the defaults, with missing
// thresholds filled in.
func ResolveStages(cfg domain.CanaryConfig) []domain.CanaryStage {
	stages := cfg.Stages
	if len(stages) == 0 {
		stages = make([]domain.CanaryStage, len(DefaultCanaryStages))
		for i, pct := range DefaultCanaryStages {
			stages[i] = domain.CanaryStage{Percentage: pct}
		}
	}
	out := make([]domain.CanaryStage, len(stages))
	for i, s := range stages {
		if s.MinHealthScore == 0 {
			s.MinHealthScore = StageThreshold(s.Percentage)
		}
		out[i] = s
	}
	return out
}

// StageTraffic returns a region's traffic at a canary stage.
func StageTraffic(target, stagePercent float64) float64 {
	return round(target * stagePercent / 100)
}

// AggregateScore is the mean of the given region health scores.
func AggregateScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scores {
		sum += s
	}
	return sum / float64(len(scores))
}

// =============================================================================
// Rollback
// =============================================================================

// DrainSteps returns decreasing traffic levels for a gradual rollback of a
// region currently at current traffic with the given target. Levels walk the
// stage list in reverse, skip anything not strictly below current, and end
// at 0.
//
//	DrainSteps(30, 60, []float64{10, 50, 100}) // [6, 0]
func DrainSteps(current, target float64, stages []float64) []float64 {
	if current <= 0 {
		return nil
	}
	if len(stages) == 0 {
		stages = DefaultCanaryStages
	}
	sorted := append([]float64(nil), stages...)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	var steps []float64
	last := current
	for _, pct := range sorted {
		level := math.Min(StageTraffic(target, pct), current)
		if level < last && level > 0 {
			steps = append(steps, level)
			last = level
		}
	}
	return append(steps, 0)
}

// RampDrainSteps returns decreasing traffic levels for a gradual rollback of
// a rolling region: the RampSteps levels strictly below current, in reverse,
// ending at 0.
//
//	RampDrainSteps(60, 60, 20) // [40, 20, 0]
func RampDrainSteps(current, target, step float64) []float64 {
	if current <= 0 {
		return nil
	}
	ramp := RampSteps(target, step)
	var steps []float64
	for i := len(ramp) - 1; i >= 0; i-- {
		if ramp[i] < current {
			steps = append(steps, ramp[i])
		}
	}
	return append(steps, 0)
}

// StagePercents extracts the percentages of a stage list.
func StagePercents(stages []domain.CanaryStage) []float64 {
	out := make([]float64, len(stages))
	for i, s := range stages {
		out[i] = s.Percentage
	}
	return out
}

// RollbackTargets returns the regions a rollback must drain: every region
// the deployment touched that is not already rolled back, plus failed regions
// still carrying traffic. Regions that never left pending are untouched.
// The result is sorted by id.
func RollbackTargets(status *domain.DeploymentStatus) []string {
	var ids []string
	for id, rs := range status.Regions {
		switch rs.State {
		case domain.RegionDeploying, domain.RegionValidating, domain.RegionActive:
			ids = append(ids, id)
		case domain.RegionFailed:
			if rs.Traffic > 0 {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids
}

func round(v float64) float64 {
	return math.Round(v*100) / 100
}
