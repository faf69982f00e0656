package rollout

import (
	"sort"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// =============================================================================
// Region Ordering
// =============================================================================

// OrderRegions sorts regions so every region comes after its dependencies.
// Among regions whose dependencies are satisfied, lower priority values go
// first, with the region id as tie-breaker.
//
// It is Kahn's algorithm with a priority-sorted ready set:
//
//	// a(priority 1) <- b(priority 2), c(priority 0)
//	OrderRegions(regions) // [c, a, b]
//
// Dependencies on regions outside the list are ignored. If a cycle exists
// (ValidateConfig rejects those) the remaining regions are appended in
// priority order.
func OrderRegions(regions []domain.RegionDeploymentConfig) []domain.RegionDeploymentConfig {
	if len(regions) == 0 {
		return regions
	}

	byID := make(map[string]domain.RegionDeploymentConfig, len(regions))
	for _, rc := range regions {
		byID[rc.Region] = rc
	}

	inDegree := make(map[string]int, len(regions))
	dependents := make(map[string][]string)
	for _, rc := range regions {
		inDegree[rc.Region] = 0
		for _, dep := range rc.Dependencies {
			if _, ok := byID[dep]; !ok {
				continue
			}
			inDegree[rc.Region]++
			dependents[dep] = append(dependents[dep], rc.Region)
		}
	}

	var ready []domain.RegionDeploymentConfig
	for _, rc := range regions {
		if inDegree[rc.Region] == 0 {
			ready = append(ready, rc)
		}
	}

	result := make([]domain.RegionDeploymentConfig, 0, len(regions))
	placed := make(map[string]bool, len(regions))
	for len(ready) > 0 {
		sortByPriority(ready)
		next := ready[0]
		ready = ready[1:]

		result = append(result, next)
		placed[next.Region] = true

		for _, dep := range dependents[next.Region] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = append(ready, byID[dep])
			}
		}
	}

	if len(result) < len(regions) {
		var rest []domain.RegionDeploymentConfig
		for _, rc := range regions {
			if !placed[rc.Region] {
				rest = append(rest, rc)
			}
		}
		sortByPriority(rest)
		result = append(result, rest...)
	}
	return result
}

func sortByPriority(regions []domain.RegionDeploymentConfig) {
	sort.SliceStable(regions, func(i, j int) bool {
		if regions[i].Priority != regions[j].Priority {
			return regions[i].Priority < regions[j].Priority
		}
		return regions[i].Region < regions[j].Region
	})
}

// DependenciesMet reports whether every dependency of rc is active.
func DependenciesMet(rc domain.RegionDeploymentConfig, states map[string]domain.RegionState) bool {
	for _, dep := range rc.Dependencies {
		if states[dep] != domain.RegionActive {
			return false
		}
	}
	return true
}
