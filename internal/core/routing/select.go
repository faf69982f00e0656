package routing

import (
	"errors"
	"math"
	"sort"
	"time"
)

// =============================================================================
// Routing Errors
// =============================================================================

var (
	// ErrNoPrimary is returned when no primary region is designated.
	ErrNoPrimary = errors.New("no primary region designated")

	// ErrInvalidOperation is returned for an unknown operation kind.
	ErrInvalidOperation = errors.New("invalid operation")
)

// unknownDistance ranks pairs missing from the proximity table last.
const unknownDistance = math.MaxFloat64 / 2

// =============================================================================
// Proximity
// =============================================================================

// Proximity holds static round-trip latencies in milliseconds between
// regions. Lookups are symmetric.
type Proximity map[string]map[string]float64

// Distance returns the latency between two regions. A region is at distance
// zero from itself.
func (p Proximity) Distance(from, to string) float64 {
	if from == to {
		return 0
	}
	if d, ok := p[from][to]; ok {
		return d
	}
	if d, ok := p[to][from]; ok {
		return d
	}
	return unknownDistance
}

// =============================================================================
// Selection
// =============================================================================

// ReplicaState is a secondary replica as the router currently sees it.
type ReplicaState struct {
	Region  string
	Sync    bool // synchronous secondary
	Healthy bool
	Lag     time.Duration
}

// SelectRequest contains everything needed to pick a target region.
type SelectRequest struct {
	Operation Operation
	Model     ConsistencyModel
	Caller    string // caller's region, may be empty
	Primary   string
	Replicas  []ReplicaState
	Proximity Proximity
}

// SelectResult is the outcome of a selection.
type SelectResult struct {
	Region             string
	Distance           float64
	ConsideredCount    int
	FilteredOutReasons map[string]int
	Fallback           bool // no eligible replica, primary chosen
}

// Select picks the region an operation should target.
//
// Algorithm:
//  1. Writes always go to the primary.
//  2. Candidates start with the primary, then replicas are filtered by the
//     level: strong keeps healthy synchronous secondaries, bounded-staleness
//     and causal keep healthy replicas within the staleness bound, eventual
//     keeps every healthy replica.
//  3. The candidate nearest the caller wins; ties go to the primary, then to
//     the lower region id.
func Select(req SelectRequest) (*SelectResult, error) {
	result := &SelectResult{FilteredOutReasons: make(map[string]int)}
	if req.Primary == "" {
		return result, ErrNoPrimary
	}
	if !req.Operation.Valid() {
		return result, ErrInvalidOperation
	}

	if req.Operation == OpWrite {
		result.Region = req.Primary
		result.Distance = req.Proximity.Distance(req.Caller, req.Primary)
		result.ConsideredCount = 1
		return result, nil
	}

	candidates := []string{req.Primary}
	for _, r := range req.Replicas {
		if r.Region == req.Primary {
			continue
		}
		result.ConsideredCount++
		if !r.Healthy {
			result.FilteredOutReasons["unhealthy"]++
			continue
		}
		switch req.Model.Level {
		case Strong:
			if !r.Sync {
				result.FilteredOutReasons["asynchronous"]++
				continue
			}
		case BoundedStaleness, Causal:
			if r.Lag > orDefault(req.Model.MaxStaleness) {
				result.FilteredOutReasons["stale"]++
				continue
			}
		}
		candidates = append(candidates, r.Region)
	}

	if req.Caller == "" {
		result.Region = req.Primary
		result.Fallback = len(candidates) == 1
		return result, nil
	}

	primary := candidates[0]
	rest := candidates[1:]
	sort.Strings(rest)

	best := primary
	bestDist := req.Proximity.Distance(req.Caller, primary)
	for _, c := range rest {
		if d := req.Proximity.Distance(req.Caller, c); d < bestDist {
			best, bestDist = c, d
		}
	}

	result.Region = best
	result.Distance = bestDist
	result.Fallback = len(rest) == 0
	return result, nil
}
