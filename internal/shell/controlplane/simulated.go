package controlplane

import (
	"context"
	"fmt"
	"sync"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// Operation names used for failure injection.
const (
	OpDeploy       = "deploy"
	OpValidate     = "validate"
	OpSetTraffic   = "set-traffic"
	OpDecommission = "decommission"
)

// Simulated is an in-memory control plane. It keeps a traffic table and lets
// tests inject failures per region and operation.
type Simulated struct {
	mu            sync.Mutex
	versions      map[string]string
	traffic       map[string]float64
	history       map[string][]float64
	failures      map[string]int   // region/op -> remaining failures, -1 = always
	validateFails map[string]bool  // region/step -> fail
	decommissions map[string][]string
	calls         map[string]int

	// OnSetTraffic is called after every successful traffic change.
	OnSetTraffic func(region string, percent float64)
}

// NewSimulated creates an empty simulated control plane.
func NewSimulated() *Simulated {
	return &Simulated{
		versions:      make(map[string]string),
		traffic:       make(map[string]float64),
		history:       make(map[string][]float64),
		failures:      make(map[string]int),
		validateFails: make(map[string]bool),
		decommissions: make(map[string][]string),
		calls:         make(map[string]int),
	}
}

func failureKey(region, op string) string { return region + "/" + op }

// FailNext makes the next n calls of op against region fail.
func (s *Simulated) FailNext(region, op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[failureKey(region, op)] = n
}

// FailAlways makes every call of op against region fail.
func (s *Simulated) FailAlways(region, op string) {
	s.FailNext(region, op, -1)
}

// FailValidation makes the named validation step fail in region.
func (s *Simulated) FailValidation(region, step string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validateFails[failureKey(region, step)] = true
}

// injected reports whether the call should fail. Caller holds mu.
func (s *Simulated) injected(region, op string) error {
	key := failureKey(region, op)
	s.calls[key]++
	n, ok := s.failures[key]
	if !ok || n == 0 {
		return nil
	}
	if n > 0 {
		s.failures[key] = n - 1
	}
	return fmt.Errorf("simulated %s failure in %s", op, region)
}

// Deploy records the version.
func (s *Simulated) Deploy(ctx context.Context, region, version string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(region, OpDeploy); err != nil {
		return err
	}
	s.versions[region] = version
	return nil
}

// Validate fails only when a failure was injected.
func (s *Simulated) Validate(ctx context.Context, region string, step domain.ValidationStep) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(region, OpValidate); err != nil {
		return err
	}
	if s.validateFails[failureKey(region, step.Name)] {
		return fmt.Errorf("%w: validation %s failed in %s", ErrRejected, step.Name, region)
	}
	return nil
}

// SetTraffic records the new split.
func (s *Simulated) SetTraffic(ctx context.Context, region string, percent float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if err := s.injected(region, OpSetTraffic); err != nil {
		s.mu.Unlock()
		return err
	}
	s.traffic[region] = percent
	s.history[region] = append(s.history[region], percent)
	hook := s.OnSetTraffic
	s.mu.Unlock()

	if hook != nil {
		hook(region, percent)
	}
	return nil
}

// Decommission records the teardown.
func (s *Simulated) Decommission(ctx context.Context, region, environment string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.injected(region, OpDecommission); err != nil {
		return err
	}
	s.decommissions[region] = append(s.decommissions[region], environment)
	return nil
}

// Traffic returns the current split for region.
func (s *Simulated) Traffic(region string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traffic[region]
}

// TrafficHistory returns every split set for region, in order.
func (s *Simulated) TrafficHistory(region string) []float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]float64(nil), s.history[region]...)
}

// Version returns the version deployed to region.
func (s *Simulated) Version(region string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.versions[region]
}

// Decommissioned returns the environments torn down in region.
func (s *Simulated) Decommissioned(region string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.decommissions[region]...)
}

// Calls returns how many times op was attempted against region.
func (s *Simulated) Calls(region, op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[failureKey(region, op)]
}
