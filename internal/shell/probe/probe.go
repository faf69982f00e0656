// Package probe collects health samples from regions.
package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// Prober returns a health sample for a region.
type Prober interface {
	Probe(ctx context.Context, region string) (domain.ProbeResult, error)
}

// Resolver looks up a region's endpoints.
type Resolver interface {
	Get(id string) (domain.Region, error)
}

// =============================================================================
// Live Prober
// =============================================================================

// Config configures the live prober.
type Config struct {
	Timeout time.Duration
	Path    string
}

// DefaultConfig returns the default probe configuration.
func DefaultConfig() Config {
	return Config{
		Timeout: 5 * time.Second,
		Path:    "/healthz",
	}
}

// HTTPProber probes GET {api}/healthz.
type HTTPProber struct {
	resolver   Resolver
	path       string
	httpClient *http.Client
}

// NewHTTPProber creates a live prober.
func NewHTTPProber(resolver Resolver, cfg Config) *HTTPProber {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Path == "" {
		cfg.Path = "/healthz"
	}
	return &HTTPProber{
		resolver:   resolver,
		path:       cfg.Path,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// healthzResponse is the body regions return from their health endpoint.
// Missing metrics fall back to what the probe observed.
type healthzResponse struct {
	Status       domain.ProbeStatus `json:"status"`
	Availability *float64           `json:"availability"`
	LatencyP99Ms *float64           `json:"latency_p99_ms"`
	ErrorRate    *float64           `json:"error_rate"`
	Throughput   float64            `json:"throughput"`
	CPU          float64            `json:"cpu"`
	Memory       float64            `json:"memory"`
}

// Probe performs one health request.
func (p *HTTPProber) Probe(ctx context.Context, regionID string) (domain.ProbeResult, error) {
	region, err := p.resolver.Get(regionID)
	if err != nil {
		return domain.ProbeResult{}, err
	}

	target := strings.TrimRight(region.Endpoints.API, "/") + p.path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return domain.ProbeResult{}, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return domain.ProbeResult{}, fmt.Errorf("probe %s: %w", regionID, err)
	}
	defer resp.Body.Close()
	elapsed := float64(time.Since(start).Milliseconds())

	if resp.StatusCode >= 500 {
		return domain.ProbeResult{
			Status:  domain.ProbeDown,
			Metrics: domain.HealthMetrics{LatencyP99Ms: elapsed, ErrorRate: 1},
		}, nil
	}
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.ProbeResult{}, fmt.Errorf("probe %s returned %d: %s", regionID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var body healthzResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && err != io.EOF {
		return domain.ProbeResult{}, fmt.Errorf("probe %s: invalid body: %w", regionID, err)
	}

	result := domain.ProbeResult{
		Status: body.Status,
		Metrics: domain.HealthMetrics{
			Availability: 100,
			LatencyP99Ms: elapsed,
			Throughput:   body.Throughput,
			CPU:          body.CPU,
			Memory:       body.Memory,
		},
	}
	if result.Status == "" {
		result.Status = domain.ProbeUp
	}
	if body.Availability != nil {
		result.Metrics.Availability = *body.Availability
	}
	if body.LatencyP99Ms != nil {
		result.Metrics.LatencyP99Ms = *body.LatencyP99Ms
	}
	if body.ErrorRate != nil {
		result.Metrics.ErrorRate = *body.ErrorRate
	}
	return result, nil
}

// =============================================================================
// Simulated Prober
// =============================================================================

// Step is one scripted probe outcome.
type Step struct {
	Result domain.ProbeResult
	Err    error
}

// Healthy returns a fully healthy sample.
func Healthy() domain.ProbeResult {
	return domain.ProbeResult{
		Status: domain.ProbeUp,
		Metrics: domain.HealthMetrics{
			Availability: 100,
			LatencyP99Ms: 120,
			Throughput:   500,
			CPU:          35,
			Memory:       40,
		},
	}
}

// WithAvailability returns an up sample whose health score equals the given
// availability.
func WithAvailability(availability float64) domain.ProbeResult {
	r := Healthy()
	r.Metrics.Availability = availability
	return r
}

// Simulated replays scripted probe results. Each region plays its script in
// order and then repeats the last step. Unscripted regions are healthy.
type Simulated struct {
	mu      sync.Mutex
	scripts map[string][]Step
	pos     map[string]int
	funcs   map[string]func() (domain.ProbeResult, error)
	calls   map[string]int
}

// NewSimulated creates a simulated prober.
func NewSimulated() *Simulated {
	return &Simulated{
		scripts: make(map[string][]Step),
		pos:     make(map[string]int),
		funcs:   make(map[string]func() (domain.ProbeResult, error)),
		calls:   make(map[string]int),
	}
}

// Script replaces the region's script.
func (s *Simulated) Script(region string, steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[region] = steps
	s.pos[region] = 0
	delete(s.funcs, region)
}

// Set makes every probe of region return result.
func (s *Simulated) Set(region string, result domain.ProbeResult) {
	s.Script(region, Step{Result: result})
}

// SetFunc computes each probe of region with fn.
func (s *Simulated) SetFunc(region string, fn func() (domain.ProbeResult, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funcs[region] = fn
}

// Calls returns how many times region was probed.
func (s *Simulated) Calls(region string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[region]
}

// Probe returns the next scripted result.
func (s *Simulated) Probe(ctx context.Context, region string) (domain.ProbeResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.ProbeResult{}, err
	}

	s.mu.Lock()
	s.calls[region]++
	if fn, ok := s.funcs[region]; ok {
		s.mu.Unlock()
		return fn()
	}
	defer s.mu.Unlock()

	script := s.scripts[region]
	if len(script) == 0 {
		return Healthy(), nil
	}
	i := s.pos[region]
	if i < len(script)-1 {
		s.pos[region] = i + 1
	}
	step := script[i]
	return step.Result, step.Err
}
