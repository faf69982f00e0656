// Package controlplane talks to the per-region infrastructure that actually
// rolls out versions and moves traffic.
package controlplane

import (
	"context"
	"errors"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// ErrRejected marks a request the region refused outright. Retrying it will
// not help.
var ErrRejected = errors.New("request rejected by region")

// RegionControlPlane is the outward interface the orchestrator drives.
type RegionControlPlane interface {
	// Deploy installs version into the region's shadow environment.
	Deploy(ctx context.Context, region, version string) error

	// Validate runs one validation step against the region.
	Validate(ctx context.Context, region string, step domain.ValidationStep) error

	// SetTraffic sets the share of the region's traffic served by the new
	// version, in percent.
	SetTraffic(ctx context.Context, region string, percent float64) error
}

// Decommissioner is implemented by control planes that can tear down an
// environment after a blue-green switch.
type Decommissioner interface {
	Decommission(ctx context.Context, region, environment string) error
}

// Resolver looks up a region's endpoints.
type Resolver interface {
	Get(id string) (domain.Region, error)
}

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrRejected) || errors.Is(err, domain.ErrUnknownRegion)
}
