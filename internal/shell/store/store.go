package store

import (
	"context"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// =============================================================================
// Store Interface
// =============================================================================

// Store defines the persistence interface. History is never deleted: events,
// audits and consent records are insert-only, deployments and incidents are
// updated in place only to advance their lifecycle.
type Store interface {
	// Deployment operations
	CreateDeployment(ctx context.Context, d *domain.DeploymentStatus) error
	UpdateDeployment(ctx context.Context, d *domain.DeploymentStatus) error
	GetDeployment(ctx context.Context, id string) (*domain.DeploymentStatus, error)
	ListDeployments(ctx context.Context, opts ListOptions) ([]domain.DeploymentStatus, error)
	ListDeploymentsByStatus(ctx context.Context, states ...domain.DeploymentState) ([]domain.DeploymentStatus, error)

	// Deployment event log
	AppendDeploymentEvent(ctx context.Context, deploymentID string, ev domain.DeploymentEvent) error
	ListDeploymentEvents(ctx context.Context, deploymentID string) ([]domain.DeploymentEvent, error)

	// Incident operations
	CreateIncident(ctx context.Context, inc *domain.Incident) error
	CloseIncident(ctx context.Context, inc *domain.Incident) error
	ListIncidents(ctx context.Context, filter IncidentFilter) ([]domain.Incident, error)

	// Compliance audit operations
	CreateAudit(ctx context.Context, a *domain.ComplianceAudit) error
	ListAudits(ctx context.Context, filter AuditFilter) ([]domain.ComplianceAudit, error)
	LastAuditHash(ctx context.Context) (string, error)

	// Consent ledger operations
	AppendConsent(ctx context.Context, rec *domain.ConsentRecord) error
	ListConsent(ctx context.Context, userID, consentType string) ([]domain.ConsentRecord, error)
	ListAllConsent(ctx context.Context) ([]domain.ConsentRecord, error)
	LastConsentHash(ctx context.Context) (string, error)
	CreateDeletionObligation(ctx context.Context, o *domain.DeletionObligation) error
	ListDeletionObligations(ctx context.Context, userID string) ([]domain.DeletionObligation, error)

	// Transaction support
	WithTx(ctx context.Context, fn func(Store) error) error

	// Lifecycle
	Ping(ctx context.Context) error
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// ListOptions defines pagination options.
type ListOptions struct {
	Limit  int
	Offset int
}

// DefaultListOptions returns default list options.
func DefaultListOptions() ListOptions {
	return ListOptions{
		Limit:  100,
		Offset: 0,
	}
}

// Normalize ensures list options have valid values.
func (o ListOptions) Normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = 100
	}
	if o.Limit > 1000 {
		o.Limit = 1000
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}

// IncidentFilter narrows incident queries.
type IncidentFilter struct {
	Region   string
	OpenOnly bool
	ListOptions
}

// AuditFilter narrows audit queries.
type AuditFilter struct {
	Region     string
	Regulation string
	ListOptions
}
