package api

import (
	"time"

	"github.com/CleanExpo/Zenith-Fresh-sub002/internal/core/domain"
)

// =============================================================================
// Common Types
// =============================================================================

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ReadyResponse is returned by /ready.
type ReadyResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

// ListResponse wraps paginated collections.
type ListResponse[T any] struct {
	Data   []T `json:"data"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// =============================================================================
// Deployment Types
// =============================================================================

// DeploymentAccepted is returned when a deployment or rollback is accepted.
type DeploymentAccepted struct {
	ID     string                 `json:"id"`
	Status domain.DeploymentState `json:"status"`
}

// =============================================================================
// Region Types
// =============================================================================

// UpdateCapacityRequest replaces a region's capacity bounds.
type UpdateCapacityRequest struct {
	MinInstances int `json:"min_instances"`
	MaxInstances int `json:"max_instances"`
}

// =============================================================================
// Compliance Types
// =============================================================================

// DataLocationRequest asks whether a region may host a data type.
type DataLocationRequest struct {
	DataType string `json:"data_type"`
	Region   string `json:"region"`
}

// EncryptionRequest asks whether an encryption level suffices for a data
// type.
type EncryptionRequest struct {
	DataType string                 `json:"data_type"`
	Level    domain.EncryptionLevel `json:"level"`
}

// ConsentRequest grants, withdraws or queries consent.
type ConsentRequest struct {
	UserID      string               `json:"user_id"`
	ConsentType string               `json:"consent_type"`
	Action      domain.ConsentAction `json:"action"`
}

// AuditRequest runs an audit. An empty regulation audits every rule that
// governs the region.
type AuditRequest struct {
	Region     string `json:"region"`
	Regulation string `json:"regulation,omitempty"`
}

// LedgerResponse reports hash chain verification.
type LedgerResponse struct {
	Ledger string `json:"ledger"`
	Valid  bool   `json:"valid"`
	Error  string `json:"error,omitempty"`
}

// =============================================================================
// Routing Types
// =============================================================================

// RouteResponse is the outcome of a routing decision.
type RouteResponse struct {
	Region             string         `json:"region"`
	Operation          string         `json:"operation"`
	Consistency        string         `json:"consistency"`
	Distance           float64        `json:"distance_ms"`
	ConsideredCount    int            `json:"considered"`
	FilteredOutReasons map[string]int `json:"filtered_out"`
	Fallback           bool           `json:"fallback"`
}

// TopologyMember is one replica in the topology response.
type TopologyMember struct {
	Region  string `json:"region"`
	Primary bool   `json:"primary"`
	Sync    bool   `json:"sync"`
	MaxLag  string `json:"max_lag,omitempty"`
}

// TopologyResponse describes the replicated store.
type TopologyResponse struct {
	Primary string           `json:"primary"`
	Members []TopologyMember `json:"members"`
}

// FailoverRequest promotes a replica to primary.
type FailoverRequest struct {
	Region string `json:"region"`
}

// FailoverResponse reports a primary change.
type FailoverResponse struct {
	Previous string    `json:"previous"`
	Primary  string    `json:"primary"`
	At       time.Time `json:"at"`
}
