package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnknownRegion     = errors.New("unknown region")
	ErrDuplicateRegion   = errors.New("region already registered")
)

// =============================================================================
// ValidationError
// =============================================================================

// ValidationError reports a structurally invalid input. It is never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return "validation failed: " + e.Message
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// =============================================================================
// ConflictError
// =============================================================================

// ConflictError is returned when a deployment for the same version is already
// pending or in progress.
type ConflictError struct {
	Version    string
	ExistingID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("deployment %s for version %s is already in progress", e.ExistingID, e.Version)
}

// =============================================================================
// ExternalCallError
// =============================================================================

// ExternalCallError wraps a failed call to a regional control plane or probe
// after all retries were exhausted.
type ExternalCallError struct {
	Op       string // deploy, validate, set-traffic, probe, decommission
	Region   string
	Attempts int
	Err      error
}

func (e *ExternalCallError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s %s failed after %d attempts: %v", e.Op, e.Region, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s %s failed: %v", e.Op, e.Region, e.Err)
}

func (e *ExternalCallError) Unwrap() error {
	return e.Err
}

// =============================================================================
// ReplicationTimeoutError
// =============================================================================

// ReplicationTimeoutError is returned when a strong-consistency write could not
// observe replication to every listed region within the timeout.
type ReplicationTimeoutError struct {
	Lagging []string
	Timeout time.Duration
}

func (e *ReplicationTimeoutError) Error() string {
	return fmt.Sprintf("replication to %s did not catch up within %s",
		strings.Join(e.Lagging, ", "), e.Timeout)
}

// =============================================================================
// ComplianceViolationError
// =============================================================================

// ComplianceViolationError blocks a region before any infrastructure change.
type ComplianceViolationError struct {
	Region     string
	DataType   string
	Violations []string
}

func (e *ComplianceViolationError) Error() string {
	return fmt.Sprintf("region %s may not host %s data: %s",
		e.Region, e.DataType, strings.Join(e.Violations, "; "))
}

// =============================================================================
// RollbackEscalation
// =============================================================================

// RollbackEscalation signals a rollback that stalled and needs manual
// intervention. No further automatic action is taken.
type RollbackEscalation struct {
	DeploymentID string
	Reason       string
	Err          error
}

func (e *RollbackEscalation) Error() string {
	return fmt.Sprintf("rollback of deployment %s escalated: %s", e.DeploymentID, e.Reason)
}

func (e *RollbackEscalation) Unwrap() error {
	return e.Err
}
