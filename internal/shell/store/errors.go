// Package store provides durable, append-only persistence for deployment
// history, incidents, compliance audits and the consent ledger.
package store

import (
	"errors"
	"fmt"

	sqlite "github.com/mattn/go-sqlite3"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	ErrNotFound         = errors.New("record not found")
	ErrDuplicateID      = errors.New("record already exists")
	ErrForeignKey       = errors.New("referenced record does not exist")
	ErrConnectionFailed = errors.New("database connection failed")
	ErrMigrationFailed  = errors.New("database migration failed")

	// ErrInvalidData covers rows whose JSON or timestamp columns cannot be
	// decoded, and values that cannot be encoded for storage.
	ErrInvalidData = errors.New("invalid stored data")

	ErrTxFailed = errors.New("transaction failed")
)

// StoreError records which operation on which record failed. Err is one of
// the sentinels above or a driver error.
type StoreError struct {
	Op      string // e.g. "AppendDeploymentEvent"
	Entity  string // table-level name, e.g. "deployment"
	ID      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	switch {
	case e.ID != "":
		return fmt.Sprintf("store: %s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	case e.Entity != "":
		return fmt.Sprintf("store: %s %s: %s", e.Op, e.Entity, e.Message)
	default:
		return fmt.Sprintf("store: %s: %s", e.Op, e.Message)
	}
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, entity, id, message string, err error) *StoreError {
	return &StoreError{Op: op, Entity: entity, ID: id, Message: message, Err: err}
}

// IsNotFound reports whether err is, or wraps, ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// =============================================================================
// Driver Error Classification
// =============================================================================

func constraintCode(err error) (sqlite.ErrNoExtended, bool) {
	var se sqlite.Error
	if !errors.As(err, &se) || se.Code != sqlite.ErrConstraint {
		return 0, false
	}
	return se.ExtendedCode, true
}

func isUniqueViolation(err error) bool {
	code, ok := constraintCode(err)
	return ok && (code == sqlite.ErrConstraintUnique || code == sqlite.ErrConstraintPrimaryKey)
}

func isForeignKeyViolation(err error) bool {
	code, ok := constraintCode(err)
	return ok && code == sqlite.ErrConstraintForeignKey
}
