// Package store persists projects and deployments in SQLite.
package store

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// Lookup and uniqueness
	ErrNotFound         = errors.New("record not found")
	ErrDuplicateID      = errors.New("record with this ID already exists")
	ErrDuplicateWebhook = errors.New("webhook is already registered to a project")

	// A deployment referenced a project that does not exist.
	ErrForeignKey = errors.New("project reference is dangling")

	// Database lifecycle
	ErrConnectionFailed = errors.New("database connection failed")
	ErrMigrationFailed  = errors.New("database migration failed")
	ErrTxFailed         = errors.New("transaction failed")

	// A stored JSON column (domains, revision, logs) could not be encoded or decoded.
	ErrInvalidData = errors.New("invalid stored data")
)

// StoreError carries the failing store operation and the record it touched.
// Entity is "project" or "deployment"; both Entity and ID may be empty for
// connection-level failures.
type StoreError struct {
	Op      string
	Entity  string
	ID      string
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s %s %s: %s", e.Op, e.Entity, e.ID, e.Message)
	}
	if e.Entity != "" {
		return fmt.Sprintf("%s %s: %s", e.Op, e.Entity, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func NewStoreError(op, entity, id, message string, err error) *StoreError {
	return &StoreError{
		Op:      op,
		Entity:  entity,
		ID:      id,
		Message: message,
		Err:     err,
	}
}

// IsNotFound reports whether err means the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
