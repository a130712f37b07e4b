package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the orchestrator's error taxonomy. Callers branch
// with errors.Is; wrapping sites add context with fmt.Errorf and %w.
var (
	// Not-found, distinguished by entity type.
	ErrRunNotFound     = errors.New("run not found")
	ErrMemoryNotFound  = errors.New("memory entry not found")
	ErrRequestNotFound = errors.New("payment request not found")
	ErrProfileNotFound = errors.New("agent profile not found")

	// Validation: reported immediately, never retried.
	ErrInvalidRiskScore = errors.New("risk score must be within [0.0, 1.0]")
	ErrInvalidNamespace = errors.New("namespace is malformed")

	// Precondition violations: fatal for the current run.
	ErrComplianceNotApproved = errors.New("no PASS compliance event exists for run")
	ErrComplianceRejected    = errors.New("compliance check did not pass")
	ErrComplianceCheckFailed = errors.New("compliance check failed for run")

	// Transient: retried a bounded number of times, then surfaced.
	ErrStorageUnavailable = errors.New("storage backend unavailable")

	// Cancellation between stages.
	ErrRunCancelled = errors.New("run cancelled")
)

// ImmutableRecordError is returned for any mutate or delete attempt against
// an append-only record family.
type ImmutableRecordError struct {
	Family RecordFamily
}

func (e *ImmutableRecordError) Error() string {
	return fmt.Sprintf("%s is append-only; mutations and deletions are not permitted.", e.Family)
}

// IsImmutableViolation reports whether err is an immutability violation.
func IsImmutableViolation(err error) bool {
	var ire *ImmutableRecordError
	return errors.As(err, &ire)
}
