package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below unwrap to these so callers can use errors.Is.
var (
	ErrInsufficientInventory = errors.New("insufficient inventory")
	ErrInvalidDistribution   = errors.New("invalid distribution")
	ErrUnknownBloodType      = errors.New("unknown blood type")
	ErrInvalidRequest        = errors.New("invalid request")
	// ErrConcurrencyConflict reports that another transaction committed first.
	// The whole unit of work may be retried.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrOverIssue reports an issuance larger than the donation's remaining units.
	ErrOverIssue = errors.New("issuance exceeds remaining units")
	// ErrIncompatibleUnit reports an inventory row outside the compatible donor set.
	ErrIncompatibleUnit = errors.New("incompatible inventory unit")
)

// InsufficientInventoryError carries every unmet (blood type, units) pair of a
// request that could not be fully satisfied.
type InsufficientInventoryError struct {
	RequestID string
	Kind      RequestKind
	Missing   []Shortfall
	// Rejection is set once the summary describing this failure was persisted.
	Rejection *RejectionSummary
}

func (e *InsufficientInventoryError) Error() string {
	parts := make([]string, 0, len(e.Missing))
	for _, s := range e.Missing {
		parts = append(parts, fmt.Sprintf("%s x%d", s.BloodType, s.Units))
	}
	return fmt.Sprintf("insufficient inventory for %s request %s: missing %s", e.Kind, e.RequestID, strings.Join(parts, ", "))
}

// Unwrap lets errors.Is match ErrInsufficientInventory.
func (e *InsufficientInventoryError) Unwrap() error { return ErrInsufficientInventory }

// InvalidDistributionError reports a distribution that cannot be resolved.
// Cause is set when the distribution itself could not be found.
type InvalidDistributionError struct {
	DistributionID string
	Reason         string
	Cause          error
}

func (e *InvalidDistributionError) Error() string {
	if e.DistributionID == "" {
		return fmt.Sprintf("invalid distribution: %s", e.Reason)
	}
	return fmt.Sprintf("invalid distribution %s: %s", e.DistributionID, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidDistribution and the cause, if any.
func (e *InvalidDistributionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrInvalidDistribution}
	}
	return []error{ErrInvalidDistribution, e.Cause}
}

// NotFoundError is returned when a referenced record does not exist.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}
