package reservation

import (
	"errors"
	"fmt"
	"strings"

	"larder/internal/availability"
)

// Sentinel errors propagated to callers, who branch with errors.Is.
var (
	// ErrNotFound: no reservation exists for the given id or order.
	ErrNotFound = errors.New("reservation not found")
	// ErrStateConflict: the reservation is already in a terminal state.
	ErrStateConflict = errors.New("reservation state conflict")
	// ErrVersionConflict: a concurrent writer got there first; re-fetch and
	// retry instead of overwriting.
	ErrVersionConflict = errors.New("reservation version conflict")
	// ErrExpired: the reservation is past its expiry and must be treated as
	// already released.
	ErrExpired = errors.New("reservation expired")
)

// ValidationError reports malformed input, rejected before any write.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// InsufficientInventoryError is the structured insufficient-inventory result:
// an expected outcome the caller branches on, carrying the itemized shortfall
// and any substitution options that could unblock the order.
type InsufficientInventoryError struct {
	Report *availability.Report
}

func (e *InsufficientInventoryError) Error() string {
	if e.Report == nil || len(e.Report.Insufficient) == 0 {
		return "insufficient inventory"
	}
	parts := make([]string, 0, len(e.Report.Insufficient))
	for _, detail := range e.Report.Insufficient {
		parts = append(parts, fmt.Sprintf("%s short by %g %s", detail.Name, detail.Shortfall, detail.Unit))
	}
	return "insufficient inventory: " + strings.Join(parts, ", ")
}
