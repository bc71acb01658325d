package models

import (
	"fmt"

	"github.com/google/uuid"
)

// InvalidOperationError reports an adjudication call whose preconditions
// do not hold: confirming or rejecting an unpaired record, or linking
// records that are already paired or share a source. Always recoverable
// by the caller.
type InvalidOperationError struct {
	Op       string
	RecordID uuid.UUID
	Status   Status
	Reason   string
}

func (e *InvalidOperationError) Error() string {
	return fmt.Sprintf("invalid operation %s on record %s (status %s): %s", e.Op, e.RecordID, e.Status, e.Reason)
}

// ContractViolationError reports a programming error in how the engine
// was driven, such as scoring two records of the same source. The
// operation that hit it must abort rather than produce a corrupt pairing.
type ContractViolationError struct {
	Reason string
}

func (e *ContractViolationError) Error() string {
	return "contract violation: " + e.Reason
}

// ConfigurationError reports an out-of-range threshold, tolerance or
// weight set.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}
