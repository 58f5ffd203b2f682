package pipelines

import (
	"fmt"

	"github.com/cortexa-labs/cortexa-go/internal/constraints"
)

// InvalidTransitionError means the requested operation is not legal from the
// pipeline's current status. The record is left untouched.
type InvalidTransitionError struct {
	PipelineID string
	From       string
	Op         string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("pipeline %s: cannot %s from status %s", e.PipelineID, e.Op, e.From)
}

// ValidationError carries the full set of rejected fields for one request.
type ValidationError struct {
	Violations []constraints.Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 1 {
		return fmt.Sprintf("validation failed: %s %s", e.Violations[0].Field, e.Violations[0].Reason)
	}
	return fmt.Sprintf("validation failed: %d violations", len(e.Violations))
}

// DispatchError means the training backend refused or could not accept the
// job. The pipeline stays in configured and start may be retried.
type DispatchError struct {
	Err error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch failed: %v", e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}
