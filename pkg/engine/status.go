package engine

import (
	"fmt"
)

// RunStatus represents the overall status of an execution run.
type RunStatus string

const (
	// RunStatusPending indicates the run is created but not yet started.
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every root returned a value or a Noop.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates every root failed.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the run was cancelled before its roots completed.
	RunStatusCancelled RunStatus = "cancelled"

	// RunStatusPartial indicates some roots failed and some did not.
	RunStatusPartial RunStatus = "partial"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusCancelled || s == RunStatusPartial
}

// IsActive returns true if the run is currently active (pending or running).
func (s RunStatus) IsActive() bool {
	return s == RunStatusPending || s == RunStatusRunning
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusPending, RunStatusRunning, RunStatusSucceeded,
		RunStatusFailed, RunStatusCancelled, RunStatusPartial:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// RootOutcome summarizes the terminal state of a root.
type RootOutcome string

const (
	RootOutcomeReturned  RootOutcome = "returned"
	RootOutcomeNoop      RootOutcome = "noop"
	RootOutcomeFailed    RootOutcome = "failed"
	RootOutcomeCancelled RootOutcome = "cancelled"
)

// OutcomeOf classifies a terminal state.
func OutcomeOf(s State) RootOutcome {
	switch st := s.(type) {
	case Return:
		return RootOutcomeReturned
	case Noop:
		return RootOutcomeNoop
	case Throw:
		if IsCancelled(st.Err) {
			return RootOutcomeCancelled
		}
		return RootOutcomeFailed
	default:
		return RootOutcomeCancelled
	}
}

// runStatusOf derives the run status from its root outcomes.
func runStatusOf(results []RootResult) RunStatus {
	var failed, cancelled, ok int
	for _, r := range results {
		switch r.Outcome {
		case RootOutcomeFailed:
			failed++
		case RootOutcomeCancelled:
			cancelled++
		default:
			ok++
		}
	}
	switch {
	case failed == 0 && cancelled == 0:
		return RunStatusSucceeded
	case cancelled > 0 && failed == 0 && ok == 0:
		return RunStatusCancelled
	case ok == 0:
		return RunStatusFailed
	default:
		return RunStatusPartial
	}
}
