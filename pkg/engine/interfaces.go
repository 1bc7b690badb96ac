package engine

import (
	"context"
)

// RunRecorder persists the history of execution runs.
type RunRecorder interface {
	// RecordRunStarted saves a run when it starts.
	RecordRunStarted(ctx context.Context, run *Run) error

	// RecordRunCompleted saves the final state of a run and its root results.
	RecordRunCompleted(ctx context.Context, run *Run, results []RootResult) error

	// RecordInvalidation saves an invalidation of the graph.
	RecordInvalidation(ctx context.Context, reason string, removed int) error
}
