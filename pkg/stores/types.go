package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// RootRecord is the persisted result of one root of a run.
type RootRecord struct {
	RunID   string             `json:"run_id"`
	Index   int                `json:"index"`
	Root    string             `json:"root"`
	Outcome engine.RootOutcome `json:"outcome"`
	Value   *string            `json:"value,omitempty"`   // rendered Return value
	Message *string            `json:"message,omitempty"` // Throw error or Noop reason
	Trace   *string            `json:"trace,omitempty"`   // rendered failure trace
}

// Invalidation is a persisted invalidation of the product graph.
type Invalidation struct {
	ID        int64     `json:"id"`
	Reason    string    `json:"reason"`
	Removed   int       `json:"removed"`
	Timestamp time.Time `json:"timestamp"`
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Status *engine.RunStatus
	User   *string
	Limit  int
	Offset int
}

// Store defines the interface for the run history persistence layer
type Store interface {
	engine.RunRecorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Run operations
	CreateRun(ctx context.Context, run *engine.Run) error
	GetRun(ctx context.Context, id string) (*engine.Run, error)
	UpdateRun(ctx context.Context, run *engine.Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*engine.Run, error)
	DeleteRun(ctx context.Context, id string) error
	PruneRuns(ctx context.Context, before time.Time) (int64, error)

	// Root result operations
	SaveRootResults(ctx context.Context, runID string, results []RootRecord) error
	ListRootResults(ctx context.Context, runID string) ([]*RootRecord, error)

	// Invalidation operations
	AppendInvalidation(ctx context.Context, inv *Invalidation) error
	ListInvalidations(ctx context.Context, limit, offset int) ([]*Invalidation, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

// NewRootRecord renders a root result for persistence.
func NewRootRecord(runID string, index int, r engine.RootResult) RootRecord {
	rec := RootRecord{
		RunID:   runID,
		Index:   index,
		Root:    r.Root.String(),
		Outcome: r.Outcome,
	}
	switch st := r.State.(type) {
	case engine.Return:
		v := renderValue(st.Value)
		rec.Value = &v
	case engine.Throw:
		msg := "<nil>"
		if st.Err != nil {
			msg = st.Err.Error()
		}
		rec.Message = &msg
		if len(r.Trace) > 0 {
			trace := engine.FormatTrace(r.Trace)
			rec.Trace = &trace
		}
	case engine.Noop:
		msg := st.Msg
		rec.Message = &msg
	}
	return rec
}
