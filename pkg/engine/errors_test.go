package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEngineErrorFormatting(t *testing.T) {
	n := NewSelectNode("a", ProductOf[string](), Variants{}, "")
	err := NewTaskError("task t failed", errors.New("boom")).WithNode(n)

	assert.Equal(t, "[task_failed] task t failed (node=Select(a, string)): boom", err.Error())
	assert.Equal(t, ErrCodeTaskFailed, err.Code)
}

func TestEngineErrorIs(t *testing.T) {
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", NewFilesystemError("read failed", cause).WithCode(ErrCodeSymlink))

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, &EngineError{Kind: ErrorKindFilesystem})
	assert.ErrorIs(t, err, &EngineError{Kind: ErrorKindFilesystem, Code: ErrCodeSymlink})
	assert.NotErrorIs(t, err, &EngineError{Kind: ErrorKindFilesystem, Code: ErrCodeNotFound})
	assert.NotErrorIs(t, err, &EngineError{Kind: ErrorKindTaskFailed})
	assert.True(t, IsFilesystemError(err))
	assert.False(t, IsTaskFailure(err))
}

func TestErrorConstructors(t *testing.T) {
	a := NewSelectNode("a", ProductOf[string](), Variants{}, "")
	b := NewSelectNode("b", ProductOf[string](), Variants{}, "")

	conflict := NewConflictingProducersError("two sources", a, b)
	assert.True(t, IsConflictingProducers(conflict))
	assert.Equal(t, []string{"Select(a, string)", "Select(b, string)"}, conflict.Details["candidates"])

	cycle := NewGraphCycleError([]Node{a, b, a})
	assert.True(t, IsGraphCycle(cycle))
	assert.Contains(t, cycle.Error(), "Select(a, string) -> Select(b, string) -> Select(a, string)")

	cancelled := NewCancelledError(context.Canceled)
	assert.True(t, IsCancelled(cancelled))
	assert.ErrorIs(t, cancelled, context.Canceled)

	nondet := NewNondeterminismError(a, Return{Value: 1}, Return{Value: 2})
	assert.Equal(t, "Return(1)", nondet.Details["previous"])
	assert.Equal(t, ErrCodeInternal, nondet.Code)

	assert.True(t, IsMissingDependency(NewMissingDependencyError("missing", nil)))
	assert.Equal(t, ErrorKindStalled, NewStalledError(a).Kind)
	assert.Equal(t, ErrCodeValidation, NewInvalidRuleError("bad", nil).Code)
}
