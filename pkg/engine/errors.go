package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure produced while computing a product.
type ErrorKind string

const (
	// ErrorKindConflictingProducers indicates that more than one rule produced
	// a differing value for the same (subject, product, variants).
	ErrorKindConflictingProducers ErrorKind = "conflicting_producers"

	// ErrorKindMissingDependency indicates that an explicitly declared dependency
	// could not produce the requested product.
	ErrorKindMissingDependency ErrorKind = "missing_dependency"

	// ErrorKindGraphCycle indicates that a dependency edge would close a cycle.
	ErrorKindGraphCycle ErrorKind = "graph_cycle"

	// ErrorKindTaskFailed indicates that a task function returned an error or panicked.
	ErrorKindTaskFailed ErrorKind = "task_failed"

	// ErrorKindFilesystem indicates a failure reading the project tree.
	ErrorKindFilesystem ErrorKind = "filesystem"

	// ErrorKindNondeterminism indicates that a node completed twice with unequal states.
	ErrorKindNondeterminism ErrorKind = "nondeterminism"

	// ErrorKindStalled indicates that a node kept waiting without naming any
	// dependency that could still make progress.
	ErrorKindStalled ErrorKind = "stalled"

	// ErrorKindCancelled indicates that the run was cancelled before the node completed.
	ErrorKindCancelled ErrorKind = "cancelled"

	// ErrorKindInvalidRule indicates a malformed rule or selector.
	ErrorKindInvalidRule ErrorKind = "invalid_rule"
)

// EngineError is the error carried by Throw states and returned by engine APIs.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Kind is the failure classification.
	Kind ErrorKind `json:"kind"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Node is the rendered node that failed, if known.
	Node string `json:"node,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind, e.Message)
	if e.Node != "" {
		msg += fmt.Sprintf(" (node=%s)", e.Node)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
// Two engine errors match when their kinds match and, if the target carries
// a code, their codes match too.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Code == "" || e.Code == t.Code
}

func newError(kind ErrorKind, message string, err error) *EngineError {
	return &EngineError{Kind: kind, Message: message, Err: err}
}

// NewConflictingProducersError reports that candidates disagreed about a product.
func NewConflictingProducersError(message string, candidates ...Node) *EngineError {
	e := newError(ErrorKindConflictingProducers, message, nil).WithCode(ErrCodeConflict)
	if len(candidates) > 0 {
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = c.String()
		}
		e.WithDetail("candidates", names)
	}
	return e
}

// NewMissingDependencyError reports that an explicit dependency had no source.
func NewMissingDependencyError(message string, err error) *EngineError {
	return newError(ErrorKindMissingDependency, message, err).WithCode(ErrCodeNotFound)
}

// NewGraphCycleError reports a cycle between nodes. The path lists the nodes
// forming the cycle, starting and ending with the same node.
func NewGraphCycleError(path []Node) *EngineError {
	return newError(ErrorKindGraphCycle, "dependency cycle detected: "+formatCycle(path), nil).
		WithCode(ErrCodeCycle)
}

// NewTaskError wraps a failure raised by a task function.
func NewTaskError(message string, err error) *EngineError {
	return newError(ErrorKindTaskFailed, message, err).WithCode(ErrCodeTaskFailed)
}

// NewFilesystemError wraps a failure reading the project tree.
func NewFilesystemError(message string, err error) *EngineError {
	return newError(ErrorKindFilesystem, message, err).WithCode(ErrCodeFilesystem)
}

// NewNondeterminismError reports that a node completed with two unequal states.
func NewNondeterminismError(node Node, previous, next State) *EngineError {
	return newError(ErrorKindNondeterminism, "node completed with a different state", nil).
		WithNode(node).
		WithCode(ErrCodeInternal).
		WithDetail("previous", previous.String()).
		WithDetail("next", next.String())
}

// NewStalledError reports a node that waited without naming a dependency that can progress.
func NewStalledError(node Node) *EngineError {
	return newError(ErrorKindStalled, "node is waiting on no incomplete dependencies", nil).
		WithNode(node).
		WithCode(ErrCodeInternal)
}

// NewCancelledError wraps a context cancellation.
func NewCancelledError(err error) *EngineError {
	return newError(ErrorKindCancelled, "execution cancelled", err).WithCode(ErrCodeCancelled)
}

// NewInvalidRuleError reports a malformed rule or selector.
func NewInvalidRuleError(message string, err error) *EngineError {
	return newError(ErrorKindInvalidRule, message, err).WithCode(ErrCodeValidation)
}

// WithNode adds node context to an error.
func (e *EngineError) WithNode(node Node) *EngineError {
	if node != nil {
		e.Node = node.String()
	}
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func isKind(err error, kind ErrorKind) bool {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsConflictingProducers returns true if the error reports conflicting producers.
func IsConflictingProducers(err error) bool {
	return isKind(err, ErrorKindConflictingProducers)
}

// IsMissingDependency returns true if the error reports a missing explicit dependency.
func IsMissingDependency(err error) bool {
	return isKind(err, ErrorKindMissingDependency)
}

// IsGraphCycle returns true if the error reports a dependency cycle.
func IsGraphCycle(err error) bool {
	return isKind(err, ErrorKindGraphCycle)
}

// IsTaskFailure returns true if the error was raised by a task function.
func IsTaskFailure(err error) bool {
	return isKind(err, ErrorKindTaskFailed)
}

// IsFilesystemError returns true if the error came from the project tree.
func IsFilesystemError(err error) bool {
	return isKind(err, ErrorKindFilesystem)
}

// IsCancelled returns true if the error reports a cancelled execution.
func IsCancelled(err error) bool {
	return isKind(err, ErrorKindCancelled)
}

// Common error codes.
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeConflict   = "CONFLICT"
	ErrCodeCycle      = "CYCLE"
	ErrCodeTaskFailed = "TASK_FAILED"
	ErrCodeFilesystem = "FILESYSTEM_ERROR"
	ErrCodeSymlink    = "SYMLINK_REJECTED"
	ErrCodeCancelled  = "CANCELLED"
	ErrCodeInternal   = "INTERNAL_ERROR"
)
