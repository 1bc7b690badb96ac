package engine

import (
	"time"
)

// Root is a product requested by a caller.
type Root struct {
	// Subject is the value the product is requested for.
	Subject any `json:"subject"`

	// Product is the requested product.
	Product Product `json:"-"`

	// Variants override the subject's default variants.
	Variants Variants `json:"-"`

	// VariantKey optionally restricts the match to values named after the
	// variant configured for this key.
	VariantKey string `json:"variant_key,omitempty"`
}

// Node returns the Select node that computes the root.
func (r Root) Node() Node {
	return SelectNode{subject: r.Subject, product: r.Product, variants: r.Variants, variantKey: r.VariantKey}
}

func (r Root) String() string { return r.Node().String() }

// ExecutionRequest describes a batch of roots computed in one run.
type ExecutionRequest struct {
	// Roots are the requested products.
	Roots []Root `json:"roots"`

	// FailFast stops scheduling new work once any root fails.
	FailFast bool `json:"fail_fast"`

	// User is the user who requested the run.
	User string `json:"user,omitempty"`

	// Labels are free-form annotations persisted with the run.
	Labels map[string]string `json:"labels,omitempty"`
}

// RootResult is the terminal state of one root.
type RootResult struct {
	Root    Root         `json:"root"`
	Node    Node         `json:"-"`
	State   State        `json:"-"`
	Outcome RootOutcome  `json:"outcome"`
	Trace   []TraceEntry `json:"-"`
}

// Err returns the error of a failed root, or nil.
func (r RootResult) Err() error {
	if t, ok := r.State.(Throw); ok {
		return t.Err
	}
	return nil
}

// Value returns the value of a root that returned.
func (r RootResult) Value() (any, bool) {
	if ret, ok := r.State.(Return); ok {
		return ret.Value, true
	}
	return nil, false
}

// ExecutionResult is the outcome of a run.
type ExecutionResult struct {
	RunID       string        `json:"run_id"`
	Status      RunStatus     `json:"status"`
	Roots       []RootResult  `json:"roots"`
	Steps       int           `json:"steps"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Graph       GraphStats    `json:"graph"`
}

// FirstFailure returns the first root that ended in a Throw.
func (r *ExecutionResult) FirstFailure() (RootResult, bool) {
	for _, root := range r.Roots {
		if _, ok := root.State.(Throw); ok {
			return root, true
		}
	}
	return RootResult{}, false
}

// Err returns the error of the first failed root, or nil.
func (r *ExecutionResult) Err() error {
	if f, ok := r.FirstFailure(); ok {
		return f.Err()
	}
	return nil
}

// Run is the persisted record of an execution run.
type Run struct {
	ID          string            `json:"id"`
	Status      RunStatus         `json:"status"`
	User        string            `json:"user,omitempty"`
	Roots       int               `json:"roots"`
	Steps       int               `json:"steps"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Duration    time.Duration     `json:"duration"`
	Labels      map[string]string `json:"labels,omitempty"`
}

// ExecuteOption configures a single-root request.
type ExecuteOption func(*Root)

// WithVariants sets the variants of a single-root request.
func WithVariants(v Variants) ExecuteOption {
	return func(r *Root) { r.Variants = v }
}

// WithVariantKey sets the variant key of a single-root request.
func WithVariantKey(key string) ExecuteOption {
	return func(r *Root) { r.VariantKey = key }
}
