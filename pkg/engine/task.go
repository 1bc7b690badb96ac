package engine

import (
	"context"
	"fmt"
)

// TaskFunc computes a product from the values selected by a rule's clause,
// passed in clause order. Optional selectors that resolved to nothing are
// passed as nil.
type TaskFunc func(ctx context.Context, args []any) (any, error)

// TaskNode applies a TaskRule to a subject.
type TaskNode struct {
	subject  any
	product  Product
	variants Variants
	rule     *TaskRule
}

// NewTaskNode creates a TaskNode.
func NewTaskNode(subject any, variants Variants, rule *TaskRule) TaskNode {
	return TaskNode{subject: subject, product: rule.Output, variants: variants, rule: rule}
}

func (n TaskNode) Subject() any       { return n.subject }
func (n TaskNode) Product() Product   { return n.product }
func (n TaskNode) Variants() Variants { return n.variants }
func (n TaskNode) Rule() *TaskRule    { return n.rule }
func (n TaskNode) Cacheable() bool    { return true }
func (n TaskNode) Kind() NodeKind     { return NodeKindTask }
func (TaskNode) isNode()              {}

func (n TaskNode) String() string {
	return formatNode("Task", n.subject, n.product, n.variants, n.rule.Name)
}

// Step implements Node.
func (n TaskNode) Step(deps DependencyStates, sc *StepContext) State {
	dependencies := make([]Node, 0, len(n.rule.Clause))
	for _, sel := range n.rule.Clause {
		dep := sc.SelectNode(sel, n.subject, n.variants)
		if dep == nil {
			return Noopf("dependency %s is not satisfiable", sel)
		}
		dependencies = append(dependencies, dep)
	}

	args := make([]any, len(dependencies))
	for i, dep := range dependencies {
		switch s := waitingOrState(deps, dep).(type) {
		case nil:
			return Waiting{Dependencies: dependencies}
		case Return:
			args[i] = s.Value
		case Noop:
			if !n.rule.Clause[i].Optional() {
				return Noopf("was missing (at least) input %s", dep)
			}
			args[i] = nil
		case Throw:
			return s
		default:
			return unrecognizedState(n, s)
		}
	}
	return n.invoke(sc, args)
}

func (n TaskNode) invoke(sc *StepContext, args []any) (state State) {
	ctx, done := sc.observeTask(n)
	defer func() {
		if r := recover(); r != nil {
			state = Throw{Err: NewTaskError(fmt.Sprintf("task %s panicked", n.rule.Name),
				fmt.Errorf("%v", r)).WithNode(n)}
		}
		if t, ok := state.(Throw); ok {
			done(t.Err)
		} else {
			done(nil)
		}
	}()

	value, err := n.rule.Func(withTaskSubject(ctx, n.subject), args)
	if err != nil {
		return Throw{Err: NewTaskError(fmt.Sprintf("task %s failed", n.rule.Name), err).WithNode(n)}
	}
	return Return{Value: value}
}

type taskSubjectKey struct{}

func withTaskSubject(ctx context.Context, subject any) context.Context {
	return context.WithValue(ctx, taskSubjectKey{}, subject)
}

// SubjectFromContext returns the subject of the task being invoked with ctx.
// Rules whose function depends on the subject itself, rather than on products
// selected for it, read it from here.
func SubjectFromContext(ctx context.Context) (any, bool) {
	subject := ctx.Value(taskSubjectKey{})
	return subject, subject != nil
}

func argAs[A any](args []any, i int) (A, error) {
	var zero A
	if i >= len(args) || args[i] == nil {
		return zero, nil
	}
	a, ok := args[i].(A)
	if !ok {
		return zero, fmt.Errorf("argument %d is %T, want %T", i, args[i], zero)
	}
	return a, nil
}

// Func0 adapts a function without inputs to a TaskFunc.
func Func0[R any](f func() (R, error)) TaskFunc {
	return func(_ context.Context, _ []any) (any, error) {
		return f()
	}
}

// Func1 adapts a single-input function to a TaskFunc.
func Func1[A, R any](f func(A) (R, error)) TaskFunc {
	return func(_ context.Context, args []any) (any, error) {
		a, err := argAs[A](args, 0)
		if err != nil {
			return nil, err
		}
		return f(a)
	}
}

// Func2 adapts a two-input function to a TaskFunc.
func Func2[A, B, R any](f func(A, B) (R, error)) TaskFunc {
	return func(_ context.Context, args []any) (any, error) {
		a, err := argAs[A](args, 0)
		if err != nil {
			return nil, err
		}
		b, err := argAs[B](args, 1)
		if err != nil {
			return nil, err
		}
		return f(a, b)
	}
}

// Func3 adapts a three-input function to a TaskFunc.
func Func3[A, B, C, R any](f func(A, B, C) (R, error)) TaskFunc {
	return func(_ context.Context, args []any) (any, error) {
		a, err := argAs[A](args, 0)
		if err != nil {
			return nil, err
		}
		b, err := argAs[B](args, 1)
		if err != nil {
			return nil, err
		}
		c, err := argAs[C](args, 2)
		if err != nil {
			return nil, err
		}
		return f(a, b, c)
	}
}
