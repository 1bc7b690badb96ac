package engine

import (
	"fmt"
	"strings"
)

// NodeKind names one of the fixed set of node implementations.
type NodeKind string

const (
	NodeKindSelect       NodeKind = "select"
	NodeKindDependencies NodeKind = "dependencies"
	NodeKindProjection   NodeKind = "projection"
	NodeKindTask         NodeKind = "task"
	NodeKindFilesystem   NodeKind = "filesystem"
)

// AllNodeKinds lists every node kind.
var AllNodeKinds = []NodeKind{
	NodeKindSelect,
	NodeKindDependencies,
	NodeKindProjection,
	NodeKindTask,
	NodeKindFilesystem,
}

// Node is a unit of computation: a request for a product of a subject under
// some variants, plus kind-specific parameters.
//
// Nodes are immutable values and are compared with ==, so they are used
// directly as ProductGraph keys. Subjects must therefore be comparable.
// The set of implementations is closed: SelectNode, DependenciesNode,
// ProjectionNode, TaskNode and FilesystemNode.
type Node interface {
	fmt.Stringer

	// Subject is the value the product is requested for.
	Subject() any

	// Product is the type of value the node produces.
	Product() Product

	// Variants are the variants in effect for the node.
	Variants() Variants

	// Cacheable reports whether terminal states may be memoized in the graph.
	Cacheable() bool

	// Kind returns the node kind.
	Kind() NodeKind

	// Step computes the node's current state from the states of the
	// dependencies it has named so far. Step never blocks.
	Step(deps DependencyStates, sc *StepContext) State

	isNode()
}

// DependencyStates holds the terminal states of the dependencies a node has
// named in earlier Waiting results.
type DependencyStates map[Node]State

// Get returns the terminal state for n. It reports false when n has not
// completed yet.
func (d DependencyStates) Get(n Node) (State, bool) {
	s, ok := d[n]
	if !ok || s == nil {
		return nil, false
	}
	if _, waiting := s.(Waiting); waiting {
		return nil, false
	}
	return s, true
}

func formatSubject(subject any) string {
	if s, ok := subject.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", subject)
}

func formatNode(kind string, subject any, product Product, variants Variants, extra ...string) string {
	var b strings.Builder
	b.WriteString(kind)
	b.WriteString("(")
	b.WriteString(formatSubject(subject))
	b.WriteString(", ")
	b.WriteString(product.Name())
	if !variants.IsEmpty() {
		b.WriteString(", {")
		b.WriteString(variants.String())
		b.WriteString("}")
	}
	for _, e := range extra {
		if e == "" {
			continue
		}
		b.WriteString(", ")
		b.WriteString(e)
	}
	b.WriteString(")")
	return b.String()
}

// waitingOrState returns the state of n if it has completed, otherwise nil.
func waitingOrState(deps DependencyStates, n Node) State {
	s, ok := deps.Get(n)
	if !ok {
		return nil
	}
	return s
}

func unrecognizedState(n Node, s State) State {
	return Throw{Err: NewInvalidRuleError(fmt.Sprintf("unrecognized state %v", s), nil).WithNode(n)}
}
