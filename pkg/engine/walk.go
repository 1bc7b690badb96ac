package engine

import (
	"strings"
)

// WalkEntry is one node visited by Walk, with the dependencies that passed
// the walk predicate.
type WalkEntry struct {
	Node         Node
	State        State
	Dependencies []Node
}

// WalkPredicate filters the nodes visited by Walk. The state is nil for
// incomplete and non-cacheable nodes.
type WalkPredicate func(n Node, s State) bool

// DefaultWalkPredicate skips Noop subgraphs.
func DefaultWalkPredicate(_ Node, s State) bool {
	_, noop := s.(Noop)
	return !noop
}

// AllNodes visits every node.
func AllNodes(Node, State) bool { return true }

// Walk visits the graph depth-first in pre-order from roots. Subgraphs below
// nodes rejected by predicate are not visited. A nil predicate uses
// DefaultWalkPredicate.
func (g *ProductGraph) Walk(roots []Node, predicate WalkPredicate) []WalkEntry {
	if predicate == nil {
		predicate = DefaultWalkPredicate
	}
	g.mu.RLock()
	defer g.mu.RUnlock()

	filtered := func(nodes []Node) []Node {
		var out []Node
		for _, n := range nodes {
			s, _ := g.lookupLocked(n)
			if predicate(n, s) {
				out = append(out, n)
			}
		}
		return out
	}

	var out []WalkEntry
	walked := make(map[Node]struct{})
	var walk func(nodes []Node)
	walk = func(nodes []Node) {
		for _, n := range nodes {
			if _, ok := walked[n]; ok {
				continue
			}
			walked[n] = struct{}{}
			s, _ := g.lookupLocked(n)
			var deps []Node
			if e, ok := g.entries[n]; ok {
				deps = filtered(e.deps)
			}
			out = append(out, WalkEntry{Node: n, State: s, Dependencies: deps})
			walk(deps)
		}
	}
	walk(filtered(roots))
	return out
}

// TraceEntry is one hop of a failure trace.
type TraceEntry struct {
	Node  Node
	State State
}

// TraceFailure follows a Throw from root down through the dependencies it
// came from, ending at the node where it originated.
func (g *ProductGraph) TraceFailure(root Node) []TraceEntry {
	return g.traceFailure(root, nil)
}

func (g *ProductGraph) traceFailure(root Node, local func(Node) (State, bool)) []TraceEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()

	state := func(n Node) (State, bool) {
		if n.Cacheable() {
			return g.lookupLocked(n)
		}
		if local != nil {
			return local(n)
		}
		return nil, false
	}

	var trace []TraceEntry
	visited := make(map[Node]struct{})
	cur := root
	for cur != nil {
		if _, ok := visited[cur]; ok {
			break
		}
		visited[cur] = struct{}{}
		s, ok := state(cur)
		if !ok {
			break
		}
		trace = append(trace, TraceEntry{Node: cur, State: s})
		if _, failed := s.(Throw); !failed {
			break
		}

		e, ok := g.entries[cur]
		if !ok {
			break
		}
		var next Node
		for _, dep := range e.deps {
			if ds, ok := state(dep); ok {
				if _, failed := ds.(Throw); failed {
					next = dep
					break
				}
			}
		}
		if next == nil && len(e.cyclic) > 0 {
			dep := e.cyclic[0]
			trace = append(trace, TraceEntry{
				Node:  dep,
				State: Throw{Err: NewGraphCycleError(e.cyclicPaths[dep]).WithNode(cur)},
			})
		}
		cur = next
	}
	return trace
}

// FormatTrace renders a failure trace, indenting each hop below the previous one.
func FormatTrace(trace []TraceEntry) string {
	var b strings.Builder
	for i, t := range trace {
		b.WriteString(strings.Repeat("  ", i))
		b.WriteString("Computing ")
		b.WriteString(t.Node.String())
		if i == len(trace)-1 {
			b.WriteString("\n")
			b.WriteString(strings.Repeat("  ", i+1))
			b.WriteString(t.State.String())
		}
		b.WriteString("\n")
	}
	return b.String()
}
