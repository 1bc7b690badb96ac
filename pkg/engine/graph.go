package engine

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// entry is the graph's record for one node.
type entry struct {
	// state is the memoized terminal state; nil while incomplete and always
	// nil for non-cacheable nodes.
	state State

	// deps are the dependencies in the order they were first named.
	deps   []Node
	depSet map[Node]struct{}

	dependents map[Node]struct{}

	// cyclic holds dependencies that would have closed a cycle, with the cycle path.
	cyclic           []Node
	cyclicPaths      map[Node][]Node
	cyclicDependents map[Node]struct{}
}

func newEntry() *entry {
	return &entry{
		depSet:           make(map[Node]struct{}),
		dependents:       make(map[Node]struct{}),
		cyclicPaths:      make(map[Node][]Node),
		cyclicDependents: make(map[Node]struct{}),
	}
}

// CyclicDependency is a dependency edge that was not added because it would
// have closed a cycle.
type CyclicDependency struct {
	Dependency Node
	Path       []Node
}

// EdgeUpdate reports what AddDependencies changed.
type EdgeUpdate struct {
	Added  int
	Cyclic int
}

// Changed reports whether any edge was recorded.
func (u EdgeUpdate) Changed() bool { return u.Added+u.Cyclic > 0 }

// ProductGraph memoizes node states and records which nodes consulted which,
// so that invalidating an input removes everything computed from it.
//
// All reads and writes go through a single mutex, so a reader never observes
// a half-recorded state or edge.
type ProductGraph struct {
	mu      sync.RWMutex
	entries map[Node]*entry
}

// NewProductGraph creates an empty graph.
func NewProductGraph() *ProductGraph {
	return &ProductGraph{entries: make(map[Node]*entry)}
}

func (g *ProductGraph) ensure(n Node) *entry {
	e, ok := g.entries[n]
	if !ok {
		e = newEntry()
		g.entries[n] = e
	}
	return e
}

// State returns the memoized terminal state of n. Non-cacheable nodes never
// have a memoized state.
func (g *ProductGraph) State(n Node) (State, bool) {
	if !n.Cacheable() {
		return nil, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entries[n]
	if !ok || e.state == nil {
		return nil, false
	}
	return e.state, true
}

// IsComplete reports whether n has a memoized terminal state.
func (g *ProductGraph) IsComplete(n Node) bool {
	_, ok := g.State(n)
	return ok
}

// SetState records a terminal state for n. Recording a state that differs
// from an already recorded one is reported as non-determinism; recording an
// equal state again is allowed. States of non-cacheable nodes are not kept.
func (g *ProductGraph) SetState(n Node, s State) error {
	if !IsTerminal(s) {
		return NewInvalidRuleError(fmt.Sprintf("cannot complete node with state %v", s), nil).WithNode(n)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.ensure(n)
	if !n.Cacheable() {
		return nil
	}
	if e.state != nil {
		if StatesEqual(e.state, s) {
			return nil
		}
		return NewNondeterminismError(n, e.state, s)
	}
	e.state = s
	return nil
}

// AddDependencies records that n consulted deps. Edges that would close a
// cycle are kept aside as cyclic dependencies together with the cycle path.
func (g *ProductGraph) AddDependencies(n Node, deps []Node) (EdgeUpdate, error) {
	var update EdgeUpdate
	g.mu.Lock()
	defer g.mu.Unlock()

	e := g.ensure(n)
	if e.state != nil {
		return update, NewInvalidRuleError("node is already completed and cannot gain dependencies", nil).WithNode(n)
	}
	for _, dep := range deps {
		if dep == nil {
			continue
		}
		if _, ok := e.depSet[dep]; ok {
			continue
		}
		if _, ok := e.cyclicPaths[dep]; ok {
			continue
		}
		if path := g.detectCycle(n, dep); path != nil {
			e.cyclic = append(e.cyclic, dep)
			e.cyclicPaths[dep] = path
			g.ensure(dep).cyclicDependents[n] = struct{}{}
			update.Cyclic++
			continue
		}
		e.deps = append(e.deps, dep)
		e.depSet[dep] = struct{}{}
		g.ensure(dep).dependents[n] = struct{}{}
		update.Added++
	}
	return update, nil
}

// RecordEdge records that from consulted to.
func (g *ProductGraph) RecordEdge(from, to Node) error {
	_, err := g.AddDependencies(from, []Node{to})
	return err
}

// detectCycle returns the path that an edge src -> dest would close, or nil.
// Callers must hold the lock.
func (g *ProductGraph) detectCycle(src, dest Node) []Node {
	path := []Node{src}
	onPath := map[Node]struct{}{src: {}}
	walked := make(map[Node]struct{})

	var walk func(n Node) []Node
	walk = func(n Node) []Node {
		if _, ok := onPath[n]; ok {
			return append(append([]Node{}, path...), n)
		}
		if _, ok := walked[n]; ok {
			return nil
		}
		walked[n] = struct{}{}
		path = append(path, n)
		onPath[n] = struct{}{}
		if e, ok := g.entries[n]; ok {
			for _, dep := range e.deps {
				if found := walk(dep); found != nil {
					return found
				}
			}
		}
		path = path[:len(path)-1]
		delete(onPath, n)
		return nil
	}
	return walk(dest)
}

// DependenciesOf returns the recorded dependencies of n in the order they were first named.
func (g *ProductGraph) DependenciesOf(n Node) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entries[n]
	if !ok {
		return nil
	}
	return append([]Node(nil), e.deps...)
}

// DependentsOf returns the nodes that recorded n as a dependency, sorted by name.
func (g *ProductGraph) DependentsOf(n Node) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entries[n]
	if !ok {
		return nil
	}
	return sortedNodes(e.dependents)
}

func (g *ProductGraph) dependents(n Node) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entries[n]
	if !ok {
		return nil
	}
	out := make([]Node, 0, len(e.dependents))
	for d := range e.dependents {
		out = append(out, d)
	}
	return out
}

// CyclicDependenciesOf returns the dependencies of n that would have closed a cycle.
func (g *ProductGraph) CyclicDependenciesOf(n Node) []CyclicDependency {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entries[n]
	if !ok {
		return nil
	}
	out := make([]CyclicDependency, 0, len(e.cyclic))
	for _, dep := range e.cyclic {
		out = append(out, CyclicDependency{Dependency: dep, Path: append([]Node(nil), e.cyclicPaths[dep]...)})
	}
	return out
}

// dependencyStates snapshots the states of n's dependencies, adding a
// GraphCycle Throw for every cyclic dependency. States of non-cacheable
// dependencies come from local. It returns the dependencies that have not
// completed yet and the number of dependencies, cyclic ones included.
func (g *ProductGraph) dependencyStates(n Node, local func(Node) (State, bool)) (DependencyStates, []Node, int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	e, ok := g.entries[n]
	if !ok {
		return DependencyStates{}, nil, 0
	}
	states := make(DependencyStates, len(e.deps)+len(e.cyclic))
	var incomplete []Node
	for _, dep := range e.deps {
		var (
			s  State
			ok bool
		)
		if dep.Cacheable() {
			s, ok = g.lookupLocked(dep)
		} else if local != nil {
			s, ok = local(dep)
		}
		if !ok {
			incomplete = append(incomplete, dep)
			continue
		}
		states[dep] = s
	}
	for _, dep := range e.cyclic {
		states[dep] = Throw{Err: NewGraphCycleError(e.cyclicPaths[dep]).WithNode(n)}
	}
	return states, incomplete, len(e.deps) + len(e.cyclic)
}

// lookupLocked returns the memoized state of n; callers must hold the lock.
func (g *ProductGraph) lookupLocked(n Node) (State, bool) {
	if !n.Cacheable() {
		return nil, false
	}
	e, ok := g.entries[n]
	if !ok || e.state == nil {
		return nil, false
	}
	return e.state, true
}

// Invalidate removes every node whose subject matches predicate, together
// with every node that transitively depended on one. It returns the number of
// nodes removed.
func (g *ProductGraph) Invalidate(predicate func(subject any) bool) int {
	return g.InvalidateNodes(func(n Node) bool { return predicate(n.Subject()) })
}

// InvalidateNodes is like Invalidate with a predicate over whole nodes.
func (g *ProductGraph) InvalidateNodes(predicate func(Node) bool) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	var queue []Node
	for n := range g.entries {
		if predicate(n) {
			queue = append(queue, n)
		}
	}

	removed := make(map[Node]struct{})
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		if _, seen := removed[n]; seen {
			continue
		}
		removed[n] = struct{}{}
		e, ok := g.entries[n]
		if !ok {
			continue
		}
		for d := range e.dependents {
			queue = append(queue, d)
		}
		for d := range e.cyclicDependents {
			queue = append(queue, d)
		}
	}

	for n := range removed {
		g.removeLocked(n)
	}
	return len(removed)
}

// InvalidateAll clears the graph and returns the number of nodes removed.
func (g *ProductGraph) InvalidateAll() int {
	return g.InvalidateNodes(func(Node) bool { return true })
}

// InvalidateFiles removes the filesystem nodes for the given paths and
// everything computed from them. Paths are slash separated and relative to
// the project tree root.
func (g *ProductGraph) InvalidateFiles(paths ...string) int {
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[strings.TrimPrefix(p, "./")] = struct{}{}
	}
	return g.InvalidateNodes(func(n Node) bool {
		if n.Kind() != NodeKindFilesystem {
			return false
		}
		var p string
		switch s := n.Subject().(type) {
		case Path:
			p = s.Path
		case PathLiteral:
			p = s.Path
		default:
			return false
		}
		_, ok := set[p]
		return ok
	})
}

func (g *ProductGraph) removeLocked(n Node) {
	e, ok := g.entries[n]
	if !ok {
		return
	}
	for _, dep := range e.deps {
		if de, ok := g.entries[dep]; ok {
			delete(de.dependents, n)
		}
	}
	for _, dep := range e.cyclic {
		if de, ok := g.entries[dep]; ok {
			delete(de.cyclicDependents, n)
		}
	}
	delete(g.entries, n)
}

// Len returns the number of nodes in the graph.
func (g *ProductGraph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.entries)
}

// Nodes returns every node in the graph, sorted by name.
func (g *ProductGraph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	set := make(map[Node]struct{}, len(g.entries))
	for n := range g.entries {
		set[n] = struct{}{}
	}
	return sortedNodes(set)
}

// CompletedNodes returns a copy of every memoized state.
func (g *ProductGraph) CompletedNodes() map[Node]State {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[Node]State)
	for n, e := range g.entries {
		if e.state != nil {
			out[n] = e.state
		}
	}
	return out
}

// GraphStats summarizes the graph.
type GraphStats struct {
	Nodes     int `json:"nodes"`
	Completed int `json:"completed"`
	Edges     int `json:"edges"`
	Cyclic    int `json:"cyclic"`
}

// Stats returns node and edge counts.
func (g *ProductGraph) Stats() GraphStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var st GraphStats
	st.Nodes = len(g.entries)
	for _, e := range g.entries {
		if e.state != nil {
			st.Completed++
		}
		st.Edges += len(e.deps)
		st.Cyclic += len(e.cyclic)
	}
	return st
}

func sortedNodes(set map[Node]struct{}) []Node {
	out := make([]Node, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// formatCycle formats a cycle path for error messages.
func formatCycle(cycle []Node) string {
	if len(cycle) == 0 {
		return ""
	}
	names := make([]string, len(cycle))
	for i, n := range cycle {
		names[i] = n.String()
	}
	return strings.Join(names, " -> ")
}
