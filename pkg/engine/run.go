package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/rulegraph/pkg/telemetry"
)

var errRunHalted = errors.New("run halted after a root failed")

// stepResult is what a worker hands back to the coordinator.
type stepResult struct {
	node     Node
	state    State
	total    int
	duration time.Duration
}

// runState is the coordinator of a single run. All of its fields are owned by
// the coordinator goroutine; workers only see the node, its dependency
// states and the StepContext.
type runState struct {
	ctx   context.Context
	s     *Scheduler
	id    string
	req   ExecutionRequest
	log   *telemetry.Logger
	sc    *StepContext
	steps int

	rootIdx   map[Node][]int
	results   []RootResult
	finished  []bool
	remaining int

	queue    []Node
	queued   map[Node]bool
	interest map[Node]struct{}

	// outstanding maps nodes being stepped to their dependency count at step time.
	outstanding map[Node]int
	blocked     map[Node]struct{}

	// blockedWake is closed no later than the release of any blocked node.
	blockedWake <-chan struct{}

	// propagated holds completed nodes whose dependents were already queued.
	propagated map[Node]struct{}

	// local holds the states of non-cacheable nodes completed in this run.
	local map[Node]State

	halted  bool
	haltErr error
	done    chan stepResult
}

func newRunState(ctx context.Context, s *Scheduler, id string, req ExecutionRequest, log *telemetry.Logger) *runState {
	rs := &runState{
		ctx:         ctx,
		s:           s,
		id:          id,
		req:         req,
		log:         log,
		rootIdx:     make(map[Node][]int),
		results:     make([]RootResult, len(req.Roots)),
		finished:    make([]bool, len(req.Roots)),
		remaining:   len(req.Roots),
		queued:      make(map[Node]bool),
		interest:    make(map[Node]struct{}),
		outstanding: make(map[Node]int),
		blocked:     make(map[Node]struct{}),
		propagated:  make(map[Node]struct{}),
		local:       make(map[Node]State),
		done:        make(chan stepResult, s.maxParallel),
	}
	rs.sc = &StepContext{ctx: ctx, index: s.index, tree: s.tree, onTask: rs.observeTask}
	return rs
}

// loop drives the roots to completion and returns one result per root, in
// request order. emit, if set, receives each root result as it completes.
func (rs *runState) loop(emit func(RootResult)) []RootResult {
	for i, root := range rs.req.Roots {
		n := root.Node()
		rs.rootIdx[n] = append(rs.rootIdx[n], i)
		rs.results[i] = RootResult{Root: root, Node: n}
	}
	for i := range rs.req.Roots {
		rs.enqueue(rs.results[i].Node)
	}

	for {
		rs.dispatch(emit)

		if rs.remaining == 0 || rs.halted {
			break
		}
		if len(rs.outstanding) == 0 && len(rs.blocked) == 0 && len(rs.queue) == 0 {
			break
		}

		select {
		case res := <-rs.done:
			rs.complete(res, emit)
		case <-rs.blockedWake:
			rs.blockedWake = nil
			for n := range rs.blocked {
				delete(rs.blocked, n)
				rs.enqueue(n)
			}
		case <-rs.ctx.Done():
			rs.halt(rs.ctx.Err())
		}
	}

	// Steps already running must finish so their claims are released.
	for len(rs.outstanding) > 0 {
		rs.complete(<-rs.done, emit)
	}

	for i, ok := range rs.finished {
		if ok {
			continue
		}
		var err error
		switch {
		case rs.halted:
			err = NewCancelledError(rs.haltErr).WithNode(rs.results[i].Node)
		case rs.ctx.Err() != nil:
			err = NewCancelledError(rs.ctx.Err()).WithNode(rs.results[i].Node)
		default:
			err = NewStalledError(rs.results[i].Node)
		}
		rs.finishRoot(i, Throw{Err: err}, emit)
	}
	return rs.results
}

func (rs *runState) halt(err error) {
	if rs.halted {
		return
	}
	rs.halted = true
	rs.haltErr = err
	rs.log.WithError(err).Warn("run halted")
}

func (rs *runState) enqueue(n Node) {
	rs.interest[n] = struct{}{}
	if rs.queued[n] {
		return
	}
	rs.queued[n] = true
	rs.queue = append(rs.queue, n)
}

func (rs *runState) lookupLocal(n Node) (State, bool) {
	s, ok := rs.local[n]
	return s, ok
}

func (rs *runState) stateOf(n Node) (State, bool) {
	if n.Cacheable() {
		return rs.s.graph.State(n)
	}
	return rs.lookupLocal(n)
}

// dispatch steps every queued node whose known dependencies are complete.
func (rs *runState) dispatch(emit func(RootResult)) {
	for len(rs.queue) > 0 && !rs.halted && rs.remaining > 0 {
		n := rs.queue[0]
		rs.queue = rs.queue[1:]
		delete(rs.queued, n)

		if _, running := rs.outstanding[n]; running {
			continue
		}
		if _, ok := rs.stateOf(n); ok {
			rs.propagate(n, emit)
			continue
		}

		states, incomplete, total := rs.s.graph.dependencyStates(n, rs.lookupLocal)
		if len(incomplete) > 0 {
			for _, dep := range incomplete {
				rs.enqueue(dep)
			}
			continue
		}

		if wake, ok := rs.s.claim(n, rs.id); !ok {
			rs.blocked[n] = struct{}{}
			if rs.blockedWake == nil {
				rs.blockedWake = wake
			}
			continue
		}
		// Another run may have completed it before the claim was taken.
		if n.Cacheable() && rs.s.graph.IsComplete(n) {
			rs.s.release(n, rs.id)
			rs.propagate(n, emit)
			continue
		}

		if err := rs.s.sem.Acquire(rs.ctx, 1); err != nil {
			rs.s.release(n, rs.id)
			rs.enqueue(n)
			rs.halt(err)
			return
		}
		rs.outstanding[n] = total
		rs.steps++
		go rs.step(n, states, total)
	}
}

// step runs on a worker goroutine.
func (rs *runState) step(n Node, states DependencyStates, total int) {
	start := time.Now()
	var state State
	defer func() {
		if r := recover(); r != nil {
			state = Throw{Err: NewTaskError(fmt.Sprintf("step of %s panicked", n), fmt.Errorf("%v", r)).WithNode(n)}
		}
		rs.s.sem.Release(1)
		rs.done <- stepResult{node: n, state: state, total: total, duration: time.Since(start)}
	}()
	state = n.Step(states, rs.sc)
}

// complete records the result of a step. Results are written to the graph
// before the node's claim is released, so a run that later claims the node
// sees them.
func (rs *runState) complete(res stepResult, emit func(RootResult)) {
	n := res.node
	delete(rs.outstanding, n)
	rs.s.metrics.RecordStep(string(n.Kind()), StateName(res.state), res.duration)

	switch st := res.state.(type) {
	case Waiting:
		update, err := rs.s.graph.AddDependencies(n, st.Dependencies)
		if err != nil {
			rs.finish(n, Throw{Err: err}, emit)
			return
		}
		if update.Cyclic > 0 {
			rs.s.metrics.RecordCycle()
			rs.log.Debugf("%s named %d cyclic dependencies", n, update.Cyclic)
		}
		rs.s.release(n, rs.id)
		_, incomplete, total := rs.s.graph.dependencyStates(n, rs.lookupLocal)
		for _, dep := range incomplete {
			rs.enqueue(dep)
		}
		switch {
		case len(incomplete) > 0:
			// Re-queued by propagate once a dependency completes.
		case total > res.total:
			rs.enqueue(n)
		default:
			rs.finish(n, Throw{Err: NewStalledError(n)}, emit)
		}
	case nil:
		rs.finish(n, unrecognizedState(n, nil), emit)
	default:
		rs.finish(n, st, emit)
	}
}

// finish records a terminal state for n and wakes its dependents.
func (rs *runState) finish(n Node, st State, emit func(RootResult)) {
	if t, failed := st.(Throw); failed && rs.ctx.Err() != nil && errors.Is(t.Err, rs.ctx.Err()) {
		// A failure caused by cancellation is not a property of the node.
		rs.s.release(n, rs.id)
		return
	}

	if err := rs.s.graph.SetState(n, st); err != nil {
		rs.log.WithError(err).Errorf("failed to record state of %s", n)
		rs.s.metrics.RecordError(string(ErrorKindNondeterminism), ErrCodeInternal)
	}
	if !n.Cacheable() {
		rs.local[n] = st
	}
	rs.s.release(n, rs.id)

	if t, failed := st.(Throw); failed {
		if _, isTask := n.(TaskNode); isTask {
			_ = rs.s.events.PublishNodeFailed(rs.id, n.String(), t.Err.Error())
		}
	}
	rs.log.Debugf("%s completed: %s", n, StateName(st))
	rs.propagate(n, emit)
}

// propagate reports n if it is a root and queues the dependents this run is
// interested in. Dependents completed by another run are queued as well, so
// that dispatch propagates them in turn.
func (rs *runState) propagate(n Node, emit func(RootResult)) {
	st, ok := rs.stateOf(n)
	if !ok {
		return
	}
	if _, seen := rs.propagated[n]; seen {
		return
	}
	rs.propagated[n] = struct{}{}
	for _, i := range rs.rootIdx[n] {
		if !rs.finished[i] {
			rs.finishRoot(i, st, emit)
		}
	}
	for _, d := range rs.s.graph.dependents(n) {
		if _, ok := rs.interest[d]; !ok {
			continue
		}
		rs.enqueue(d)
	}
}

func (rs *runState) finishRoot(i int, st State, emit func(RootResult)) {
	r := &rs.results[i]
	r.State = st
	r.Outcome = OutcomeOf(st)
	if _, failed := st.(Throw); failed {
		r.Trace = rs.s.graph.traceFailure(r.Node, rs.lookupLocal)
		if len(r.Trace) == 0 {
			r.Trace = []TraceEntry{{Node: r.Node, State: st}}
		}
		if rs.req.FailFast {
			rs.halt(errRunHalted)
		}
	}
	rs.finished[i] = true
	rs.remaining--
	_ = rs.s.events.PublishRootCompleted(rs.id, r.Root.String(), string(r.Outcome))
	if emit != nil {
		emit(*r)
	}
}

// observeTask traces and measures a task invocation.
func (rs *runState) observeTask(ctx context.Context, n TaskNode) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := rs.s.tracer.StartTaskSpan(ctx, n.rule.Name, n.String())
	log := rs.log.WithRule(n.rule.Name).WithNode(n.String())
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		log = log.WithField("trace_id", traceID)
	}
	return ctx, func(err error) {
		outcome := "success"
		if err != nil {
			outcome = "failure"
			telemetry.RecordError(span, err)
			log.WithError(err).Debug("task failed")
		} else {
			telemetry.RecordSuccess(span)
			log.Trace("task succeeded")
		}
		span.End()
		rs.s.metrics.RecordTaskInvocation(n.rule.Name, outcome, time.Since(start))
	}
}
