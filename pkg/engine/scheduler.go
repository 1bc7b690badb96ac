package engine

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/openfroyo/rulegraph/pkg/telemetry"
)

// DefaultMaxParallel is the number of node steps run concurrently when no
// limit is configured.
const DefaultMaxParallel = 10

// Scheduler drives requested roots to completion over a shared ProductGraph.
//
// Each run is coordinated by a single goroutine that keeps a set of candidate
// nodes. A candidate is stepped once every dependency it has named so far has
// completed; a Waiting result records new edges and turns incomplete
// dependencies into candidates; a terminal result wakes the dependents.
// Steps of distinct nodes run concurrently on a bounded worker budget shared
// by all runs, and no node is ever stepped by two runs at once.
type Scheduler struct {
	// index answers which nodes may produce a product
	index *RuleIndex

	// graph memoizes states and edges across runs
	graph *ProductGraph

	// tree is the project tree filesystem nodes read
	tree ProjectTree

	// maxParallel is the maximum number of concurrent steps
	maxParallel int
	sem         *semaphore.Weighted

	logger   *telemetry.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer
	events   *telemetry.EventPublisher
	recorder RunRecorder

	// runMu orders runs against invalidation: runs share it, invalidation
	// takes it exclusively.
	runMu sync.RWMutex

	// claims maps a node being stepped to the run stepping it.
	claimMu  sync.Mutex
	claims   map[Node]string
	released chan struct{}

	activeRuns atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithProjectTree sets the tree filesystem nodes read from.
func WithProjectTree(tree ProjectTree) Option {
	return func(s *Scheduler) { s.tree = tree }
}

// WithMaxParallel bounds the number of concurrent steps.
func WithMaxParallel(n int) Option {
	return func(s *Scheduler) { s.maxParallel = n }
}

// WithGraph makes the scheduler use an existing graph.
func WithGraph(g *ProductGraph) Option {
	return func(s *Scheduler) { s.graph = g }
}

// WithLogger sets the logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) Option {
	return func(s *Scheduler) { s.tracer = t }
}

// WithEvents sets the event publisher.
func WithEvents(ep *telemetry.EventPublisher) Option {
	return func(s *Scheduler) { s.events = ep }
}

// WithTelemetry wires every component of t.
func WithTelemetry(t *telemetry.Telemetry) Option {
	return func(s *Scheduler) {
		if t == nil {
			return
		}
		s.logger = t.Logger.NewComponentLogger("scheduler")
		s.metrics = t.Metrics
		s.tracer = t.Tracer
		s.events = t.Events
	}
}

// WithRecorder persists run history.
func WithRecorder(r RunRecorder) Option {
	return func(s *Scheduler) { s.recorder = r }
}

// NewScheduler creates a scheduler for the rules in index.
func NewScheduler(index *RuleIndex, opts ...Option) *Scheduler {
	s := &Scheduler{
		index:    index,
		claims:   make(map[Node]string),
		released: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxParallel <= 0 {
		s.maxParallel = DefaultMaxParallel
	}
	if s.graph == nil {
		s.graph = NewProductGraph()
	}
	if s.logger == nil {
		s.logger = telemetry.NopLogger()
	}
	s.sem = semaphore.NewWeighted(int64(s.maxParallel))
	return s
}

// Graph returns the scheduler's product graph.
func (s *Scheduler) Graph() *ProductGraph { return s.graph }

// Index returns the scheduler's rule index.
func (s *Scheduler) Index() *RuleIndex { return s.index }

// ExecuteOne computes a single product and returns its terminal state.
func (s *Scheduler) ExecuteOne(ctx context.Context, subject any, product Product, opts ...ExecuteOption) (State, error) {
	root := Root{Subject: subject, Product: product}
	for _, opt := range opts {
		opt(&root)
	}
	result, err := s.Execute(ctx, ExecutionRequest{Roots: []Root{root}})
	if err != nil {
		return nil, err
	}
	return result.Roots[0].State, nil
}

// Execute computes every root of the request in one run.
func (s *Scheduler) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	return s.execute(ctx, req, nil)
}

// Stream computes the roots of the request and sends each root's result as
// soon as it completes. The channel is closed when the run ends.
func (s *Scheduler) Stream(ctx context.Context, req ExecutionRequest) (<-chan RootResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	out := make(chan RootResult, len(req.Roots))
	go func() {
		defer close(out)
		if _, err := s.execute(ctx, req, func(r RootResult) { out <- r }); err != nil {
			s.logger.WithError(err).Error("streamed run failed")
		}
	}()
	return out, nil
}

// ExecuteBatch runs the requests concurrently over the shared graph. Results
// are returned in request order.
func (s *Scheduler) ExecuteBatch(ctx context.Context, reqs []ExecutionRequest) ([]*ExecutionResult, error) {
	results := make([]*ExecutionResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	for i := range reqs {
		g.Go(func() error {
			res, err := s.execute(gctx, reqs[i], nil)
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Invalidate removes every memoized node whose subject matches predicate and
// everything computed from it. It waits for running runs to finish first.
func (s *Scheduler) Invalidate(ctx context.Context, reason string, predicate func(subject any) bool) int {
	s.runMu.Lock()
	removed := s.graph.Invalidate(predicate)
	s.runMu.Unlock()
	s.afterInvalidation(ctx, reason, removed)
	return removed
}

// InvalidateFiles removes the filesystem nodes of the given paths and
// everything computed from them.
func (s *Scheduler) InvalidateFiles(ctx context.Context, paths ...string) int {
	s.runMu.Lock()
	removed := s.graph.InvalidateFiles(paths...)
	s.runMu.Unlock()
	s.logger.WithField("paths", paths).Debug("files changed")
	s.afterInvalidation(ctx, "files", removed)
	return removed
}

func (s *Scheduler) afterInvalidation(ctx context.Context, reason string, removed int) {
	s.logger.WithFields(map[string]interface{}{
		"reason":  reason,
		"removed": removed,
	}).Info("graph invalidated")
	s.metrics.RecordInvalidation(reason, removed)
	stats := s.graph.Stats()
	s.metrics.SetGraphSize(stats.Nodes, stats.Completed)
	_ = s.events.PublishInvalidation(reason, removed)
	if s.recorder != nil {
		if err := s.recorder.RecordInvalidation(ctx, reason, removed); err != nil {
			s.logger.WithError(err).Warn("failed to record invalidation")
		}
	}
}

func validateRequest(req ExecutionRequest) error {
	if len(req.Roots) == 0 {
		return NewInvalidRuleError("request has no roots", nil)
	}
	for i, r := range req.Roots {
		if r.Product.IsZero() {
			return NewInvalidRuleError(fmt.Sprintf("root %d has no product", i), nil)
		}
		if r.Subject == nil || !reflect.TypeOf(r.Subject).Comparable() {
			return NewInvalidRuleError(fmt.Sprintf("root %d subject %T is not comparable", i, r.Subject), nil)
		}
	}
	return nil
}

func (s *Scheduler) execute(ctx context.Context, req ExecutionRequest, emit func(RootResult)) (*ExecutionResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	s.runMu.RLock()
	defer s.runMu.RUnlock()

	run := &Run{
		ID:        uuid.New().String(),
		Status:    RunStatusRunning,
		User:      req.User,
		Roots:     len(req.Roots),
		StartedAt: time.Now(),
		Labels:    req.Labels,
	}
	log := s.logger.WithRunID(run.ID)

	if s.recorder != nil {
		if err := s.recorder.RecordRunStarted(ctx, run); err != nil {
			return nil, fmt.Errorf("failed to save run: %w", err)
		}
	}

	ctx, span := s.tracer.StartRunSpan(ctx, run.ID)
	defer span.End()

	s.metrics.RecordRunStarted()
	s.metrics.SetActiveRuns(float64(s.activeRuns.Add(1)))
	defer func() { s.metrics.SetActiveRuns(float64(s.activeRuns.Add(-1))) }()
	_ = s.events.PublishRunStarted(run.ID, req.User)
	log.Infof("run started with %d roots", len(req.Roots))

	rs := newRunState(ctx, s, run.ID, req, log)
	results := rs.loop(emit)

	completedAt := time.Now()
	run.CompletedAt = &completedAt
	run.Duration = completedAt.Sub(run.StartedAt)
	run.Steps = rs.steps
	run.Status = runStatusOf(results)

	result := &ExecutionResult{
		RunID:       run.ID,
		Status:      run.Status,
		Roots:       results,
		Steps:       rs.steps,
		StartedAt:   run.StartedAt,
		CompletedAt: completedAt,
		Duration:    run.Duration,
		Graph:       s.graph.Stats(),
	}

	s.metrics.RecordRunCompleted(string(run.Status), run.Duration)
	s.metrics.SetGraphSize(result.Graph.Nodes, result.Graph.Completed)
	if err := result.Err(); err != nil {
		telemetry.RecordError(span, err)
		_ = s.events.PublishRunFailed(run.ID, err.Error())
	} else {
		telemetry.RecordSuccess(span)
		_ = s.events.PublishRunCompleted(run.ID, string(run.Status), run.Duration)
	}
	log.WithFields(map[string]interface{}{
		"status":   run.Status,
		"steps":    rs.steps,
		"duration": run.Duration.String(),
		"nodes":    result.Graph.Nodes,
	}).Info("run completed")

	if s.recorder != nil {
		if err := s.recorder.RecordRunCompleted(context.WithoutCancel(ctx), run, results); err != nil {
			return result, fmt.Errorf("failed to save final run state: %w", err)
		}
	}
	return result, nil
}

// claim marks n as being stepped by runID. It fails if another run holds it,
// and then returns a channel that is closed no later than that run releases n.
func (s *Scheduler) claim(n Node, runID string) (<-chan struct{}, bool) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if owner, ok := s.claims[n]; ok && owner != runID {
		return s.released, false
	}
	s.claims[n] = runID
	return nil, true
}

// release drops runID's claim on n and wakes runs waiting for a claim.
func (s *Scheduler) release(n Node, runID string) {
	s.claimMu.Lock()
	defer s.claimMu.Unlock()
	if owner, ok := s.claims[n]; !ok || owner != runID {
		return
	}
	delete(s.claims, n)
	close(s.released)
	s.released = make(chan struct{})
}

