// Package engine provides an incremental, memoized rule graph.
//
// # Overview
//
// Callers ask for a product (a Go type) for a subject (any comparable value).
// Rules declare how a product is computed from other products selected for
// the same or related subjects. The engine expands the request into a graph of
// nodes, steps each node until it reaches a terminal state, and memoizes the
// result so that a later request reuses it.
//
// # Core Types
//
//   - Product: the type of value a node computes (ProductOf[T])
//   - Variants: sorted key/value parameters that pick between alternatives
//   - Selector: how a rule input is chosen (Select, SelectVariant,
//     SelectDependencies, SelectProjection, SelectLiteral)
//   - TaskRule: a function with its output product and input selectors
//   - RuleSet / RuleIndex: registration and lookup of rules
//   - Node: SelectNode, DependenciesNode, ProjectionNode, TaskNode, FilesystemNode
//   - State: Return, Throw, Noop and Waiting
//   - ProductGraph: memoized states and dependency edges
//   - Scheduler: drives roots to completion over a ProductGraph
//
// # States
//
// A node step returns exactly one state:
//
//   - Return: the node produced a value
//   - Noop: the node cannot produce its product for this subject; a Select
//     tries the next candidate
//   - Throw: the node failed; the failure propagates to every dependent
//   - Waiting: the node needs the listed dependencies first
//
// # Selection
//
// A SelectNode asks the RuleIndex for every candidate that may produce its
// product for its subject, plus the subject itself when it already is (or,
// through HasStructs, has) a value of the product. Exactly one candidate may
// return a value; two unequal values are a ConflictingProducers failure.
//
// # Invalidation
//
// The graph remembers which nodes consulted which. Invalidating a subject, or
// a set of files, removes the matching nodes and everything computed from
// them; the next request recomputes only what was removed.
//
// # Example
//
//	rules := engine.NewRuleSet()
//	rules.Add(engine.TaskRule{
//	    Name:   "double",
//	    Output: engine.ProductOf[Doubled](),
//	    Clause: []engine.Selector{engine.SelectOf[int]()},
//	    Func: engine.Func1(func(n int) (Doubled, error) {
//	        return Doubled(2 * n), nil
//	    }),
//	})
//	index := rules.MustBuild()
//
//	sched := engine.NewScheduler(index)
//	state, err := sched.ExecuteOne(ctx, 5, engine.ProductOf[Doubled]())
package engine
