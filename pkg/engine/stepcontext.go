package engine

import "context"

// StepContext is what a node sees of the outside world while it is stepped:
// a way to enumerate candidate producers, a way to build selector nodes and
// the project tree. Nodes never touch the scheduler or the graph directly.
type StepContext struct {
	ctx    context.Context
	index  *RuleIndex
	tree   ProjectTree
	onTask func(context.Context, TaskNode) (context.Context, func(error))
}

// NewStepContext creates a StepContext. It is exported so that nodes can be
// stepped by hand in tests and tools.
func NewStepContext(ctx context.Context, index *RuleIndex, tree ProjectTree) *StepContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &StepContext{ctx: ctx, index: index, tree: tree}
}

// GenNodes returns every node that might produce product for subject.
func (c *StepContext) GenNodes(subject any, product Product, variants Variants) []Node {
	if c.index == nil {
		return nil
	}
	return c.index.GenNodes(subject, product, variants)
}

// SelectNode returns the dependency node sel constructs for subject, or nil
// if sel cannot be satisfied for it.
func (c *StepContext) SelectNode(sel Selector, subject any, variants Variants) Node {
	return sel.ConstructNode(subject, variants)
}

// ProjectTree returns the tree filesystem nodes read from.
func (c *StepContext) ProjectTree() ProjectTree {
	return c.tree
}

// Context returns the context of the run that is stepping the node.
func (c *StepContext) Context() context.Context {
	return c.ctx
}

func (c *StepContext) isLiteralSource(p Product) bool {
	return c.index != nil && c.index.isLiteralSource(p)
}

func (c *StepContext) observeTask(n TaskNode) (context.Context, func(error)) {
	if c.onTask == nil {
		return c.ctx, func(error) {}
	}
	return c.onTask(c.ctx, n)
}
