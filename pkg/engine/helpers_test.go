package engine

import (
	"context"
	"io/fs"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

// DoubledInt is produced by the double rule.
type DoubledInt int

// Classpath is produced by the resolver rules of the variants tests.
type Classpath struct {
	Resolver string
	Entries  string
}

func (c Classpath) Name() string { return c.Resolver }

// Upper is a string in upper case.
type Upper string

// depList carries a list of dependency subjects.
type depList struct {
	Dependencies []any
}

// deps is a comparable subject holding a depList.
type deps struct {
	name string
	list *depList
}

func (d deps) Structs() []any { return []any{*d.list} }

// variantSubject exposes default variants through has-a.
type variantSubject struct {
	name     string
	resolver string
}

func (s variantSubject) Structs() []any {
	return []any{DefaultVariants{Variants: NewVariants(VariantPair{Key: "resolver", Value: s.resolver})}}
}

// counter counts task invocations per rule.
type counter struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCounter() *counter {
	return &counter{counts: make(map[string]int)}
}

func (c *counter) inc(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[name]++
}

func (c *counter) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[name]
}

func doubleRule(calls *counter) TaskRule {
	return TaskRule{
		Name:   "double",
		Output: ProductOf[DoubledInt](),
		Clause: []Selector{SelectOf[int]()},
		Func: Func1(func(x int) (DoubledInt, error) {
			calls.inc("double")
			return DoubledInt(2 * x), nil
		}),
	}
}

func upperRule(calls *counter) TaskRule {
	return TaskRule{
		Name:   "upper",
		Output: ProductOf[Upper](),
		Clause: []Selector{SelectOf[string]()},
		Func: Func1(func(s string) (Upper, error) {
			calls.inc("upper")
			var out []rune
			for _, r := range s {
				if r >= 'a' && r <= 'z' {
					r -= 'a' - 'A'
				}
				out = append(out, r)
			}
			return Upper(out), nil
		}),
	}
}

// mapTree is an in-memory ProjectTree whose files can be replaced between runs.
type mapTree struct {
	mu    sync.RWMutex
	files fstest.MapFS
	reads atomic.Int64
}

func newMapTree(files map[string]string) *mapTree {
	t := &mapTree{files: fstest.MapFS{}}
	for p, content := range files {
		t.files[p] = &fstest.MapFile{Data: []byte(content)}
	}
	return t
}

func (t *mapTree) set(p, content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[p] = &fstest.MapFile{Data: []byte(content)}
}

func (t *mapTree) symlink(p, target string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.files[p] = &fstest.MapFile{Data: []byte(target), Mode: fs.ModeSymlink}
}

func (t *mapTree) Lstat(p string) (fs.FileInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fs.Lstat(t.files, p)
}

func (t *mapTree) ReadFile(p string) ([]byte, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.reads.Add(1)
	return fs.ReadFile(t.files, p)
}

func (t *mapTree) ReadDir(p string) ([]fs.DirEntry, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return fs.ReadDir(t.files, p)
}

func mustIndex(t *testing.T, rules ...TaskRule) *RuleIndex {
	t.Helper()
	ix, err := NewRuleSet().Add(rules...).Build()
	require.NoError(t, err)
	return ix
}

func stepContext(ix *RuleIndex, tree ProjectTree) *StepContext {
	return NewStepContext(context.Background(), ix, tree)
}

func requireReturn(t *testing.T, s State, want any) {
	t.Helper()
	ret, ok := s.(Return)
	require.Truef(t, ok, "expected Return, got %v", s)
	require.Equal(t, want, ret.Value)
}

func requireThrow(t *testing.T, s State, is func(error) bool) error {
	t.Helper()
	th, ok := s.(Throw)
	require.Truef(t, ok, "expected Throw, got %v", s)
	if is != nil {
		require.Truef(t, is(th.Err), "unexpected error kind: %v", th.Err)
	}
	return th.Err
}

func requireNoop(t *testing.T, s State) {
	t.Helper()
	_, ok := s.(Noop)
	require.Truef(t, ok, "expected Noop, got %v", s)
}
