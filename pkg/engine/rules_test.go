package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type target struct {
	Name string
}

type targetAddress struct {
	Spec string
}

func TestRuleSetBuildErrors(t *testing.T) {
	noop := Func0(func() (string, error) { return "", nil })
	tests := []struct {
		name    string
		rule    TaskRule
		wantErr string
	}{
		{name: "no name", rule: TaskRule{Output: ProductOf[string](), Func: noop}, wantErr: "rule has no name"},
		{name: "no output", rule: TaskRule{Name: "r", Func: noop}, wantErr: "no output product"},
		{name: "no func", rule: TaskRule{Name: "r", Output: ProductOf[string]()}, wantErr: "no function"},
		{
			name:    "filesystem product",
			rule:    TaskRule{Name: "r", Output: ProductOf[FileContent](), Func: noop},
			wantErr: "reserved for filesystem nodes",
		},
		{
			name:    "bad selector",
			rule:    TaskRule{Name: "r", Output: ProductOf[string](), Clause: []Selector{SelectVariant{Product: ProductOf[int]()}}, Func: noop},
			wantErr: "needs a product and a variant key",
		},
		{
			name:    "non-comparable literal",
			rule:    TaskRule{Name: "r", Output: ProductOf[string](), Clause: []Selector{SelectLiteral{Subject: []int{1}, Product: ProductOf[int]()}}, Func: noop},
			wantErr: "needs a comparable subject",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRuleSet().Add(tt.rule).Build()
			require.Error(t, err)
			assert.True(t, isKind(err, ErrorKindInvalidRule))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRuleSetDuplicateNames(t *testing.T) {
	calls := newCounter()
	_, err := NewRuleSet().Add(doubleRule(calls), doubleRule(calls)).Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rule double registered twice")

	assert.Panics(t, func() {
		NewRuleSet().Add(doubleRule(calls), doubleRule(calls)).MustBuild()
	})
}

func TestRuleIndexGenNodes(t *testing.T) {
	calls := newCounter()
	first := TaskRule{
		Name:   "first",
		Output: ProductOf[DoubledInt](),
		Func:   Func0(func() (DoubledInt, error) { return 1, nil }),
	}
	onlyStrings := TaskRule{
		Name:         "strings_only",
		Output:       ProductOf[DoubledInt](),
		SubjectTypes: []Product{ProductOf[string]()},
		Func:         Func0(func() (DoubledInt, error) { return 2, nil }),
	}
	gated := TaskRule{
		Name:             "gated",
		Output:           ProductOf[DoubledInt](),
		RequiredVariants: NewVariants(VariantPair{Key: "mode", Value: "fast"}),
		Func:             Func0(func() (DoubledInt, error) { return 3, nil }),
	}
	ix := mustIndex(t, first, doubleRule(calls), onlyStrings, gated)

	names := func(nodes []Node) []string {
		out := make([]string, len(nodes))
		for i, n := range nodes {
			out[i] = n.(TaskNode).Rule().Name
		}
		return out
	}

	assert.Equal(t, []string{"first", "double"}, names(ix.GenNodes(5, ProductOf[DoubledInt](), Variants{})))
	assert.Equal(t, []string{"first", "double", "strings_only"}, names(ix.GenNodes("s", ProductOf[DoubledInt](), Variants{})))
	assert.Equal(t, []string{"first", "double", "gated"},
		names(ix.GenNodes(5, ProductOf[DoubledInt](), NewVariants(VariantPair{Key: "mode", Value: "fast"}))))
	assert.Empty(t, ix.GenNodes(5, ProductOf[Upper](), Variants{}))

	rule, ok := ix.Rule("gated")
	require.True(t, ok)
	assert.Equal(t, "gated", rule.Name)
	_, ok = ix.Rule("missing")
	assert.False(t, ok)
	assert.Len(t, ix.Rules(), 4)
	assert.Equal(t, []string{"DoubledInt"}, ix.Products())
}

func TestRuleIndexFilesystemFirst(t *testing.T) {
	ix := mustIndex(t)
	nodes := ix.GenNodes(Path{Path: "a"}, ProductOf[FileContent](), Variants{})
	require.Len(t, nodes, 1)
	assert.Equal(t, NodeKindFilesystem, nodes[0].Kind())
}

func TestLiteralResolution(t *testing.T) {
	resolve := TaskRule{
		Name:         "resolve",
		Output:       ProductOf[target](),
		SubjectTypes: []Product{ProductOf[targetAddress]()},
		Func:         Func0(func() (target, error) { return target{Name: "lib"}, nil }),
	}
	rules := NewRuleSet().Add(resolve)
	rules.Merge(NewRuleSet().AddLiteral(ProductOf[targetAddress](), ProductOf[target](), ProductOf[Classpath]()))
	ix, err := rules.Build()
	require.NoError(t, err)

	addr := targetAddress{Spec: "src:lib"}
	nodes := ix.GenNodes(addr, ProductOf[Classpath](), Variants{})
	require.Len(t, nodes, 1)
	assert.Equal(t, NewSelectNode(addr, ProductOf[target](), Variants{}, ""), nodes[0])

	sched := NewScheduler(ix)
	state, err := sched.ExecuteOne(t.Context(), addr, ProductOf[target]())
	require.NoError(t, err)
	requireReturn(t, state, target{Name: "lib"})

	_, err = NewRuleSet().AddLiteral(Product{}, ProductOf[target]()).Build()
	assert.Error(t, err)
}
