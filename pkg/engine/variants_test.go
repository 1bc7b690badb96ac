package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVariants(t *testing.T) {
	v := NewVariants(
		VariantPair{Key: "resolver", Value: "a"},
		VariantPair{Key: "jdk", Value: "11"},
		VariantPair{Key: "resolver", Value: "b"},
	)
	assert.Equal(t, "jdk=11,resolver=b", v.String())
	assert.Equal(t, 2, v.Len())
	assert.Equal(t, map[string]string{"jdk": "11", "resolver": "b"}, v.Map())

	got, ok := v.Get("jdk")
	assert.True(t, ok)
	assert.Equal(t, "11", got)
	_, ok = v.Get("missing")
	assert.False(t, ok)

	assert.Equal(t, v, VariantsFromMap(map[string]string{"resolver": "b", "jdk": "11"}), "equal sets compare equal")
	assert.True(t, Variants{}.IsEmpty())
	assert.Equal(t, Variants{}, NewVariants())
}

func TestMergeVariants(t *testing.T) {
	defaults := NewVariants(VariantPair{Key: "resolver", Value: "a"}, VariantPair{Key: "jdk", Value: "11"})
	override := NewVariants(VariantPair{Key: "resolver", Value: "b"})

	assert.Equal(t, "jdk=11,resolver=b", MergeVariants(defaults, override).String())
	assert.Equal(t, "jdk=11,resolver=a", MergeVariants(override, defaults).String())
	assert.Equal(t, defaults, MergeVariants(defaults, Variants{}))
}

func TestVariantsSatisfies(t *testing.T) {
	v := NewVariants(VariantPair{Key: "resolver", Value: "a"}, VariantPair{Key: "jdk", Value: "11"})

	assert.True(t, v.Satisfies(Variants{}))
	assert.True(t, v.Satisfies(NewVariants(VariantPair{Key: "resolver", Value: "a"})))
	assert.False(t, v.Satisfies(NewVariants(VariantPair{Key: "resolver", Value: "b"})))
	assert.False(t, v.Satisfies(NewVariants(VariantPair{Key: "os", Value: "linux"})))
}

type named interface{ Name() string }

func TestProductMatches(t *testing.T) {
	assert.True(t, ProductOf[int]().Matches(3))
	assert.False(t, ProductOf[int]().Matches(DoubledInt(3)))
	assert.False(t, ProductOf[int]().Matches(nil))
	assert.True(t, ProductOf[named]().Matches(Classpath{}))
	assert.Equal(t, ProductOf[Upper](), ProductFor(Upper("x")))
	assert.True(t, ProductFor(nil).IsZero())
	assert.Equal(t, "Upper", ProductOf[Upper]().Name())
	assert.Equal(t, "[]interface {}", ProductOf[[]any]().Name())
}

func TestSelectLiteral(t *testing.T) {
	subject := deps{name: "root", list: &depList{Dependencies: []any{"a"}}}

	v, ok := selectLiteral(subject, ProductOf[deps](), "")
	assert.True(t, ok)
	assert.Equal(t, subject, v)

	v, ok = selectLiteral(subject, ProductOf[depList](), "")
	assert.True(t, ok, "has-a through Structs")
	assert.Equal(t, *subject.list, v)

	_, ok = selectLiteral(subject, ProductOf[int](), "")
	assert.False(t, ok)

	_, ok = selectLiteral(Classpath{Resolver: "a"}, ProductOf[Classpath](), "b")
	assert.False(t, ok, "variant value filters on Name")
	_, ok = selectLiteral(Upper("a"), ProductOf[Upper](), "a")
	assert.False(t, ok, "unnamed values never match a variant value")
}

func TestStates(t *testing.T) {
	assert.True(t, IsTerminal(Return{}))
	assert.True(t, IsTerminal(Noop{}))
	assert.True(t, IsTerminal(Throw{}))
	assert.False(t, IsTerminal(Waiting{}))

	assert.True(t, StatesEqual(Return{Value: []int{1}}, Return{Value: []int{1}}))
	assert.False(t, StatesEqual(Return{Value: 1}, Noop{}))
	assert.True(t, StatesEqual(
		Throw{Err: NewTaskError("x", nil)},
		Throw{Err: NewTaskError("x", nil)},
	))
	assert.Equal(t, "waiting", StateName(Waiting{}))
	assert.Equal(t, RootOutcomeCancelled, OutcomeOf(Throw{Err: NewCancelledError(nil)}))
	assert.Equal(t, RootOutcomeFailed, OutcomeOf(Throw{Err: NewTaskError("x", nil)}))
}

func TestRunStatusOf(t *testing.T) {
	r := func(o RootOutcome) RootResult { return RootResult{Outcome: o} }

	assert.Equal(t, RunStatusSucceeded, runStatusOf([]RootResult{r(RootOutcomeReturned), r(RootOutcomeNoop)}))
	assert.Equal(t, RunStatusFailed, runStatusOf([]RootResult{r(RootOutcomeFailed), r(RootOutcomeCancelled)}))
	assert.Equal(t, RunStatusCancelled, runStatusOf([]RootResult{r(RootOutcomeCancelled)}))
	assert.Equal(t, RunStatusPartial, runStatusOf([]RootResult{r(RootOutcomeReturned), r(RootOutcomeFailed)}))

	assert.True(t, RunStatusPartial.IsTerminal())
	assert.True(t, RunStatusRunning.IsActive())
	assert.Error(t, RunStatus("bogus").Validate())
}
