package engine

import (
	"fmt"
	"reflect"
	"strings"
)

// DefaultDependenciesField is the field read from a dependency product when
// a selector does not name one.
const DefaultDependenciesField = "dependencies"

// VariantAnnotated is implemented by subjects that carry literal variants.
// When such a subject is listed as a dependency, its literal variants win over
// the variants of the requesting node.
type VariantAnnotated interface {
	SplitVariants() (subject any, variants Variants)
}

// DependenciesNode selects a product for each element of a collection field
// of another product. It first selects depProduct for its subject, then a
// product for every element of the field, in declaration order.
type DependenciesNode struct {
	subject    any
	product    Product
	variants   Variants
	depProduct Product
	field      string
}

// NewDependenciesNode creates a DependenciesNode. An empty field selects the
// default "dependencies" field.
func NewDependenciesNode(subject any, product Product, variants Variants, depProduct Product, field string) DependenciesNode {
	if field == "" {
		field = DefaultDependenciesField
	}
	return DependenciesNode{subject: subject, product: product, variants: variants, depProduct: depProduct, field: field}
}

func (n DependenciesNode) Subject() any        { return n.subject }
func (n DependenciesNode) Product() Product    { return n.product }
func (n DependenciesNode) Variants() Variants  { return n.variants }
func (n DependenciesNode) DepProduct() Product { return n.depProduct }
func (n DependenciesNode) Field() string       { return n.field }
func (n DependenciesNode) Cacheable() bool     { return true }
func (n DependenciesNode) Kind() NodeKind      { return NodeKindDependencies }
func (DependenciesNode) isNode()               {}

func (n DependenciesNode) String() string {
	return formatNode("Dependencies", n.subject, n.product, n.variants,
		"of="+n.depProduct.Name(), "field="+n.field)
}

func (n DependenciesNode) depProductNode() Node {
	return SelectNode{subject: n.subject, product: n.depProduct, variants: n.variants}
}

func (n DependenciesNode) dependencyNodes(depValue any) ([]Node, error) {
	elems, err := collectionField(depValue, n.field)
	if err != nil {
		return nil, err
	}
	nodes := make([]Node, 0, len(elems))
	for _, elem := range elems {
		variants := n.variants
		if annotated, ok := elem.(VariantAnnotated); ok {
			var literal Variants
			elem, literal = annotated.SplitVariants()
			variants = MergeVariants(variants, literal)
		}
		nodes = append(nodes, SelectNode{subject: elem, product: n.product, variants: variants})
	}
	return nodes, nil
}

// Step implements Node.
func (n DependenciesNode) Step(deps DependencyStates, sc *StepContext) State {
	depNode := n.depProductNode()
	var depValue any
	switch s := waitingOrState(deps, depNode).(type) {
	case nil:
		return Waiting{Dependencies: []Node{depNode}}
	case Throw:
		return s
	case Noop:
		return Noopf("could not compute %s to determine dependencies", depNode)
	case Return:
		depValue = s.Value
	default:
		return unrecognizedState(n, s)
	}

	dependencies, err := n.dependencyNodes(depValue)
	if err != nil {
		return Throw{Err: NewInvalidRuleError("cannot read dependencies", err).WithNode(n)}
	}
	values := make([]any, len(dependencies))
	for i, dep := range dependencies {
		switch s := waitingOrState(deps, dep).(type) {
		case nil:
			// Wait for all of them, keeping the dep product in the set.
			return Waiting{Dependencies: append([]Node{depNode}, dependencies...)}
		case Throw:
			return s
		case Noop:
			return Throw{Err: NewMissingDependencyError(
				fmt.Sprintf("no source of explicit dependency %s", dep), nil).WithNode(n)}
		case Return:
			values[i] = s.Value
		default:
			return unrecognizedState(n, s)
		}
	}
	return Return{Value: values}
}

// collectionField reads a slice or array field from v. The lookup tries the
// exact Go field name first and then a case-insensitive match, so that the
// lower-case names used in project files resolve to exported fields.
func collectionField(v any, field string) ([]any, error) {
	rv, err := fieldValue(v, field)
	if err != nil {
		return nil, err
	}
	if rv.Kind() == reflect.Interface {
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		return nil, nil
	}
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, fmt.Errorf("field %s of %T is a %s, not a collection", field, v, rv.Kind())
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, nil
}

func fieldValue(v any, field string) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return reflect.Value{}, fmt.Errorf("cannot read field %s of nil %T", field, v)
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("cannot read field %s of non-struct %T", field, v)
	}
	fv := rv.FieldByName(field)
	if !fv.IsValid() {
		fv = rv.FieldByNameFunc(func(name string) bool { return strings.EqualFold(name, field) })
	}
	if !fv.IsValid() {
		return reflect.Value{}, fmt.Errorf("%T has no field %s", v, field)
	}
	if !fv.CanInterface() {
		return reflect.Value{}, fmt.Errorf("field %s of %T is not exported", field, v)
	}
	return fv, nil
}
