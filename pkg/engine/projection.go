package engine

import (
	"fmt"
	"reflect"
	"strings"
)

// ProjectionNode selects an input product for its subject, projects some of
// its fields into a new subject and then selects the product for that subject.
// Projecting lets many subjects share the node of a single backing subject.
type ProjectionNode struct {
	subject          any
	product          Product
	variants         Variants
	projectedSubject Product
	fields           string
	inputProduct     Product
}

// NewProjectionNode creates a ProjectionNode.
func NewProjectionNode(subject any, product Product, variants Variants, projectedSubject Product, fields []string, inputProduct Product) ProjectionNode {
	return ProjectionNode{
		subject:          subject,
		product:          product,
		variants:         variants,
		projectedSubject: projectedSubject,
		fields:           strings.Join(fields, ","),
		inputProduct:     inputProduct,
	}
}

func (n ProjectionNode) Subject() any              { return n.subject }
func (n ProjectionNode) Product() Product          { return n.product }
func (n ProjectionNode) Variants() Variants        { return n.variants }
func (n ProjectionNode) ProjectedSubject() Product { return n.projectedSubject }
func (n ProjectionNode) InputProduct() Product     { return n.inputProduct }
func (n ProjectionNode) Fields() []string          { return strings.Split(n.fields, ",") }
func (n ProjectionNode) Cacheable() bool           { return true }
func (n ProjectionNode) Kind() NodeKind            { return NodeKindProjection }
func (ProjectionNode) isNode()                     {}

func (n ProjectionNode) String() string {
	return formatNode("Projection", n.subject, n.product, n.variants,
		"as="+n.projectedSubject.Name(), "fields="+n.fields, "from="+n.inputProduct.Name())
}

func (n ProjectionNode) inputNode() Node {
	return SelectNode{subject: n.subject, product: n.inputProduct, variants: n.variants}
}

// Step implements Node.
func (n ProjectionNode) Step(deps DependencyStates, sc *StepContext) State {
	inputNode := n.inputNode()
	var input any
	switch s := waitingOrState(deps, inputNode).(type) {
	case nil:
		return Waiting{Dependencies: []Node{inputNode}}
	case Throw:
		return s
	case Noop:
		return Noopf("could not compute %s in order to project its fields", inputNode)
	case Return:
		input = s.Value
	default:
		return unrecognizedState(n, s)
	}

	projected, err := project(input, n.Fields(), n.projectedSubject)
	if err != nil {
		return Throw{Err: NewInvalidRuleError("projection failed", err).WithNode(n)}
	}
	outputNode := SelectNode{subject: projected, product: n.product, variants: n.variants}

	switch s := waitingOrState(deps, outputNode).(type) {
	case nil:
		return Waiting{Dependencies: []Node{inputNode, outputNode}}
	case Noop:
		return Throw{Err: NewMissingDependencyError(
			fmt.Sprintf("no source of projected dependency %s", outputNode), nil).WithNode(n)}
	case Throw, Return:
		return s
	default:
		return unrecognizedState(n, s)
	}
}

// project extracts fields from input and builds a value of the target type
// from them. A single field that already has the target type is used as is;
// otherwise the values are assigned to the target struct's fields in order.
func project(input any, fields []string, target Product) (any, error) {
	values := make([]reflect.Value, len(fields))
	for i, field := range fields {
		fv, err := fieldValue(input, field)
		if err != nil {
			return nil, err
		}
		values[i] = fv
	}

	if len(values) == 1 && values[0].Type() == target.Type() {
		return values[0].Interface(), nil
	}

	t := target.Type()
	if t == nil || t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("cannot construct %s from %d fields", target.Name(), len(values))
	}
	if t.NumField() < len(values) {
		return nil, fmt.Errorf("%s has %d fields, %d projected", target.Name(), t.NumField(), len(values))
	}
	out := reflect.New(t).Elem()
	for i, v := range values {
		f := out.Field(i)
		if !f.CanSet() {
			return nil, fmt.Errorf("field %d of %s is not settable", i, target.Name())
		}
		switch {
		case v.Type().AssignableTo(f.Type()):
			f.Set(v)
		case v.Type().ConvertibleTo(f.Type()):
			f.Set(v.Convert(f.Type()))
		default:
			return nil, fmt.Errorf("cannot assign %s to field %s of %s", v.Type(), t.Field(i).Name, target.Name())
		}
	}
	if !t.Comparable() {
		return nil, fmt.Errorf("projected subject type %s is not comparable", target.Name())
	}
	return out.Interface(), nil
}
