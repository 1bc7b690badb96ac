package engine

import (
	"fmt"
	"reflect"
	"strings"
)

// Selector describes one input of a TaskRule. For a given subject and
// variants it constructs the dependency node that provides the input.
type Selector interface {
	fmt.Stringer

	// Optional reports whether a Noop for this input is passed to the task
	// as nil instead of making the whole task a Noop.
	Optional() bool

	// OutputProduct is the product the selected node provides.
	OutputProduct() Product

	// ConstructNode returns the dependency node for subject, or nil when the
	// selector is statically known not to be satisfiable for it.
	ConstructNode(subject any, variants Variants) Node
}

// Select selects Product for the task's own subject.
type Select struct {
	Product    Product
	IsOptional bool
}

// SelectOf returns a required Select of T.
func SelectOf[T any]() Select { return Select{Product: ProductOf[T]()} }

// OptionalSelectOf returns an optional Select of T.
func OptionalSelectOf[T any]() Select { return Select{Product: ProductOf[T](), IsOptional: true} }

func (s Select) Optional() bool         { return s.IsOptional }
func (s Select) OutputProduct() Product { return s.Product }

func (s Select) ConstructNode(subject any, variants Variants) Node {
	return SelectNode{subject: subject, product: s.Product, variants: variants}
}

func (s Select) String() string {
	if s.IsOptional {
		return fmt.Sprintf("Select(%s, optional)", s.Product.Name())
	}
	return fmt.Sprintf("Select(%s)", s.Product.Name())
}

// SelectVariant selects Product for the subject, restricted to the value
// whose name matches the variant configured for VariantKey.
type SelectVariant struct {
	Product    Product
	VariantKey string
}

func (s SelectVariant) Optional() bool         { return false }
func (s SelectVariant) OutputProduct() Product { return s.Product }

func (s SelectVariant) ConstructNode(subject any, variants Variants) Node {
	return SelectNode{subject: subject, product: s.Product, variants: variants, variantKey: s.VariantKey}
}

func (s SelectVariant) String() string {
	return fmt.Sprintf("SelectVariant(%s, %s)", s.Product.Name(), s.VariantKey)
}

// SelectDependencies selects Product for each entry of the Field collection
// of the subject's DepsProduct. Results keep declaration order.
type SelectDependencies struct {
	Product     Product
	DepsProduct Product
	Field       string
}

func (s SelectDependencies) Optional() bool         { return false }
func (s SelectDependencies) OutputProduct() Product { return ProductOf[[]any]() }

func (s SelectDependencies) ConstructNode(subject any, variants Variants) Node {
	return NewDependenciesNode(subject, s.Product, variants, s.DepsProduct, s.Field)
}

func (s SelectDependencies) String() string {
	field := s.Field
	if field == "" {
		field = DefaultDependenciesField
	}
	return fmt.Sprintf("SelectDependencies(%s, %s, %s)", s.Product.Name(), s.DepsProduct.Name(), field)
}

// SelectProjection selects InputProduct for the subject, projects Fields of it
// into a ProjectedSubject and selects Product for that.
type SelectProjection struct {
	Product          Product
	ProjectedSubject Product
	Fields           []string
	InputProduct     Product
}

func (s SelectProjection) Optional() bool         { return false }
func (s SelectProjection) OutputProduct() Product { return s.Product }

func (s SelectProjection) ConstructNode(subject any, variants Variants) Node {
	return NewProjectionNode(subject, s.Product, variants, s.ProjectedSubject, s.Fields, s.InputProduct)
}

func (s SelectProjection) String() string {
	return fmt.Sprintf("SelectProjection(%s, %s, [%s], %s)",
		s.Product.Name(), s.ProjectedSubject.Name(), strings.Join(s.Fields, ","), s.InputProduct.Name())
}

// SelectLiteral selects Product for a fixed Subject, ignoring the task's own subject.
type SelectLiteral struct {
	Subject any
	Product Product
}

func (s SelectLiteral) Optional() bool         { return false }
func (s SelectLiteral) OutputProduct() Product { return s.Product }

func (s SelectLiteral) ConstructNode(_ any, variants Variants) Node {
	return SelectNode{subject: s.Subject, product: s.Product, variants: variants}
}

func (s SelectLiteral) String() string {
	return fmt.Sprintf("SelectLiteral(%s, %s)", formatSubject(s.Subject), s.Product.Name())
}

func validateSelector(sel Selector) error {
	switch s := sel.(type) {
	case Select:
		if s.Product.IsZero() {
			return fmt.Errorf("select has no product")
		}
	case SelectVariant:
		if s.Product.IsZero() || s.VariantKey == "" {
			return fmt.Errorf("%s needs a product and a variant key", s)
		}
	case SelectDependencies:
		if s.Product.IsZero() || s.DepsProduct.IsZero() {
			return fmt.Errorf("%s needs a product and a dependencies product", s)
		}
	case SelectProjection:
		if s.Product.IsZero() || s.ProjectedSubject.IsZero() || s.InputProduct.IsZero() || len(s.Fields) == 0 {
			return fmt.Errorf("%s is incomplete", s)
		}
	case SelectLiteral:
		if s.Subject == nil || !reflect.TypeOf(s.Subject).Comparable() {
			return fmt.Errorf("%s needs a comparable subject", s)
		}
		if s.Product.IsZero() {
			return fmt.Errorf("%s has no product", s)
		}
	case nil:
		return fmt.Errorf("nil selector")
	}
	return nil
}
