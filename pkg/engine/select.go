package engine

import (
	"fmt"
	"reflect"
	"strings"
)

var defaultVariantsProduct = ProductOf[DefaultVariants]()

// SelectNode selects a product for a subject. The subject itself may satisfy
// the request (is-a or has-a), otherwise every candidate the rule index offers
// is consulted and exactly one of them must produce a matching value.
//
// A non-empty variant key restricts matches to Named values whose name equals
// the value configured for that key.
type SelectNode struct {
	subject    any
	product    Product
	variants   Variants
	variantKey string
}

// NewSelectNode creates a SelectNode.
func NewSelectNode(subject any, product Product, variants Variants, variantKey string) SelectNode {
	return SelectNode{subject: subject, product: product, variants: variants, variantKey: variantKey}
}

func (n SelectNode) Subject() any       { return n.subject }
func (n SelectNode) Product() Product   { return n.product }
func (n SelectNode) Variants() Variants { return n.variants }
func (n SelectNode) VariantKey() string { return n.variantKey }
func (n SelectNode) Cacheable() bool    { return true }
func (n SelectNode) Kind() NodeKind     { return NodeKindSelect }
func (SelectNode) isNode()              {}

func (n SelectNode) String() string {
	key := ""
	if n.variantKey != "" {
		key = "key=" + n.variantKey
	}
	return formatNode("Select", n.subject, n.product, n.variants, key)
}

func (n SelectNode) variantsNode(sc *StepContext) (Node, bool) {
	if n.product == defaultVariantsProduct || sc.isLiteralSource(n.product) {
		return nil, false
	}
	return SelectNode{subject: n.subject, product: defaultVariantsProduct, variants: n.variants}, true
}

// Step implements Node.
func (n SelectNode) Step(deps DependencyStates, sc *StepContext) State {
	// The subject's default variants apply unless a dependent overrides them.
	variants := n.variants
	if vn, ok := n.variantsNode(sc); ok {
		switch s := waitingOrState(deps, vn).(type) {
		case nil:
			return Waiting{Dependencies: []Node{vn}}
		case Return:
			if dv, ok := s.Value.(DefaultVariants); ok {
				variants = MergeVariants(dv.Variants, variants)
			}
		}
	}

	variantValue := ""
	if n.variantKey != "" {
		v, ok := variants.Get(n.variantKey)
		if !ok {
			return Noopf("variant key %s was not configured in variants {%s}", n.variantKey, variants)
		}
		variantValue = v
	}

	if v, ok := selectLiteral(n.subject, n.product, variantValue); ok {
		return Return{Value: v}
	}

	candidates := sc.GenNodes(n.subject, n.product, variants)
	waiting := false
	var matchNodes []Node
	var matchValues []any
	for _, dep := range candidates {
		switch s := waitingOrState(deps, dep).(type) {
		case nil:
			waiting = true
		case Throw:
			return s
		case Noop:
			continue
		case Return:
			v, ok := selectLiteral(s.Value, n.product, variantValue)
			if !ok || containsValue(matchValues, v) {
				continue
			}
			matchNodes = append(matchNodes, dep)
			matchValues = append(matchValues, v)
		default:
			return unrecognizedState(n, s)
		}
	}
	if waiting {
		return Waiting{Dependencies: candidates}
	}

	switch len(matchValues) {
	case 0:
		return Noopf("no source of %s", n)
	case 1:
		return Return{Value: matchValues[0]}
	default:
		lines := make([]string, len(matchNodes))
		for i := range matchNodes {
			lines[i] = fmt.Sprintf("%s: %v", matchNodes[i], matchValues[i])
		}
		msg := fmt.Sprintf("more than one source of %s for %s:\n  %s",
			n.product.Name(), formatSubject(n.subject), strings.Join(lines, "\n  "))
		return Throw{Err: NewConflictingProducersError(msg, matchNodes...).WithNode(n)}
	}
}

func containsValue(values []any, v any) bool {
	for _, existing := range values {
		if reflect.DeepEqual(existing, v) {
			return true
		}
	}
	return false
}
