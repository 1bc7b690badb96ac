package engine

import (
	"errors"
	"fmt"
	"sort"
)

// TaskRule declares that Func can produce Output from the values selected by Clause.
type TaskRule struct {
	// Name identifies the rule in logs, traces and graph output.
	Name string

	// Output is the product the rule produces.
	Output Product

	// SubjectTypes restricts the subjects the rule applies to. Empty means any subject.
	SubjectTypes []Product

	// Clause lists the rule's inputs; their values are passed to Func in this order.
	Clause []Selector

	// RequiredVariants gates the rule: it is only offered when every entry is
	// present with the same value in the requesting variants.
	RequiredVariants Variants

	// Func computes the product.
	Func TaskFunc
}

func (r *TaskRule) appliesTo(subject any) bool {
	if len(r.SubjectTypes) == 0 {
		return true
	}
	for _, t := range r.SubjectTypes {
		if t.Matches(subject) {
			return true
		}
	}
	return false
}

func (r *TaskRule) validate() error {
	if r.Name == "" {
		return errors.New("rule has no name")
	}
	if r.Output.IsZero() {
		return fmt.Errorf("rule %s has no output product", r.Name)
	}
	if r.Func == nil {
		return fmt.Errorf("rule %s has no function", r.Name)
	}
	if IsFilesystemProduct(r.Output) {
		return fmt.Errorf("rule %s produces %s, which is reserved for filesystem nodes", r.Name, r.Output.Name())
	}
	for i, sel := range r.Clause {
		if err := validateSelector(sel); err != nil {
			return fmt.Errorf("rule %s selector %d: %w", r.Name, i, err)
		}
	}
	return nil
}

// literalResolution makes subjects of one type resolvable to a value of the
// via product before literal products are matched against it.
type literalResolution struct {
	subject  Product
	via      Product
	products map[Product]struct{}
}

// RuleSet collects rules before they are frozen into a RuleIndex.
type RuleSet struct {
	rules    []*TaskRule
	literals []literalResolution
}

// NewRuleSet creates an empty rule set.
func NewRuleSet() *RuleSet {
	return &RuleSet{}
}

// Add registers task rules.
func (s *RuleSet) Add(rules ...TaskRule) *RuleSet {
	for i := range rules {
		r := rules[i]
		s.rules = append(s.rules, &r)
	}
	return s
}

// AddLiteral declares that a subject matching subjectType may be resolved to
// a value of via, and that requests for any of products on such a subject
// should consult that value. This is how an address becomes the configuration
// it points at.
func (s *RuleSet) AddLiteral(subjectType, via Product, products ...Product) *RuleSet {
	set := make(map[Product]struct{}, len(products))
	for _, p := range products {
		set[p] = struct{}{}
	}
	s.literals = append(s.literals, literalResolution{subject: subjectType, via: via, products: set})
	return s
}

// Merge adds the rules and literal resolutions of other.
func (s *RuleSet) Merge(other *RuleSet) *RuleSet {
	if other == nil {
		return s
	}
	s.rules = append(s.rules, other.rules...)
	s.literals = append(s.literals, other.literals...)
	return s
}

// Build validates the rules and returns an immutable index.
func (s *RuleSet) Build() (*RuleIndex, error) {
	var errs []error
	seen := make(map[string]struct{}, len(s.rules))
	ix := &RuleIndex{
		byProduct:      make(map[Product][]*TaskRule),
		literalSources: make(map[Product]struct{}),
	}
	for _, r := range s.rules {
		if err := r.validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		if _, dup := seen[r.Name]; dup {
			errs = append(errs, fmt.Errorf("rule %s registered twice", r.Name))
			continue
		}
		seen[r.Name] = struct{}{}
		ix.rules = append(ix.rules, r)
		ix.byProduct[r.Output] = append(ix.byProduct[r.Output], r)
	}
	for _, l := range s.literals {
		if l.subject.IsZero() || l.via.IsZero() {
			errs = append(errs, errors.New("literal resolution needs a subject type and a via product"))
			continue
		}
		ix.literals = append(ix.literals, l)
		ix.literalSources[l.via] = struct{}{}
	}
	if len(errs) > 0 {
		return nil, NewInvalidRuleError("invalid rule set", errors.Join(errs...))
	}
	return ix, nil
}

// MustBuild is like Build but panics on invalid rules.
func (s *RuleSet) MustBuild() *RuleIndex {
	ix, err := s.Build()
	if err != nil {
		panic(err)
	}
	return ix
}

// RuleIndex answers which nodes might produce a product for a subject. It is
// built once and never modified, so it is shared by concurrent steps without locking.
type RuleIndex struct {
	rules          []*TaskRule
	byProduct      map[Product][]*TaskRule
	literals       []literalResolution
	literalSources map[Product]struct{}
}

// GenNodes returns the candidate nodes for (subject, product, variants) in a
// stable order: the filesystem node first, then task rules in registration
// order, then literal resolutions.
func (ix *RuleIndex) GenNodes(subject any, product Product, variants Variants) []Node {
	var nodes []Node
	if IsFilesystemProduct(product) {
		nodes = append(nodes, FilesystemNode{subject: subject, product: product, variants: variants})
	}
	for _, r := range ix.byProduct[product] {
		if !r.appliesTo(subject) || !variants.Satisfies(r.RequiredVariants) {
			continue
		}
		nodes = append(nodes, TaskNode{subject: subject, product: product, variants: variants, rule: r})
	}
	for _, l := range ix.literals {
		if _, ok := l.products[product]; !ok || !l.subject.Matches(subject) {
			continue
		}
		nodes = append(nodes, SelectNode{subject: subject, product: l.via})
	}
	return nodes
}

func (ix *RuleIndex) isLiteralSource(p Product) bool {
	_, ok := ix.literalSources[p]
	return ok
}

// Rules returns the registered rules in registration order.
func (ix *RuleIndex) Rules() []*TaskRule {
	out := make([]*TaskRule, len(ix.rules))
	copy(out, ix.rules)
	return out
}

// Rule returns the rule registered under name.
func (ix *RuleIndex) Rule(name string) (*TaskRule, bool) {
	for _, r := range ix.rules {
		if r.Name == name {
			return r, true
		}
	}
	return nil, false
}

// Products returns the names of every product some rule can produce, sorted.
func (ix *RuleIndex) Products() []string {
	names := make([]string, 0, len(ix.byProduct))
	for p := range ix.byProduct {
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}
