package addressable

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// ErrTargetNotFound is returned for an address no project file declares.
var ErrTargetNotFound = errors.New("target not found")

// AddressMapper is the table of declared targets. The engine reaches it
// through the rules it contributes: a *Target for an Address subject, and
// the address listings of sibling and descendant specs.
type AddressMapper struct {
	mu      sync.RWMutex
	targets map[Address]*Target
}

// NewAddressMapper creates an empty mapper.
func NewAddressMapper() *AddressMapper {
	return &AddressMapper{targets: make(map[Address]*Target)}
}

// Register adds targets. Registering an address twice is an error.
func (m *AddressMapper) Register(targets ...*Target) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range targets {
		key := t.Address.WithoutVariants()
		if _, dup := m.targets[key]; dup {
			return fmt.Errorf("target %s is declared twice", key)
		}
		m.targets[key] = t
	}
	return nil
}

// ReplaceSpecPath swaps every target declared in specPath for targets, as
// after the project file of that directory was edited. It returns the
// addresses that were declared before.
func (m *AddressMapper) ReplaceSpecPath(specPath string, targets []*Target) ([]Address, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var old []Address
	for a := range m.targets {
		if a.SpecPath == specPath {
			old = append(old, a)
		}
	}
	seen := make(map[Address]struct{}, len(targets))
	for _, t := range targets {
		key := t.Address.WithoutVariants()
		if key.SpecPath != specPath {
			return nil, fmt.Errorf("target %s is not declared in %s", key, specPath)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("target %s is declared twice", key)
		}
		seen[key] = struct{}{}
	}
	for _, a := range old {
		delete(m.targets, a)
	}
	for _, t := range targets {
		m.targets[t.Address.WithoutVariants()] = t
	}
	sortAddresses(old)
	return old, nil
}

// Resolve returns the target declared at address.
func (m *AddressMapper) Resolve(address Address) (*Target, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[address.WithoutVariants()]
	if !ok {
		return nil, fmt.Errorf("%s: %w", address, ErrTargetNotFound)
	}
	return t, nil
}

// Addresses returns every declared address, sorted.
func (m *AddressMapper) Addresses() []Address {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Address, 0, len(m.targets))
	for a := range m.targets {
		out = append(out, a)
	}
	sortAddresses(out)
	return out
}

// Len returns the number of declared targets.
func (m *AddressMapper) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.targets)
}

func (m *AddressMapper) match(keep func(Address) bool) Addresses {
	var out []Address
	for _, a := range m.Addresses() {
		if keep(a) {
			out = append(out, a)
		}
	}
	return Addresses{Dependencies: out}
}

// Rules returns the rules that make targets available to the engine.
// literals are the configuration products that a request on an Address
// should look for among the configurations of its target.
func (m *AddressMapper) Rules(literals ...engine.Product) *engine.RuleSet {
	products := append([]engine.Product{engine.ProductOf[engine.DefaultVariants]()}, literals...)
	return engine.NewRuleSet().
		Add(
			engine.TaskRule{
				Name:         "resolve_address",
				Output:       engine.ProductOf[*Target](),
				SubjectTypes: []engine.Product{engine.ProductOf[Address]()},
				Func: func(ctx context.Context, _ []any) (any, error) {
					subject, _ := engine.SubjectFromContext(ctx)
					address, ok := subject.(Address)
					if !ok {
						return nil, fmt.Errorf("subject %v is not an address", subject)
					}
					return m.Resolve(address)
				},
			},
			engine.TaskRule{
				Name:         "sibling_addresses",
				Output:       engine.ProductOf[Addresses](),
				SubjectTypes: []engine.Product{engine.ProductOf[SiblingAddresses]()},
				Func: func(ctx context.Context, _ []any) (any, error) {
					subject, _ := engine.SubjectFromContext(ctx)
					spec := subject.(SiblingAddresses)
					return m.match(func(a Address) bool { return a.SpecPath == spec.Directory }), nil
				},
			},
			engine.TaskRule{
				Name:         "descendant_addresses",
				Output:       engine.ProductOf[Addresses](),
				SubjectTypes: []engine.Product{engine.ProductOf[DescendantAddresses]()},
				Func: func(ctx context.Context, _ []any) (any, error) {
					subject, _ := engine.SubjectFromContext(ctx)
					spec := subject.(DescendantAddresses)
					return m.match(func(a Address) bool {
						return spec.Directory == "" || a.SpecPath == spec.Directory ||
							strings.HasPrefix(a.SpecPath, spec.Directory+"/")
					}), nil
				},
			},
		).
		AddLiteral(engine.ProductOf[Address](), engine.ProductOf[*Target](), products...)
}

func sortAddresses(as []Address) {
	sort.Slice(as, func(i, j int) bool {
		if as[i].SpecPath != as[j].SpecPath {
			return as[i].SpecPath < as[j].SpecPath
		}
		return as[i].TargetName < as[j].TargetName
	})
}
