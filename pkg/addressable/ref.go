package addressable

import (
	"fmt"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// Ref is a dependency of a configuration value. It is either unresolved, an
// Address that the engine resolves through Select, or resolved, an inline
// value that is used as is. Inline values become subjects, so they must be
// comparable.
type Ref struct {
	address  Address
	value    any
	resolved bool
}

var _ engine.VariantAnnotated = Ref{}

// Unresolved creates a Ref to the target at address.
func Unresolved(address Address) Ref {
	return Ref{address: address}
}

// Resolved creates a Ref holding an inline value.
func Resolved(value any) Ref {
	return Ref{value: value, resolved: true}
}

// IsResolved reports whether the Ref holds an inline value.
func (r Ref) IsResolved() bool { return r.resolved }

// Address returns the address of an unresolved Ref.
func (r Ref) Address() (Address, bool) {
	return r.address, !r.resolved
}

// Value returns the value of a resolved Ref.
func (r Ref) Value() (any, bool) {
	return r.value, r.resolved
}

// SplitVariants implements engine.VariantAnnotated: the subject of the
// dependency is the address or the inline value.
func (r Ref) SplitVariants() (any, engine.Variants) {
	if r.resolved {
		return r.value, engine.Variants{}
	}
	return r.address.SplitVariants()
}

func (r Ref) String() string {
	if r.resolved {
		return fmt.Sprintf("%v", r.value)
	}
	return r.address.String()
}
