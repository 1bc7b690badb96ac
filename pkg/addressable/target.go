package addressable

import (
	"github.com/openfroyo/rulegraph/pkg/engine"
)

// Target is a named, addressable configuration: the unit declared in project
// files. Its configurations are what Select finds when a product is requested
// for the target's address, and its default variants apply to everything
// computed for it unless a dependent overrides them.
type Target struct {
	Address        Address
	TypeAlias      string
	Dependencies   []Ref
	Configurations []any
	Variants       engine.Variants
}

var (
	_ engine.HasStructs = (*Target)(nil)
	_ engine.Named      = (*Target)(nil)
)

// Name implements engine.Named.
func (t *Target) Name() string { return t.Address.TargetName }

// Structs implements engine.HasStructs.
func (t *Target) Structs() []any {
	structs := make([]any, 0, len(t.Configurations)+1)
	structs = append(structs, t.Configurations...)
	if !t.Variants.IsEmpty() {
		structs = append(structs, engine.DefaultVariants{Variants: t.Variants})
	}
	return structs
}

func (t *Target) String() string {
	return t.TypeAlias + "(" + t.Address.String() + ")"
}
