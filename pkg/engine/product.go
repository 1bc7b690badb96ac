package engine

import (
	"reflect"
)

// Product identifies a type of value that rules can produce. Products are
// comparable and may be used as map keys.
type Product struct {
	t reflect.Type
}

// ProductOf returns the Product for type T. T may be an interface, in which
// case any value implementing it satisfies the product.
func ProductOf[T any]() Product {
	return Product{t: reflect.TypeOf((*T)(nil)).Elem()}
}

// ProductFor returns the Product of the dynamic type of v.
func ProductFor(v any) Product {
	if v == nil {
		return Product{}
	}
	return Product{t: reflect.TypeOf(v)}
}

// Type returns the underlying reflect type.
func (p Product) Type() reflect.Type { return p.t }

// IsZero reports whether p names no type.
func (p Product) IsZero() bool { return p.t == nil }

// Name returns the short name of the product type.
func (p Product) Name() string {
	if p.t == nil {
		return "<none>"
	}
	if p.t.Name() != "" {
		return p.t.Name()
	}
	return p.t.String()
}

func (p Product) String() string { return p.Name() }

// Matches reports whether v is-a p: either its dynamic type is exactly p or
// p is an interface that v implements.
func (p Product) Matches(v any) bool {
	if p.t == nil || v == nil {
		return false
	}
	vt := reflect.TypeOf(v)
	if vt == p.t {
		return true
	}
	return p.t.Kind() == reflect.Interface && vt.Implements(p.t)
}

// HasStructs is implemented by values that carry embedded configuration
// values. Select treats each of them as a candidate in a has-a match.
type HasStructs interface {
	Structs() []any
}

// Named is implemented by values that carry a name. When a Select restricts
// itself with a variant key, only Named values whose name equals the variant
// value match.
type Named interface {
	Name() string
}

// selectLiteral looks for an is-a or has-a relationship between candidate and
// product, filtered by the variant value if one is given.
func selectLiteral(candidate any, product Product, variantValue string) (any, bool) {
	items := []any{candidate}
	if hs, ok := candidate.(HasStructs); ok {
		items = append(items, hs.Structs()...)
	}
	for _, item := range items {
		if !product.Matches(item) {
			continue
		}
		if variantValue != "" {
			named, ok := item.(Named)
			if !ok || named.Name() != variantValue {
				continue
			}
		}
		return item, true
	}
	return nil, false
}
