package engine

import (
	"sort"
	"strings"
)

const (
	variantPairSep = "\x1e"
	variantKVSep   = "\x1f"
)

// VariantPair is a single key/value entry of a Variants set.
type VariantPair struct {
	Key   string
	Value string
}

// Variants is an immutable set of key/value pairs that selects between
// alternative implementations of a product. Keys are unique within one value;
// merges resolve duplicates in favour of the later entry. The zero value is
// the empty set. Variants are comparable and safe to embed in Node keys.
type Variants struct {
	encoded string
}

// NewVariants builds Variants from pairs. Later pairs win on duplicate keys.
func NewVariants(pairs ...VariantPair) Variants {
	merged := make(map[string]string, len(pairs))
	for _, p := range pairs {
		merged[p.Key] = p.Value
	}
	return encodeVariants(merged)
}

// VariantsFromMap builds Variants from a map.
func VariantsFromMap(m map[string]string) Variants {
	return encodeVariants(m)
}

// MergeVariants merges the given sets left to right: entries of later sets
// override entries of earlier ones.
func MergeVariants(sets ...Variants) Variants {
	merged := make(map[string]string)
	for _, s := range sets {
		for _, p := range s.Pairs() {
			merged[p.Key] = p.Value
		}
	}
	return encodeVariants(merged)
}

func encodeVariants(m map[string]string) Variants {
	if len(m) == 0 {
		return Variants{}
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + variantKVSep + m[k]
	}
	return Variants{encoded: strings.Join(parts, variantPairSep)}
}

// Pairs returns the entries ordered by key.
func (v Variants) Pairs() []VariantPair {
	if v.encoded == "" {
		return nil
	}
	parts := strings.Split(v.encoded, variantPairSep)
	pairs := make([]VariantPair, len(parts))
	for i, part := range parts {
		k, val, _ := strings.Cut(part, variantKVSep)
		pairs[i] = VariantPair{Key: k, Value: val}
	}
	return pairs
}

// Get returns the value configured for key.
func (v Variants) Get(key string) (string, bool) {
	for _, p := range v.Pairs() {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Map returns a copy of the entries as a map.
func (v Variants) Map() map[string]string {
	m := make(map[string]string)
	for _, p := range v.Pairs() {
		m[p.Key] = p.Value
	}
	return m
}

// Len returns the number of entries.
func (v Variants) Len() int {
	if v.encoded == "" {
		return 0
	}
	return strings.Count(v.encoded, variantPairSep) + 1
}

// IsEmpty reports whether no entries are configured.
func (v Variants) IsEmpty() bool { return v.encoded == "" }

// Satisfies reports whether every entry of required is present in v with the same value.
func (v Variants) Satisfies(required Variants) bool {
	for _, p := range required.Pairs() {
		if got, ok := v.Get(p.Key); !ok || got != p.Value {
			return false
		}
	}
	return true
}

// String renders the entries as "k1=v1,k2=v2".
func (v Variants) String() string {
	pairs := v.Pairs()
	parts := make([]string, len(pairs))
	for i, p := range pairs {
		parts[i] = p.Key + "=" + p.Value
	}
	return strings.Join(parts, ",")
}

// DefaultVariants is the product under which a subject exposes the variants
// it wants applied to its own subgraph when no dependent overrides them.
type DefaultVariants struct {
	Variants Variants
}
