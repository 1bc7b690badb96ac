package addressable

import (
	"fmt"
	"path"
	"strings"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// Address identifies a target: the directory that declares it and its name
// within that directory. An address may carry literal variants, written as
// "path:name@key=value,key2=value2", which win over the variants of whoever
// depends on it.
type Address struct {
	SpecPath   string
	TargetName string
	Variants   engine.Variants
}

var _ engine.VariantAnnotated = Address{}

// NewAddress creates an address without variants.
func NewAddress(specPath, targetName string) Address {
	return Address{SpecPath: specPath, TargetName: targetName}
}

// ParseAddress parses an address spec relative to the build root. The name
// defaults to the last element of the path, so "src/java/simple" is
// "src/java/simple:simple".
func ParseAddress(spec string) (Address, error) {
	return ParseRelative(spec, "")
}

// ParseRelative parses an address spec. A spec starting with ':' names a
// target in relativeTo.
func ParseRelative(spec, relativeTo string) (Address, error) {
	raw := spec
	spec, variantSpec := StripVariants(strings.TrimSpace(spec))
	spec = strings.TrimPrefix(spec, "//")
	if spec == "" {
		return Address{}, fmt.Errorf("invalid address %q: empty", raw)
	}

	specPath, name, hasColon := strings.Cut(spec, ":")
	if hasColon && specPath == "" {
		specPath = relativeTo
	}
	specPath, err := cleanSpecPath(specPath)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	if !hasColon {
		name = path.Base(specPath)
		if specPath == "" {
			return Address{}, fmt.Errorf("invalid address %q: no target name", raw)
		}
	}
	if name == "" {
		return Address{}, fmt.Errorf("invalid address %q: no target name", raw)
	}
	if strings.ContainsAny(name, ":/") {
		return Address{}, fmt.Errorf("invalid address %q: bad target name %q", raw, name)
	}

	variants, err := ParseVariants(variantSpec)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", raw, err)
	}
	return Address{SpecPath: specPath, TargetName: name, Variants: variants}, nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(spec string) Address {
	a, err := ParseAddress(spec)
	if err != nil {
		panic(err)
	}
	return a
}

// StripVariants splits "spec@variants" into the spec and the variant part.
func StripVariants(spec string) (string, string) {
	s, variants, _ := strings.Cut(spec, "@")
	return s, variants
}

// ParseVariants parses "key=value,key2=value2". Later duplicates win.
func ParseVariants(s string) (engine.Variants, error) {
	if strings.TrimSpace(s) == "" {
		return engine.Variants{}, nil
	}
	var pairs []engine.VariantPair
	for _, part := range strings.Split(s, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || k == "" {
			return engine.Variants{}, fmt.Errorf("variant %q is not of the form key=value", part)
		}
		pairs = append(pairs, engine.VariantPair{Key: k, Value: v})
	}
	return engine.NewVariants(pairs...), nil
}

func cleanSpecPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	if path.IsAbs(p) {
		return "", fmt.Errorf("spec path %s is absolute", p)
	}
	p = path.Clean(p)
	if p == "." {
		return "", nil
	}
	if p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("spec path %s escapes the build root", p)
	}
	return p, nil
}

// SplitVariants implements engine.VariantAnnotated.
func (a Address) SplitVariants() (any, engine.Variants) {
	return a.WithoutVariants(), a.Variants
}

// WithoutVariants returns the address with its literal variants removed.
func (a Address) WithoutVariants() Address {
	return Address{SpecPath: a.SpecPath, TargetName: a.TargetName}
}

// Spec is the address without variants, as written in project files.
func (a Address) Spec() string {
	return a.SpecPath + ":" + a.TargetName
}

func (a Address) String() string {
	if a.Variants.IsEmpty() {
		return a.Spec()
	}
	return a.Spec() + "@" + a.Variants.String()
}

// InSpecPath returns a predicate matching the subjects computed from the
// targets declared in specPath: their addresses and the address specs that
// cover the directory. It is suitable for engine.Scheduler.Invalidate.
func InSpecPath(specPath string) func(subject any) bool {
	return func(subject any) bool {
		switch s := subject.(type) {
		case Address:
			return s.SpecPath == specPath
		case SiblingAddresses:
			return s.Directory == specPath
		case DescendantAddresses:
			return s.Directory == "" || s.Directory == specPath ||
				strings.HasPrefix(specPath, s.Directory+"/")
		default:
			return false
		}
	}
}
