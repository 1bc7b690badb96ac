package addressable

import (
	"fmt"
	"sort"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// DefaultTargetType is the type alias of a target that does not name one.
const DefaultTargetType = "target"

// TargetConfig is a target as declared in a project file, before its
// configurations are constructed and its dependencies parsed.
type TargetConfig struct {
	// Name is the target name within its directory.
	Name string `json:"name" yaml:"name" validate:"required,excludesall=:@/"`

	// Type is the target's type alias.
	Type string `json:"type,omitempty" yaml:"type,omitempty"`

	// Dependencies are addresses or inline configuration values.
	Dependencies []DependencyConfig `json:"dependencies,omitempty" yaml:"dependencies,omitempty" validate:"dive"`

	// Variants are the target's default variants.
	Variants map[string]string `json:"variants,omitempty" yaml:"variants,omitempty" validate:"dive,keys,required,endkeys,required"`

	// Configurations are the values Select finds on the target.
	Configurations []ConfigValue `json:"configurations,omitempty" yaml:"configurations,omitempty" validate:"dive"`
}

// DependencyConfig is one declared dependency: an address spec, or an inline value.
type DependencyConfig struct {
	Address string       `json:"address,omitempty" yaml:"address,omitempty" validate:"required_without=Inline"`
	Inline  *ConfigValue `json:"inline,omitempty" yaml:"inline,omitempty" validate:"omitempty"`
}

// ConfigValue is a typed configuration value. Type is an alias resolved by a
// SymbolTable; every other field lands in Fields.
type ConfigValue struct {
	Type   string         `json:"type" yaml:"type" validate:"required"`
	Name   string         `json:"name,omitempty" yaml:"name,omitempty"`
	Fields map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`

	// SpecPath is the directory of the declaring project file, set when
	// the value is constructed.
	SpecPath string `json:"-" yaml:"-"`
}

// TargetConfigFromMap converts the generic form produced by the YAML, CUE and
// Starlark loaders.
func TargetConfigFromMap(m map[string]any) (TargetConfig, error) {
	var tc TargetConfig
	for key, raw := range m {
		switch key {
		case "name":
			s, ok := raw.(string)
			if !ok {
				return tc, fmt.Errorf("name must be a string, got %T", raw)
			}
			tc.Name = s
		case "type":
			s, ok := raw.(string)
			if !ok {
				return tc, fmt.Errorf("type must be a string, got %T", raw)
			}
			tc.Type = s
		case "dependencies":
			items, ok := raw.([]any)
			if !ok {
				return tc, fmt.Errorf("dependencies must be a list, got %T", raw)
			}
			for i, item := range items {
				switch d := item.(type) {
				case string:
					tc.Dependencies = append(tc.Dependencies, DependencyConfig{Address: d})
				case map[string]any:
					cv, err := ConfigValueFromMap(d)
					if err != nil {
						return tc, fmt.Errorf("dependency %d: %w", i, err)
					}
					tc.Dependencies = append(tc.Dependencies, DependencyConfig{Inline: &cv})
				default:
					return tc, fmt.Errorf("dependency %d must be an address or a value, got %T", i, item)
				}
			}
		case "variants":
			vm, ok := raw.(map[string]any)
			if !ok {
				return tc, fmt.Errorf("variants must be a map, got %T", raw)
			}
			tc.Variants = make(map[string]string, len(vm))
			for k, v := range vm {
				tc.Variants[k] = fmt.Sprint(v)
			}
		case "configurations":
			items, ok := raw.([]any)
			if !ok {
				return tc, fmt.Errorf("configurations must be a list, got %T", raw)
			}
			for i, item := range items {
				cm, ok := item.(map[string]any)
				if !ok {
					return tc, fmt.Errorf("configuration %d must be a map, got %T", i, item)
				}
				cv, err := ConfigValueFromMap(cm)
				if err != nil {
					return tc, fmt.Errorf("configuration %d: %w", i, err)
				}
				tc.Configurations = append(tc.Configurations, cv)
			}
		default:
			return tc, fmt.Errorf("unknown target field %q", key)
		}
	}
	return tc, nil
}

// ConfigValueFromMap splits "type" and "name" from the remaining fields.
func ConfigValueFromMap(m map[string]any) (ConfigValue, error) {
	cv := ConfigValue{Fields: make(map[string]any, len(m))}
	for k, v := range m {
		switch k {
		case "type":
			s, ok := v.(string)
			if !ok {
				return cv, fmt.Errorf("type must be a string, got %T", v)
			}
			cv.Type = s
		case "name":
			s, ok := v.(string)
			if !ok {
				return cv, fmt.Errorf("name must be a string, got %T", v)
			}
			cv.Name = s
		default:
			cv.Fields[k] = v
		}
	}
	if cv.Type == "" {
		return cv, fmt.Errorf("configuration has no type")
	}
	return cv, nil
}

// String returns a string field, or "" when it is absent.
func (cv ConfigValue) String(key string) string {
	v, ok := cv.Fields[key]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// Strings returns a list field as strings.
func (cv ConfigValue) Strings(key string) []string {
	items, _ := cv.Fields[key].([]any)
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, fmt.Sprint(item))
	}
	return out
}

// Bool returns a boolean field, or def when it is absent.
func (cv ConfigValue) Bool(key string, def bool) bool {
	b, ok := cv.Fields[key].(bool)
	if !ok {
		return def
	}
	return b
}

// StringMap returns a map field with its values as strings.
func (cv ConfigValue) StringMap(key string) map[string]string {
	m, _ := cv.Fields[key].(map[string]any)
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = fmt.Sprint(v)
	}
	return out
}

// Constructor builds a configuration value. deps are the parsed entries of
// the value's "dependencies" field.
type Constructor func(cv ConfigValue, deps []Ref) (any, error)

// SymbolTable maps type aliases to constructors. It is built once, before
// projects are loaded, and only read afterwards.
type SymbolTable struct {
	ctors   map[string]Constructor
	targets map[string]struct{}
}

// NewSymbolTable creates a table that knows the plain "target" type.
func NewSymbolTable() *SymbolTable {
	return &SymbolTable{
		ctors:   make(map[string]Constructor),
		targets: map[string]struct{}{DefaultTargetType: {}},
	}
}

// Register adds a configuration type.
func (t *SymbolTable) Register(alias string, c Constructor) *SymbolTable {
	t.ctors[alias] = c
	return t
}

// RegisterTarget adds a type alias for targets, such as "java_library".
func (t *SymbolTable) RegisterTarget(alias string) *SymbolTable {
	t.targets[alias] = struct{}{}
	return t
}

// Aliases returns every registered alias, sorted.
func (t *SymbolTable) Aliases() []string {
	out := make([]string, 0, len(t.ctors)+len(t.targets))
	for a := range t.ctors {
		out = append(out, a)
	}
	for a := range t.targets {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Construct builds the value of cv, parsing its dependencies relative to specPath.
func (t *SymbolTable) Construct(specPath string, cv ConfigValue) (any, error) {
	ctor, ok := t.ctors[cv.Type]
	if !ok {
		return nil, fmt.Errorf("unknown configuration type %q", cv.Type)
	}
	var deps []Ref
	if raw, ok := cv.Fields["dependencies"]; ok {
		items, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("%s: dependencies must be a list, got %T", cv.Type, raw)
		}
		for i, item := range items {
			ref, err := t.parseRef(specPath, item)
			if err != nil {
				return nil, fmt.Errorf("%s: dependency %d: %w", cv.Type, i, err)
			}
			deps = append(deps, ref)
		}
	}
	cv.SpecPath = specPath
	v, err := ctor(cv, deps)
	if err != nil {
		return nil, fmt.Errorf("failed to construct %s: %w", cv.Type, err)
	}
	return v, nil
}

func (t *SymbolTable) parseRef(specPath string, item any) (Ref, error) {
	switch d := item.(type) {
	case string:
		a, err := ParseRelative(d, specPath)
		if err != nil {
			return Ref{}, err
		}
		return Unresolved(a), nil
	case map[string]any:
		cv, err := ConfigValueFromMap(d)
		if err != nil {
			return Ref{}, err
		}
		return t.resolvedRef(specPath, cv)
	default:
		return Ref{}, fmt.Errorf("must be an address or a value, got %T", item)
	}
}

func (t *SymbolTable) resolvedRef(specPath string, cv ConfigValue) (Ref, error) {
	v, err := t.Construct(specPath, cv)
	if err != nil {
		return Ref{}, err
	}
	return Resolved(v), nil
}

// Target builds the target declared by tc in specPath.
func (t *SymbolTable) Target(specPath string, tc TargetConfig) (*Target, error) {
	alias := tc.Type
	if alias == "" {
		alias = DefaultTargetType
	}
	if _, ok := t.targets[alias]; !ok {
		return nil, fmt.Errorf("target %s: unknown target type %q", tc.Name, alias)
	}
	specPath, err := cleanSpecPath(specPath)
	if err != nil {
		return nil, err
	}

	target := &Target{
		Address:   NewAddress(specPath, tc.Name),
		TypeAlias: alias,
		Variants:  engine.VariantsFromMap(tc.Variants),
	}
	for i, d := range tc.Dependencies {
		var ref Ref
		if d.Inline != nil {
			ref, err = t.resolvedRef(specPath, *d.Inline)
		} else {
			var a Address
			a, err = ParseRelative(d.Address, specPath)
			ref = Unresolved(a)
		}
		if err != nil {
			return nil, fmt.Errorf("target %s: dependency %d: %w", tc.Name, i, err)
		}
		target.Dependencies = append(target.Dependencies, ref)
	}
	for _, cv := range tc.Configurations {
		v, err := t.Construct(specPath, cv)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", tc.Name, err)
		}
		target.Configurations = append(target.Configurations, v)
	}
	return target, nil
}
