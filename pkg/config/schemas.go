package config

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages CUE schemas for validation.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a new schema registry with built-in schemas.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	for name, def := range map[string]string{
		"target":        "#Target",
		"configuration": "#Configuration",
		"dependency":    "#Dependency",
	} {
		if err := sr.RegisterSchema(name, builtinProjectSchema, def); err != nil {
			panic(err)
		}
	}
}

// Context returns the CUE context schemas are compiled in. Values checked
// against a schema must come from the same context.
func (sr *SchemaRegistry) Context() *cue.Context { return sr.ctx }

// RegisterSchema compiles source and registers its definition under name.
func (sr *SchemaRegistry) RegisterSchema(name, source, definition string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(source, cue.Filename(name+".cue"))
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}
	def := val.LookupPath(cue.ParsePath(definition))
	if !def.Exists() {
		return fmt.Errorf("schema %s does not define %s", name, definition)
	}
	sr.schemas[name] = def
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()
	val, ok := sr.schemas[name]
	return val, ok
}

// Check unifies val with a named schema and requires the result to be concrete.
func (sr *SchemaRegistry) Check(schemaName string, val cue.Value) (cue.Value, error) {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return cue.Value{}, fmt.Errorf("schema %s not found", schemaName)
	}
	unified := schema.Unify(val)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return cue.Value{}, err
	}
	return unified, nil
}

// ValidateAgainstSchema validates Go data against a named schema.
func (sr *SchemaRegistry) ValidateAgainstSchema(_ context.Context, schemaName string, data interface{}) error {
	sr.mu.Lock()
	dataVal := sr.ctx.Encode(data)
	sr.mu.Unlock()
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	if _, err := sr.Check(schemaName, dataVal); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}

// ListSchemas returns all registered schema names, sorted.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateTarget validates a raw target map against the target schema.
func (sr *SchemaRegistry) ValidateTarget(ctx context.Context, target map[string]interface{}) error {
	return sr.ValidateAgainstSchema(ctx, "target", target)
}

const builtinProjectSchema = `
// A target declared in a BUILD file.
#Target: {
	// Name is unique within the directory and may not contain address separators.
	name: string & =~"^[^:@/]+$"

	// Type is a target type alias known to the symbol table.
	type?: string & !=""

	dependencies?: [...#Dependency]

	// Variants are the default variants of everything computed for the target.
	variants?: {[string]: string}

	configurations?: [...#Configuration]
}

// A typed configuration value. Fields besides type and name are passed to
// the constructor registered for type.
#Configuration: {
	type:  string & !=""
	name?: string
	...
}

// An address spec, or an inline configuration value.
#Dependency: string | #Configuration
`
