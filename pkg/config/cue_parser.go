package config

import (
	"context"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
)

// CUEParser parses BUILD.cue files. A file defines "targets" either as a
// map keyed by target name or as a list; each entry is checked against the
// #Target schema.
type CUEParser struct {
	mu             sync.Mutex
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
}

var _ Loader = (*CUEParser)(nil)

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	sr := NewSchemaRegistry()
	return &CUEParser{
		ctx:            sr.Context(),
		schemaRegistry: sr,
	}
}

// Format implements Loader.
func (cp *CUEParser) Format() string { return "cue" }

// Load implements Loader.
func (cp *CUEParser) Load(_ context.Context, filename string, data []byte) ([]map[string]interface{}, []ValidationError) {
	cp.mu.Lock()
	defer cp.mu.Unlock()

	val := cp.ctx.CompileBytes(data, cue.Filename(filename))
	if err := val.Err(); err != nil {
		return nil, cp.convertCUEErrors(filename, "", err)
	}
	return cp.extractTargets(filename, val)
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) ([]map[string]interface{}, []ValidationError) {
	return cp.Load(ctx, "inline", []byte(content))
}

// GetSchemaRegistry returns the schema registry.
func (cp *CUEParser) GetSchemaRegistry() *SchemaRegistry {
	return cp.schemaRegistry
}

func (cp *CUEParser) extractTargets(filename string, val cue.Value) ([]map[string]interface{}, []ValidationError) {
	targetsVal := val.LookupPath(cue.ParsePath("targets"))
	if !targetsVal.Exists() {
		return nil, nil
	}

	var (
		targets []map[string]interface{}
		errs    []ValidationError
	)
	collect := func(key, fieldPath string, v cue.Value) {
		target, targetErrs := cp.extractTarget(filename, key, fieldPath, v)
		if len(targetErrs) > 0 {
			errs = append(errs, targetErrs...)
			return
		}
		targets = append(targets, target)
	}

	switch targetsVal.Kind() {
	case cue.StructKind:
		iter, err := targetsVal.Fields()
		if err != nil {
			return nil, cp.convertCUEErrors(filename, "targets", err)
		}
		for iter.Next() {
			key := iter.Selector().Unquoted()
			collect(key, "targets."+iter.Selector().String(), iter.Value())
		}
	case cue.ListKind:
		list, err := targetsVal.List()
		if err != nil {
			return nil, cp.convertCUEErrors(filename, "targets", err)
		}
		for idx := 0; list.Next(); idx++ {
			collect("", fmt.Sprintf("targets[%d]", idx), list.Value())
		}
	default:
		return nil, []ValidationError{{
			File:     filename,
			Path:     "targets",
			Message:  fmt.Sprintf("targets must be a struct or a list, got %s", targetsVal.Kind()),
			Severity: "error",
		}}
	}
	return targets, errs
}

// extractTarget checks one target against the schema and decodes it. A
// target keyed by name in a map may omit its name field.
func (cp *CUEParser) extractTarget(filename, key, fieldPath string, v cue.Value) (map[string]interface{}, []ValidationError) {
	namePath := cue.ParsePath("name")
	if key != "" && !v.LookupPath(namePath).Exists() {
		v = v.FillPath(namePath, key)
	}

	checked, err := cp.schemaRegistry.Check("target", v)
	if err != nil {
		return nil, cp.convertCUEErrors(filename, fieldPath, err)
	}

	var target map[string]interface{}
	if err := checked.Decode(&target); err != nil {
		return nil, cp.convertCUEErrors(filename, fieldPath, err)
	}
	return target, nil
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func (cp *CUEParser) convertCUEErrors(filename, fieldPath string, err error) []ValidationError {
	var validationErrors []ValidationError
	for _, e := range errors.Errors(err) {
		var line, column int
		for _, pos := range errors.Positions(e) {
			if pos.Filename() == filename {
				line = pos.Line()
				column = pos.Column()
				break
			}
		}
		validationErrors = append(validationErrors, ValidationError{
			File:     filename,
			Line:     line,
			Column:   column,
			Path:     fieldPath,
			Message:  errors.Details(e, nil),
			Severity: "error",
		})
	}
	return validationErrors
}
