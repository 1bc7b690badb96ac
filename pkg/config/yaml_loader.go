package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLLoader parses BUILD.yaml files: a document with a "targets" list.
type YAMLLoader struct{}

var _ Loader = YAMLLoader{}

// Format implements Loader.
func (YAMLLoader) Format() string { return "yaml" }

// Load implements Loader.
func (YAMLLoader) Load(_ context.Context, filename string, data []byte) ([]map[string]interface{}, []ValidationError) {
	var doc struct {
		Targets []yaml.Node `yaml:"targets"`
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, []ValidationError{errorAt(filename, "", fmt.Errorf("failed to parse YAML: %w", err))}
	}

	var (
		targets []map[string]interface{}
		errs    []ValidationError
	)
	for i := range doc.Targets {
		node := &doc.Targets[i]
		var target map[string]interface{}
		if err := node.Decode(&target); err != nil {
			errs = append(errs, ValidationError{
				File:     filename,
				Line:     node.Line,
				Column:   node.Column,
				Path:     fmt.Sprintf("targets[%d]", i),
				Message:  err.Error(),
				Severity: "error",
			})
			continue
		}
		targets = append(targets, target)
	}
	return targets, errs
}
