package config

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Loader parses one BUILD file format into raw target maps, the generic
// form accepted by addressable.TargetConfigFromMap.
type Loader interface {
	// Format names the loader in ProjectFile.Format.
	Format() string

	// Load parses the content of filename. It reports every problem found
	// rather than stopping at the first.
	Load(ctx context.Context, filename string, data []byte) ([]map[string]interface{}, []ValidationError)
}

// loaderFor picks the loader of a BUILD file by extension. Files without
// one are Starlark.
func (pl *ProjectLoader) loaderFor(filename string) (Loader, error) {
	switch ext := strings.ToLower(path.Ext(filename)); ext {
	case ".yaml", ".yml":
		return pl.yaml, nil
	case ".cue":
		return pl.cue, nil
	case ".hcl":
		return pl.hcl, nil
	case "", ".star", ".bzl":
		return pl.starlark, nil
	default:
		return nil, fmt.Errorf("no loader for %s files", ext)
	}
}

func errorAt(file, fieldPath string, err error) ValidationError {
	return ValidationError{File: file, Path: fieldPath, Message: err.Error(), Severity: "error"}
}
