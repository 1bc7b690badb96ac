package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/rulegraph/pkg/telemetry"
)

// DefaultSettingsFile is the settings file looked up in the working directory.
const DefaultSettingsFile = "rulegraph.yaml"

// DefaultSettings returns settings for a build root in the working directory.
func DefaultSettings() *Settings {
	return &Settings{
		BuildRoot: ".",
		Project: ProjectSettings{
			BuildFiles:      []string{"BUILD", "BUILD.*"},
			Ignore:          []string{".git/**", "dist/**", ".rulegraph/**"},
			StarlarkTimeout: 30 * time.Second,
		},
		Store: StoreSettings{
			Path: filepath.Join(".rulegraph", "history.db"),
		},
		Watch: WatchSettings{
			Debounce: 200 * time.Millisecond,
		},
		Telemetry: telemetry.DefaultConfig(),
	}
}

// LoadSettings reads a settings file over the defaults. Unknown fields are
// rejected. A relative build root is resolved against the file's directory.
func LoadSettings(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	s, err := ParseSettings(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !filepath.IsAbs(s.BuildRoot) {
		s.BuildRoot = filepath.Join(filepath.Dir(path), s.BuildRoot)
	}
	return s, nil
}

// ParseSettings decodes YAML settings over the defaults and validates them.
func ParseSettings(data []byte) (*Settings, error) {
	s := DefaultSettings()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse settings YAML: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Validate checks struct tags and the telemetry configuration.
func (s *Settings) Validate() error {
	if err := validator.New().Struct(s); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	if s.Telemetry == nil {
		return errors.New("invalid settings: telemetry is required")
	}
	if err := s.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry settings: %w", err)
	}
	return nil
}

// StorePath returns the history database path resolved against the build root.
func (s *Settings) StorePath() string {
	if filepath.IsAbs(s.Store.Path) {
		return s.Store.Path
	}
	return filepath.Join(s.BuildRoot, s.Store.Path)
}

// PolicyPaths returns the policy paths resolved against the build root.
func (s *Settings) PolicyPaths() []string {
	paths := make([]string, len(s.Policies.Paths))
	for i, p := range s.Policies.Paths {
		if filepath.IsAbs(p) {
			paths[i] = p
		} else {
			paths[i] = filepath.Join(s.BuildRoot, p)
		}
	}
	return paths
}
