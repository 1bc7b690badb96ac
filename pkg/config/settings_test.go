package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettingsAreValid(t *testing.T) {
	s := DefaultSettings()
	require.NoError(t, s.Validate())
	assert.Equal(t, ".", s.BuildRoot)
	assert.Equal(t, []string{"BUILD", "BUILD.*"}, s.Project.BuildFiles)
	assert.False(t, s.Store.Enabled)
}

func TestParseSettings(t *testing.T) {
	s, err := ParseSettings([]byte(`
build_root: repo
scheduler:
  max_parallel: 4
  fail_fast: true
project:
  starlark_timeout: 5s
store:
  enabled: true
  path: history.db
policies:
  paths: [policies, /etc/rulegraph/org.rego]
  disabled: [target-naming]
watch:
  debounce: 1s
telemetry:
  logging:
    level: debug
`))
	require.NoError(t, err)

	assert.Equal(t, "repo", s.BuildRoot)
	assert.Equal(t, 4, s.Scheduler.MaxParallel)
	assert.True(t, s.Scheduler.FailFast)
	assert.Equal(t, 5*time.Second, s.Project.StarlarkTimeout)
	assert.Equal(t, []string{"BUILD", "BUILD.*"}, s.Project.BuildFiles, "unset fields keep their defaults")
	assert.True(t, s.Store.Enabled)
	assert.Equal(t, filepath.Join("repo", "history.db"), s.StorePath())
	assert.Equal(t, []string{filepath.Join("repo", "policies"), "/etc/rulegraph/org.rego"}, s.PolicyPaths())
	assert.Equal(t, []string{"target-naming"}, s.Policies.Disabled)
	assert.Equal(t, time.Second, s.Watch.Debounce)
	assert.Equal(t, "debug", s.Telemetry.Logging.Level)
	assert.Equal(t, "console", s.Telemetry.Logging.Format)
}

func TestParseSettingsEmpty(t *testing.T) {
	s, err := ParseSettings(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings().BuildRoot, s.BuildRoot)
}

func TestParseSettingsErrors(t *testing.T) {
	tests := map[string]string{
		"unknown field":       "colour: red\n",
		"negative parallel":   "scheduler:\n  max_parallel: -1\n",
		"store without path":  "store:\n  enabled: true\n  path: \"\"\n",
		"no build files":      "project:\n  build_files: []\n",
		"bad log level":       "telemetry:\n  logging:\n    level: loud\n",
		"malformed yaml":      "scheduler: [\n",
		"empty build root":    "build_root: \"\"\n",
		"empty file pattern":  "project:\n  build_files: [\"\"]\n",
		"negative debounce":   "watch:\n  debounce: -1s\n",
		"otlp needs endpoint": "telemetry:\n  tracing:\n    enabled: true\n    exporter: otlp\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseSettings([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadSettingsResolvesBuildRoot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultSettingsFile)
	require.NoError(t, os.WriteFile(path, []byte("build_root: src\n"), 0o644))

	s, err := LoadSettings(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "src"), s.BuildRoot)

	_, err = LoadSettings(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
