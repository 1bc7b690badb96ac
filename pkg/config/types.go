package config

import (
	"fmt"
	"time"

	"github.com/openfroyo/rulegraph/pkg/addressable"
	"github.com/openfroyo/rulegraph/pkg/telemetry"
)

// Settings configures a rule engine session.
type Settings struct {
	// BuildRoot is the directory project files and source paths are relative to.
	BuildRoot string `yaml:"build_root" validate:"required"`

	// Scheduler configures execution.
	Scheduler SchedulerSettings `yaml:"scheduler"`

	// Project configures BUILD file discovery.
	Project ProjectSettings `yaml:"project"`

	// Store configures the run history database.
	Store StoreSettings `yaml:"store"`

	// Policies configures the Rego policies checked against declared targets.
	Policies PolicySettings `yaml:"policies"`

	// Watch configures the file watcher of the watch command.
	Watch WatchSettings `yaml:"watch"`

	// Telemetry configures logging, metrics, tracing and events.
	Telemetry *telemetry.Config `yaml:"telemetry"`
}

// SchedulerSettings configures the scheduler.
type SchedulerSettings struct {
	// MaxParallel bounds concurrently running tasks. Zero uses the CPU count.
	MaxParallel int `yaml:"max_parallel" validate:"gte=0,lte=1024"`

	// FailFast stops scheduling new work once a root fails.
	FailFast bool `yaml:"fail_fast"`
}

// ProjectSettings configures BUILD file discovery.
type ProjectSettings struct {
	// BuildFiles are glob patterns matched against file base names.
	BuildFiles []string `yaml:"build_files" validate:"min=1,dive,required"`

	// Ignore are glob patterns matched against paths relative to the build root.
	Ignore []string `yaml:"ignore" validate:"dive,required"`

	// StarlarkTimeout bounds the evaluation of a single Starlark BUILD file.
	StarlarkTimeout time.Duration `yaml:"starlark_timeout" validate:"gte=0"`
}

// StoreSettings configures run history persistence.
type StoreSettings struct {
	// Enabled turns run history on.
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file, relative to the build root unless absolute.
	Path string `yaml:"path" validate:"required_if=Enabled true"`
}

// PolicySettings configures target policies.
type PolicySettings struct {
	// Paths are .rego or .json policy files or directories, relative to the
	// build root unless absolute.
	Paths []string `yaml:"paths" validate:"dive,required"`

	// Disabled names policies, built-in or loaded, that are not evaluated.
	Disabled []string `yaml:"disabled" validate:"dive,required"`
}

// WatchSettings configures the file watcher.
type WatchSettings struct {
	// Debounce is how long the watcher waits for further changes before
	// invalidating.
	Debounce time.Duration `yaml:"debounce" validate:"gte=0"`
}

// ValidationError is a problem found while loading a project, with the
// location it was found at.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path of the error (e.g., "targets.guava.type").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

func (e ValidationError) Error() string {
	loc := e.File
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d:%d", e.File, e.Line, e.Column)
	}
	switch {
	case loc != "" && e.Path != "":
		return fmt.Sprintf("%s: %s: %s", loc, e.Path, e.Message)
	case loc != "":
		return fmt.Sprintf("%s: %s", loc, e.Message)
	case e.Path != "":
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	default:
		return e.Message
	}
}

// ProjectFile is one parsed BUILD file.
type ProjectFile struct {
	// Path is the file path relative to the build root.
	Path string `json:"path"`

	// SpecPath is the directory the file declares targets for.
	SpecPath string `json:"spec_path"`

	// Format is the loader that parsed the file (yaml, cue, hcl, starlark).
	Format string `json:"format"`

	// Targets are the declared targets.
	Targets []addressable.TargetConfig `json:"targets"`
}

// ParsedProject is the outcome of loading every BUILD file of a build root.
type ParsedProject struct {
	// Files are the parsed BUILD files, in walk order.
	Files []ProjectFile `json:"files"`

	// ParsedAt is when the project was loaded.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists every problem found. Files with errors contribute no targets.
	Errors []ValidationError `json:"errors,omitempty"`
}

// Targets returns the number of declared targets.
func (p *ParsedProject) Targets() int {
	n := 0
	for _, f := range p.Files {
		n += len(f.Targets)
	}
	return n
}

// StarlarkResult represents the result of Starlark execution.
type StarlarkResult struct {
	// Output holds the exported globals of the script.
	Output map[string]interface{} `json:"output,omitempty"`

	// Targets are the arguments of every target() call, in call order.
	Targets []map[string]interface{} `json:"targets,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}
