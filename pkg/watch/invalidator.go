package watch

import (
	"context"
	"errors"
	"path"
	"sort"

	"github.com/openfroyo/rulegraph/pkg/addressable"
	"github.com/openfroyo/rulegraph/pkg/config"
	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/telemetry"
)

// Summary describes what one batch of changes invalidated.
type Summary struct {
	// SpecPaths are the directories whose BUILD files were reloaded.
	SpecPaths []string
	// Addresses are the targets declared before or after the reload.
	Addresses []addressable.Address
	// Files are the other changed paths.
	Files []string
	// Removed is the number of graph nodes removed.
	Removed int
}

// Invalidator applies changed paths to a project and the scheduler that
// computes products for it.
type Invalidator struct {
	project   *config.Project
	scheduler *engine.Scheduler
	logger    *telemetry.Logger
}

// NewInvalidator creates an invalidator.
func NewInvalidator(project *config.Project, scheduler *engine.Scheduler, logger *telemetry.Logger) *Invalidator {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	return &Invalidator{
		project:   project,
		scheduler: scheduler,
		logger:    logger.NewComponentLogger("invalidator"),
	}
}

// Apply reloads the spec paths of changed BUILD files and invalidates the
// nodes computed from them and from the other changed files. A spec path
// that fails to reload keeps its previous targets; its error is joined into
// the returned error and the rest of the batch is still applied.
func (inv *Invalidator) Apply(ctx context.Context, changes []string) (Summary, error) {
	var (
		summary   Summary
		errs      []error
		specPaths = make(map[string]struct{})
	)
	loader := inv.project.Loader()
	for _, c := range changes {
		if loader.IsBuildFile(path.Base(c)) {
			sp := path.Dir(c)
			if sp == "." {
				sp = ""
			}
			specPaths[sp] = struct{}{}
			continue
		}
		summary.Files = append(summary.Files, c)
	}

	sorted := make([]string, 0, len(specPaths))
	for sp := range specPaths {
		sorted = append(sorted, sp)
	}
	sort.Strings(sorted)

	for _, sp := range sorted {
		changed, err := inv.project.Reload(ctx, sp)
		if err != nil {
			inv.logger.WithError(err).WithField("spec_path", sp).Warn("failed to reload build files")
			errs = append(errs, err)
			continue
		}
		summary.SpecPaths = append(summary.SpecPaths, sp)
		summary.Addresses = append(summary.Addresses, changed...)
		summary.Removed += inv.scheduler.Invalidate(ctx, "build files changed", addressable.InSpecPath(sp))
	}
	if len(summary.Files) > 0 {
		summary.Removed += inv.scheduler.InvalidateFiles(ctx, summary.Files...)
	}

	inv.logger.WithFields(map[string]interface{}{
		"spec_paths": len(summary.SpecPaths),
		"files":      len(summary.Files),
		"removed":    summary.Removed,
	}).Info("changes applied")

	return summary, errors.Join(errs...)
}
