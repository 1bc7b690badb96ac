package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openfroyo/rulegraph/pkg/config"
	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/examples/planners"
	"github.com/openfroyo/rulegraph/pkg/fstree"
	"github.com/openfroyo/rulegraph/pkg/stores"
	"github.com/openfroyo/rulegraph/pkg/telemetry"
)

// session is everything a command needs to compute products for the build
// root: settings, telemetry, the loaded project and a scheduler over it.
type session struct {
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	tree      *fstree.Tree
	loader    *config.ProjectLoader
	build     *planners.Build
	store     *stores.SQLiteStore
	scheduler *engine.Scheduler

	// loadErr is set when some BUILD files had errors.
	loadErr error
}

// loadSettings reads the settings file named by --config, or rulegraph.yaml
// in the working directory when present, and applies the global flags.
func loadSettings() (*config.Settings, error) {
	var (
		settings *config.Settings
		err      error
	)
	switch {
	case configPath != "":
		settings, err = config.LoadSettings(configPath)
	case fileExists(config.DefaultSettingsFile):
		settings, err = config.LoadSettings(config.DefaultSettingsFile)
	default:
		settings = config.DefaultSettings()
	}
	if err != nil {
		return nil, err
	}
	if buildRoot != "" {
		settings.BuildRoot = buildRoot
	}
	if verbose {
		settings.Telemetry.Logging.Level = "debug"
	}
	return settings, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// openSession loads the project below the build root. A project with errors
// is still returned, with loadErr set, so that callers can report them.
func openSession(ctx context.Context) (*session, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	tel, err := telemetry.NewTelemetry(settings.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	s := &session{settings: settings, telemetry: tel}

	s.tree, err = fstree.New(settings.BuildRoot)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}
	s.loader, err = config.NewProjectLoader(s.tree, settings.Project, tel.Logger)
	if err != nil {
		s.Close(ctx)
		return nil, err
	}

	op := telemetry.StartOperation(tel.WithContext(ctx), "load_project")
	s.build, s.loadErr = planners.Load(op.Ctx, s.loader)
	op.End(s.loadErr)
	if s.build == nil {
		s.Close(ctx)
		return nil, s.loadErr
	}

	opts := []engine.Option{
		engine.WithProjectTree(s.tree),
		engine.WithMaxParallel(settings.Scheduler.MaxParallel),
		engine.WithTelemetry(tel),
	}
	if settings.Store.Enabled {
		s.store, err = openStore(ctx, settings)
		if err != nil {
			s.Close(ctx)
			return nil, err
		}
		opts = append(opts, engine.WithRecorder(s.store))
	}
	s.scheduler = engine.NewScheduler(s.build.Index, opts...)
	return s, nil
}

// requireValid fails when the project had load errors, listing them.
func (s *session) requireValid() error {
	if s.loadErr == nil {
		return nil
	}
	log := s.telemetry.Logger
	for _, e := range s.build.Project.Parsed.Errors {
		log.WithField("file", e.File).Error(e.Error())
	}
	return s.loadErr
}

// Close releases the store, the tree and flushes telemetry.
func (s *session) Close(ctx context.Context) {
	var errs []error
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.tree != nil {
		errs = append(errs, s.tree.Close())
	}
	errs = append(errs, s.telemetry.Shutdown(context.WithoutCancel(ctx)))
	if err := errors.Join(errs...); err != nil {
		s.telemetry.Logger.WithError(err).Warn("failed to close session")
	}
}

func openStore(ctx context.Context, settings *config.Settings) (*stores.SQLiteStore, error) {
	path := settings.StorePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}
	store, err := stores.Open(ctx, stores.Config{Path: path})
	if err != nil {
		return nil, fmt.Errorf("failed to open run history: %w", err)
	}
	return store, nil
}
