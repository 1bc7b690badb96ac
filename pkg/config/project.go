package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gobwas/glob"
	"github.com/kr/fs"

	"github.com/openfroyo/rulegraph/pkg/addressable"
	"github.com/openfroyo/rulegraph/pkg/fstree"
	"github.com/openfroyo/rulegraph/pkg/telemetry"
)

// ErrInvalidProject is returned when a project has validation errors.
var ErrInvalidProject = errors.New("project has errors")

// ProjectLoader discovers and parses the BUILD files of a build root.
type ProjectLoader struct {
	tree       *fstree.Tree
	buildFiles []glob.Glob
	ignore     []glob.Glob

	yaml     Loader
	cue      Loader
	hcl      Loader
	starlark Loader

	validate *validator.Validate
	logger   *telemetry.Logger
}

// NewProjectLoader creates a loader reading BUILD files through tree.
func NewProjectLoader(tree *fstree.Tree, settings ProjectSettings, logger *telemetry.Logger) (*ProjectLoader, error) {
	if logger == nil {
		logger = telemetry.NopLogger()
	}
	pl := &ProjectLoader{
		tree:     tree,
		yaml:     YAMLLoader{},
		cue:      NewCUEParser(),
		hcl:      HCLLoader{},
		starlark: NewStarlarkEvaluator(settings.StarlarkTimeout),
		validate: validator.New(),
		logger:   logger.NewComponentLogger("project"),
	}
	for _, pattern := range settings.BuildFiles {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid build file pattern %q: %w", pattern, err)
		}
		pl.buildFiles = append(pl.buildFiles, g)
	}
	for _, pattern := range settings.Ignore {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid ignore pattern %q: %w", pattern, err)
		}
		pl.ignore = append(pl.ignore, g)
	}
	return pl, nil
}

// IsBuildFile reports whether a file name matches the BUILD file patterns.
func (pl *ProjectLoader) IsBuildFile(name string) bool {
	for _, g := range pl.buildFiles {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// Ignored reports whether a path relative to the build root matches an
// ignore pattern.
func (pl *ProjectLoader) Ignored(rel string, dir bool) bool {
	for _, g := range pl.ignore {
		if g.Match(rel) || (dir && g.Match(rel+"/")) {
			return true
		}
	}
	return false
}

// Discover walks the build root and returns the BUILD files it holds,
// relative to the root and sorted. Ignored directories are not entered and
// symlinks are not followed.
func (pl *ProjectLoader) Discover() ([]string, error) {
	var files []string
	walker := fs.Walk(pl.tree.Dir())
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return nil, fmt.Errorf("failed to walk build root: %w", err)
		}
		rel, err := filepath.Rel(pl.tree.Dir(), walker.Path())
		if err != nil {
			return nil, err
		}
		rel = filepath.ToSlash(rel)
		info := walker.Stat()
		if rel == "." {
			continue
		}
		if pl.Ignored(rel, info.IsDir()) {
			if info.IsDir() {
				walker.SkipDir()
			}
			continue
		}
		if info.Mode()&os.ModeSymlink != 0 || !info.Mode().IsRegular() {
			continue
		}
		if pl.IsBuildFile(path.Base(rel)) {
			files = append(files, rel)
		}
	}
	sort.Strings(files)
	return files, nil
}

// Parse parses every BUILD file of the build root.
func (pl *ProjectLoader) Parse(ctx context.Context) (*ParsedProject, error) {
	files, err := pl.Discover()
	if err != nil {
		return nil, err
	}
	return pl.parseFiles(ctx, files), nil
}

// ParseDir parses the BUILD files of a single directory.
func (pl *ProjectLoader) ParseDir(ctx context.Context, specPath string) (*ParsedProject, error) {
	dir := specPath
	if dir == "" {
		dir = "."
	}
	entries, err := pl.tree.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	var files []string
	for _, e := range entries {
		if e.Type().IsRegular() && pl.IsBuildFile(e.Name()) {
			files = append(files, path.Join(specPath, e.Name()))
		}
	}
	return pl.parseFiles(ctx, files), nil
}

func (pl *ProjectLoader) parseFiles(ctx context.Context, files []string) *ParsedProject {
	parsed := &ParsedProject{ParsedAt: time.Now()}
	declared := make(map[addressable.Address]string)

	for _, rel := range files {
		pf, errs := pl.parseFile(ctx, rel)
		if len(errs) == 0 {
			for _, tc := range pf.Targets {
				addr := addressable.NewAddress(pf.SpecPath, tc.Name)
				if prev, dup := declared[addr]; dup {
					errs = append(errs, ValidationError{
						File:     rel,
						Path:     "targets." + tc.Name,
						Message:  fmt.Sprintf("target %s is already declared in %s", addr, prev),
						Severity: "error",
					})
					continue
				}
				declared[addr] = rel
			}
		}
		if len(errs) > 0 {
			parsed.Errors = append(parsed.Errors, errs...)
			continue
		}
		parsed.Files = append(parsed.Files, pf)
	}

	pl.logger.WithFields(map[string]interface{}{
		"files":   len(parsed.Files),
		"targets": parsed.Targets(),
		"errors":  len(parsed.Errors),
	}).Debug("project parsed")
	return parsed
}

func (pl *ProjectLoader) parseFile(ctx context.Context, rel string) (ProjectFile, []ValidationError) {
	specPath := path.Dir(rel)
	if specPath == "." {
		specPath = ""
	}
	pf := ProjectFile{Path: rel, SpecPath: specPath}

	loader, err := pl.loaderFor(rel)
	if err != nil {
		return pf, []ValidationError{errorAt(rel, "", err)}
	}
	pf.Format = loader.Format()

	data, err := pl.tree.ReadFile(rel)
	if err != nil {
		return pf, []ValidationError{errorAt(rel, "", fmt.Errorf("failed to read file: %w", err))}
	}

	raws, errs := loader.Load(ctx, rel, data)
	for i, raw := range raws {
		fieldPath := fmt.Sprintf("targets[%d]", i)
		if name, ok := raw["name"].(string); ok {
			fieldPath = "targets." + name
		}
		tc, err := addressable.TargetConfigFromMap(raw)
		if err != nil {
			errs = append(errs, errorAt(rel, fieldPath, err))
			continue
		}
		if err := pl.validate.Struct(tc); err != nil {
			errs = append(errs, errorAt(rel, fieldPath, fmt.Errorf("validation failed: %w", err)))
			continue
		}
		pf.Targets = append(pf.Targets, tc)
	}
	pl.logger.WithFields(map[string]interface{}{
		"file":    rel,
		"format":  pf.Format,
		"targets": len(pf.Targets),
	}).Trace("parsed build file")
	return pf, errs
}

// Project is a loaded project: the declared targets and the mapper that
// serves them to the engine.
type Project struct {
	Parsed *ParsedProject
	Mapper *addressable.AddressMapper

	loader  *ProjectLoader
	symbols *addressable.SymbolTable
}

// Load parses the build root and constructs every target with symbols. The
// project is returned along with ErrInvalidProject when any file has errors,
// so that callers can report them.
func (pl *ProjectLoader) Load(ctx context.Context, symbols *addressable.SymbolTable) (*Project, error) {
	parsed, err := pl.Parse(ctx)
	if err != nil {
		return nil, err
	}
	p := &Project{
		Parsed:  parsed,
		Mapper:  addressable.NewAddressMapper(),
		loader:  pl,
		symbols: symbols,
	}
	for _, pf := range parsed.Files {
		targets, errs := p.construct(pf)
		parsed.Errors = append(parsed.Errors, errs...)
		if err := p.Mapper.Register(targets...); err != nil {
			parsed.Errors = append(parsed.Errors, errorAt(pf.Path, "", err))
		}
	}
	if len(parsed.Errors) > 0 {
		return p, fmt.Errorf("%w: %d error(s)", ErrInvalidProject, len(parsed.Errors))
	}
	return p, nil
}

// Loader returns the loader the project was read with.
func (p *Project) Loader() *ProjectLoader { return p.loader }

func (p *Project) construct(pf ProjectFile) ([]*addressable.Target, []ValidationError) {
	var (
		targets []*addressable.Target
		errs    []ValidationError
	)
	for _, tc := range pf.Targets {
		t, err := p.symbols.Target(pf.SpecPath, tc)
		if err != nil {
			errs = append(errs, errorAt(pf.Path, "targets."+tc.Name, err))
			continue
		}
		targets = append(targets, t)
	}
	return targets, errs
}

// Reload re-reads the BUILD files of specPath after they changed and swaps
// its targets in the mapper. It returns the addresses declared before or
// after the change, whose computed products are stale.
func (p *Project) Reload(ctx context.Context, specPath string) ([]addressable.Address, error) {
	parsed, err := p.loader.ParseDir(ctx, specPath)
	if err != nil {
		return nil, err
	}
	if len(parsed.Errors) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidProject, joinErrors(parsed.Errors))
	}

	var targets []*addressable.Target
	for _, pf := range parsed.Files {
		ts, errs := p.construct(pf)
		if len(errs) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidProject, joinErrors(errs))
		}
		targets = append(targets, ts...)
	}
	old, err := p.Mapper.ReplaceSpecPath(specPath, targets)
	if err != nil {
		return nil, err
	}

	seen := make(map[addressable.Address]struct{}, len(old)+len(targets))
	changed := make([]addressable.Address, 0, len(old)+len(targets))
	for _, a := range old {
		seen[a] = struct{}{}
		changed = append(changed, a)
	}
	for _, t := range targets {
		a := t.Address.WithoutVariants()
		if _, ok := seen[a]; !ok {
			seen[a] = struct{}{}
			changed = append(changed, a)
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].String() < changed[j].String() })
	return changed, nil
}

func joinErrors(errs []ValidationError) string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return strings.Join(msgs, "; ")
}
