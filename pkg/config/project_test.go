package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/rulegraph/pkg/addressable"
	"github.com/openfroyo/rulegraph/pkg/fstree"
)

type testJar struct {
	Org, Name, Rev string
}

type testSources struct {
	Files        string
	Dependencies int
}

func testSymbols() *addressable.SymbolTable {
	return addressable.NewSymbolTable().
		RegisterTarget("jar_library").
		RegisterTarget("java_library").
		Register("jar", func(cv addressable.ConfigValue, _ []addressable.Ref) (any, error) {
			return testJar{Org: cv.String("org"), Name: cv.Name, Rev: cv.String("rev")}, nil
		}).
		Register("java", func(cv addressable.ConfigValue, deps []addressable.Ref) (any, error) {
			return testSources{Files: filepath.Join(cv.Strings("files")...), Dependencies: len(deps)}, nil
		})
}

func newTestLoader(t *testing.T, buildRoot string) *ProjectLoader {
	t.Helper()
	tree, err := fstree.New(buildRoot)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tree.Close() })
	pl, err := NewProjectLoader(tree, DefaultSettings().Project, nil)
	require.NoError(t, err)
	return pl
}

func TestDiscover(t *testing.T) {
	pl := newTestLoader(t, filepath.Join("testdata", "project"))

	files, err := pl.Discover()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"3rdparty/jvm/BUILD.yaml",
		"src/java/app/BUILD",
		"src/thrift/BUILD.cue",
		"tools/BUILD.hcl",
	}, files, "dist is ignored and README.md is not a build file")
}

func TestLoadProject(t *testing.T) {
	pl := newTestLoader(t, filepath.Join("testdata", "project"))

	project, err := pl.Load(context.Background(), testSymbols())
	require.NoError(t, err)
	require.Empty(t, project.Parsed.Errors)

	formats := make(map[string]string)
	for _, f := range project.Parsed.Files {
		formats[f.Path] = f.Format
	}
	assert.Equal(t, map[string]string{
		"3rdparty/jvm/BUILD.yaml": "yaml",
		"src/java/app/BUILD":      "starlark",
		"src/thrift/BUILD.cue":    "cue",
		"tools/BUILD.hcl":         "hcl",
	}, formats)
	assert.Equal(t, 6, project.Parsed.Targets())

	var specs []string
	for _, a := range project.Mapper.Addresses() {
		specs = append(specs, a.String())
	}
	assert.Equal(t, []string{
		"3rdparty/jvm:guava",
		"3rdparty/jvm:junit",
		"src/java/app:app",
		"src/java/app:lib",
		"src/thrift:idl",
		"tools:runner",
	}, specs)

	guava, err := project.Mapper.Resolve(addressable.MustParseAddress("3rdparty/jvm:guava"))
	require.NoError(t, err)
	assert.Equal(t, "jar_library", guava.TypeAlias)
	assert.Equal(t, []any{testJar{Org: "com.google.guava", Name: "guava", Rev: "18.0"}}, guava.Configurations)

	app, err := project.Mapper.Resolve(addressable.MustParseAddress("src/java/app:app"))
	require.NoError(t, err)
	require.Len(t, app.Dependencies, 2)
	lib, ok := app.Dependencies[0].Address()
	require.True(t, ok)
	assert.Equal(t, addressable.MustParseAddress("src/java/app:lib"), lib)
	junit, ok := app.Dependencies[1].Value()
	require.True(t, ok)
	assert.Equal(t, testJar{Org: "junit", Name: "junit", Rev: "4.12"}, junit)
	assert.Equal(t, []any{testSources{Files: "App.java"}}, app.Configurations)

	idl, err := project.Mapper.Resolve(addressable.MustParseAddress("src/thrift:idl"))
	require.NoError(t, err)
	assert.Equal(t, addressable.DefaultTargetType, idl.TypeAlias)
	assert.Equal(t, "thrift=apache_java", idl.Variants.String())

	runner, err := project.Mapper.Resolve(addressable.MustParseAddress("tools:runner"))
	require.NoError(t, err)
	dep, ok := runner.Dependencies[0].Address()
	require.True(t, ok)
	assert.Equal(t, addressable.MustParseAddress("src/java/app:app"), dep)
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func TestLoadProjectReportsErrors(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a/BUILD.yaml": "targets:\n  - name: x\n  - name: y\n    colour: red\n",
		"a/BUILD.star": "target(name = \"x\")\n",
		"b/BUILD.cue":  "targets: [{name: \"z\", type: \"unknown_type\"}]\n",
		"c/BUILD.toml": "name = \"w\"\n",
		"d/BUILD":      "target(name = \"ok\")\n",
	})
	pl := newTestLoader(t, dir)

	project, err := pl.Load(context.Background(), testSymbols())
	require.ErrorIs(t, err, ErrInvalidProject)
	require.NotNil(t, project)

	var files []string
	for _, e := range project.Parsed.Errors {
		files = append(files, e.File)
	}
	assert.Contains(t, files, "a/BUILD.yaml", "unknown target field")
	assert.Contains(t, files, "b/BUILD.cue", "unknown target type")
	assert.Contains(t, files, "c/BUILD.toml", "no loader")

	_, err = project.Mapper.Resolve(addressable.MustParseAddress("d:ok"))
	assert.NoError(t, err, "valid files still load")
}

func TestLoadProjectDuplicateTargets(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a/BUILD.yaml": "targets:\n  - name: x\n",
		"a/BUILD.star": "target(name = \"x\")\n",
	})
	pl := newTestLoader(t, dir)

	project, err := pl.Load(context.Background(), testSymbols())
	require.ErrorIs(t, err, ErrInvalidProject)
	require.Len(t, project.Parsed.Errors, 1)
	assert.Equal(t, "targets.x", project.Parsed.Errors[0].Path)
	assert.Equal(t, 1, project.Mapper.Len())
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"BUILD.yaml":   "targets:\n  - name: root\n",
		"a/BUILD.yaml": "targets:\n  - name: x\n  - name: y\n",
	})
	pl := newTestLoader(t, dir)
	ctx := context.Background()

	project, err := pl.Load(ctx, testSymbols())
	require.NoError(t, err)
	require.Equal(t, 3, project.Mapper.Len())

	writeFiles(t, dir, map[string]string{"a/BUILD.yaml": "targets:\n  - name: y\n  - name: z\n"})
	changed, err := project.Reload(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []addressable.Address{
		addressable.MustParseAddress("a:x"),
		addressable.MustParseAddress("a:y"),
		addressable.MustParseAddress("a:z"),
	}, changed)

	_, err = project.Mapper.Resolve(addressable.MustParseAddress("a:x"))
	assert.ErrorIs(t, err, addressable.ErrTargetNotFound)
	_, err = project.Mapper.Resolve(addressable.MustParseAddress("a:z"))
	assert.NoError(t, err)
	_, err = project.Mapper.Resolve(addressable.MustParseAddress("//:root"))
	assert.NoError(t, err, "other directories are untouched")

	writeFiles(t, dir, map[string]string{"a/BUILD.yaml": "targets:\n  - name: y\n    colour: red\n"})
	_, err = project.Reload(ctx, "a")
	assert.ErrorIs(t, err, ErrInvalidProject)
	assert.Equal(t, 3, project.Mapper.Len(), "a failed reload keeps the previous targets")

	require.NoError(t, os.Remove(filepath.Join(dir, "a", "BUILD.yaml")))
	changed, err = project.Reload(ctx, "a")
	require.NoError(t, err)
	assert.Len(t, changed, 2)
	assert.Equal(t, 1, project.Mapper.Len())
}
