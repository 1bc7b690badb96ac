package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/rulegraph/pkg/addressable"
	"github.com/openfroyo/rulegraph/pkg/config"
	"github.com/openfroyo/rulegraph/pkg/engine"
	"github.com/openfroyo/rulegraph/pkg/examples/planners"
	"github.com/openfroyo/rulegraph/pkg/fstree"
)

const resourcesBuild = `targets:
  - name: a
    type: resources
    configurations:
      - type: resource_sources
        files: [a.txt]
        manifest: MANIFEST
`

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func setupProject(t *testing.T) (string, *Invalidator, *engine.Scheduler) {
	t.Helper()
	root := t.TempDir()
	writeFile(t, root, "src/a/BUILD.yaml", resourcesBuild)
	writeFile(t, root, "src/a/MANIFEST", "a.txt\n")

	tree, err := fstree.New(root)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tree.Close() })

	loader, err := config.NewProjectLoader(tree, config.DefaultSettings().Project, nil)
	require.NoError(t, err)
	build, err := planners.Load(context.Background(), loader)
	require.NoError(t, err)

	sched := engine.NewScheduler(build.Index, engine.WithProjectTree(tree))
	return root, NewInvalidator(build.Project, sched, nil), sched
}

func manifestEntries(t *testing.T, sched *engine.Scheduler) []string {
	t.Helper()
	state, err := sched.ExecuteOne(context.Background(), addressable.NewAddress("src/a", "a"),
		engine.ProductOf[planners.ResourceManifest]())
	require.NoError(t, err)
	ret, ok := state.(engine.Return)
	require.True(t, ok, "expected Return, got %s", state)
	return ret.Value.(planners.ResourceManifest).Entries
}

func siblings(t *testing.T, sched *engine.Scheduler) []addressable.Address {
	t.Helper()
	state, err := sched.ExecuteOne(context.Background(), addressable.SiblingAddresses{Directory: "src/a"},
		engine.ProductOf[addressable.Addresses]())
	require.NoError(t, err)
	ret, ok := state.(engine.Return)
	require.True(t, ok, "expected Return, got %s", state)
	return ret.Value.(addressable.Addresses).Dependencies
}

func TestApplyFileChange(t *testing.T) {
	root, inv, sched := setupProject(t)
	assert.Equal(t, []string{"a.txt"}, manifestEntries(t, sched))

	writeFile(t, root, "src/a/MANIFEST", "a.txt\nb.txt\n")
	assert.Equal(t, []string{"a.txt"}, manifestEntries(t, sched), "memoized until invalidated")

	summary, err := inv.Apply(context.Background(), []string{"src/a/MANIFEST"})
	require.NoError(t, err)
	assert.Empty(t, summary.SpecPaths)
	assert.Equal(t, []string{"src/a/MANIFEST"}, summary.Files)
	assert.Positive(t, summary.Removed)

	assert.Equal(t, []string{"a.txt", "b.txt"}, manifestEntries(t, sched))
}

func TestApplyBuildFileChange(t *testing.T) {
	root, inv, sched := setupProject(t)
	assert.Equal(t, []addressable.Address{addressable.NewAddress("src/a", "a")}, siblings(t, sched))

	writeFile(t, root, "src/a/BUILD.yaml", resourcesBuild+`  - name: b
    type: resources
`)
	summary, err := inv.Apply(context.Background(), []string{"src/a/BUILD.yaml"})
	require.NoError(t, err)
	assert.Equal(t, []string{"src/a"}, summary.SpecPaths)
	assert.Equal(t, []addressable.Address{
		addressable.NewAddress("src/a", "a"),
		addressable.NewAddress("src/a", "b"),
	}, summary.Addresses)
	assert.Positive(t, summary.Removed)

	assert.Len(t, siblings(t, sched), 2)
}

func TestApplyInvalidBuildFile(t *testing.T) {
	root, inv, sched := setupProject(t)
	assert.Len(t, siblings(t, sched), 1)

	writeFile(t, root, "src/a/BUILD.yaml", "targets: [")
	writeFile(t, root, "src/a/MANIFEST", "b.txt\n")
	summary, err := inv.Apply(context.Background(), []string{"src/a/BUILD.yaml", "src/a/MANIFEST"})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidProject)
	assert.Empty(t, summary.SpecPaths)
	assert.Equal(t, []string{"src/a/MANIFEST"}, summary.Files, "the rest of the batch is applied")

	assert.Len(t, siblings(t, sched), 1, "previous targets are kept")
	assert.Equal(t, []string{"b.txt"}, manifestEntries(t, sched))
}
