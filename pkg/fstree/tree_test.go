package fstree

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

func setupTestTree(t *testing.T, files map[string]string) (*Tree, string) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	tree, err := New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tree.Close() })
	return tree, dir
}

func TestNewMissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestReadFile(t *testing.T) {
	tree, _ := setupTestTree(t, map[string]string{"src/java/a/A.java": "class A {}"})

	content, err := tree.ReadFile("src/java/a/A.java")
	require.NoError(t, err)
	assert.Equal(t, "class A {}", string(content))

	content, err = tree.ReadFile("./src/java/a/../a/A.java")
	require.NoError(t, err)
	assert.Equal(t, "class A {}", string(content))

	_, err = tree.ReadFile("src/java/a/B.java")
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestReadDirSorted(t *testing.T) {
	tree, _ := setupTestTree(t, map[string]string{
		"src/c.txt": "c",
		"src/a.txt": "a",
		"src/b/x":   "x",
	})

	entries, err := tree.ReadDir("src")
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"a.txt", "b", "c.txt"}, names)

	root, err := tree.ReadDir("")
	require.NoError(t, err)
	require.Len(t, root, 1)
	assert.Equal(t, "src", root[0].Name())
}

func TestRejectsEscapes(t *testing.T) {
	tree, _ := setupTestTree(t, map[string]string{"a.txt": "a"})

	for _, p := range []string{"../a.txt", "/etc/passwd", "src/../../a.txt"} {
		t.Run(p, func(t *testing.T) {
			_, err := tree.ReadFile(p)
			assert.ErrorIs(t, err, ErrEscapesRoot)
			_, err = tree.Lstat(p)
			assert.ErrorIs(t, err, ErrEscapesRoot)
		})
	}
}

func TestRejectsSymlinks(t *testing.T) {
	tree, dir := setupTestTree(t, map[string]string{"real/a.txt": "a"})
	require.NoError(t, os.Symlink(filepath.Join(dir, "real", "a.txt"), filepath.Join(dir, "link.txt")))
	require.NoError(t, os.Symlink(filepath.Join(dir, "real"), filepath.Join(dir, "linkdir")))

	info, err := tree.Lstat("link.txt")
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&fs.ModeSymlink)

	_, err = tree.ReadFile("link.txt")
	assert.ErrorIs(t, err, engine.ErrSymlink)

	_, err = tree.ReadFile("linkdir/a.txt")
	assert.ErrorIs(t, err, engine.ErrSymlink)

	_, err = tree.ReadDir("linkdir")
	assert.ErrorIs(t, err, engine.ErrSymlink)
}

func TestSchedulerReadsThroughTree(t *testing.T) {
	tree, dir := setupTestTree(t, map[string]string{
		"src/a.txt": "hello",
		"src/b.txt": "world",
	})
	index, err := engine.NewRuleSet().Build()
	require.NoError(t, err)
	sched := engine.NewScheduler(index, engine.WithProjectTree(tree))
	ctx := context.Background()

	state, err := sched.ExecuteOne(ctx, engine.Path{Path: "src/a.txt"}, engine.ProductOf[engine.FileContent]())
	require.NoError(t, err)
	ret, ok := state.(engine.Return)
	require.True(t, ok, "got %s", state)
	assert.Equal(t, engine.FileContent{Path: "src/a.txt", Content: []byte("hello")}, ret.Value)

	state, err = sched.ExecuteOne(ctx, engine.Path{Path: "src"}, engine.ProductOf[engine.DirectoryListing]())
	require.NoError(t, err)
	ret, ok = state.(engine.Return)
	require.True(t, ok, "got %s", state)
	listing := ret.Value.(engine.DirectoryListing)
	assert.True(t, listing.Exists)
	assert.Equal(t, []engine.Path{{Path: "src/a.txt"}, {Path: "src/b.txt"}}, listing.Paths)

	require.NoError(t, os.Symlink(filepath.Join(dir, "src", "a.txt"), filepath.Join(dir, "src", "c.txt")))
	sched.InvalidateFiles(ctx, "src")
	state, err = sched.ExecuteOne(ctx, engine.Path{Path: "src"}, engine.ProductOf[engine.DirectoryListing]())
	require.NoError(t, err)
	throw, ok := state.(engine.Throw)
	require.True(t, ok, "got %s", state)
	assert.True(t, errors.Is(throw.Err, engine.ErrSymlink))
}
