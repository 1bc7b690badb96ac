package fstree

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// ErrEscapesRoot is returned for a path that is absolute or climbs out of the build root.
var ErrEscapesRoot = errors.New("path escapes the build root")

// Tree is an engine.ProjectTree backed by a directory on disk.
type Tree struct {
	root *os.Root
	dir  string
}

var _ engine.ProjectTree = (*Tree)(nil)

// New opens buildRoot, which must be an existing directory.
func New(buildRoot string) (*Tree, error) {
	dir, err := filepath.Abs(buildRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve build root: %w", err)
	}
	root, err := os.OpenRoot(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open build root: %w", err)
	}
	return &Tree{root: root, dir: dir}, nil
}

// Dir returns the absolute path of the build root.
func (t *Tree) Dir() string { return t.dir }

// Close releases the build root.
func (t *Tree) Close() error { return t.root.Close() }

// Lstat describes relPath without following a final symlink.
func (t *Tree) Lstat(relPath string) (fs.FileInfo, error) {
	name, err := localName(relPath)
	if err != nil {
		return nil, err
	}
	return t.root.Lstat(name)
}

// ReadFile reads the regular file at relPath.
func (t *Tree) ReadFile(relPath string) ([]byte, error) {
	name, err := t.checkNoSymlinks(relPath)
	if err != nil {
		return nil, err
	}
	return t.root.ReadFile(name)
}

// ReadDir lists the directory at relPath, sorted by name.
func (t *Tree) ReadDir(relPath string) ([]fs.DirEntry, error) {
	name, err := t.checkNoSymlinks(relPath)
	if err != nil {
		return nil, err
	}
	f, err := t.root.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries, err := f.ReadDir(-1)
	if err != nil {
		return nil, err
	}
	slices.SortFunc(entries, func(a, b fs.DirEntry) int {
		return strings.Compare(a.Name(), b.Name())
	})
	return entries, nil
}

// checkNoSymlinks walks every component of relPath and fails on the first symlink.
func (t *Tree) checkNoSymlinks(relPath string) (string, error) {
	name, err := localName(relPath)
	if err != nil {
		return "", err
	}
	if name == "." {
		return name, nil
	}
	prefix := ""
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		prefix = path.Join(prefix, part)
		info, err := t.root.Lstat(filepath.FromSlash(prefix))
		if err != nil {
			return "", err
		}
		if info.Mode()&fs.ModeSymlink != 0 {
			return "", &fs.PathError{Op: "open", Path: prefix, Err: engine.ErrSymlink}
		}
	}
	return name, nil
}

// localName turns a slash separated tree path into an os.Root name.
func localName(relPath string) (string, error) {
	p := path.Clean(relPath)
	if relPath == "" || p == "." {
		return ".", nil
	}
	if !filepath.IsLocal(filepath.FromSlash(p)) {
		return "", &fs.PathError{Op: "open", Path: relPath, Err: ErrEscapesRoot}
	}
	return filepath.FromSlash(p), nil
}
