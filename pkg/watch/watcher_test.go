package watch

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcherBatchesChanges(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/BUILD.yaml", "targets: []\n")
	writeFile(t, root, ".git/HEAD", "ref: main\n")

	ignored := func(rel string, _ bool) bool { return rel == ".git" || strings.HasPrefix(rel, ".git/") }
	w, err := NewWatcher(root, 50*time.Millisecond, ignored, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := make(chan []string, 8)
	require.NoError(t, w.Start(ctx, func(_ context.Context, changes []string) {
		batches <- changes
	}))
	defer w.Close()

	writeFile(t, root, ".git/HEAD", "ref: other\n")
	writeFile(t, root, "src/BUILD.yaml", "targets: []\n# edited\n")
	writeFile(t, root, "src/a.txt", "a\n")

	seen := make(map[string]bool)
	timeout := time.After(5 * time.Second)
	for !seen["src/BUILD.yaml"] || !seen["src/a.txt"] {
		select {
		case batch := <-batches:
			assert.IsIncreasing(t, batch)
			for _, p := range batch {
				seen[p] = true
			}
		case <-timeout:
			t.Fatalf("timed out waiting for changes, saw %v", seen)
		}
	}
	assert.True(t, seen["src"], "creating a file changes the listing of its directory")
	assert.False(t, seen[".git/HEAD"], "ignored paths are not reported")
}

func TestWatcherWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(root, 20*time.Millisecond, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	batches := make(chan []string, 8)
	require.NoError(t, w.Start(ctx, func(_ context.Context, changes []string) {
		batches <- changes
	}))
	defer w.Close()

	writeFile(t, root, "new/BUILD.yaml", "targets: []\n")

	// The file may be written before the new directory is watched, so keep
	// touching it until the watcher reports it.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case batch := <-batches:
			for _, p := range batch {
				if p == "new/BUILD.yaml" {
					return
				}
			}
		case <-time.After(200 * time.Millisecond):
			writeFile(t, root, "new/BUILD.yaml", "targets: []\n")
		}
	}
	t.Fatal("timed out waiting for a change in the new directory")
}
