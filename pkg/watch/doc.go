// Package watch keeps a loaded project and its scheduler current while files
// under the build root change.
//
// A Watcher reports debounced batches of changed paths. An Invalidator
// applies a batch: edited BUILD files are re-read and the targets of their
// directory invalidated, other files invalidate the filesystem nodes that
// read them. The next request recomputes only what was invalidated.
package watch
