// Package fstree provides the project tree that filesystem nodes read.
//
// A Tree is rooted at the build root with os.Root, so no lookup can leave
// it, and it refuses to follow symbolic links: a symlink is reported by
// Lstat and rejected by ReadFile and ReadDir.
package fstree
