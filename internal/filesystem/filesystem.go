// Package filesystem is the file access collaborator used to stage job
// scripts, redirect batch job streams and read result files.
package filesystem

import (
	"context"
	"io"
)

// FileSystem gives access to the files of one backend. Relative paths are
// resolved against EntryPath.
type FileSystem interface {
	// EntryPath is the directory relative paths are resolved against.
	EntryPath() string

	// Resolve returns p as an absolute path.
	Resolve(p string) string

	Exists(ctx context.Context, p string) (bool, error)
	ReadText(ctx context.Context, p string) (string, error)
	WriteText(ctx context.Context, p, text string) error

	// Create truncates or creates p and returns a writer for it.
	Create(ctx context.Context, p string) (io.WriteCloser, error)

	// Open returns a reader for p.
	Open(ctx context.Context, p string) (io.ReadCloser, error)
}
