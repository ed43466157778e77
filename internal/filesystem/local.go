package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Local is a FileSystem on this machine.
type Local struct {
	entry string
}

// NewLocal creates a Local rooted at entry. An empty entry means the
// current working directory.
func NewLocal(entry string) (*Local, error) {
	if entry == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		entry = wd
	}
	abs, err := filepath.Abs(entry)
	if err != nil {
		return nil, fmt.Errorf("resolve entry path %s: %w", entry, err)
	}
	return &Local{entry: abs}, nil
}

func (l *Local) EntryPath() string {
	return l.entry
}

func (l *Local) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(l.entry, p)
}

func (l *Local) Exists(_ context.Context, p string) (bool, error) {
	_, err := os.Stat(l.Resolve(p))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *Local) ReadText(_ context.Context, p string) (string, error) {
	data, err := os.ReadFile(l.Resolve(p))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", p, err)
	}
	return string(data), nil
}

func (l *Local) WriteText(_ context.Context, p, text string) error {
	if err := os.WriteFile(l.Resolve(p), []byte(text), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", p, err)
	}
	return nil
}

func (l *Local) Create(_ context.Context, p string) (io.WriteCloser, error) {
	f, err := os.Create(l.Resolve(p))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", p, err)
	}
	return f, nil
}

func (l *Local) Open(_ context.Context, p string) (io.ReadCloser, error) {
	f, err := os.Open(l.Resolve(p))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return f, nil
}
