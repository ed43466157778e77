package filesystem

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/me/batchgate/internal/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// backends returns a Local and a Command filesystem, each over its own
// empty directory.
func backends(t *testing.T) map[string]FileSystem {
	t.Helper()

	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	runner := process.NewCommandRunner(process.NewLocalFactory(newTestLogger()), newTestLogger())
	cmd, err := NewCommand(context.Background(), runner, t.TempDir())
	require.NoError(t, err)

	return map[string]FileSystem{"local": local, "command": cmd}
}

func TestFileSystem_WriteReadExists(t *testing.T) {
	ctx := context.Background()
	for name, fsys := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ok, err := fsys.Exists(ctx, "job.sh")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, fsys.WriteText(ctx, "job.sh", "#!/bin/sh\necho hi\n"))

			ok, err = fsys.Exists(ctx, "job.sh")
			require.NoError(t, err)
			assert.True(t, ok)

			text, err := fsys.ReadText(ctx, fsys.Resolve("job.sh"))
			require.NoError(t, err)
			assert.Equal(t, "#!/bin/sh\necho hi\n", text)
		})
	}
}

func TestFileSystem_CreateOpen(t *testing.T) {
	ctx := context.Background()
	for name, fsys := range backends(t) {
		t.Run(name, func(t *testing.T) {
			w, err := fsys.Create(ctx, "out.txt")
			require.NoError(t, err)
			_, err = io.WriteString(w, "line one\nline two\n")
			require.NoError(t, err)
			require.NoError(t, w.Close())

			r, err := fsys.Open(ctx, "out.txt")
			require.NoError(t, err)
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())
			assert.Equal(t, "line one\nline two\n", string(data))
		})
	}
}

func TestFileSystem_ReadMissing(t *testing.T) {
	for name, fsys := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := fsys.ReadText(context.Background(), "missing.txt")
			assert.Error(t, err)
		})
	}
}

func TestLocal_Resolve(t *testing.T) {
	l, err := NewLocal("/base")
	require.NoError(t, err)
	assert.Equal(t, "/base/work/x", l.Resolve("work/x"))
	assert.Equal(t, "/abs/x", l.Resolve("/abs//x"))
}

func TestLocal_DefaultEntryIsWorkingDirectory(t *testing.T) {
	l, err := NewLocal("")
	require.NoError(t, err)
	wd, err := os.Getwd()
	require.NoError(t, err)
	assert.Equal(t, filepath.Clean(wd), l.EntryPath())
}

func TestCommand_EntryFromPwd(t *testing.T) {
	runner := process.NewCommandRunner(process.NewLocalFactory(newTestLogger()), newTestLogger())
	c, err := NewCommand(context.Background(), runner, "")
	require.NoError(t, err)
	assert.NotEmpty(t, c.EntryPath())
	assert.Equal(t, c.EntryPath()+"/x", c.Resolve("x"))
}
