package process

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/me/batchgate/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitDone(t *testing.T, p InteractiveProcess) {
	t.Helper()
	require.Eventually(t, p.IsDone, 5*time.Second, 10*time.Millisecond)
}

func TestLocalFactory_EchoHello(t *testing.T) {
	f := NewLocalFactory(newTestLogger())
	desc := model.JobDescription{Executable: "echo", Arguments: []string{"hello"}}

	p, err := f.CreateInteractiveProcess(desc, "local-0")
	require.NoError(t, err)

	out, err := io.ReadAll(p.Streams().Stdout)
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))

	waitDone(t, p)
	assert.Equal(t, 0, p.ExitStatus())
	assert.True(t, p.IsDone(), "IsDone stays true")
}

func TestLocalFactory_StdinAndEnvironment(t *testing.T) {
	f := NewLocalFactory(newTestLogger())
	desc := model.JobDescription{
		Executable:       "sh",
		Arguments:        []string{"-c", `cat; echo "$GREETING" >&2; exit 3`},
		Environment:      map[string]string{"GREETING": "hi"},
		WorkingDirectory: t.TempDir(),
	}

	p, err := f.CreateInteractiveProcess(desc, "local-1")
	require.NoError(t, err)

	s := p.Streams()
	_, err = io.WriteString(s.Stdin, "from stdin")
	require.NoError(t, err)
	require.NoError(t, s.Stdin.Close())

	out, err := io.ReadAll(s.Stdout)
	require.NoError(t, err)
	errOut, err := io.ReadAll(s.Stderr)
	require.NoError(t, err)

	waitDone(t, p)
	assert.Equal(t, "from stdin", string(out))
	assert.Equal(t, "hi\n", string(errOut))
	assert.Equal(t, 3, p.ExitStatus())
}

func TestLocalFactory_RunningProcessReportsMinusOne(t *testing.T) {
	f := NewLocalFactory(newTestLogger())
	p, err := f.CreateInteractiveProcess(model.JobDescription{Executable: "sleep", Arguments: []string{"10"}}, "local-2")
	require.NoError(t, err)

	assert.False(t, p.IsDone())
	assert.Equal(t, -1, p.ExitStatus())

	p.Destroy()
	assert.True(t, p.IsDone())
	p.Destroy() // no-op once done
}

func TestLocalFactory_MissingExecutable(t *testing.T) {
	f := NewLocalFactory(newTestLogger())
	_, err := f.CreateInteractiveProcess(model.JobDescription{Executable: "/definitely/not/here"}, "local-3")
	require.Error(t, err)

	_, err = f.CreateInteractiveProcess(model.JobDescription{}, "local-4")
	assert.ErrorIs(t, err, model.ErrIncompleteJobDescription)
}

func TestLocalFactory_Close(t *testing.T) {
	f := NewLocalFactory(newTestLogger())
	assert.True(t, f.IsOpen())
	require.NoError(t, f.Close())
	assert.False(t, f.IsOpen())

	_, err := f.CreateInteractiveProcess(model.JobDescription{Executable: "true"}, "local-5")
	assert.ErrorIs(t, err, model.ErrEngineStopped)
}

func TestParseLocation(t *testing.T) {
	tests := []struct {
		in      string
		want    Location
		wantErr bool
	}{
		{"cluster", Location{Host: "cluster"}, false},
		{"alice@cluster", Location{User: "alice", Host: "cluster"}, false},
		{"alice@cluster:2222", Location{User: "alice", Host: "cluster", Port: 2222}, false},
		{"cluster:0", Location{}, true},
		{"cluster:abc", Location{}, true},
		{"alice@", Location{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLocation(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrBadParameter)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.in, got.String())
		})
	}
}

func TestSSHFactory_Arguments(t *testing.T) {
	loc := Location{User: "alice", Host: "cluster", Port: 2222}
	f := NewSSHFactory(NewLocalFactory(newTestLogger()), loc, newTestLogger())

	desc := model.JobDescription{
		Executable:       "qstat",
		Arguments:        []string{"-f", "job name"},
		WorkingDirectory: "/home/alice/work dir",
		Environment:      map[string]string{"B": "2", "A": "1"},
	}

	got := f.Arguments(desc)
	want := []string{
		"-T", "-o", "BatchMode=yes", "-p", "2222", "-l", "alice", "cluster", "--",
		"cd '/home/alice/work dir' && exec env A=1 B=2 qstat -f 'job name'",
	}
	assert.Equal(t, want, got)
}

func TestRemoteCommand_Minimal(t *testing.T) {
	got := RemoteCommand(model.JobDescription{Executable: "qconf", Arguments: []string{"-sql"}})
	assert.Equal(t, "exec qconf -sql", got)
}
