package scripting_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/me/batchgate/internal/adaptor"
	"github.com/me/batchgate/internal/filesystem"
	"github.com/me/batchgate/internal/process"
	"github.com/me/batchgate/internal/scripting"
	"github.com/me/batchgate/internal/scripting/scriptingtest"
	"github.com/me/batchgate/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type failingRunner struct{}

func (failingRunner) Run(context.Context, string, string, ...string) (*process.CommandResult, error) {
	return nil, errors.New("connection reset")
}

func TestNewConnection_PollingDelayBounds(t *testing.T) {
	fsys, err := filesystem.NewLocal(t.TempDir())
	require.NoError(t, err)

	for _, d := range []time.Duration{scripting.MinPollingDelay - 1, scripting.MaxPollingDelay + 1} {
		cfg := scripting.DefaultConfig()
		cfg.PollingDelay = d
		_, err := scripting.NewConnection("test", scriptingtest.NewRunner(), fsys, nil, cfg, newTestLogger())
		assert.ErrorIs(t, err, model.ErrBadParameter, d)
	}
}

func TestOpen_Local(t *testing.T) {
	cfg := scripting.DefaultConfig()
	cfg.Location = "local://" + t.TempDir()
	conn, err := scripting.Open(context.Background(), adaptor.NewDefaultRegistry(newTestLogger()), "gridengine", cfg, newTestLogger())
	require.NoError(t, err)
	defer conn.Close()

	out, err := conn.RunCheckedCommand(context.Background(), "hello", "cat")
	require.NoError(t, err)
	assert.Equal(t, "hello", out)
	assert.Equal(t, "gridengine", conn.Name())
}

func TestRunCheckedCommand(t *testing.T) {
	r := scriptingtest.NewRunner().
		OK("ok", "fine\n").
		On("exit*", 3, "partial", "").
		On("noisy", 0, "", "warning: something\n")
	conn := scriptingtest.Connection(t, "test", r)
	ctx := context.Background()

	out, err := conn.RunCheckedCommand(ctx, "", "ok")
	require.NoError(t, err)
	assert.Equal(t, "fine\n", out)

	_, err = conn.RunCheckedCommand(ctx, "input", "exit", "-x")
	var cmdErr *scripting.CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 3, cmdErr.ExitCode)
	assert.Equal(t, "partial", cmdErr.Stdout)
	assert.Equal(t, "input", cmdErr.Stdin)
	assert.Equal(t, []string{"-x"}, cmdErr.Args)
	assert.ErrorIs(t, err, model.ErrCommandFailed)
	assert.Equal(t, model.CodeCommandFailed, model.CodeOf(err))

	_, err = conn.RunCheckedCommand(ctx, "", "noisy")
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, 0, cmdErr.ExitCode)
	assert.Contains(t, err.Error(), "warning: something")

	res, err := conn.RunCommand(ctx, "", "exit")
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
}

func TestRunCommand_RunnerFailure(t *testing.T) {
	fsys, err := filesystem.NewLocal(t.TempDir())
	require.NoError(t, err)
	conn, err := scripting.NewConnection("test", failingRunner{}, fsys, nil, scripting.DefaultConfig(), newTestLogger())
	require.NoError(t, err)

	_, err = conn.RunCommand(context.Background(), "", "qstat")
	assert.ErrorIs(t, err, model.ErrCommandFailed)
	assert.ErrorContains(t, err, "connection reset")
}

func TestCheckQueueNames(t *testing.T) {
	conn := scriptingtest.Connection(t, "test", scriptingtest.NewRunner())
	known := []string{"a", "b"}

	assert.NoError(t, conn.CheckQueueNames(known))
	assert.NoError(t, conn.CheckQueueNames(known, "b", "a"))

	err := conn.CheckQueueNames(known, "a", "x", "y", "x")
	assert.ErrorIs(t, err, model.ErrNoSuchQueue)
	assert.ErrorContains(t, err, "x, y")
}

func TestVerifyJobInfo(t *testing.T) {
	conn := scriptingtest.Connection(t, "test", scriptingtest.NewRunner())
	job := model.NewJob(model.JobDescription{}, "test", "5")

	assert.NoError(t, conn.VerifyJobInfo(map[string]string{"id": "5", "state": "r"}, job, "id", "state"))
	assert.ErrorIs(t, conn.VerifyJobInfo(map[string]string{"state": "r"}, job, "id"), model.ErrSchedulerFailure)
	assert.ErrorIs(t, conn.VerifyJobInfo(map[string]string{"id": "6"}, job, "id"), model.ErrSchedulerFailure)
	assert.ErrorIs(t, conn.VerifyJobInfo(map[string]string{"id": "5"}, job, "id", "state"), model.ErrSchedulerFailure)
}

func TestCheckJob(t *testing.T) {
	conn := scriptingtest.Connection(t, "test", scriptingtest.NewRunner())
	assert.NoError(t, conn.CheckJob(model.NewJob(model.JobDescription{}, "test", "1")))
	assert.ErrorIs(t, conn.CheckJob(model.NewJob(model.JobDescription{}, "other", "1")), model.ErrNoSuchJob)
	assert.ErrorIs(t, conn.CheckJob(nil), model.ErrBadParameter)
}

func TestCheckVersion(t *testing.T) {
	r := scriptingtest.NewRunner().OK("version", "tool 2.1\n").On("oldversion", 1, "", "tool 1.0\n")
	conn := scriptingtest.Connection(t, "test", r)
	ctx := context.Background()
	accept := func(out string) bool { return strings.HasPrefix(out, "tool 2") }

	assert.NoError(t, conn.CheckVersion(ctx, accept, "version"))
	err := conn.CheckVersion(ctx, accept, "oldversion")
	assert.ErrorIs(t, err, model.ErrSchedulerFailure)
	assert.ErrorContains(t, err, "tool 1.0")
}

func TestStageScript(t *testing.T) {
	conn := scriptingtest.Connection(t, "test", scriptingtest.NewRunner())
	ctx := context.Background()
	entry := conn.FileSystem().EntryPath()

	desc := model.NewJobDescription()
	assert.Equal(t, entry, conn.WorkingDirectory(desc))
	desc.WorkingDirectory = "sub"
	require.NoError(t, os.Mkdir(path.Join(entry, "sub"), 0o755))
	dir := conn.WorkingDirectory(desc)
	assert.Equal(t, path.Join(entry, "sub"), dir)

	p1, err := conn.StageScript(ctx, dir, "#!/bin/sh\ntrue\n")
	require.NoError(t, err)
	p2, err := conn.StageScript(ctx, dir, "#!/bin/sh\nfalse\n")
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)
	assert.Equal(t, dir, path.Dir(p1))
	assert.True(t, strings.HasPrefix(path.Base(p1), "batchgate-"))

	data, err := os.ReadFile(p1)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\ntrue\n", string(data))

	assert.Equal(t, "/abs/run.sh", conn.ScriptPath(desc, "/abs/run.sh"))
	assert.Equal(t, path.Join(dir, "run.sh"), conn.ScriptPath(desc, "run.sh"))

	_, err = conn.StageScript(ctx, path.Join(entry, "missing"), "x")
	assert.ErrorIs(t, err, model.ErrSchedulerFailure)
}

func TestWaitUntilDone(t *testing.T) {
	conn := scriptingtest.Connection(t, "test", scriptingtest.NewRunner())
	job := model.NewJob(model.JobDescription{}, "test", "1")
	ctx := context.Background()

	var calls atomic.Int32
	status := func(context.Context, *model.Job) (*model.JobStatus, error) {
		switch calls.Add(1) {
		case 1:
			return nil, nil
		case 2:
			return model.NewJobStatus(job, "running", nil, nil, true, false, nil), nil
		default:
			code := 0
			return model.NewJobStatus(job, "done", &code, nil, false, true, nil), nil
		}
	}

	st, err := conn.WaitUntilRunning(ctx, job, 0, status)
	require.NoError(t, err)
	assert.True(t, st.IsRunning())

	st, err = conn.WaitUntilDone(ctx, job, 0, status)
	require.NoError(t, err)
	assert.True(t, st.IsDone())
	assert.Equal(t, int32(3), calls.Load())
}

func TestWait_TimeoutAndCancel(t *testing.T) {
	conn := scriptingtest.Connection(t, "test", scriptingtest.NewRunner())
	job := model.NewJob(model.JobDescription{}, "test", "1")
	pending := func(context.Context, *model.Job) (*model.JobStatus, error) {
		return model.NewJobStatus(job, "pending", nil, nil, false, false, nil), nil
	}

	st, err := conn.WaitUntilDone(context.Background(), job, 150*time.Millisecond, pending)
	require.NoError(t, err)
	assert.Equal(t, "pending", st.State)

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	st, err = conn.WaitUntilDone(ctx, job, 0, pending)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, "pending", st.State)

	_, err = conn.WaitUntilRunning(context.Background(), job, -1, pending)
	assert.ErrorIs(t, err, model.ErrBadParameter)

	failing := func(context.Context, *model.Job) (*model.JobStatus, error) {
		return nil, model.NewError(model.CodeSchedulerFailure, "test", "boom")
	}
	_, err = conn.WaitUntilDone(context.Background(), job, 0, failing)
	assert.ErrorIs(t, err, model.ErrSchedulerFailure)
}
