package cli

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/me/batchgate/internal/adaptor"
	"github.com/me/batchgate/internal/config"
	"github.com/me/batchgate/internal/logging"
	"github.com/me/batchgate/internal/scheduler"
	"github.com/me/batchgate/internal/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestServer starts a server over a local scheduler and returns the URL.
func startTestServer(t *testing.T) string {
	t.Helper()
	srvLogger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))

	scfg := scheduler.DefaultConfig()
	scfg.Location = "local://" + t.TempDir()
	scfg.Local.PollingDelay = 100 * time.Millisecond
	sched, err := scheduler.Open(context.Background(), scfg, adaptor.NewDefaultRegistry(srvLogger), nil, srvLogger)
	require.NoError(t, err)
	t.Cleanup(func() { sched.End() })

	srv := server.New(config.DefaultServerConfig(), sched, srvLogger)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--log-level", "error", "--db", ""}, args...))

	err := root.Execute()
	return out.String(), err
}

var submittedID = regexp.MustCompile(`Job submitted: (\S+)`)

func submitJob(t *testing.T, url string, args ...string) string {
	t.Helper()
	output, err := runCLI(t, append([]string{"--server", url, "submit"}, args...)...)
	require.NoError(t, err, output)
	m := submittedID.FindStringSubmatch(output)
	require.NotNil(t, m, output)
	return m[1]
}

func writeJobFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSubmitCommand_Wait(t *testing.T) {
	url := startTestServer(t)

	output, err := runCLI(t, "--server", url, "submit", "--queue", "unlimited", "--wait", "--timeout", "5s", "--", "/bin/echo", "hi")
	require.NoError(t, err)
	assert.Contains(t, output, "Job submitted: local-1")
	assert.Contains(t, output, "(done)")
	assert.Contains(t, output, "Exit code: 0")
}

func TestSubmitCommand_File(t *testing.T) {
	url := startTestServer(t)
	path := writeJobFile(t, "name: greet\nexecutable: /bin/echo\narguments: [hello]\nqueue_name: multi\n")

	id := submitJob(t, url, "-f", path)

	output, err := runCLI(t, "--server", url, "status", "--wait", "--timeout", "5s", id)
	require.NoError(t, err)
	assert.Contains(t, output, "Job local/"+id)
	assert.Contains(t, output, "Exit code: 0")

	output, err = runCLI(t, "--server", url, "list", "--queue", "multi")
	require.NoError(t, err)
	assert.Contains(t, output, "QUEUE")
	assert.Contains(t, output, id)
	assert.Contains(t, output, "greet")
}

func TestSubmitCommand_Rejected(t *testing.T) {
	url := startTestServer(t)

	_, err := runCLI(t, "--server", url, "submit", "--queue", "gpu", "--", "/bin/true")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NO_SUCH_QUEUE")

	_, err = runCLI(t, "--server", url, "submit")
	assert.ErrorContains(t, err, "no job")
}

func TestStatusCommand(t *testing.T) {
	url := startTestServer(t)
	id := submitJob(t, url, "--", "/bin/sleep", "5")

	output, err := runCLI(t, "--server", url, "status", "--running", "--timeout", "5s", id)
	require.NoError(t, err)
	assert.Contains(t, output, "(running)")

	_, err = runCLI(t, "--server", url, "status", "local-999")
	assert.ErrorContains(t, err, "NO_SUCH_JOB")
}

func TestCancelCommand(t *testing.T) {
	url := startTestServer(t)
	id := submitJob(t, url, "--", "/bin/sleep", "5")

	output, err := runCLI(t, "--server", url, "cancel", id)
	require.NoError(t, err)
	assert.Contains(t, output, "(failed)")
	assert.Contains(t, output, "cancelled")
}

func TestListCommand_Empty(t *testing.T) {
	url := startTestServer(t)
	output, err := runCLI(t, "--server", url, "list")
	require.NoError(t, err)
	assert.Contains(t, output, "No jobs found.")
}

func TestQueuesCommand(t *testing.T) {
	url := startTestServer(t)

	output, err := runCLI(t, "--server", url, "queues")
	require.NoError(t, err)
	for _, q := range []string{"single", "multi", "unlimited"} {
		assert.Contains(t, output, q)
	}

	output, err = runCLI(t, "--server", url, "queues", "multi")
	require.NoError(t, err)
	assert.Contains(t, output, "multi")
	assert.NotContains(t, output, "unlimited")

	_, err = runCLI(t, "--server", url, "queues", "gpu")
	assert.ErrorContains(t, err, "NO_SUCH_QUEUE")
}

func TestScriptCommand(t *testing.T) {
	path := writeJobFile(t, "executable: /bin/hostname\nmax_time: 100\nworking_directory: runs/1\n")

	output, err := runCLI(t, "--flavor", "torque", "script", "-f", path, "--entry", "/home/alice")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(output, "#!/bin/sh\n"), output)
	assert.Contains(t, output, "#PBS -l walltime=01:40:00")
	assert.Contains(t, output, "#PBS -d /home/alice/runs/1")

	output, err = runCLI(t, "--flavor", "slurm", "script", "--entry", "/home/alice", "--", "/bin/echo", "a b")
	require.NoError(t, err)
	assert.Contains(t, output, "#SBATCH --time=00:15:00")
	assert.Contains(t, output, "'a b'")

	_, err = runCLI(t, "--flavor", "local", "script", "--", "/bin/true")
	assert.ErrorContains(t, err, "UNSUPPORTED_OPERATION")
}

func TestRunAndHistory(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(t.TempDir(), "archive.db")
	common := []string{"--location", "local://" + dir, "--db", db}

	output, err := runCLI(t, append(common, "run", "--timeout", "10s", "--", "/bin/echo", "archived")...)
	require.NoError(t, err, output)
	assert.Contains(t, output, "Job submitted: local-1")
	assert.Contains(t, output, "Exit code: 0")

	data, err := os.ReadFile(filepath.Join(dir, "stdout.txt"))
	require.NoError(t, err)
	assert.Equal(t, "archived\n", string(data))

	output, err = runCLI(t, append(common, "history")...)
	require.NoError(t, err)
	assert.Contains(t, output, "local-1")
	assert.Contains(t, output, "OK")

	output, err = runCLI(t, append(common, "history", "local-1")...)
	require.NoError(t, err)
	assert.Contains(t, output, "Executable: /bin/echo")

	_, err = runCLI(t, append(common, "history", "local-7")...)
	assert.ErrorContains(t, err, "NO_SUCH_JOB")
}

func TestRunCommand_Failure(t *testing.T) {
	common := []string{"--location", "local://" + t.TempDir()}

	output, err := runCLI(t, append(common, "run", "--", "/bin/sh", "-c", "exit 3")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited with code 3")
	assert.Contains(t, output, "Exit code: 3")

	_, err = runCLI(t, append(common, "history")...)
	assert.ErrorContains(t, err, "no job archive")
}

func TestRunCommand_Timeout(t *testing.T) {
	common := []string{"--location", "local://" + t.TempDir()}

	output, err := runCLI(t, append(common, "run", "--timeout", "300ms", "--", "/bin/sleep", "5")...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not done")
	assert.Contains(t, output, "(running)")
}

func TestConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batchgate.yaml")
	require.NoError(t, os.WriteFile(path, []byte("scheduler:\n  flavor: gridengine\n"), 0o644))

	output, err := runCLI(t, "--config", path, "script", "--entry", "/tmp", "--", "/bin/true")
	require.NoError(t, err)
	assert.Contains(t, output, "#$ -S /bin/sh")
}

func TestServe(t *testing.T) {
	cfg = config.Default()
	cfg.Archive.DBPath = ":memory:"
	cfg.Scheduler.Location = "local://" + t.TempDir()
	logger = logging.Discard()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/api/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + ln.Addr().String() + "/api/v1/history/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}
