package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobDescription_Defaults(t *testing.T) {
	d := NewJobDescription()
	assert.Equal(t, 1, d.NodeCount)
	assert.Equal(t, 1, d.ProcessesPerNode)
	assert.Equal(t, DefaultMaxTime, d.MaxTime)
	assert.Equal(t, "stdout.txt", d.Stdout)
	assert.Equal(t, "stderr.txt", d.Stderr)
	assert.Empty(t, d.Stdin)
	assert.False(t, d.IsParallel())
}

func TestParseJobDescription(t *testing.T) {
	src := []byte(`
executable: /bin/echo
arguments: [hi, there]
queue_name: unlimited
environment:
  GREETING: hello
node_count: 2
options:
  parallel.environment: mpi
`)
	d, err := ParseJobDescription(src)
	require.NoError(t, err)
	assert.Equal(t, "/bin/echo", d.Executable)
	assert.Equal(t, []string{"hi", "there"}, d.Arguments)
	assert.Equal(t, "unlimited", d.QueueName)
	assert.Equal(t, "hello", d.Environment["GREETING"])
	assert.Equal(t, 2, d.NodeCount)
	assert.Equal(t, 1, d.ProcessesPerNode, "unset fields keep defaults")
	assert.Equal(t, "stdout.txt", d.Stdout)
	assert.True(t, d.IsParallel())

	v, ok := d.Option("parallel.environment")
	assert.True(t, ok)
	assert.Equal(t, "mpi", v)
}

func TestParseJobDescription_Invalid(t *testing.T) {
	_, err := ParseJobDescription([]byte("executable: [unterminated"))
	require.Error(t, err)
}

func TestNewJob_CopiesDescription(t *testing.T) {
	d := NewJobDescription()
	d.Executable = "/bin/true"
	d.Arguments = []string{"a"}
	d.Environment = map[string]string{"K": "V"}

	job := NewJob(d, "local", "local-0")
	d.Arguments[0] = "mutated"
	d.Environment["K"] = "mutated"

	got := job.Description()
	assert.Equal(t, "a", got.Arguments[0])
	assert.Equal(t, "V", got.Environment["K"])

	got.Arguments[0] = "again"
	assert.Equal(t, "a", job.Description().Arguments[0])
	assert.Equal(t, "local-0", job.Identifier())
	assert.Equal(t, "local", job.Scheduler())
}

func TestJob_JSONRoundTrip(t *testing.T) {
	d := NewJobDescription()
	d.Executable = "/bin/date"
	job := NewJob(d, "local", "local-3")

	data, err := json.Marshal(job)
	require.NoError(t, err)

	var back Job
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, "local-3", back.Identifier())
	assert.Equal(t, "/bin/date", back.Description().Executable)
}

func TestNewJobStatus_Invariants(t *testing.T) {
	job := NewJob(NewJobDescription(), "local", "local-1")
	code := 3

	tests := []struct {
		name        string
		exitCode    *int
		err         error
		running     bool
		done        bool
		wantDone    bool
		wantRunning bool
	}{
		{"pending", nil, nil, false, false, false, false},
		{"running", nil, nil, true, false, false, true},
		{"exit code implies done", &code, nil, true, false, true, false},
		{"error implies done", nil, errors.New("boom"), false, false, true, false},
		{"done wins over running", nil, nil, true, true, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewJobStatus(job, "X", tt.exitCode, tt.err, tt.running, tt.done, nil)
			assert.Equal(t, tt.wantDone, s.IsDone())
			assert.Equal(t, tt.wantRunning, s.IsRunning())
		})
	}
}

func TestJobStatus_ExitCodeIsCopied(t *testing.T) {
	code := 42
	s := NewJobStatus(nil, "DONE", &code, nil, false, true, nil)
	code = 0
	require.NotNil(t, s.ExitCode)
	assert.Equal(t, 42, *s.ExitCode)
}

func TestJobStatus_IsCanceled(t *testing.T) {
	s := NewJobStatus(nil, "ERROR", nil, NewError(CodeJobCanceled, "local", "cancelled by user"), false, true, nil)
	assert.True(t, s.HasException())
	assert.True(t, s.IsCanceled())
}

func TestJobStatus_MarshalJSON(t *testing.T) {
	job := NewJob(NewJobDescription(), "local", "local-9")
	code := 0
	s := NewJobStatus(job, "DONE", &code, nil, false, true, map[string]string{"pid": "12"})

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "local-9", got["job_id"])
	assert.Equal(t, "DONE", got["state"])
	assert.Equal(t, float64(0), got["exit_code"])
	assert.Equal(t, true, got["done"])
	assert.NotContains(t, got, "error")
}
