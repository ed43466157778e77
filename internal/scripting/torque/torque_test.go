package torque

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/me/batchgate/internal/scripting"
	"github.com/me/batchgate/internal/scripting/scriptingtest"
	"github.com/me/batchgate/pkg/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const qstatQueues = `Queue              Max    Tot   Ena   Str   Que   Run   Hld   Wat   Trn   Ext T   Cpt
----------------   ---   ----    --    --   ---   ---   ---   ---   ---   --- -   ---
batch                0      2   yes   yes     1     1     0     0     0     0 E     3
debug                4      0   yes   yes     0     0     0     0     0     0 E     0
`

const printServer = `#
# Set server attributes.
#
set server scheduling = True
set server acl_hosts = head
set server default_queue = batch
set server log_events = 511
`

const qstatJobs = `<Data>` +
	`<Job><Job_Id>123.head</Job_Id><Job_Name>sleep</Job_Name><Job_Owner>alice@head</Job_Owner><job_state>R</job_state><queue>batch</queue>` +
	`<Resource_List><nodes>1:ppn=1</nodes><walltime>01:40:00</walltime></Resource_List></Job>` +
	`<Job><Job_Id>124.head</Job_Id><Job_Name>wait</Job_Name><job_state>Q</job_state><queue>debug</queue></Job>` +
	`<Job><Job_Id>125.head</Job_Id><Job_Name>done</Job_Name><job_state>C</job_state><queue>batch</queue><exit_status>3</exit_status></Job>` +
	`<Job><Job_Id>126.head</Job_Id><Job_Name>killed</Job_Name><job_state>C</job_state><queue>batch</queue><exit_status>271</exit_status></Job>` +
	`<Job><Job_Id>127.head</Job_Id><Job_Name>lost</Job_Name><job_state>C</job_state><queue>batch</queue><exit_status>-1</exit_status></Job>` +
	`<Job><Job_Id>128.head</Job_Id><Job_Name>never</Job_Name><job_state>C</job_state><queue>batch</queue></Job>` +
	`</Data>`

func newScheduler(t *testing.T, r *scriptingtest.Runner) *Scheduler {
	t.Helper()
	r.OK("qstat --version", "Version: 6.1.2\n").
		OK("qstat -Q", qstatQueues).
		OK("qmgr -c print server", printServer)
	s, err := New(context.Background(), scriptingtest.Connection(t, Name, r))
	require.NoError(t, err)
	return s
}

func job(id string) *model.Job {
	return model.NewJob(model.JobDescription{}, Name, id)
}

func TestNew(t *testing.T) {
	s := newScheduler(t, scriptingtest.NewRunner())
	assert.Equal(t, []string{"batch", "debug"}, s.GetQueueNames())
	assert.Equal(t, "batch", s.GetDefaultQueueName())
}

func TestNew_ServerUnreadable(t *testing.T) {
	r := scriptingtest.NewRunner().On("qmgr -c print server", 1, "", "qmgr obj= svr=default: Unauthorized Request\n")
	s := newScheduler(t, r)
	assert.Equal(t, "", s.GetDefaultQueueName())
}

func TestNew_UnsupportedVersion(t *testing.T) {
	r := scriptingtest.NewRunner().On("qstat --version", 2, "", "qstat: invalid option -- '-'\n")
	_, err := New(context.Background(), scriptingtest.Connection(t, Name, r))
	assert.ErrorIs(t, err, model.ErrSchedulerFailure)
}

func TestGenerate_Walltime(t *testing.T) {
	desc := model.NewJobDescription()
	desc.Executable = "/bin/sleep"
	desc.Arguments = []string{"60"}
	desc.NodeCount = 1
	desc.MaxTime = 100

	got, err := Generate(desc, "/home/alice")
	require.NoError(t, err)
	assert.Contains(t, strings.Split(got, "\n"), "#PBS -l walltime=01:40:00")
}

func TestGenerate_Serial(t *testing.T) {
	desc := model.NewJobDescription()
	desc.Name = "copy"
	desc.Executable = "/bin/cat"
	desc.WorkingDirectory = "work"
	desc.QueueName = "batch"
	desc.Stdin = "in.txt"
	desc.Stderr = "/tmp/err log"
	desc.Environment = map[string]string{"OMP_NUM_THREADS": "4"}
	desc.Options = map[string]string{scripting.OptionResources: "mem=4gb"}

	got, err := Generate(desc, "/home/alice")
	require.NoError(t, err)
	want := `#!/bin/sh
#PBS -S /bin/sh
#PBS -N copy
#PBS -d /home/alice/work
#PBS -q batch
#PBS -l nodes=1:ppn=1
#PBS -l walltime=00:15:00
#PBS -l mem=4gb
#PBS -o /home/alice/work/stdout.txt
#PBS -e '/tmp/err log'

export OMP_NUM_THREADS="4"

/bin/cat < /home/alice/work/in.txt
`
	assert.Equal(t, want, got)
}

func TestGenerate_Parallel(t *testing.T) {
	desc := model.NewJobDescription()
	desc.Executable = "/opt/app"
	desc.Arguments = []string{"--out", "$HOME/result"}
	desc.NodeCount = 4
	desc.ProcessesPerNode = 2
	desc.Stdout = ""

	got, err := Generate(desc, "/home/alice")
	require.NoError(t, err)
	assert.Contains(t, got, "#PBS -l nodes=4:ppn=2\n")
	assert.Contains(t, got, "#PBS -o /dev/null\n")
	assert.Contains(t, got, "for host in `sort -u $PBS_NODEFILE` ; do\n")
	assert.Contains(t, got, `"cd `+"`pwd`"+` && /opt/app --out '\$HOME/result'" &`)
}

func TestVerify(t *testing.T) {
	desc := model.NewJobDescription()
	desc.Executable = "/bin/true"
	require.NoError(t, Verify(desc))

	single := desc
	single.NodeCount = 2
	single.StartSingleProcess = true
	assert.ErrorIs(t, Verify(single), model.ErrInvalidJobDescription)

	pe := desc
	pe.Options = map[string]string{scripting.OptionParallelEnvironment: "mpi"}
	assert.ErrorIs(t, Verify(pe), model.ErrInvalidJobDescription)

	zero := desc
	zero.MaxTime = 0
	assert.ErrorIs(t, Verify(zero), model.ErrInvalidJobDescription)
}

func TestSubmitJob(t *testing.T) {
	r := scriptingtest.NewRunner().OK("qsub *", "130.head\n")
	s := newScheduler(t, r)

	desc := model.NewJobDescription()
	desc.Executable = "/bin/date"
	desc.QueueName = "debug"
	j, err := s.SubmitJob(context.Background(), desc)
	require.NoError(t, err)
	assert.Equal(t, "130.head", j.Identifier())

	lines := r.Lines()
	script, err := os.ReadFile(strings.TrimPrefix(lines[len(lines)-1], "qsub "))
	require.NoError(t, err)
	assert.Contains(t, string(script), "#PBS -q debug\n")

	desc.QueueName = "gpu"
	_, err = s.SubmitJob(context.Background(), desc)
	assert.ErrorIs(t, err, model.ErrNoSuchQueue)
}

func TestGetJobStatus(t *testing.T) {
	r := scriptingtest.NewRunner().OK("qstat -x", qstatJobs)
	s := newScheduler(t, r)
	ctx := context.Background()

	running, err := s.GetJobStatus(ctx, job("123.head"))
	require.NoError(t, err)
	assert.True(t, running.IsRunning())
	assert.Equal(t, "01:40:00", running.SchedulerInfo["walltime"])

	queued, err := s.GetJobStatus(ctx, job("124.head"))
	require.NoError(t, err)
	assert.False(t, queued.IsRunning())
	assert.False(t, queued.IsDone())

	done, err := s.GetJobStatus(ctx, job("125.head"))
	require.NoError(t, err)
	assert.True(t, done.IsDone())
	assert.False(t, done.HasException())
	assert.Equal(t, 3, *done.ExitCode)

	killed, err := s.GetJobStatus(ctx, job("126.head"))
	require.NoError(t, err)
	assert.True(t, killed.IsCanceled())

	lost, err := s.GetJobStatus(ctx, job("127.head"))
	require.NoError(t, err)
	assert.ErrorIs(t, lost.Err, model.ErrSchedulerFailure)

	never, err := s.GetJobStatus(ctx, job("128.head"))
	require.NoError(t, err)
	assert.True(t, never.IsCanceled())
	assert.Nil(t, never.ExitCode)

	gone, err := s.GetJobStatus(ctx, job("99.head"))
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestGetJobStatus_EmptyQstat(t *testing.T) {
	r := scriptingtest.NewRunner().OK("qstat -x", "")
	s := newScheduler(t, r)

	st, err := s.GetJobStatus(context.Background(), job("1.head"))
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestCancelJob(t *testing.T) {
	r := scriptingtest.NewRunner().
		OK("qdel 123.head", "").
		On("qdel 125.head", 170, "", "qdel: Request invalid for state of job 125.head\n").
		On("qdel 99.head", 153, "", "qdel: Unknown Job Id 99.head\n").
		OK("qstat -x", qstatJobs)
	s := newScheduler(t, r)
	ctx := context.Background()

	st, err := s.CancelJob(ctx, job("123.head"))
	require.NoError(t, err)
	assert.True(t, st.IsCanceled())

	st, err = s.CancelJob(ctx, job("125.head"))
	require.NoError(t, err)
	assert.Equal(t, 3, *st.ExitCode)

	_, err = s.CancelJob(ctx, job("99.head"))
	assert.ErrorIs(t, err, model.ErrNoSuchJob)
}

func TestGetJobs(t *testing.T) {
	r := scriptingtest.NewRunner().OK("qstat -x", qstatJobs)
	s := newScheduler(t, r)
	ctx := context.Background()

	all, err := s.GetJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, "123.head", all[0].Identifier())

	debug, err := s.GetJobs(ctx, "debug")
	require.NoError(t, err)
	require.Len(t, debug, 1)
	assert.Equal(t, "124.head", debug[0].Identifier())
	assert.Equal(t, "debug", debug[0].Description().QueueName)

	_, err = s.GetJobs(ctx, "gpu")
	assert.ErrorIs(t, err, model.ErrNoSuchQueue)
}

func TestQueueStatuses(t *testing.T) {
	s := newScheduler(t, scriptingtest.NewRunner())
	ctx := context.Background()

	qs, err := s.GetQueueStatus(ctx, "batch")
	require.NoError(t, err)
	assert.Equal(t, "2", qs.SchedulerInfo["Tot"])
	assert.Equal(t, "3", qs.SchedulerInfo["Cpt"])

	statuses, err := s.GetQueueStatuses(ctx, "debug", "gpu")
	require.NoError(t, err)
	assert.False(t, statuses[0].HasException())
	assert.ErrorIs(t, statuses[1].Err, model.ErrNoSuchQueue)
}

func TestWaitUntilRunning(t *testing.T) {
	queued := strings.Replace(qstatJobs, "<job_state>R</job_state>", "<job_state>Q</job_state>", 1)
	r := scriptingtest.NewRunner().OK("qstat -x", queued).OK("qstat -x", qstatJobs)
	s := newScheduler(t, r)

	st, err := s.WaitUntilRunning(context.Background(), job("123.head"), 0)
	require.NoError(t, err)
	assert.True(t, st.IsRunning())
}
