package gridengine

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/me/batchgate/internal/scripting"
	"github.com/me/batchgate/pkg/model"
)

var submitPattern = regexp.MustCompile(`Your job(?:-array)? (\d+)`)

// Scheduler is a Grid Engine cluster reached through a connection.
type Scheduler struct {
	conn  *scripting.Connection
	setup Setup
}

// New checks the Grid Engine version and reads the queue and parallel
// environment lists.
func New(ctx context.Context, conn *scripting.Connection) (*Scheduler, error) {
	err := conn.CheckVersion(ctx, func(out string) bool {
		for _, prefix := range []string{"GE ", "SGE ", "OGS/GE ", "UGE ", "Son of Grid Engine"} {
			if strings.HasPrefix(out, prefix) {
				return true
			}
		}
		return false
	}, "qstat", "-help")
	if err != nil {
		return nil, err
	}

	out, err := conn.RunCheckedCommand(ctx, "", "qconf", "-sql")
	if err != nil {
		return nil, err
	}
	s := &Scheduler{conn: conn, setup: Setup{Queues: scripting.ParseLines(out)}}

	// qconf -spl exits non-zero when no parallel environment is defined.
	res, err := conn.RunCommand(ctx, "", "qconf", "-spl")
	if err != nil {
		return nil, err
	}
	if res.ExitCode == 0 {
		s.setup.ParallelEnvironments = scripting.ParseLines(res.Stdout)
	}
	conn.Logger().Info("grid engine connected", "queues", s.setup.Queues, "parallel_environments", s.setup.ParallelEnvironments)
	return s, nil
}

func (s *Scheduler) Name() string { return s.conn.Name() }

func (s *Scheduler) GetQueueNames() []string { return slices.Clone(s.setup.Queues) }

// GetDefaultQueueName returns "": Grid Engine picks a queue per job.
func (s *Scheduler) GetDefaultQueueName() string { return "" }

// Script returns the job script SubmitJob would stage for desc.
func (s *Scheduler) Script(desc model.JobDescription) (string, error) {
	return Generate(desc, s.conn.FileSystem().EntryPath(), s.setup)
}

func (s *Scheduler) SubmitJob(ctx context.Context, desc model.JobDescription) (*model.Job, error) {
	if err := Verify(desc, s.setup); err != nil {
		return nil, err
	}
	if desc.QueueName != "" {
		if err := s.conn.CheckQueueNames(s.setup.Queues, desc.QueueName); err != nil {
			return nil, err
		}
	}

	var scriptPath string
	if custom, ok := desc.Option(scripting.OptionJobScript); ok {
		scriptPath = s.conn.ScriptPath(desc, custom)
	} else {
		script, err := s.Script(desc)
		if err != nil {
			return nil, err
		}
		if scriptPath, err = s.conn.StageScript(ctx, s.conn.WorkingDirectory(desc), script); err != nil {
			return nil, err
		}
	}

	out, err := s.conn.RunCheckedCommand(ctx, "", "qsub", scriptPath)
	if err != nil {
		return nil, err
	}
	id, err := scripting.ParseJobID(out, submitPattern)
	if err != nil {
		return nil, s.conn.ParseFailure("qsub", out, err)
	}
	s.conn.Logger().Info("job submitted", "job_id", id, "script", scriptPath)
	return model.NewJob(desc, s.Name(), id), nil
}

func (s *Scheduler) jobs(ctx context.Context, args ...string) (map[string]map[string]string, error) {
	out, err := s.conn.RunCheckedCommand(ctx, "", "qstat", append([]string{"-xml"}, args...)...)
	if err != nil {
		return nil, err
	}
	records, err := ParseJobs(out)
	if err != nil {
		return nil, s.conn.ParseFailure("qstat -xml", out, err)
	}
	return records, nil
}

// status converts the qstat record of job or, when qstat no longer lists
// it, its accounting record. It returns nil if neither knows the job.
func (s *Scheduler) status(ctx context.Context, job *model.Job, records map[string]map[string]string) (*model.JobStatus, error) {
	if info, ok := records[job.Identifier()]; ok {
		if err := s.conn.VerifyJobInfo(info, job, fieldJobNumber, fieldState); err != nil {
			return nil, err
		}
		return statusFromJob(job, info), nil
	}

	res, err := s.conn.RunCommand(ctx, "", "qacct", "-j", job.Identifier())
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, nil
	}
	info := ParseAccounting(res.Stdout)
	if err := s.conn.VerifyJobInfo(info, job, fieldAcctNumber, fieldExitStatus, fieldFailed); err != nil {
		return nil, err
	}
	st, err := statusFromAccounting(job, info)
	if err != nil {
		return nil, s.conn.ParseFailure("qacct", res.Stdout, err)
	}
	return st, nil
}

// GetJobStatus returns nil when Grid Engine no longer reports the job.
func (s *Scheduler) GetJobStatus(ctx context.Context, job *model.Job) (*model.JobStatus, error) {
	if err := s.conn.CheckJob(job); err != nil {
		return nil, err
	}
	records, err := s.jobs(ctx)
	if err != nil {
		return nil, err
	}
	return s.status(ctx, job, records)
}

// GetJobStatuses queries qstat once for all jobs. Per-job lookup failures
// are reported in that job's status; nil jobs and jobs Grid Engine no
// longer reports yield nil entries.
func (s *Scheduler) GetJobStatuses(ctx context.Context, jobs ...*model.Job) ([]*model.JobStatus, error) {
	records, err := s.jobs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.JobStatus, len(jobs))
	for i, job := range jobs {
		if job == nil {
			continue
		}
		if err := s.conn.CheckJob(job); err != nil {
			out[i] = model.NewJobStatus(job, "", nil, err, false, true, nil)
			continue
		}
		st, err := s.status(ctx, job, records)
		if err != nil {
			st = model.NewJobStatus(job, "", nil, err, false, true, nil)
		}
		out[i] = st
	}
	return out, nil
}

// CancelJob deletes job. A job that already left the queue keeps the
// outcome recorded in accounting.
func (s *Scheduler) CancelJob(ctx context.Context, job *model.Job) (*model.JobStatus, error) {
	if err := s.conn.CheckJob(job); err != nil {
		return nil, err
	}
	res, err := s.conn.RunCommand(ctx, "", "qdel", job.Identifier())
	if err != nil {
		return nil, err
	}
	if res.ExitCode == 0 {
		return s.conn.Canceled(job, "deleted"), nil
	}
	st, err := s.GetJobStatus(ctx, job)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, s.conn.NoSuchJob(job)
	}
	return st, nil
}

// GetJobs lists the jobs qstat reports, restricted to queueNames if given.
func (s *Scheduler) GetJobs(ctx context.Context, queueNames ...string) ([]*model.Job, error) {
	var args []string
	if len(queueNames) > 0 {
		if err := s.conn.CheckQueueNames(s.setup.Queues, queueNames...); err != nil {
			return nil, err
		}
		args = []string{"-q", strings.Join(queueNames, ",")}
	}
	records, err := s.jobs(ctx, args...)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	scripting.SortIDs(ids)
	out := make([]*model.Job, len(ids))
	for i, id := range ids {
		desc := model.JobDescription{Name: records[id]["JB_name"]}
		if q, _, ok := strings.Cut(records[id][fieldQueueName], "@"); ok {
			desc.QueueName = q
		}
		out[i] = model.NewJob(desc, s.Name(), id)
	}
	return out, nil
}

func (s *Scheduler) queues(ctx context.Context) (map[string]map[string]string, error) {
	out, err := s.conn.RunCheckedCommand(ctx, "", "qstat", "-g", "c")
	if err != nil {
		return nil, err
	}
	table, err := ParseQueues(out)
	if err != nil {
		return nil, s.conn.ParseFailure("qstat -g c", out, err)
	}
	return table, nil
}

func (s *Scheduler) GetQueueStatus(ctx context.Context, name string) (*model.QueueStatus, error) {
	if err := s.conn.CheckQueueNames(s.setup.Queues, name); err != nil {
		return nil, err
	}
	table, err := s.queues(ctx)
	if err != nil {
		return nil, err
	}
	info, ok := table[name]
	if !ok {
		return nil, model.NewError(model.CodeNoSuchQueue, Name, "qstat does not report queue %q", name)
	}
	return &model.QueueStatus{Scheduler: s.Name(), Name: name, SchedulerInfo: info}, nil
}

// GetQueueStatuses reports the named queues, or every queue if none is
// named. Unknown queues yield a status carrying the error.
func (s *Scheduler) GetQueueStatuses(ctx context.Context, names ...string) ([]*model.QueueStatus, error) {
	if len(names) == 0 {
		names = s.setup.Queues
	}
	table, err := s.queues(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*model.QueueStatus, len(names))
	for i, name := range names {
		qs := &model.QueueStatus{Scheduler: s.Name(), Name: name}
		if info, ok := table[name]; ok {
			qs.SchedulerInfo = info
		} else {
			qs.Err = model.NewError(model.CodeNoSuchQueue, Name, "queue %q does not exist", name)
		}
		out[i] = qs
	}
	return out, nil
}

func (s *Scheduler) WaitUntilDone(ctx context.Context, job *model.Job, timeout time.Duration) (*model.JobStatus, error) {
	return s.conn.WaitUntilDone(ctx, job, timeout, s.GetJobStatus)
}

func (s *Scheduler) WaitUntilRunning(ctx context.Context, job *model.Job, timeout time.Duration) (*model.JobStatus, error) {
	return s.conn.WaitUntilRunning(ctx, job, timeout, s.GetJobStatus)
}

// End closes the connection. Submitted jobs keep running on the cluster.
func (s *Scheduler) End() error {
	return s.conn.Close()
}
