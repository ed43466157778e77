package torque

import (
	"context"
	"maps"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/me/batchgate/internal/scripting"
	"github.com/me/batchgate/pkg/model"
)

var submitPattern = regexp.MustCompile(`(?m)^\s*(\d+(?:\[\d*\])?(?:\.\S+)?)\s*$`)

// Scheduler is a Torque server reached through a connection.
type Scheduler struct {
	conn         *scripting.Connection
	queues       []string
	defaultQueue string
}

// New checks the Torque version and reads the queue list and the server's
// default queue.
func New(ctx context.Context, conn *scripting.Connection) (*Scheduler, error) {
	err := conn.CheckVersion(ctx, func(out string) bool {
		return strings.HasPrefix(strings.ToLower(out), "version:")
	}, "qstat", "--version")
	if err != nil {
		return nil, err
	}

	table, err := queueTable(ctx, conn)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{conn: conn, queues: slices.Sorted(maps.Keys(table))}

	// Reading the server configuration may be restricted; jobs then go to
	// whatever queue qsub picks.
	res, err := conn.RunCommand(ctx, "", "qmgr", "-c", "print server")
	if err != nil {
		return nil, err
	}
	if res.ExitCode == 0 {
		s.defaultQueue = ParseDefaultQueue(res.Stdout)
	}
	conn.Logger().Info("torque connected", "queues", s.queues, "default_queue", s.defaultQueue)
	return s, nil
}

func queueTable(ctx context.Context, conn *scripting.Connection) (map[string]map[string]string, error) {
	out, err := conn.RunCheckedCommand(ctx, "", "qstat", "-Q")
	if err != nil {
		return nil, err
	}
	table, err := ParseQueues(out)
	if err != nil {
		return nil, conn.ParseFailure("qstat -Q", out, err)
	}
	return table, nil
}

func (s *Scheduler) Name() string { return s.conn.Name() }

func (s *Scheduler) GetQueueNames() []string { return slices.Clone(s.queues) }

func (s *Scheduler) GetDefaultQueueName() string { return s.defaultQueue }

// Script returns the job script SubmitJob would stage for desc.
func (s *Scheduler) Script(desc model.JobDescription) (string, error) {
	return Generate(desc, s.conn.FileSystem().EntryPath())
}

func (s *Scheduler) SubmitJob(ctx context.Context, desc model.JobDescription) (*model.Job, error) {
	if err := Verify(desc); err != nil {
		return nil, err
	}
	if desc.QueueName != "" {
		if err := s.conn.CheckQueueNames(s.queues, desc.QueueName); err != nil {
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

func (s *Scheduler) jobs(ctx context.Context) (map[string]map[string]string, error) {
	out, err := s.conn.RunCheckedCommand(ctx, "", "qstat", "-x")
	if err != nil {
		return nil, err
	}
	records, err := ParseJobs(out)
	if err != nil {
		return nil, s.conn.ParseFailure("qstat -x", out, err)
	}
	return records, nil
}

func (s *Scheduler) status(job *model.Job, records map[string]map[string]string) (*model.JobStatus, error) {
	info, ok := records[job.Identifier()]
	if !ok {
		return nil, nil
	}
	if err := s.conn.VerifyJobInfo(info, job, fieldJobID, fieldState); err != nil {
		return nil, err
	}
	st, err := statusFromJob(job, info)
	if err != nil {
		return nil, s.conn.ParseFailure("qstat -x", info[fieldExitStatus], err)
	}
	return st, nil
}

// GetJobStatus returns nil when Torque no longer reports the job.
func (s *Scheduler) GetJobStatus(ctx context.Context, job *model.Job) (*model.JobStatus, error) {
	if err := s.conn.CheckJob(job); err != nil {
		return nil, err
	}
	records, err := s.jobs(ctx)
	if err != nil {
		return nil, err
	}
	return s.status(job, records)
}

// GetJobStatuses queries qstat once for all jobs. Per-job failures are
// reported in that job's status.
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
		err := s.conn.CheckJob(job)
		if err == nil {
			out[i], err = s.status(job, records)
		}
		if err != nil {
			out[i] = model.NewJobStatus(job, "", nil, err, false, true, nil)
		}
	}
	return out, nil
}

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
	if err := s.conn.CheckQueueNames(s.queues, queueNames...); err != nil {
		return nil, err
	}
	records, err := s.jobs(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for id, r := range records {
		if len(queueNames) == 0 || slices.Contains(queueNames, r[fieldQueue]) {
			ids = append(ids, id)
		}
	}
	scripting.SortIDs(ids)
	out := make([]*model.Job, len(ids))
	for i, id := range ids {
		desc := model.JobDescription{Name: records[id][fieldJobName], QueueName: records[id][fieldQueue]}
		out[i] = model.NewJob(desc, s.Name(), id)
	}
	return out, nil
}

func (s *Scheduler) GetQueueStatus(ctx context.Context, name string) (*model.QueueStatus, error) {
	if err := s.conn.CheckQueueNames(s.queues, name); err != nil {
		return nil, err
	}
	table, err := queueTable(ctx, s.conn)
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
		names = s.queues
	}
	table, err := queueTable(ctx, s.conn)
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
