package slurm

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

var submitPattern = regexp.MustCompile(`Submitted batch job (\d+)`)

// Scheduler is a Slurm cluster reached through a connection.
type Scheduler struct {
	conn         *scripting.Connection
	partitions   []string
	defaultQueue string
}

// New checks the Slurm version and reads the partitions.
func New(ctx context.Context, conn *scripting.Connection) (*Scheduler, error) {
	err := conn.CheckVersion(ctx, func(out string) bool {
		return strings.HasPrefix(out, "slurm ")
	}, "sinfo", "--version")
	if err != nil {
		return nil, err
	}
	table, def, err := partitions(ctx, conn)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{conn: conn, partitions: slices.Sorted(maps.Keys(table)), defaultQueue: def}
	conn.Logger().Info("slurm connected", "partitions", s.partitions, "default_partition", def)
	return s, nil
}

func partitions(ctx context.Context, conn *scripting.Connection) (map[string]map[string]string, string, error) {
	out, err := conn.RunCheckedCommand(ctx, "", "sinfo", "--summarize", "--format="+sinfoFormat)
	if err != nil {
		return nil, "", err
	}
	table, def, err := ParsePartitions(out)
	if err != nil {
		return nil, "", conn.ParseFailure("sinfo", out, err)
	}
	return table, def, nil
}

func (s *Scheduler) Name() string { return s.conn.Name() }

func (s *Scheduler) GetQueueNames() []string { return slices.Clone(s.partitions) }

// GetDefaultQueueName returns the partition sinfo marks as default, or "".
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
		if err := s.conn.CheckQueueNames(s.partitions, desc.QueueName); err != nil {
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

	out, err := s.conn.RunCheckedCommand(ctx, "", "sbatch", scriptPath)
	if err != nil {
		return nil, err
	}
	id, err := scripting.ParseJobID(out, submitPattern)
	if err != nil {
		return nil, s.conn.ParseFailure("sbatch", out, err)
	}
	s.conn.Logger().Info("job submitted", "job_id", id, "script", scriptPath)
	return model.NewJob(desc, s.Name(), id), nil
}

func (s *Scheduler) jobs(ctx context.Context) (map[string]map[string]string, error) {
	out, err := s.conn.RunCheckedCommand(ctx, "", "squeue", "--format="+squeueFormat)
	if err != nil {
		return nil, err
	}
	records, err := ParseJobs(out)
	if err != nil {
		return nil, s.conn.ParseFailure("squeue", out, err)
	}
	return records, nil
}

// status converts the squeue record of job or, once squeue reports it
// ended or no longer lists it, its accounting record. It returns nil if
// neither knows the job.
func (s *Scheduler) status(ctx context.Context, job *model.Job, records map[string]map[string]string) (*model.JobStatus, error) {
	if info, ok := records[job.Identifier()]; ok && !terminal(info[fieldState]) {
		if err := s.conn.VerifyJobInfo(info, job, fieldJobID, fieldState); err != nil {
			return nil, err
		}
		return statusFromJob(job, info), nil
	}

	res, err := s.conn.RunCommand(ctx, "", "sacct", "-X", "-p", "--format="+sacctFormat, "--jobs="+job.Identifier())
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		s.conn.Logger().Debug("accounting unavailable", "job_id", job.Identifier(), "stderr", strings.TrimSpace(res.Stderr))
		return nil, nil
	}
	table, err := ParseAccounting(res.Stdout)
	if err != nil {
		return nil, s.conn.ParseFailure("sacct", res.Stdout, err)
	}
	info, ok := table[job.Identifier()]
	if !ok {
		return nil, nil
	}
	if err := s.conn.VerifyJobInfo(info, job, fieldAcctJobID, fieldAcctState, fieldAcctExitCode); err != nil {
		return nil, err
	}
	st, err := statusFromAccounting(job, info)
	if err != nil {
		return nil, s.conn.ParseFailure("sacct", res.Stdout, err)
	}
	return st, nil
}

// GetJobStatus returns nil when Slurm no longer reports the job.
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

// GetJobStatuses queries squeue once for all jobs. Per-job failures are
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
			out[i], err = s.status(ctx, job, records)
		}
		if err != nil {
			out[i] = model.NewJobStatus(job, "", nil, err, false, true, nil)
		}
	}
	return out, nil
}

// CancelJob cancels job. scancel reports jobs that already ended on
// stderr; those keep their recorded outcome.
func (s *Scheduler) CancelJob(ctx context.Context, job *model.Job) (*model.JobStatus, error) {
	if err := s.conn.CheckJob(job); err != nil {
		return nil, err
	}
	res, err := s.conn.RunCommand(ctx, "", "scancel", job.Identifier())
	if err != nil {
		return nil, err
	}
	if res.ExitCode == 0 && res.Stderr == "" {
		return s.conn.Canceled(job, "CANCELLED"), nil
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

// GetJobs lists the jobs squeue reports, restricted to the given
// partitions if any.
func (s *Scheduler) GetJobs(ctx context.Context, queueNames ...string) ([]*model.Job, error) {
	if err := s.conn.CheckQueueNames(s.partitions, queueNames...); err != nil {
		return nil, err
	}
	records, err := s.jobs(ctx)
	if err != nil {
		return nil, err
	}
	var ids []string
	for id, r := range records {
		if len(queueNames) == 0 || slices.Contains(queueNames, r[fieldPartition]) {
			ids = append(ids, id)
		}
	}
	scripting.SortIDs(ids)
	out := make([]*model.Job, len(ids))
	for i, id := range ids {
		desc := model.JobDescription{Name: records[id][fieldName], QueueName: records[id][fieldPartition]}
		out[i] = model.NewJob(desc, s.Name(), id)
	}
	return out, nil
}

func (s *Scheduler) GetQueueStatus(ctx context.Context, name string) (*model.QueueStatus, error) {
	if err := s.conn.CheckQueueNames(s.partitions, name); err != nil {
		return nil, err
	}
	table, _, err := partitions(ctx, s.conn)
	if err != nil {
		return nil, err
	}
	info, ok := table[name]
	if !ok {
		return nil, model.NewError(model.CodeNoSuchQueue, Name, "sinfo does not report partition %q", name)
	}
	return &model.QueueStatus{Scheduler: s.Name(), Name: name, SchedulerInfo: info}, nil
}

// GetQueueStatuses reports the named partitions, or every partition if
// none is named. Unknown partitions yield a status carrying the error.
func (s *Scheduler) GetQueueStatuses(ctx context.Context, names ...string) ([]*model.QueueStatus, error) {
	if len(names) == 0 {
		names = s.partitions
	}
	table, _, err := partitions(ctx, s.conn)
	if err != nil {
		return nil, err
	}
	out := make([]*model.QueueStatus, len(names))
	for i, name := range names {
		qs := &model.QueueStatus{Scheduler: s.Name(), Name: name}
		if info, ok := table[name]; ok {
			qs.SchedulerInfo = info
		} else {
			qs.Err = model.NewError(model.CodeNoSuchQueue, Name, "partition %q does not exist", name)
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
