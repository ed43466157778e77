package model

import "time"

// ArchivedJob is the persisted record of a finished job.
type ArchivedJob struct {
	Scheduler     string            `json:"scheduler"`
	JobID         string            `json:"job_id"`
	Name          string            `json:"name"`
	Queue         string            `json:"queue"`
	State         string            `json:"state"`
	ExitCode      *int              `json:"exit_code"`
	Error         *APIError         `json:"error,omitempty"`
	Description   JobDescription    `json:"description"`
	SchedulerInfo map[string]string `json:"scheduler_info,omitempty"`
	FinishedAt    time.Time         `json:"finished_at"`
}

// NewArchivedJob builds the archive record of a done status.
func NewArchivedJob(s *JobStatus, finishedAt time.Time) *ArchivedJob {
	desc := s.Job.Description()
	a := &ArchivedJob{
		Scheduler:     s.Job.Scheduler(),
		JobID:         s.Job.Identifier(),
		Name:          desc.Name,
		Queue:         desc.QueueName,
		State:         s.State,
		Description:   desc,
		SchedulerInfo: s.SchedulerInfo,
		FinishedAt:    finishedAt.UTC(),
	}
	if s.ExitCode != nil {
		v := *s.ExitCode
		a.ExitCode = &v
	}
	if s.Err != nil {
		a.Error = NewAPIError(s.Err)
	}
	return a
}
