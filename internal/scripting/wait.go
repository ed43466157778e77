package scripting

import (
	"context"
	"time"

	"github.com/me/batchgate/pkg/model"
)

// StatusFunc fetches the current status of a job. A nil status means the
// scheduler does not report the job right now.
type StatusFunc func(ctx context.Context, job *model.Job) (*model.JobStatus, error)

// WaitUntilDone polls status every polling delay until the job is done or
// timeout elapses. A zero timeout waits forever. On timeout the last
// status (possibly nil) is returned without an error.
func (c *Connection) WaitUntilDone(ctx context.Context, job *model.Job, timeout time.Duration, status StatusFunc) (*model.JobStatus, error) {
	return c.wait(ctx, job, timeout, status, (*model.JobStatus).IsDone)
}

// WaitUntilRunning polls status until the job runs or is done, or timeout
// elapses.
func (c *Connection) WaitUntilRunning(ctx context.Context, job *model.Job, timeout time.Duration, status StatusFunc) (*model.JobStatus, error) {
	return c.wait(ctx, job, timeout, status, func(s *model.JobStatus) bool {
		return s.IsRunning() || s.IsDone()
	})
}

func (c *Connection) wait(ctx context.Context, job *model.Job, timeout time.Duration, status StatusFunc, until func(*model.JobStatus) bool) (*model.JobStatus, error) {
	if timeout < 0 {
		return nil, model.NewError(model.CodeBadParameter, c.name, "illegal timeout %s", timeout)
	}
	if err := c.CheckJob(job); err != nil {
		return nil, err
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		s, err := status(ctx, job)
		if err != nil {
			return nil, err
		}
		if s != nil && until(s) {
			return s, nil
		}
		delay := c.config.PollingDelay
		if !deadline.IsZero() {
			left := time.Until(deadline)
			if left <= 0 {
				return s, nil
			}
			delay = min(delay, left)
		}
		select {
		case <-ctx.Done():
			return s, ctx.Err()
		case <-time.After(delay):
		}
	}
}
