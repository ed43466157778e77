package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/me/batchgate/pkg/model"
)

// defaultWait applies when a wait request carries no timeout.
const defaultWait = 30 * time.Second

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	desc := model.NewJobDescription()
	if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.CodeBadParameter,
			Message: "Invalid JSON body: " + err.Error(),
		})
		return
	}
	if desc.Interactive {
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.CodeInvalidJobDescription,
			Message: "interactive jobs cannot be submitted over HTTP",
		})
		return
	}

	job, err := s.scheduler.SubmitJob(r.Context(), desc)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	s.remember(job)
	s.logger.Info("job submitted", "job_id", job.Identifier(), "queue", desc.QueueName, "executable", desc.Executable)

	respondCreated(w, reqID, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	jobs, err := s.scheduler.GetJobs(r.Context(), r.URL.Query()["queue"]...)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	respondList(w, reqID, jobs, &model.Pagination{
		Total: len(jobs),
		Limit: len(jobs),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	status, err := s.scheduler.GetJobStatus(r.Context(), s.job(id))
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if status == nil {
		respondErr(w, reqID, unknownJob(s.scheduler.Name(), id))
		return
	}
	respondOK(w, reqID, status)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	status, err := s.scheduler.CancelJob(r.Context(), s.job(id))
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	s.logger.Info("job cancelled", "job_id", id, "state", status.State)
	respondOK(w, reqID, status)
}

// handleWaitJob blocks until the job is done (or running, with
// ?until=running) or the timeout elapses. Timeouts are capped at the
// configured maximum wait.
func (s *Server) handleWaitJob(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	id := chi.URLParam(r, "id")

	timeout := defaultWait
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			respondError(w, reqID, http.StatusBadRequest, &model.APIError{
				Code:    model.CodeBadParameter,
				Message: "timeout must be a non-negative duration such as 30s",
			})
			return
		}
		timeout = d
	}
	if s.config.MaxWait > 0 && (timeout == 0 || timeout > s.config.MaxWait) {
		timeout = s.config.MaxWait
	}

	wait := s.scheduler.WaitUntilDone
	switch until := r.URL.Query().Get("until"); until {
	case "", "done":
	case "running":
		wait = s.scheduler.WaitUntilRunning
	default:
		respondError(w, reqID, http.StatusBadRequest, &model.APIError{
			Code:    model.CodeBadParameter,
			Message: "until must be done or running, got " + until,
		})
		return
	}

	status, err := wait(r.Context(), s.job(id), timeout)
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	if status == nil {
		respondErr(w, reqID, unknownJob(s.scheduler.Name(), id))
		return
	}
	respondOK(w, reqID, status)
}

func unknownJob(scheduler, id string) error {
	return model.NewError(model.CodeNoSuchJob, scheduler, "job %s is not known to the scheduler", id)
}
