package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/me/batchgate/pkg/model"
)

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}

	opts := model.DefaultListOptions()
	q := r.URL.Query()
	for key, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			respondError(w, reqID, http.StatusBadRequest, &model.APIError{
				Code:    model.CodeBadParameter,
				Message: key + " must be an integer",
			})
			return
		}
		*dst = n
	}
	opts.Scheduler = s.scheduler.Name()
	opts.Queue = q.Get("queue")
	opts.Clamp()

	jobs, total, err := s.store.ListArchivedJobs(r.Context(), opts)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.CodeInternal, Message: err.Error()})
		return
	}
	if jobs == nil {
		jobs = []*model.ArchivedJob{}
	}

	respondList(w, reqID, jobs, &model.Pagination{
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
		HasMore: opts.Offset+opts.Limit < total,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.requireStore(w, reqID) {
		return
	}
	id := chi.URLParam(r, "id")

	job, err := s.store.GetArchivedJob(r.Context(), s.scheduler.Name(), id)
	if err != nil {
		respondError(w, reqID, http.StatusInternalServerError,
			&model.APIError{Code: model.CodeInternal, Message: err.Error()})
		return
	}
	if job == nil {
		respondErr(w, reqID, model.NewError(model.CodeNoSuchJob, s.scheduler.Name(), "job %s is not archived", id))
		return
	}
	respondOK(w, reqID, job)
}

func (s *Server) requireStore(w http.ResponseWriter, reqID string) bool {
	if s.store != nil {
		return true
	}
	respondError(w, reqID, http.StatusNotImplemented, &model.APIError{
		Code:    model.CodeUnsupportedOperation,
		Message: "no job archive configured",
	})
	return false
}
