package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleListQueues(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	statuses, err := s.scheduler.GetQueueStatuses(r.Context())
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, statuses)
}

func (s *Server) handleGetQueue(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	status, err := s.scheduler.GetQueueStatus(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondErr(w, reqID, err)
		return
	}
	respondOK(w, reqID, status)
}
