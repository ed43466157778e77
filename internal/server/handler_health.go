package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status       string   `json:"status"`
	Version      string   `json:"version"`
	GoVersion    string   `json:"go_version"`
	Uptime       string   `json:"uptime"`
	Scheduler    string   `json:"scheduler"`
	Queues       []string `json:"queues"`
	DefaultQueue string   `json:"default_queue"`
	Archive      string   `json:"archive"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	archive := "disabled"
	if s.store != nil {
		archive = "enabled"
	}
	respondOK(w, reqID, healthResponse{
		Status:       "healthy",
		Version:      Version,
		GoVersion:    runtime.Version(),
		Uptime:       time.Since(s.startTime).Round(time.Second).String(),
		Scheduler:    s.scheduler.Name(),
		Queues:       s.scheduler.GetQueueNames(),
		DefaultQueue: s.scheduler.GetDefaultQueueName(),
		Archive:      archive,
	})
}
