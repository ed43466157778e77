package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "batchgate API",
		Version:     "v1",
		Description: "Job submission and monitoring for the " + s.scheduler.Name() + " scheduler",
		Endpoints: []endpointInfo{
			{"/api/v1/jobs", []string{"GET", "POST"}, "List jobs (?queue= repeatable) or submit a job description"},
			{"/api/v1/jobs/{id}", []string{"GET", "DELETE"}, "Job status, or cancel the job"},
			{"/api/v1/jobs/{id}/wait", []string{"POST"}, "Wait for a job (?timeout=30s&until=done|running)"},
			{"/api/v1/queues", []string{"GET"}, "Status of every queue"},
			{"/api/v1/queues/{name}", []string{"GET"}, "Status of one queue"},
			{"/api/v1/history", []string{"GET"}, "Archived finished jobs (?limit=&offset=&queue=)"},
			{"/api/v1/history/{id}", []string{"GET"}, "One archived job"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
