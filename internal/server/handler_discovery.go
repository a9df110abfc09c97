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
	respondOK(w, r, discoveryResponse{
		Name:        "kthreads API",
		Version:     "v1",
		Description: "Recorded runs of the simulated kernel thread scheduler",
		Endpoints: []endpointInfo{
			{"/api/v1/runs", []string{"GET", "POST"}, "List recorded runs. POST runs a YAML scenario and records it"},
			{"/api/v1/runs/{id}", []string{"GET", "DELETE"}, "Single run summary with expectation results"},
			{"/api/v1/runs/{id}/events", []string{"GET"}, "Scheduling trace, paginated. Filter with ?kind="},
			{"/api/v1/runs/{id}/threads", []string{"GET"}, "Final thread table of a run"},
			{"/api/v1/sse/runs/{id}/events", []string{"GET"}, "Replay a trace as Server-Sent Events"},
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
		},
	})
}
