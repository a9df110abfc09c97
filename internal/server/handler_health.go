package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Store     string `json:"store"`
	Runner    string `json:"runner"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	storeStatus := "ok"
	if _, _, err := s.store.ListRuns(r.Context(), listOne); err != nil {
		storeStatus = "error: " + err.Error()
	}
	runner := "disabled"
	if s.runner != nil {
		runner = "enabled"
	}
	respondOK(w, r, healthResponse{
		Status:    "healthy",
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Store:     storeStatus,
		Runner:    runner,
	})
}
