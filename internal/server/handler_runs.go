package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/me/kthreads/internal/scenario"
	"github.com/me/kthreads/pkg/model"
)

// maxScenarioBytes bounds a POST /runs body.
const maxScenarioBytes = 1 << 20

var listOne = model.ListOptions{Limit: 1}

// listOptions reads limit, offset and kind from the query string.
func listOptions(r *http.Request) (model.ListOptions, *model.APIError) {
	opts := model.DefaultListOptions()
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, model.NewValidationError(fmt.Sprintf("invalid limit %q", v))
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return opts, model.NewValidationError(fmt.Sprintf("invalid offset %q", v))
		}
		opts.Offset = n
	}
	opts.Kind = q.Get("kind")
	opts.Clamp()
	return opts, nil
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, r, http.StatusBadRequest, apiErr)
		return
	}
	runs, total, err := s.store.ListRuns(r.Context(), opts)
	if err != nil {
		s.respondInternal(w, r, err)
		return
	}
	respondPage(w, r, runs, opts, total)
}

// handleCreateRun runs the YAML scenario in the request body and records
// the result.
func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		respondError(w, r, http.StatusServiceUnavailable,
			model.NewInternalError("scenario runner is not enabled on this server"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxScenarioBytes+1))
	if err != nil {
		respondError(w, r, http.StatusBadRequest, model.NewValidationError("read body: "+err.Error()))
		return
	}
	if len(body) > maxScenarioBytes {
		respondError(w, r, http.StatusRequestEntityTooLarge,
			model.NewValidationError(fmt.Sprintf("scenario exceeds %d bytes", maxScenarioBytes)))
		return
	}
	sc, err := scenario.Parse(body)
	if err != nil {
		respondError(w, r, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}

	res, err := s.runner.Run(r.Context(), sc)
	if err != nil {
		s.respondInternal(w, r, err)
		return
	}
	run := res.Record()
	if err := s.store.CreateRun(r.Context(), run, res.Events, res.Threads); err != nil {
		s.respondInternal(w, r, err)
		return
	}
	infoFrom(r.Context()).run = run

	s.logger.Info("run recorded", "id", run.ID, "scenario", run.Name, "passed", run.Passed, "events", run.EventCount)
	respondCreated(w, r, run)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, runFrom(r))
}

func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := runFrom(r).ID
	if err := s.store.DeleteRun(r.Context(), id); err != nil {
		s.respondInternal(w, r, err)
		return
	}
	s.logger.Info("run deleted", "id", id)
	respondOK(w, r, map[string]string{"id": id, "status": "deleted"})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	opts, apiErr := listOptions(r)
	if apiErr != nil {
		respondError(w, r, http.StatusBadRequest, apiErr)
		return
	}
	events, total, err := s.store.ListEvents(r.Context(), runFrom(r).ID, opts)
	if err != nil {
		s.respondInternal(w, r, err)
		return
	}
	respondPage(w, r, events, opts, total)
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	threads, err := s.store.ListThreads(r.Context(), runFrom(r).ID)
	if err != nil {
		s.respondInternal(w, r, err)
		return
	}
	respondOK(w, r, threads)
}
