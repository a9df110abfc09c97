package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/me/kthreads/pkg/model"
)

// sseBatch is the page size used when replaying a trace.
const sseBatch = 500

// handleSSEEvents replays a recorded trace via Server-Sent Events: one
// "event" message per scheduler event, then "complete" with the run.
// GET /api/v1/sse/runs/{id}/events
func (s *Server) handleSSEEvents(w http.ResponseWriter, r *http.Request) {
	run := runFrom(r)
	id := run.ID

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	opts := model.ListOptions{Limit: sseBatch, Kind: r.URL.Query().Get("kind")}
	for {
		events, total, err := s.store.ListEvents(r.Context(), id, opts)
		if err != nil {
			s.logger.Error("sse fetch error", "id", id, "error", err)
			return
		}
		for _, ev := range events {
			if err := sendSSEEvent(w, flusher, "event", ev); err != nil {
				s.logger.Debug("sse client disconnected", "id", id, "error", err)
				return
			}
		}
		opts.Offset += len(events)
		if len(events) == 0 || opts.Offset >= total {
			break
		}
	}
	if err := sendSSEEvent(w, flusher, "complete", run); err != nil {
		s.logger.Debug("sse client disconnected", "id", id, "error", err)
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
