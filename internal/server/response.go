package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/me/kthreads/pkg/model"
)

func requestID() string {
	return "req_" + uuid.New().String()[:8]
}

func respondOK(w http.ResponseWriter, r *http.Request, data any) {
	writeEnvelope(w, r, http.StatusOK, model.Response{Data: data})
}

func respondCreated(w http.ResponseWriter, r *http.Request, data any) {
	writeEnvelope(w, r, http.StatusCreated, model.Response{Data: data})
}

// respondPage writes one page of a listing along with its position in the
// whole result.
func respondPage(w http.ResponseWriter, r *http.Request, data any, opts model.ListOptions, total int) {
	writeEnvelope(w, r, http.StatusOK, model.Response{
		Data: data,
		Pagination: &model.Pagination{
			Total:   total,
			Limit:   opts.Limit,
			Offset:  opts.Offset,
			HasMore: opts.Offset+opts.Limit < total,
		},
	})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, apiErr *model.APIError) {
	writeEnvelope(w, r, status, model.Response{Error: apiErr})
}

// respondInternal logs err against the request and run it belongs to and
// answers 500. Store and runner failures end up here.
func (s *Server) respondInternal(w http.ResponseWriter, r *http.Request, err error) {
	info := infoFrom(r.Context())
	attrs := []any{"request_id", info.id, "error", err}
	if info.run != nil {
		attrs = append(attrs, "run_id", info.run.ID)
	}
	s.logger.Error("internal error", attrs...)
	respondError(w, r, http.StatusInternalServerError, model.NewInternalError(err.Error()))
}

// writeEnvelope stamps resp with the request id, time and status word and
// writes it as JSON.
func writeEnvelope(w http.ResponseWriter, r *http.Request, status int, resp model.Response) {
	resp.RequestID = RequestIDFromContext(r.Context())
	resp.Timestamp = time.Now().UTC()
	resp.Status = "ok"
	if resp.Error != nil {
		resp.Status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
