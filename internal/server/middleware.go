package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/me/kthreads/pkg/model"
)

// requestInfo travels in the request context. runScope fills in the run
// once the route names one, so the access log can tie a request to the
// trace it touched.
type requestInfo struct {
	id  string
	run *model.Run
}

type ctxKey struct{}

func infoFrom(ctx context.Context) *requestInfo {
	if info, ok := ctx.Value(ctxKey{}).(*requestInfo); ok {
		return info
	}
	return &requestInfo{}
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	return infoFrom(ctx).id
}

// runFrom returns the run loaded by runScope.
func runFrom(r *http.Request) *model.Run {
	return infoFrom(r.Context()).run
}

// maxRequestIDLen bounds a client-supplied X-Request-ID.
const maxRequestIDLen = 64

// acceptRequestID reports whether a client-supplied id can be reused. The
// CLI forwards its own ids so a submit and the server log line share one.
func acceptRequestID(id string) bool {
	if !strings.HasPrefix(id, "req_") || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '-':
		default:
			return false
		}
	}
	return true
}

// requestIDMiddleware assigns the request ID and stores it in context.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !acceptRequestID(id) {
			id = requestID()
		}
		ctx := context.WithValue(r.Context(), ctxKey{}, &requestInfo{id: id})
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// runScope loads the run named by the {id} URL parameter. Missing runs
// get a 404 before the handler runs.
func (s *Server) runScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		run, err := s.store.GetRun(r.Context(), id)
		if err != nil {
			s.respondInternal(w, r, err)
			return
		}
		if run == nil {
			respondError(w, r, http.StatusNotFound, model.NewNotFoundError("run", id))
			return
		}
		infoFrom(r.Context()).run = run
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware writes one access log line per request. Server errors
// log at ERROR and client errors at WARN. Lines for run routes carry the
// run id; event streams report how many messages were sent.
func loggingMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			info := infoFrom(r.Context())
			attrs := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"bytes", sw.bytes,
				"duration", time.Since(start).String(),
				"request_id", info.id,
			}
			if info.run != nil {
				attrs = append(attrs, "run_id", info.run.ID)
			}
			if sw.flushes > 0 {
				attrs = append(attrs, "stream_flushes", sw.flushes)
			}

			level := slog.LevelInfo
			switch {
			case sw.status >= 500:
				level = slog.LevelError
			case sw.status >= 400:
				level = slog.LevelWarn
			}
			logger.Log(r.Context(), level, "request", attrs...)
		})
	}
}

// statusWriter records the status, body size and flush count of a
// response. It stays an http.Flusher so event streams work through it.
type statusWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	flushes int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		w.flushes++
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
