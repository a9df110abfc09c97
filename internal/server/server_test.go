package server

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/me/kthreads/internal/config"
	"github.com/me/kthreads/internal/machine"
	"github.com/me/kthreads/internal/scenario"
	"github.com/me/kthreads/internal/store"
	"github.com/me/kthreads/pkg/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testServer(t *testing.T, opts ...Option) (*Server, store.Store) {
	t.Helper()
	st, err := store.NewSQLiteStore(":memory:", testLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return New(config.Default().Server, st, testLogger(), opts...), st
}

func withRunner() Option {
	cfg := machine.DefaultConfig()
	cfg.MaxTicks = 5000
	return WithRunner(scenario.NewRunner(cfg, testLogger()))
}

// seedRun stores a small two-thread run.
func seedRun(t *testing.T, st store.Store, id string) {
	t.Helper()
	run := &model.Run{ID: id, Name: "seed", Mode: model.ModePriority, Ticks: 4, Passed: true, EventCount: 3, CreatedAt: time.Now().UTC()}
	events := []model.Event{
		{Seq: 1, Kind: model.EventSpawn, ThreadID: 3, ThreadName: "w", Priority: 31},
		{Seq: 2, Kind: model.EventDispatch, ThreadID: 3, ThreadName: "w", Priority: 31},
		{Seq: 3, Tick: 4, Kind: model.EventExit, ThreadID: 3, ThreadName: "w", Priority: 31},
	}
	threads := []model.ThreadInfo{
		{ID: 1, Name: "main", Status: model.ThreadRunning, BasePriority: 31, Priority: 31},
		{ID: 3, Name: "w", Status: model.ThreadDying, BasePriority: 31, Priority: 31, RunTicks: 4},
	}
	if err := st.CreateRun(context.Background(), run, events, threads); err != nil {
		t.Fatalf("seed run: %v", err)
	}
}

// envelope is used to decode the standard response envelope.
type envelope struct {
	Status     string            `json:"status"`
	RequestID  string            `json:"request_id"`
	Timestamp  string            `json:"timestamp"`
	Data       json.RawMessage   `json:"data"`
	Pagination *model.Pagination `json:"pagination"`
	Error      *model.APIError   `json:"error"`
}

func do(t *testing.T, srv *Server, method, path, body string, wantStatus int) envelope {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != wantStatus {
		t.Fatalf("%s %s: status=%d, want %d, body=%s", method, path, w.Code, wantStatus, w.Body.String())
	}
	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid JSON: %v", method, path, err)
	}
	return env
}

func doGet(t *testing.T, srv *Server, path string) envelope {
	t.Helper()
	return do(t, srv, "GET", path, "", http.StatusOK)
}

func TestDiscovery(t *testing.T) {
	srv, _ := testServer(t)
	env := doGet(t, srv, "/api/v1/")
	if env.Status != "ok" {
		t.Errorf("status = %q, want ok", env.Status)
	}
	if !strings.HasPrefix(env.RequestID, "req_") {
		t.Errorf("request_id = %q, want req_ prefix", env.RequestID)
	}

	var data struct {
		Name      string `json:"name"`
		Endpoints []struct {
			Path string `json:"path"`
		} `json:"endpoints"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Name != "kthreads API" {
		t.Errorf("name = %q, want kthreads API", data.Name)
	}
	if len(data.Endpoints) != 6 {
		t.Errorf("endpoints count = %d, want 6", len(data.Endpoints))
	}
}

func TestHealth(t *testing.T) {
	srv, _ := testServer(t)
	env := doGet(t, srv, "/api/v1/health")

	var data healthResponse
	json.Unmarshal(env.Data, &data)
	if data.Status != "healthy" {
		t.Errorf("health status = %q, want healthy", data.Status)
	}
	if data.Store != "ok" {
		t.Errorf("store = %q, want ok", data.Store)
	}
	if data.Runner != "disabled" {
		t.Errorf("runner = %q, want disabled", data.Runner)
	}
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := testServer(t)
	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if got := w.Header().Get("X-Request-ID"); !strings.HasPrefix(got, "req_") {
		t.Errorf("X-Request-ID = %q", got)
	}
}

func TestListRuns(t *testing.T) {
	srv, st := testServer(t)
	seedRun(t, st, "run_a")
	seedRun(t, st, "run_b")

	env := doGet(t, srv, "/api/v1/runs/?limit=1")
	if env.Pagination == nil {
		t.Fatal("expected pagination")
	}
	if env.Pagination.Total != 2 || env.Pagination.Limit != 1 || !env.Pagination.HasMore {
		t.Errorf("pagination = %+v", env.Pagination)
	}
	var runs []model.Run
	json.Unmarshal(env.Data, &runs)
	if len(runs) != 1 {
		t.Errorf("len(runs) = %d, want 1", len(runs))
	}
}

func TestListRuns_BadLimit(t *testing.T) {
	srv, _ := testServer(t)
	env := do(t, srv, "GET", "/api/v1/runs/?limit=ten", "", http.StatusBadRequest)
	if env.Error == nil || env.Error.Code != model.ErrValidation {
		t.Errorf("error = %+v, want VALIDATION_ERROR", env.Error)
	}
}

func TestGetRun(t *testing.T) {
	srv, st := testServer(t)
	seedRun(t, st, "run_x")

	env := doGet(t, srv, "/api/v1/runs/run_x")
	var run model.Run
	json.Unmarshal(env.Data, &run)
	if run.ID != "run_x" || run.Ticks != 4 || !run.Passed {
		t.Errorf("run = %+v", run)
	}
}

func TestGetRun_NotFound(t *testing.T) {
	srv, _ := testServer(t)
	for _, path := range []string{
		"/api/v1/runs/run_missing",
		"/api/v1/runs/run_missing/events",
		"/api/v1/runs/run_missing/threads",
		"/api/v1/sse/runs/run_missing/events",
	} {
		env := do(t, srv, "GET", path, "", http.StatusNotFound)
		if env.Error == nil || env.Error.Code != model.ErrNotFound {
			t.Errorf("%s: error = %+v, want NOT_FOUND", path, env.Error)
		}
	}
}

func TestListEvents(t *testing.T) {
	srv, st := testServer(t)
	seedRun(t, st, "run_e")

	tests := []struct {
		query string
		want  []int64
		total int
	}{
		{"", []int64{1, 2, 3}, 3},
		{"?limit=2", []int64{1, 2}, 3},
		{"?offset=2", []int64{3}, 3},
		{"?kind=dispatch", []int64{2}, 1},
	}
	for _, tt := range tests {
		env := doGet(t, srv, "/api/v1/runs/run_e/events"+tt.query)
		var events []model.Event
		json.Unmarshal(env.Data, &events)
		var seqs []int64
		for _, ev := range events {
			seqs = append(seqs, ev.Seq)
		}
		if len(seqs) != len(tt.want) {
			t.Errorf("%q: seqs = %v, want %v", tt.query, seqs, tt.want)
			continue
		}
		for i := range seqs {
			if seqs[i] != tt.want[i] {
				t.Errorf("%q: seqs = %v, want %v", tt.query, seqs, tt.want)
				break
			}
		}
		if env.Pagination.Total != tt.total {
			t.Errorf("%q: total = %d, want %d", tt.query, env.Pagination.Total, tt.total)
		}
	}
}

func TestListThreads(t *testing.T) {
	srv, st := testServer(t)
	seedRun(t, st, "run_t")

	env := doGet(t, srv, "/api/v1/runs/run_t/threads")
	var threads []model.ThreadInfo
	json.Unmarshal(env.Data, &threads)
	if len(threads) != 2 {
		t.Fatalf("len(threads) = %d, want 2", len(threads))
	}
	if threads[1].Name != "w" || threads[1].Status != model.ThreadDying {
		t.Errorf("threads[1] = %+v", threads[1])
	}
}

func TestDeleteRun(t *testing.T) {
	srv, st := testServer(t)
	seedRun(t, st, "run_d")

	do(t, srv, "DELETE", "/api/v1/runs/run_d", "", http.StatusOK)
	do(t, srv, "GET", "/api/v1/runs/run_d", "", http.StatusNotFound)
	do(t, srv, "DELETE", "/api/v1/runs/run_d", "", http.StatusNotFound)
}

func TestCreateRun_RunnerDisabled(t *testing.T) {
	srv, _ := testServer(t)
	env := do(t, srv, "POST", "/api/v1/runs/", "name: x\n", http.StatusServiceUnavailable)
	if env.Error == nil || env.Error.Code != model.ErrInternal {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestCreateRun(t *testing.T) {
	srv, _ := testServer(t, withRunner())
	body := `
name: posted
threads:
  - name: w
    priority: 40
    script: [{spin: 2}, {note: hi}]
expect:
  - run.notes[0] == "hi"
`
	env := do(t, srv, "POST", "/api/v1/runs/", body, http.StatusCreated)
	var run model.Run
	json.Unmarshal(env.Data, &run)
	if !strings.HasPrefix(run.ID, "run_") {
		t.Fatalf("id = %q, want run_ prefix", run.ID)
	}
	if !run.Passed || run.Ticks != 2 {
		t.Errorf("run = %+v", run)
	}

	env = doGet(t, srv, "/api/v1/runs/"+run.ID+"/events?kind=note")
	var events []model.Event
	json.Unmarshal(env.Data, &events)
	if len(events) != 1 || events[0].Detail != "hi" || events[0].ThreadName != "w" {
		t.Errorf("note events = %+v", events)
	}

	env = doGet(t, srv, "/api/v1/runs/"+run.ID)
	var stored model.Run
	json.Unmarshal(env.Data, &stored)
	if len(stored.Expectations) != 1 || !stored.Expectations[0].Passed {
		t.Errorf("expectations = %+v", stored.Expectations)
	}
}

func TestCreateRun_InvalidScenario(t *testing.T) {
	srv, _ := testServer(t, withRunner())
	env := do(t, srv, "POST", "/api/v1/runs/", "name: x\nmain: [{jump: 1}]\n", http.StatusBadRequest)
	if env.Error == nil || !strings.Contains(env.Error.Message, "unknown op") {
		t.Errorf("error = %+v", env.Error)
	}
}

func TestSSEEvents(t *testing.T) {
	srv, st := testServer(t)
	seedRun(t, st, "run_s")

	req := httptest.NewRequest("GET", "/api/v1/sse/runs/run_s/events", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	if n := strings.Count(body, "event: event\n"); n != 3 {
		t.Errorf("event messages = %d, want 3\n%s", n, body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "}") || !strings.Contains(body, "event: complete\n") {
		t.Errorf("missing complete message:\n%s", body)
	}
}
