package cli

import (
	"bytes"
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/me/kthreads/internal/config"
	"github.com/me/kthreads/internal/machine"
	"github.com/me/kthreads/internal/scenario"
	"github.com/me/kthreads/internal/server"
	"github.com/me/kthreads/internal/store"
	"github.com/me/kthreads/pkg/model"
)

// startTestServer starts a server with an in-memory SQLite store and returns the URL.
func startTestServer(t *testing.T) string {
	t.Helper()
	srvLogger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.NewSQLiteStore(":memory:", srvLogger)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	runner := scenario.NewRunner(machine.DefaultConfig(), srvLogger)
	srv := server.New(config.Default().Server, st, srvLogger, server.WithRunner(runner))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts.URL
}

func scenarioPath(name string) string {
	return filepath.Join("..", "..", "scenarios", name+".yaml")
}

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()

	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))

	err := root.Execute()
	return buf.String(), err
}

func submit(t *testing.T, url, path string) string {
	t.Helper()
	output, err := runCLI(t, "--server", url, "submit", path)
	if err != nil {
		t.Fatalf("submit error: %v\noutput: %s", err, output)
	}
	for _, line := range strings.Split(output, "\n") {
		if id, ok := strings.CutPrefix(line, "Run recorded: "); ok {
			return id
		}
	}
	t.Fatalf("no run id in output: %s", output)
	return ""
}

func TestRunCommand(t *testing.T) {
	output, err := runCLI(t, "run", scenarioPath("round-robin"), scenarioPath("alarm-order"), "--threads")
	if err != nil {
		t.Fatalf("run error: %v\noutput: %s", err, output)
	}
	if strings.Count(output, "PASS  ") != 2 {
		t.Errorf("expected two PASS lines, got: %s", output)
	}
	if !strings.Contains(output, "ticks 16") {
		t.Errorf("expected round-robin tick count, got: %s", output)
	}
	if !strings.Contains(output, "STATUS") || !strings.Contains(output, "DYING") {
		t.Errorf("expected thread table, got: %s", output)
	}
}

func TestRunCommand_Failure(t *testing.T) {
	path := writeScenario(t, "name: wrong\nmain: [{spin: 1}]\nexpect:\n  - run.ticks == 2\n")
	output, err := runCLI(t, "run", path)
	if err == nil {
		t.Fatalf("expected error, output: %s", output)
	}
	if !strings.Contains(err.Error(), "1 of 1 scenarios failed") {
		t.Errorf("error = %v", err)
	}
	if !strings.Contains(output, "FAIL  wrong") || !strings.Contains(output, "FAIL run.ticks == 2") {
		t.Errorf("expected failure report, got: %s", output)
	}
}

func TestRunCommand_Trace(t *testing.T) {
	path := writeScenario(t, "name: traced\nthreads: [{name: w, priority: 40, script: [{spin: 1}]}]\n")
	output, err := runCLI(t, "run", "--trace", path)
	if err != nil {
		t.Fatalf("run error: %v\noutput: %s", err, output)
	}
	for _, want := range []string{"KIND", "spawn", "dispatch", "exit", "w#"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in trace, got: %s", want, output)
		}
	}
}

func TestRunCommand_Record(t *testing.T) {
	db := filepath.Join(t.TempDir(), "trace.db")
	output, err := runCLI(t, "--db", db, "run", "--record", scenarioPath("donate-nest"))
	if err != nil {
		t.Fatalf("run error: %v\noutput: %s", err, output)
	}

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := store.NewSQLiteStore(db, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()
	runs, total, err := st.ListRuns(context.Background(), model.DefaultListOptions())
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if total != 1 || runs[0].Name != "donate-nest" || !runs[0].Passed {
		t.Errorf("runs = %+v (total %d)", runs, total)
	}
}

func TestRunCommand_MissingFile(t *testing.T) {
	_, err := runCLI(t, "run", "does-not-exist.yaml")
	if err == nil || !strings.Contains(err.Error(), "read scenario") {
		t.Errorf("error = %v", err)
	}
}

func TestSubmitAndInspect(t *testing.T) {
	url := startTestServer(t)
	id := submit(t, url, scenarioPath("donate-nest"))
	if !strings.HasPrefix(id, "run_") {
		t.Fatalf("id = %q", id)
	}

	output, err := runCLI(t, "--server", url, "runs")
	if err != nil {
		t.Fatalf("runs error: %v", err)
	}
	if !strings.Contains(output, id) || !strings.Contains(output, "donate-nest") || !strings.Contains(output, "PASS") {
		t.Errorf("expected run in list, got: %s", output)
	}

	output, err = runCLI(t, "--server", url, "show", id)
	if err != nil {
		t.Fatalf("show error: %v", err)
	}
	if !strings.Contains(output, "medium") || !strings.Contains(output, "ok   run.error") {
		t.Errorf("expected run detail, got: %s", output)
	}

	output, err = runCLI(t, "--server", url, "events", id, "--kind", "donate")
	if err != nil {
		t.Fatalf("events error: %v", err)
	}
	if !strings.Contains(output, "via a") || !strings.Contains(output, "via b") {
		t.Errorf("expected donate events, got: %s", output)
	}
	if strings.Contains(output, "dispatch") {
		t.Errorf("kind filter not applied: %s", output)
	}

	output, err = runCLI(t, "--server", url, "rm", id)
	if err != nil {
		t.Fatalf("rm error: %v", err)
	}
	if !strings.Contains(output, "Deleted "+id) {
		t.Errorf("unexpected rm output: %s", output)
	}

	_, err = runCLI(t, "--server", url, "show", id)
	if err == nil || !strings.Contains(err.Error(), "NOT_FOUND") {
		t.Errorf("show after rm: error = %v", err)
	}
}

func TestRunsCommand_Empty(t *testing.T) {
	url := startTestServer(t)
	output, err := runCLI(t, "--server", url, "runs")
	if err != nil {
		t.Fatalf("runs error: %v", err)
	}
	if !strings.Contains(output, "No runs found.") {
		t.Errorf("got: %s", output)
	}
}

func TestSubmitCommand_InvalidScenario(t *testing.T) {
	url := startTestServer(t)
	path := writeScenario(t, "name: bad\nmain: [{jump: 1}]\n")
	_, err := runCLI(t, "--server", url, "submit", path)
	if err == nil || !strings.Contains(err.Error(), "VALIDATION_ERROR") {
		t.Errorf("error = %v", err)
	}
}

func TestConfigFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ksim.yaml")
	os.WriteFile(path, []byte("kernel:\n  time_slice: 0\n"), 0o644)
	_, err := runCLI(t, "--config", path, "run", scenarioPath("round-robin"))
	if err == nil || !strings.Contains(err.Error(), "time_slice") {
		t.Errorf("error = %v", err)
	}
}

func TestHundredths(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0.00"},
		{5, "0.05"},
		{163, "1.63"},
		{-250, "-2.50"},
	}
	for _, tt := range tests {
		if got := hundredths(tt.in); got != tt.want {
			t.Errorf("hundredths(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
