package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/kthreads/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Runs ---

// timeLayout keeps a fixed number of fractional digits so that stored
// timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const runColumns = `id, name, mode, ticks, load_avg, switches, idle_ticks, passed, error, event_count, source, expectations, created_at`

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run, events []model.Event, threads []model.ThreadInfo) error {
	s.logger.Debug("sql", "op", "insert", "table", "runs", "id", run.ID, "events", len(events), "threads", len(threads))

	expectJSON, err := json.Marshal(run.Expectations)
	if err != nil {
		return fmt.Errorf("marshal expectations: %w", err)
	}
	run.EventCount = len(events)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (`+runColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Name, string(run.Mode), run.Ticks, run.LoadAvg, run.Switches, run.IdleTicks,
		boolToInt(run.Passed), run.Error, run.EventCount, run.Source, string(expectJSON),
		run.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	evStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (run_id, seq, tick, kind, thread_id, thread_name, priority, detail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer evStmt.Close()
	for _, ev := range events {
		if _, err := evStmt.ExecContext(ctx, run.ID, ev.Seq, ev.Tick, string(ev.Kind), ev.ThreadID, ev.ThreadName, ev.Priority, ev.Detail); err != nil {
			return fmt.Errorf("insert event %d: %w", ev.Seq, err)
		}
	}

	thStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO threads (run_id, thread_id, name, status, base_priority, priority, nice, recent_cpu, waiting_on, donors, run_ticks, created_tick, exit_tick)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer thStmt.Close()
	for _, th := range threads {
		donors := th.Donors
		if donors == nil {
			donors = []int{}
		}
		donorsJSON, err := json.Marshal(donors)
		if err != nil {
			return fmt.Errorf("marshal donors: %w", err)
		}
		var exitTick sql.NullInt64
		if th.ExitTick != nil {
			exitTick = sql.NullInt64{Int64: *th.ExitTick, Valid: true}
		}
		if _, err := thStmt.ExecContext(ctx, run.ID, th.ID, th.Name, string(th.Status), th.BasePriority, th.Priority,
			th.Nice, th.RecentCPU, th.WaitingOn, string(donorsJSON), th.RunTicks, th.CreatedTick, exitTick); err != nil {
			return fmt.Errorf("insert thread %d: %w", th.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.logger.Debug("sql", "op", "select", "table", "runs", "id", id)

	run, err := s.scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "runs", "limit", opts.Limit, "offset", opts.Offset)
	opts.Clamp()

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY created_at DESC, id LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	s.logger.Debug("sql", "op", "delete", "table", "runs", "id", id)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// The pragma is per connection, so children are deleted explicitly.
	for _, stmt := range []string{
		`DELETE FROM events WHERE run_id = ?`,
		`DELETE FROM threads WHERE run_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return err
		}
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return tx.Commit()
}

// --- Events ---

func (s *SQLiteStore) ListEvents(ctx context.Context, runID string, opts model.ListOptions) ([]model.Event, int, error) {
	s.logger.Debug("sql", "op", "list", "table", "events", "run_id", runID, "kind", opts.Kind)
	opts.Clamp()

	where := `WHERE run_id = ?`
	args := []any{runID}
	if opts.Kind != "" {
		where += ` AND kind = ?`
		args = append(args, opts.Kind)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, tick, kind, thread_id, thread_name, priority, detail FROM events `+where+` ORDER BY seq LIMIT ? OFFSET ?`,
		append(args, opts.Limit, opts.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		var ev model.Event
		var kind string
		if err := rows.Scan(&ev.Seq, &ev.Tick, &kind, &ev.ThreadID, &ev.ThreadName, &ev.Priority, &ev.Detail); err != nil {
			return nil, 0, err
		}
		ev.Kind = model.EventKind(kind)
		events = append(events, ev)
	}
	return events, total, rows.Err()
}

// --- Threads ---

func (s *SQLiteStore) ListThreads(ctx context.Context, runID string) ([]model.ThreadInfo, error) {
	s.logger.Debug("sql", "op", "list", "table", "threads", "run_id", runID)

	rows, err := s.db.QueryContext(ctx,
		`SELECT thread_id, name, status, base_priority, priority, nice, recent_cpu, waiting_on, donors, run_ticks, created_tick, exit_tick
		 FROM threads WHERE run_id = ? ORDER BY thread_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var threads []model.ThreadInfo
	for rows.Next() {
		var th model.ThreadInfo
		var status, donorsJSON string
		var exitTick sql.NullInt64
		if err := rows.Scan(&th.ID, &th.Name, &status, &th.BasePriority, &th.Priority, &th.Nice, &th.RecentCPU,
			&th.WaitingOn, &donorsJSON, &th.RunTicks, &th.CreatedTick, &exitTick); err != nil {
			return nil, err
		}
		th.Status = model.ThreadStatus(status)
		if err := json.Unmarshal([]byte(donorsJSON), &th.Donors); err != nil {
			return nil, fmt.Errorf("unmarshal donors: %w", err)
		}
		if len(th.Donors) == 0 {
			th.Donors = nil
		}
		if exitTick.Valid {
			v := exitTick.Int64
			th.ExitTick = &v
		}
		threads = append(threads, th)
	}
	return threads, rows.Err()
}

// --- Helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanRun(row scanner) (*model.Run, error) {
	var run model.Run
	var mode, expectJSON, createdAt string
	var passed int
	if err := row.Scan(&run.ID, &run.Name, &mode, &run.Ticks, &run.LoadAvg, &run.Switches, &run.IdleTicks,
		&passed, &run.Error, &run.EventCount, &run.Source, &expectJSON, &createdAt); err != nil {
		return nil, err
	}
	run.Mode = model.SchedulingMode(mode)
	run.Passed = passed != 0
	if err := json.Unmarshal([]byte(expectJSON), &run.Expectations); err != nil {
		return nil, fmt.Errorf("unmarshal expectations: %w", err)
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &run, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
