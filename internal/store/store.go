package store

import (
	"context"

	"github.com/me/kthreads/pkg/model"
)

// Store defines the persistence layer for simulation traces.
type Store interface {
	// CreateRun stores a finished run with its event trace and the final
	// thread table in one transaction.
	CreateRun(ctx context.Context, run *model.Run, events []model.Event, threads []model.ThreadInfo) error
	GetRun(ctx context.Context, id string) (*model.Run, error)
	ListRuns(ctx context.Context, opts model.ListOptions) ([]*model.Run, int, error)
	DeleteRun(ctx context.Context, id string) error

	// ListEvents returns a page of a run's trace in sequence order,
	// optionally filtered by opts.Kind.
	ListEvents(ctx context.Context, runID string, opts model.ListOptions) ([]model.Event, int, error)
	ListThreads(ctx context.Context, runID string) ([]model.ThreadInfo, error)

	// Lifecycle
	Close() error
	Migrate(ctx context.Context) error
}
