package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/me/kthreads/internal/scenario"
	"github.com/me/kthreads/internal/store"
)

func newRunCmd() *cobra.Command {
	var (
		mlfqs     bool
		maxTicks  int64
		record    bool
		trace     bool
		showTable bool
	)

	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>...",
		Short: "Run scenarios locally and check their expectations",
		Long: `Run executes each scenario on a fresh simulated machine and prints a
summary with the outcome of every expectation. The command fails when
any scenario fails. With --record the runs are stored in the trace
database.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kernel := cfg.Kernel
			if cmd.Flags().Changed("mlfqs") {
				kernel.MLFQS = mlfqs
			}
			if cmd.Flags().Changed("max-ticks") {
				kernel.MaxTicks = maxTicks
			}
			runner := scenario.NewRunner(kernel.Machine(), logger)

			var st store.Store
			if record {
				opened, err := openStore(cmd.Context())
				if err != nil {
					return err
				}
				defer opened.Close()
				st = opened
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, path := range args {
				sc, err := scenario.Load(path)
				if err != nil {
					return err
				}
				res, err := runner.Run(cmd.Context(), sc)
				if err != nil {
					return fmt.Errorf("run %s: %w", path, err)
				}
				if !res.Passed {
					failed++
				}

				run := res.Record()
				printRun(out, run, res.Duration)
				if trace {
					printEvents(out, res.Events)
				}
				if showTable {
					printThreads(out, res.Threads)
				}
				if st != nil {
					if err := st.CreateRun(cmd.Context(), run, res.Events, res.Threads); err != nil {
						return fmt.Errorf("record %s: %w", run.ID, err)
					}
				}
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d scenarios failed", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&mlfqs, "mlfqs", false, "Use the feedback-queue scheduler for scenarios that do not set a mode")
	cmd.Flags().Int64Var(&maxTicks, "max-ticks", 0, "Tick budget per run (0 for none)")
	cmd.Flags().BoolVar(&record, "record", false, "Store the runs in the trace database")
	cmd.Flags().BoolVar(&trace, "trace", false, "Print the scheduling trace")
	cmd.Flags().BoolVar(&showTable, "threads", false, "Print the final thread table")

	return cmd
}

// openStore opens and migrates the configured trace database.
func openStore(ctx context.Context) (*store.SQLiteStore, error) {
	path, err := cfg.Store.Path()
	if err != nil {
		return nil, err
	}
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	logger.Debug("database ready", "path", path)
	return st, nil
}
