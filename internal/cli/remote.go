package cli

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/me/kthreads/pkg/model"
)

func newSubmitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <scenario.yaml>",
		Short: "Run a scenario on the server and record it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read scenario: %w", err)
			}
			resp, err := client.PostYAML("/api/v1/runs/", data)
			if err != nil {
				return fmt.Errorf("submit scenario: %w", err)
			}
			var run model.Run
			if err := json.Unmarshal(resp.Data, &run); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Run recorded: %s\n", run.ID)
			printRun(out, &run, 0)
			return nil
		},
	}
}

func newRunsCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
			resp, err := client.Get("/api/v1/runs/?" + q.Encode())
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}

			var runs []model.Run
			if err := json.Unmarshal(resp.Data, &runs); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "No runs found.")
				return nil
			}

			fmt.Fprintf(out, "%-40s  %-20s  %-8s  %10s  %-6s  %s\n", "ID", "NAME", "MODE", "TICKS", "RESULT", "CREATED")
			fmt.Fprintf(out, "%-40s  %-20s  %-8s  %10s  %-6s  %s\n", "--", "----", "----", "-----", "------", "-------")
			for _, run := range runs {
				fmt.Fprintf(out, "%-40s  %-20s  %-8s  %10s  %-6s  %s\n",
					run.ID, run.Name, run.Mode, humanize.Comma(run.Ticks), verdict(run.Passed), humanize.Time(run.CreatedAt))
			}

			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown)\n", len(runs), resp.Pagination.Total)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of runs to skip")

	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a recorded run and its final thread table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := url.PathEscape(args[0])
			resp, err := client.Get("/api/v1/runs/" + id)
			if err != nil {
				return fmt.Errorf("get run: %w", err)
			}
			var run model.Run
			if err := json.Unmarshal(resp.Data, &run); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			resp, err = client.Get("/api/v1/runs/" + id + "/threads")
			if err != nil {
				return fmt.Errorf("get threads: %w", err)
			}
			var threads []model.ThreadInfo
			if err := json.Unmarshal(resp.Data, &threads); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			printRun(out, &run, 0)
			fmt.Fprintln(out)
			printThreads(out, threads)
			return nil
		},
	}
}

func newEventsCmd() *cobra.Command {
	var kind string
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "events <run-id>",
		Short: "Print the scheduling trace of a recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			q.Set("offset", strconv.Itoa(offset))
			if kind != "" {
				q.Set("kind", kind)
			}
			resp, err := client.Get("/api/v1/runs/" + url.PathEscape(args[0]) + "/events?" + q.Encode())
			if err != nil {
				return fmt.Errorf("list events: %w", err)
			}
			var events []model.Event
			if err := json.Unmarshal(resp.Data, &events); err != nil {
				return fmt.Errorf("parse response: %w", err)
			}

			out := cmd.OutOrStdout()
			printEvents(out, events)
			if resp.Pagination != nil && resp.Pagination.HasMore {
				fmt.Fprintf(out, "\n(%d of %d shown, next --offset %d)\n",
					len(events), resp.Pagination.Total, offset+len(events))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", "", "Only events of this kind (dispatch, donate, priority, ...)")
	cmd.Flags().IntVar(&limit, "limit", 500, "Maximum number of events")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of events to skip")

	return cmd
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <run-id>...",
		Short: "Delete recorded runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if _, err := client.Delete("/api/v1/runs/" + url.PathEscape(id)); err != nil {
					return fmt.Errorf("delete %s: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", id)
			}
			return nil
		},
	}
}
