package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/me/kthreads/pkg/model"
)

// hundredths formats a value reported multiplied by 100.
func hundredths(v int) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func verdict(passed bool) string {
	if passed {
		return "PASS"
	}
	return "FAIL"
}

// printRun writes a run summary followed by its expectation results.
func printRun(w io.Writer, run *model.Run, elapsed time.Duration) {
	fmt.Fprintf(w, "%s  %s  %s  [%s]\n", verdict(run.Passed), run.Name, run.ID, run.Mode)
	line := fmt.Sprintf("  ticks %s  switches %s  idle %s  load_avg %s  events %s",
		humanize.Comma(run.Ticks),
		humanize.Comma(run.Switches),
		humanize.Comma(run.IdleTicks),
		hundredths(run.LoadAvg),
		humanize.Comma(int64(run.EventCount)),
	)
	if elapsed > 0 {
		line += "  (" + elapsed.Round(time.Microsecond).String() + ")"
	}
	fmt.Fprintln(w, line)
	if run.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", run.Error)
	}
	for _, e := range run.Expectations {
		mark := "ok  "
		if !e.Passed {
			mark = "FAIL"
		}
		fmt.Fprintf(w, "  %s %s", mark, e.Expr)
		if e.Error != "" {
			fmt.Fprintf(w, "  (%s)", e.Error)
		}
		fmt.Fprintln(w)
	}
}

// printEvents writes a trace as a table.
func printEvents(w io.Writer, events []model.Event) {
	fmt.Fprintf(w, "%6s  %6s  %-9s  %-16s  %3s  %s\n", "SEQ", "TICK", "KIND", "THREAD", "PRI", "DETAIL")
	for _, ev := range events {
		fmt.Fprintf(w, "%6d  %6d  %-9s  %-16s  %3d  %s\n",
			ev.Seq, ev.Tick, ev.Kind, fmt.Sprintf("%s#%d", ev.ThreadName, ev.ThreadID), ev.Priority, ev.Detail)
	}
}

// printThreads writes a thread table.
func printThreads(w io.Writer, threads []model.ThreadInfo) {
	fmt.Fprintf(w, "%4s  %-12s  %-8s  %4s  %4s  %4s  %7s  %8s  %s\n",
		"ID", "NAME", "STATUS", "BASE", "PRI", "NICE", "RCPU", "RUN", "EXIT")
	for _, t := range threads {
		exit := "-"
		if t.ExitTick != nil {
			exit = humanize.Comma(*t.ExitTick)
		}
		fmt.Fprintf(w, "%4d  %-12s  %-8s  %4d  %4d  %4d  %7s  %8s  %s\n",
			t.ID, t.Name, t.Status, t.BasePriority, t.Priority, t.Nice,
			hundredths(t.RecentCPU), humanize.Comma(t.RunTicks), exit)
	}
}
