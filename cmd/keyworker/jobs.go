package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/warp/keyworker-engine/api"
	"github.com/warp/keyworker-engine/keyworker"
	"github.com/warp/keyworker-engine/store/sqlite"
)

func deallocateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deallocate",
		Short: "Deallocate offenders released or transferred since the last sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, api.JobDeallocate, func(w io.Writer, run sqlite.BatchRun) error {
				var s keyworker.DeallocationSummary
				if err := json.Unmarshal([]byte(run.SummaryJSON), &s); err != nil {
					return err
				}
				fmt.Fprintf(w, "Movements since %s (%s)\n",
					s.PreviousRunStart.Format(time.RFC3339), humanize.RelTime(s.PreviousRunStart, s.ThisRunStart, "earlier", "later"))

				tw := table.NewWriter()
				tw.SetOutputMirror(w)
				tw.AppendHeader(table.Row{"Day", "Date", "Prisoners found", "Query time"})
				for _, d := range s.Days {
					tw.AppendRow(table.Row{d.DayNumber, d.Date.String(), humanize.Comma(int64(d.PrisonersFound)), d.QueryTime.Round(time.Millisecond)})
				}
				tw.AppendFooter(table.Row{"", "", "deallocated", humanize.Comma(int64(s.Deallocated))})
				tw.AppendFooter(table.Row{"", "", "skipped", humanize.Comma(int64(s.Skipped))})
				tw.Render()
				return nil
			})
		},
	}
}

func updateStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "update-status",
		Short: "Return key workers to active once their leave has ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJob(cmd, api.JobUpdateStatus, func(w io.Writer, run sqlite.BatchRun) error {
				var staff []int64
				if err := json.Unmarshal([]byte(run.SummaryJSON), &staff); err != nil {
					return err
				}
				if len(staff) == 0 {
					fmt.Fprintln(w, "No key workers returning from leave")
					return nil
				}
				ids := make([]string, len(staff))
				for i, id := range staff {
					ids[i] = fmt.Sprint(id)
				}
				fmt.Fprintf(w, "%s returned to active: %s\n",
					humanize.Comma(int64(len(staff))), strings.Join(ids, ", "))
				return nil
			})
		},
	}
}

// runJob runs one job through the scheduler so the run is recorded exactly
// like a scheduled one. Interrupting the command cancels the job.
func runJob(cmd *cobra.Command, job string, render func(io.Writer, sqlite.BatchRun) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := a.scheduler.RunNow(ctx, job, api.TriggerCLI)
	if err != nil {
		return err
	}
	if v.GetBool("json") {
		if err := printJSON(cmd.OutOrStdout(), api.NewBatchRunDTO(run)); err != nil {
			return err
		}
	} else if run.Status != sqlite.RunStatusFailed {
		if err := render(cmd.OutOrStdout(), run); err != nil {
			return err
		}
	}
	if run.Status == sqlite.RunStatusFailed {
		return fmt.Errorf("%s failed (run %s): %s", job, run.ID, run.Error)
	}
	return nil
}

func runsCmd() *cobra.Command {
	var job string
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded batch runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			db, err := sqlite.New(cfg.DB.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			runs, err := db.ListBatchRuns(context.Background(), job, limit)
			if err != nil {
				return err
			}
			if v.GetBool("json") {
				dtos := make([]api.BatchRunDTO, len(runs))
				for i, r := range runs {
					dtos[i] = api.NewBatchRunDTO(r)
				}
				return printJSON(cmd.OutOrStdout(), dtos)
			}

			tw := table.NewWriter()
			tw.SetOutputMirror(cmd.OutOrStdout())
			tw.AppendHeader(table.Row{"ID", "Job", "Trigger", "Status", "Started", "Took", "Error"})
			for _, r := range runs {
				took := ""
				if r.CompletedAt != nil {
					took = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				tw.AppendRow(table.Row{r.ID, r.Job, r.Trigger, r.Status, humanize.Time(r.StartedAt), took, r.Error})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&job, "job", "", "only this job (deallocate, update-status)")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list (0 for all)")
	return cmd
}

func printJSON(w io.Writer, value any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
