package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/warp/keyworker-engine/api"
	"github.com/warp/keyworker-engine/generic"
	"github.com/warp/keyworker-engine/keyworker"
)

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "stats", Short: "Compliance statistics"}
	cmd.PersistentFlags().String("from", "", "window start (YYYY-MM-DD)")
	cmd.PersistentFlags().String("to", "", "window end (YYYY-MM-DD)")
	cmd.AddCommand(statsStaffCmd())
	cmd.AddCommand(statsPrisonCmd())
	return cmd
}

func statsStaffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "staff <staffId> <prisonId>",
		Short: "One key worker's sessions and compliance at one prison",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			staffID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("staff id %q: %w", args[0], generic.ErrInvalidArgument)
			}
			from, to, err := windowFlags(cmd)
			if err != nil {
				return err
			}
			return withStats(cmd, func(e *keyworker.StatsEngine) error {
				s, err := e.StaffStats(cmd.Context(), staffID, args[1], from, to)
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), api.NewStaffStatsDTO(s))
				}

				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.SetTitle(fmt.Sprintf("Staff %d at %s, %s", s.StaffID, s.PrisonID, s.Window))
				tw.AppendHeader(table.Row{"Projected", "Sessions", "Entries", "Compliance %"})
				tw.AppendRow(table.Row{s.ProjectedSessions, s.CaseNoteSessionCount, s.CaseNoteEntryCount, s.ComplianceRate.StringFixed(2)})
				tw.Render()
				return nil
			})
		},
	}
}

func statsPrisonCmd() *cobra.Command {
	var timeline bool
	cmd := &cobra.Command{
		Use:   "prison [prisonId...]",
		Short: "Prison summaries; every migrated prison when none is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			from, to, err := windowFlags(cmd)
			if err != nil {
				return err
			}
			return withStats(cmd, func(e *keyworker.StatsEngine) error {
				out, err := e.PrisonStats(cmd.Context(), args, from, to)
				if err != nil {
					return err
				}
				if v.GetBool("json") {
					return printJSON(cmd.OutOrStdout(), api.NewPrisonStatsResponse(out))
				}

				renderSummaries(cmd.OutOrStdout(), out)
				if timeline {
					renderTimeline(cmd.OutOrStdout(), out.Summary)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&timeline, "timeline", false, "also print the combined weekly timeline")
	return cmd
}

func renderSummaries(w io.Writer, out keyworker.PrisonStatsSummary) {
	ids := make([]string, 0, len(out.Prisons))
	for id := range out.Prisons {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("Key-worker compliance, " + out.Summary.Window.String())
	tw.AppendHeader(table.Row{"Prison", "Sessions", "Projected", "Compliance %", "Previous %", "With KW %", "Avg weekly sessions"})
	for _, id := range ids {
		tw.AppendRow(summaryRow(id, out.Prisons[id]))
	}
	if len(ids) > 1 {
		tw.AppendSeparator()
		tw.AppendFooter(summaryRow("ALL", out.Summary))
	}
	tw.Render()
}

func summaryRow(label string, p keyworker.PrisonStats) table.Row {
	row := table.Row{label, "-", "-", "-", "-", "-", p.AvgOverallSessions}
	if c := p.Current; c != nil {
		row[1] = c.NumberKeyWorkerSessions
		row[2] = c.NumProjectedKeyworkerSessions
		row[3] = c.ComplianceRate.StringFixed(2)
		row[5] = c.PercentagePrisonersWithKeyworker
	}
	if prev := p.Previous; prev != nil {
		row[4] = prev.ComplianceRate.StringFixed(2)
	}
	return row
}

func renderTimeline(w io.Writer, p keyworker.PrisonStats) {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle("Weekly timeline")
	tw.AppendHeader(table.Row{"Week ending", "Sessions", "Compliance %"})
	for _, b := range p.Timeline {
		tw.AppendRow(table.Row{b.WeekEnding.String(), b.Sessions, b.ComplianceRate.StringFixed(2)})
	}
	if p.AvgOverallCompliance != nil {
		tw.AppendFooter(table.Row{"average", p.AvgOverallSessions, p.AvgOverallCompliance.StringFixed(2)})
	}
	tw.Render()
}

func windowFlags(cmd *cobra.Command) (from, to *generic.TimePoint, err error) {
	fromS, _ := cmd.Flags().GetString("from")
	toS, _ := cmd.Flags().GetString("to")
	if from, err = generic.ParseOptionalDate(fromS); err != nil {
		return nil, nil, err
	}
	if to, err = generic.ParseOptionalDate(toS); err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func withStats(cmd *cobra.Command, fn func(*keyworker.StatsEngine) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a.stats)
}
