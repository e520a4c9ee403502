/*
stats.go - Key-worker compliance statistics

PURPOSE:
  Read-only reporting over allocations, case-note usage and the daily prison
  snapshots. Nothing here writes, so a StatsEngine can serve concurrent
  callers.

WINDOW:
  Every query resolves optional from/to dates with generic.ResolveWindow. All
  lookups below use the window's exclusive end ("next day").

PER STAFF:
  projected  = round(offenderDaysAllocated / windowDays * floor(windowWeeks / frequency))
  compliance = sessions * 100 / projected, 2 dp half-up, 0 when projected is 0
  No overlapping allocation at all means compliance 100.00.

PER PRISON:
  current / previous summaries come from AggregatedStats over the window and
  the window shifted back one month. A missing aggregate is a nil summary.
  The weekly timeline covers the year before the window's exclusive end.
  Several prisons are computed on a bounded pool (Parallelism); results keep
  the order the ids were given in.

SEE ALSO:
  - generic/period.go: Window arithmetic
  - generic/rate.go: Percentages and rounding
*/
package keyworker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/warp/keyworker-engine/generic"
)

// =============================================================================
// RESULTS
// =============================================================================

// StaffStats is the compliance of one key worker at one prison.
type StaffStats struct {
	StaffID              int64
	PrisonID             string
	Window               generic.Period
	ProjectedSessions    int64
	ComplianceRate       decimal.Decimal
	CaseNoteEntryCount   int64
	CaseNoteSessionCount int64
}

// SummaryStatistic summarises one prison over one window.
type SummaryStatistic struct {
	DataRangeFrom                    generic.TimePoint
	DataRangeTo                      generic.TimePoint
	NumberKeyWorkerSessions          int64
	NumberKeyWorkerEntries           int64
	NumberOfActiveKeyworkers         int64
	TotalNumPrisoners                int64
	NumPrisonersAssignedKeyWorker    int64
	PercentagePrisonersWithKeyworker int64
	NumProjectedKeyworkerSessions    int64
	ComplianceRate                   decimal.Decimal
	AvgDaysReceptionToAllocation     int64
	AvgDaysReceptionToKeyWorkSession int64
}

// WeekBucket is one week of the timeline, keyed by the week's last day.
type WeekBucket struct {
	WeekEnding     generic.TimePoint
	Sessions       int64
	ComplianceRate decimal.Decimal
}

// PrisonStats is the summary and timeline of one prison (or of several
// prisons combined).
type PrisonStats struct {
	PrisonID             string
	Window               generic.Period
	Current              *SummaryStatistic
	Previous             *SummaryStatistic
	Timeline             []WeekBucket
	AvgOverallSessions   int64
	AvgOverallCompliance *decimal.Decimal
}

// PrisonStatsSummary holds every requested prison plus their combination.
type PrisonStatsSummary struct {
	Summary PrisonStats
	Prisons map[string]PrisonStats
}

// =============================================================================
// ENGINE
// =============================================================================

// StatsEngine computes statistics on demand.
type StatsEngine struct {
	Allocations AllocationStore
	CaseNotes   CaseNoteUsageSource
	Snapshots   SnapshotStore
	Prisons     PrisonConfigStore
	Logger      *slog.Logger
	Now         func() time.Time

	// Parallelism bounds how many prisons PrisonStats computes at once.
	// Zero or less means one at a time.
	Parallelism int
}

func (e *StatsEngine) today() generic.TimePoint {
	if e.Now != nil {
		return generic.DateOf(e.Now())
	}
	return generic.Today()
}

func (e *StatsEngine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger.With("component", "stats")
	}
	return slog.Default().With("component", "stats")
}

// Window resolves optional request dates against today. An inverted pair
// of dates is generic.ErrInvalidPeriod.
func (e *StatsEngine) Window(from, to *generic.TimePoint) (generic.Period, error) {
	return generic.ResolveWindow(from, to, e.today())
}

// =============================================================================
// PER STAFF
// =============================================================================

// StaffStats computes the compliance of one key worker at one prison.
func (e *StatsEngine) StaffStats(ctx context.Context, staffID int64, prisonID string, from, to *generic.TimePoint) (StaffStats, error) {
	if prisonID == "" {
		return StaffStats{}, fmt.Errorf("%w: prison id is required", generic.ErrInvalidArgument)
	}
	window, err := e.Window(from, to)
	if err != nil {
		return StaffStats{}, err
	}
	result := StaffStats{StaffID: staffID, PrisonID: prisonID, Window: window}

	all, err := e.Allocations.FindByStaffAndPrison(ctx, staffID, prisonID)
	if err != nil {
		return StaffStats{}, fmt.Errorf("loading allocations: %w", err)
	}

	var overlapping []Allocation
	seen := map[string]bool{}
	var offenders []string
	for _, a := range all {
		if !a.Overlaps(window) {
			continue
		}
		overlapping = append(overlapping, a)
		if !seen[a.OffenderNo] {
			seen[a.OffenderNo] = true
			offenders = append(offenders, a.OffenderNo)
		}
	}

	if len(overlapping) == 0 {
		result.ComplianceRate = generic.Hundred
		return result, nil
	}

	usage, err := e.CaseNotes.CaseNoteUsage(ctx, offenders, CaseNoteType, "", window.Start, window.End)
	if err != nil {
		return StaffStats{}, fmt.Errorf("loading case note usage: %w", err)
	}
	for _, u := range usage {
		switch u.CaseNoteSubType {
		case CaseNoteSessionSubType:
			result.CaseNoteSessionCount += u.NumCaseNotes
		case CaseNoteEntrySubType:
			result.CaseNoteEntryCount += u.NumCaseNotes
		}
	}

	cfg, err := e.Prisons.PrisonConfig(ctx, prisonID)
	if err != nil {
		return StaffStats{}, fmt.Errorf("loading prison config: %w", err)
	}

	var daysAllocated int64
	for _, a := range overlapping {
		daysAllocated += int64(a.DaysAllocated(window))
	}
	multiplier := int64(window.Weeks() / cfg.SessionFrequency())
	avgPrisoners := decimal.NewFromInt(daysAllocated).Div(decimal.NewFromInt(int64(window.Days())))
	result.ProjectedSessions = generic.RoundToInt(avgPrisoners.Mul(decimal.NewFromInt(multiplier)))
	result.ComplianceRate = generic.Percentage(result.CaseNoteSessionCount, result.ProjectedSessions)

	e.logger().Debug("staff stats computed",
		"staffId", staffID, "prisonId", prisonID, "window", window.String(),
		"projected", result.ProjectedSessions, "sessions", result.CaseNoteSessionCount)
	return result, nil
}

// =============================================================================
// PER PRISON
// =============================================================================

// PrisonStats computes statistics for each prison and for all of them
// combined. An empty prisonIDs means every migrated prison.
func (e *StatsEngine) PrisonStats(ctx context.Context, prisonIDs []string, from, to *generic.TimePoint) (PrisonStatsSummary, error) {
	if len(prisonIDs) == 0 {
		migrated, err := e.Prisons.MigratedPrisons(ctx)
		if err != nil {
			return PrisonStatsSummary{}, fmt.Errorf("listing migrated prisons: %w", err)
		}
		for _, p := range migrated {
			prisonIDs = append(prisonIDs, p.PrisonID)
		}
	}

	window, err := e.Window(from, to)
	if err != nil {
		return PrisonStatsSummary{}, err
	}

	var unique []string
	seen := make(map[string]bool, len(prisonIDs))
	for _, id := range prisonIDs {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	workers := e.Parallelism
	if workers < 1 {
		workers = 1
	}
	ordered := make([]PrisonStats, len(unique))
	p := pool.New().WithContext(ctx).WithMaxGoroutines(workers).WithCancelOnError()
	for i, id := range unique {
		p.Go(func(ctx context.Context) error {
			stats, err := e.prisonStats(ctx, id, window)
			if err != nil {
				return err
			}
			ordered[i] = stats
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return PrisonStatsSummary{}, err
	}

	out := PrisonStatsSummary{Prisons: make(map[string]PrisonStats, len(ordered))}
	for _, stats := range ordered {
		out.Prisons[stats.PrisonID] = stats
	}
	out.Summary = combine(window, ordered)
	return out, nil
}

// SinglePrisonStats is PrisonStats for exactly one prison.
func (e *StatsEngine) SinglePrisonStats(ctx context.Context, prisonID string, from, to *generic.TimePoint) (PrisonStats, error) {
	if prisonID == "" {
		return PrisonStats{}, fmt.Errorf("%w: prison id is required", generic.ErrInvalidArgument)
	}
	window, err := e.Window(from, to)
	if err != nil {
		return PrisonStats{}, err
	}
	return e.prisonStats(ctx, prisonID, window)
}

func (e *StatsEngine) prisonStats(ctx context.Context, prisonID string, window generic.Period) (PrisonStats, error) {
	cfg, err := e.Prisons.PrisonConfig(ctx, prisonID)
	if err != nil {
		return PrisonStats{}, fmt.Errorf("loading prison config for %s: %w", prisonID, err)
	}
	frequency := cfg.SessionFrequency()
	nextDay := window.EndExclusive()

	result := PrisonStats{PrisonID: prisonID, Window: window}

	result.Current, err = e.summary(ctx, prisonID, window.Start, nextDay, frequency)
	if err != nil {
		return PrisonStats{}, err
	}
	previous := window.ShiftMonths(-1)
	result.Previous, err = e.summary(ctx, prisonID, previous.Start, previous.EndExclusive(), frequency)
	if err != nil {
		return PrisonStats{}, err
	}

	daily, err := e.Snapshots.DailyStats(ctx, prisonID, nextDay.AddYears(-1), nextDay)
	if err != nil {
		return PrisonStats{}, fmt.Errorf("loading daily stats for %s: %w", prisonID, err)
	}
	result.Timeline = weeklyTimeline(window, daily, frequency)
	result.AvgOverallSessions, result.AvgOverallCompliance = overall(result.Timeline)
	return result, nil
}

// summary returns nil when no snapshot exists in [from, to).
func (e *StatsEngine) summary(ctx context.Context, prisonID string, from, to generic.TimePoint, frequency int) (*SummaryStatistic, error) {
	rows, err := e.Snapshots.AggregatedStats(ctx, prisonID, from, to)
	if err != nil {
		return nil, fmt.Errorf("loading aggregated stats for %s: %w", prisonID, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	agg := rows[0]

	multiplier := int64(generic.WeeksBetween(from, to) / frequency)
	projected := generic.RoundToInt(decimal.NewFromFloat(agg.NumPrisonersAssignedKeyWorker).Mul(decimal.NewFromInt(multiplier)))

	s := &SummaryStatistic{
		DataRangeFrom:                    agg.StartDate,
		DataRangeTo:                      agg.EndDate,
		NumberKeyWorkerSessions:          agg.NumberKeyWorkerSessions,
		NumberKeyWorkerEntries:           agg.NumberKeyWorkerEntries,
		NumberOfActiveKeyworkers:         int64(agg.NumberOfActiveKeyworkers),
		TotalNumPrisoners:                int64(agg.TotalNumPrisoners),
		NumPrisonersAssignedKeyWorker:    int64(agg.NumPrisonersAssignedKeyWorker),
		NumProjectedKeyworkerSessions:    projected,
		ComplianceRate:                   generic.Percentage(agg.NumberKeyWorkerSessions, projected),
		AvgDaysReceptionToAllocation:     int64(agg.AvgDaysReceptionToAllocation),
		AvgDaysReceptionToKeyWorkSession: int64(agg.AvgDaysReceptionToKeyWorkSession),
	}
	if agg.TotalNumPrisoners > 0 {
		s.PercentagePrisonersWithKeyworker = int64(agg.NumPrisonersAssignedKeyWorker * 100 / agg.TotalNumPrisoners)
	}
	return s, nil
}

// weeklyTimeline buckets daily rows into weeks ending on the window end's
// weekday, ordered by week.
func weeklyTimeline(window generic.Period, daily []DailySnapshot, frequency int) []WeekBucket {
	type acc struct {
		sessions int64
		rates    []decimal.Decimal
	}
	buckets := map[generic.TimePoint]*acc{}
	for _, d := range daily {
		week := window.WeekEnding(d.SnapshotDate)
		b, ok := buckets[week]
		if !ok {
			b = &acc{}
			buckets[week] = b
		}
		b.sessions += d.NumberKeyWorkerSessions
		dailyProjected := d.NumPrisonersAssignedKeyWorker / int64(frequency*7)
		b.rates = append(b.rates, generic.Percentage(d.NumberKeyWorkerSessions, dailyProjected))
	}

	timeline := make([]WeekBucket, 0, len(buckets))
	for week, b := range buckets {
		rate, _ := generic.Average(b.rates, 2)
		timeline = append(timeline, WeekBucket{WeekEnding: week, Sessions: b.sessions, ComplianceRate: rate})
	}
	sort.Slice(timeline, func(i, j int) bool {
		return timeline[i].WeekEnding.Before(timeline[j].WeekEnding)
	})
	return timeline
}

// overall returns the floored mean of weekly sessions and the mean weekly
// compliance. Compliance is nil for an empty timeline.
func overall(timeline []WeekBucket) (int64, *decimal.Decimal) {
	if len(timeline) == 0 {
		return 0, nil
	}
	var sessions int64
	rates := make([]decimal.Decimal, 0, len(timeline))
	for _, b := range timeline {
		sessions += b.Sessions
		rates = append(rates, b.ComplianceRate)
	}
	avg, _ := generic.Average(rates, 2)
	return sessions / int64(len(timeline)), &avg
}

// =============================================================================
// COMBINATION
// =============================================================================

// combine merges several prisons into one. Counts and projections are summed
// and the rates recomputed from the sums; the compliance timeline averages the
// prisons' weekly rates.
func combine(window generic.Period, prisons []PrisonStats) PrisonStats {
	out := PrisonStats{Window: window}
	if len(prisons) == 1 {
		out.PrisonID = prisons[0].PrisonID
	}

	var current, previous []*SummaryStatistic
	for _, p := range prisons {
		current = append(current, p.Current)
		previous = append(previous, p.Previous)
	}
	out.Current = combineSummaries(current)
	out.Previous = combineSummaries(previous)

	type acc struct {
		sessions int64
		rates    []decimal.Decimal
	}
	weeks := map[generic.TimePoint]*acc{}
	for _, p := range prisons {
		for _, b := range p.Timeline {
			a, ok := weeks[b.WeekEnding]
			if !ok {
				a = &acc{}
				weeks[b.WeekEnding] = a
			}
			a.sessions += b.Sessions
			a.rates = append(a.rates, b.ComplianceRate)
		}
	}
	for week, a := range weeks {
		rate, _ := generic.Average(a.rates, 2)
		out.Timeline = append(out.Timeline, WeekBucket{WeekEnding: week, Sessions: a.sessions, ComplianceRate: rate})
	}
	sort.Slice(out.Timeline, func(i, j int) bool {
		return out.Timeline[i].WeekEnding.Before(out.Timeline[j].WeekEnding)
	})
	out.AvgOverallSessions, out.AvgOverallCompliance = overall(out.Timeline)
	return out
}

func combineSummaries(summaries []*SummaryStatistic) *SummaryStatistic {
	var (
		out         *SummaryStatistic
		n           int64
		allocDays   int64
		sessionDays int64
	)
	for _, s := range summaries {
		if s == nil {
			continue
		}
		if out == nil {
			out = &SummaryStatistic{DataRangeFrom: s.DataRangeFrom, DataRangeTo: s.DataRangeTo}
		}
		if s.DataRangeFrom.Before(out.DataRangeFrom) {
			out.DataRangeFrom = s.DataRangeFrom
		}
		if s.DataRangeTo.After(out.DataRangeTo) {
			out.DataRangeTo = s.DataRangeTo
		}
		n++
		out.NumberKeyWorkerSessions += s.NumberKeyWorkerSessions
		out.NumberKeyWorkerEntries += s.NumberKeyWorkerEntries
		out.NumberOfActiveKeyworkers += s.NumberOfActiveKeyworkers
		out.TotalNumPrisoners += s.TotalNumPrisoners
		out.NumPrisonersAssignedKeyWorker += s.NumPrisonersAssignedKeyWorker
		out.NumProjectedKeyworkerSessions += s.NumProjectedKeyworkerSessions
		allocDays += s.AvgDaysReceptionToAllocation
		sessionDays += s.AvgDaysReceptionToKeyWorkSession
	}
	if out == nil {
		return nil
	}
	out.AvgDaysReceptionToAllocation = allocDays / n
	out.AvgDaysReceptionToKeyWorkSession = sessionDays / n
	out.ComplianceRate = generic.Percentage(out.NumberKeyWorkerSessions, out.NumProjectedKeyworkerSessions)
	if out.TotalNumPrisoners > 0 {
		out.PercentagePrisonersWithKeyworker = out.NumPrisonersAssignedKeyWorker * 100 / out.TotalNumPrisoners
	}
	return out
}
