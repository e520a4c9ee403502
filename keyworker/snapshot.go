package keyworker

import "github.com/warp/keyworker-engine/generic"

// =============================================================================
// SNAPSHOT AGGREGATION - Daily rows folded into one window summary
// =============================================================================

// AggregateDaily folds the daily snapshots of prisonID that fall in [from, to)
// into a single AggregatedSnapshot. It returns nil when no row falls in the
// range. Session and entry counts are summed; every other figure is averaged
// over the rows that carry it. StartDate/EndDate are the first and last
// snapshot dates actually present, not the requested bounds.
//
// The SQL store computes the same thing with GROUP BY; this version backs the
// in-memory store.
func AggregateDaily(prisonID string, from, to generic.TimePoint, days []DailySnapshot) []AggregatedSnapshot {
	var (
		agg                   AggregatedSnapshot
		rows                  int
		allocSum, sessionSum  int64
		allocRows, sessRows   int
		active, assigned, all int64
	)

	for _, d := range days {
		if d.PrisonID != prisonID || d.SnapshotDate.Before(from) || !d.SnapshotDate.Before(to) {
			continue
		}
		if rows == 0 || d.SnapshotDate.Before(agg.StartDate) {
			agg.StartDate = d.SnapshotDate
		}
		if rows == 0 || d.SnapshotDate.After(agg.EndDate) {
			agg.EndDate = d.SnapshotDate
		}
		rows++

		agg.NumberKeyWorkerSessions += d.NumberKeyWorkerSessions
		agg.NumberKeyWorkerEntries += d.NumberKeyWorkerEntries
		active += d.NumberOfActiveKeyworkers
		assigned += d.NumPrisonersAssignedKeyWorker
		all += d.TotalNumPrisoners

		if d.AvgDaysReceptionToAllocation != nil {
			allocSum += *d.AvgDaysReceptionToAllocation
			allocRows++
		}
		if d.AvgDaysReceptionToKeyWorkSession != nil {
			sessionSum += *d.AvgDaysReceptionToKeyWorkSession
			sessRows++
		}
	}
	if rows == 0 {
		return nil
	}

	agg.PrisonID = prisonID
	agg.NumberOfActiveKeyworkers = float64(active) / float64(rows)
	agg.NumPrisonersAssignedKeyWorker = float64(assigned) / float64(rows)
	agg.TotalNumPrisoners = float64(all) / float64(rows)
	if allocRows > 0 {
		agg.AvgDaysReceptionToAllocation = float64(allocSum) / float64(allocRows)
	}
	if sessRows > 0 {
		agg.AvgDaysReceptionToKeyWorkSession = float64(sessionSum) / float64(sessRows)
	}
	return []AggregatedSnapshot{agg}
}
