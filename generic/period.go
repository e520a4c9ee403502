package generic

import "time"

// =============================================================================
// PERIOD - An inclusive range of calendar days
// =============================================================================

// Period is the reporting window every statistic is computed over.
// Both ends are inclusive: [2024-01-10, 2024-02-10] covers 32 days.
type Period struct {
	Start TimePoint
	End   TimePoint
}

// NewPeriod builds a period, rejecting an end before the start.
func NewPeriod(start, end TimePoint) (Period, error) {
	if end.Before(start) {
		return Period{}, ErrInvalidPeriod
	}
	return Period{Start: start, End: end}, nil
}

// Contains returns true if the day is within [Start, End].
func (p Period) Contains(t TimePoint) bool {
	return t.AfterOrEqual(p.Start) && t.BeforeOrEqual(p.End)
}

// EndExclusive is the first day after the period.
func (p Period) EndExclusive() TimePoint { return p.End.AddDays(1) }

// Days is the number of days covered, counting both ends.
func (p Period) Days() int { return DaysBetween(p.Start, p.EndExclusive()) }

// Weeks is the number of complete weeks covered.
func (p Period) Weeks() int { return WeeksBetween(p.Start, p.EndExclusive()) }

// ShiftMonths moves both boundaries by n calendar months. The exclusive end is
// shifted, not the inclusive one, so month-end windows stay month-end windows.
func (p Period) ShiftMonths(n int) Period {
	return Period{
		Start: p.Start.AddMonths(n),
		End:   p.EndExclusive().AddMonths(n).AddDays(-1),
	}
}

// Overlaps reports whether an interval starting at `from` and ending at `to`
// (nil = still open) touches the period. The interval is treated as starting
// before the day after End and ending on or after the start of Start.
func (p Period) Overlaps(from time.Time, to *time.Time) bool {
	if !from.Before(p.EndExclusive().StartOfDay()) {
		return false
	}
	return to == nil || !to.Before(p.Start.StartOfDay())
}

// OverlapDays counts the days shared by the period and the interval
// [DateOf(from), DateOf(to)), where an open interval runs to the period end.
func (p Period) OverlapDays(from time.Time, to *time.Time) int {
	start := DateOf(from)
	if start.Before(p.Start) {
		start = p.Start
	}
	end := p.EndExclusive()
	if to != nil {
		if d := DateOf(*to); d.Before(end) {
			end = d
		}
	}
	if !start.Before(end) {
		return 0
	}
	return DaysBetween(start, end)
}

// WeekEnding returns the bucket a day falls into when weeks are closed on
// the same weekday as the period's last day.
func (p Period) WeekEnding(day TimePoint) TimePoint {
	return day.NextOnOrAfter(p.End.Weekday())
}

// String returns a string representation of the period.
func (p Period) String() string {
	return "[" + p.Start.String() + ", " + p.End.String() + "]"
}

// =============================================================================
// WINDOW RESOLUTION - Optional from/to dates to a concrete period
// =============================================================================

// ResolveWindow turns optional request dates into a period:
//
//	from + to   -> [from, to]
//	from only   -> [from, from + 1 month]
//	to only     -> [to - 1 month, to]
//	neither     -> [yesterday - 1 month, yesterday]
//
// A to before from is ErrInvalidPeriod.
func ResolveWindow(from, to *TimePoint, today TimePoint) (Period, error) {
	switch {
	case from != nil && to != nil:
		return NewPeriod(*from, *to)
	case from != nil:
		return Period{Start: *from, End: from.AddMonths(1)}, nil
	case to != nil:
		return Period{Start: to.AddMonths(-1), End: *to}, nil
	default:
		end := today.AddDays(-1)
		return Period{Start: end.AddMonths(-1), End: end}, nil
	}
}
