/*
deallocate.go - Nightly release/transfer sweep

PURPOSE:
  Offenders leave prisons (released, transferred) without anybody ending their
  key-worker allocation. This sweep reads upstream movements and deactivates
  the allocations of offenders who have left.

CHECKPOINT PROTOCOL:
  1. Load checkpoint "DeallocateJob". If absent, save one holding the
     configured initial threshold before doing anything else.
  2. previousRunStart = checkpoint; thisRunStart = now (kept in memory).
  3. For d = 0 down to -LookBackDays: fetch movements since previousRunStart
     recorded on today+d. Upstream propagation lags, so recent days are
     re-scanned on every run.
  4. For each movement, each active allocation of the offender:
       destination == allocation prison -> skip
       movement before allocation start -> skip (stale after a failed run)
       otherwise                        -> deallocate (RELEASED or TRANSFER)
  5. Only when every day succeeded: checkpoint = thisRunStart.

FAILURE MODEL:
  Run never panics and never returns a bare error. It returns a
  generic.JobResult: Ok carries a DeallocationSummary, Failed carries the
  error. The checkpoint is untouched on failure, so the next run re-scans the
  same window. Re-processing is a no-op because deallocated allocations are
  no longer active.

RETRY:
  Each day's fetch is retried on generic.ErrGatewayUnavailable up to
  MaxAttempts, pausing Backoff in between. The pause honours ctx.

SEE ALSO:
  - generic/retry.go: Retry loop
  - generic/result.go: JobResult
  - api/scheduler.go: Runs the sweep and reports failures
*/
package keyworker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/warp/keyworker-engine/generic"
)

// DeallocationConfig tunes the sweep.
type DeallocationConfig struct {
	LookBackDays     int
	MaxAttempts      int
	Backoff          time.Duration
	InitialThreshold time.Time
}

// DefaultDeallocationConfig mirrors the production defaults.
func DefaultDeallocationConfig() DeallocationConfig {
	return DeallocationConfig{
		LookBackDays:     3,
		MaxAttempts:      2,
		Backoff:          5 * time.Second,
		InitialThreshold: time.Date(2018, time.April, 1, 0, 0, 0, 0, time.UTC),
	}
}

// DayResult is what the sweep found on one day offset.
type DayResult struct {
	DayNumber      int               `json:"dayNumber"`
	Date           generic.TimePoint `json:"date"`
	PrisonersFound int               `json:"prisonersFound"`
	QueryTime      time.Duration     `json:"queryTimeNs"`
}

// DeallocationSummary describes a completed sweep.
type DeallocationSummary struct {
	PreviousRunStart time.Time   `json:"previousRunStart"`
	ThisRunStart     time.Time   `json:"thisRunStart"`
	Days             []DayResult `json:"days"`
	Deallocated      int         `json:"deallocated"`
	Skipped          int         `json:"skipped"`
}

// DeallocationEngine runs the sweep. Collaborators are required; Logger, Sink,
// Now and Sleep have defaults.
type DeallocationEngine struct {
	Movements   MovementSource
	Allocations AllocationStore
	Checkpoints CheckpointStore
	Sink        EventSink
	Config      DeallocationConfig
	Logger      *slog.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Run executes one sweep. The checkpoint only advances on the Ok path.
func (e *DeallocationEngine) Run(ctx context.Context) generic.JobResult[DeallocationSummary] {
	return generic.RunJob(func() (DeallocationSummary, error) {
		return e.sweep(ctx)
	})
}

func (e *DeallocationEngine) sweep(ctx context.Context) (DeallocationSummary, error) {
	logger := e.logger()
	sink := e.sink()

	cp, err := e.loadCheckpoint(ctx)
	if err != nil {
		return DeallocationSummary{}, err
	}

	summary := DeallocationSummary{
		PreviousRunStart: cp.LastRun,
		ThisRunStart:     e.now(),
	}
	today := generic.DateOf(summary.ThisRunStart)

	sink.Event(ctx, EventDeallocationCheck, map[string]string{
		"date":             today.String(),
		"previousJobStart": cp.LastRun.Format(time.RFC3339),
	})
	logger.Info("deallocation sweep started",
		"date", today.String(), "previousJobStart", cp.LastRun)

	for d := 0; d >= -e.Config.LookBackDays; d-- {
		day := today.AddDays(d)

		started := time.Now()
		movements, err := generic.Retry(ctx, e.retryPolicy(ctx, day), func(ctx context.Context) ([]MovementRecord, error) {
			return e.Movements.Movements(ctx, cp.LastRun, day)
		})
		if err != nil {
			return summary, fmt.Errorf("fetching movements for %s: %w", day, err)
		}
		elapsed := time.Since(started)

		summary.Days = append(summary.Days, DayResult{
			DayNumber:      d,
			Date:           day,
			PrisonersFound: len(movements),
			QueryTime:      elapsed,
		})
		sink.Event(ctx, EventDeallocationCheckStep, map[string]string{
			"dayNumber":      strconv.Itoa(d),
			"prisonersFound": strconv.Itoa(len(movements)),
			"queryMs":        strconv.FormatInt(elapsed.Milliseconds(), 10),
		})

		// Ascending timestamp order makes the outcome independent of the
		// upstream ordering when one offender has several movements.
		sort.SliceStable(movements, func(i, j int) bool {
			return movements[i].CreatedAt.Before(movements[j].CreatedAt)
		})

		for _, m := range movements {
			deallocated, skipped, err := e.apply(ctx, m)
			if err != nil {
				return summary, err
			}
			summary.Deallocated += deallocated
			summary.Skipped += skipped
		}
	}

	cp.LastRun = summary.ThisRunStart
	if err := e.Checkpoints.SaveCheckpoint(ctx, *cp); err != nil {
		return summary, fmt.Errorf("saving checkpoint: %w", err)
	}

	logger.Info("deallocation sweep completed",
		"deallocated", summary.Deallocated, "skipped", summary.Skipped)
	return summary, nil
}

// loadCheckpoint returns the stored checkpoint, creating it from the initial
// threshold on the first ever run.
func (e *DeallocationEngine) loadCheckpoint(ctx context.Context) (*Checkpoint, error) {
	cp, err := e.Checkpoints.FindCheckpoint(ctx, DeallocateJobName)
	if err != nil {
		return nil, fmt.Errorf("loading checkpoint: %w", err)
	}
	if cp != nil {
		return cp, nil
	}

	cp = &Checkpoint{JobName: DeallocateJobName, LastRun: e.Config.InitialThreshold}
	if err := e.Checkpoints.SaveCheckpoint(ctx, *cp); err != nil {
		return nil, fmt.Errorf("creating checkpoint: %w", err)
	}
	e.logger().Info("checkpoint created", "job", DeallocateJobName, "threshold", cp.LastRun)
	return cp, nil
}

// apply ends the offender's active allocations that the movement invalidates.
func (e *DeallocationEngine) apply(ctx context.Context, m MovementRecord) (deallocated, skipped int, err error) {
	active, err := e.Allocations.FindActiveByOffender(ctx, m.OffenderNo)
	if err != nil {
		return 0, 0, fmt.Errorf("finding allocations of %s: %w", m.OffenderNo, err)
	}

	for _, a := range active {
		if m.ToAgency == a.PrisonID {
			e.logger().Warn("movement destination is the allocation's prison, not deallocating",
				"offenderNo", m.OffenderNo, "prisonId", a.PrisonID, "movementType", m.MovementType)
			skipped++
			continue
		}
		if m.CreatedAt.Before(a.AssignedAt) {
			e.logger().Warn("movement predates the allocation, not deallocating",
				"offenderNo", m.OffenderNo, "prisonId", a.PrisonID,
				"movementAt", m.CreatedAt, "assignedAt", a.AssignedAt)
			skipped++
			continue
		}

		a.Deallocate(m.CreatedAt, m.DeallocationReason())
		if _, err := e.Allocations.SaveAllocation(ctx, a); err != nil {
			return deallocated, skipped, fmt.Errorf("deallocating %s: %w", m.OffenderNo, err)
		}
		e.logger().Info("offender deallocated",
			"offenderNo", m.OffenderNo, "staffId", a.StaffID, "prisonId", a.PrisonID,
			"reason", a.DeallocationReason)
		deallocated++
	}
	return deallocated, skipped, nil
}

func (e *DeallocationEngine) retryPolicy(ctx context.Context, day generic.TimePoint) generic.RetryPolicy {
	return generic.RetryPolicy{
		MaxAttempts: e.Config.MaxAttempts,
		Backoff:     e.Config.Backoff,
		Sleep:       e.Sleep,
		OnRetry: func(attempt int, err error) {
			e.logger().Warn("movement fetch failed, retrying",
				"date", day.String(), "attempt", attempt, "backoff", e.Config.Backoff, "error", err)
			e.sink().Event(ctx, EventDeallocationRetry, map[string]string{
				"date":    day.String(),
				"attempt": strconv.Itoa(attempt),
				"error":   err.Error(),
			})
		},
	}
}

func (e *DeallocationEngine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *DeallocationEngine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger.With("component", "deallocation")
	}
	return slog.Default().With("component", "deallocation")
}

func (e *DeallocationEngine) sink() EventSink {
	if e.Sink != nil {
		return e.Sink
	}
	return NopSink{}
}
