/*
store.go - Collaborator interfaces of the key-worker engines

PURPOSE:
  The engines never talk to a database or an HTTP API directly. They depend
  on these narrow interfaces, which store/sqlite, keyworker/store (memory)
  and prisonapi implement.

KEY INTERFACES:
  AllocationStore:     Offender <-> key worker assignments
  KeyWorkerStore:      Key worker availability
  CheckpointStore:     One row per batch job (BatchHistory)
  SnapshotStore:       Daily pre-computed prison statistics
  PrisonConfigStore:   Per-prison session frequency, migrated flag
  MovementSource:      Upstream releases/transfers (may fail transiently)
  CaseNoteUsageSource: Upstream case-note counts
  EventSink:           Observability events and failures

SEE ALSO:
  - store/sqlite/sqlite.go: Production implementation
  - keyworker/store/memory.go: In-memory implementation for tests
  - prisonapi/client.go: Upstream HTTP implementation
*/
package keyworker

import (
	"context"
	"time"

	"github.com/warp/keyworker-engine/generic"
)

// =============================================================================
// PERSISTENT STORES
// =============================================================================

// AllocationStore persists allocations. There is no delete.
type AllocationStore interface {
	// FindActiveByOffender returns the offender's active allocations. There
	// should be at most one; callers must tolerate more.
	FindActiveByOffender(ctx context.Context, offenderNo string) ([]Allocation, error)

	// FindByStaffAndPrison returns every allocation, active or not, held by
	// a key worker at a prison.
	FindByStaffAndPrison(ctx context.Context, staffID int64, prisonID string) ([]Allocation, error)

	// SaveAllocation inserts (ID == 0) or updates an allocation and returns
	// its ID.
	SaveAllocation(ctx context.Context, a Allocation) (int64, error)
}

// KeyWorkerStore persists key workers.
type KeyWorkerStore interface {
	// FindReturningFromLeave returns key workers in the status whose return
	// date is on or before the given day.
	FindReturningFromLeave(ctx context.Context, status Status, onOrBefore generic.TimePoint) ([]KeyWorker, error)

	SaveKeyWorker(ctx context.Context, kw KeyWorker) error
}

// CheckpointStore persists one checkpoint per job name.
type CheckpointStore interface {
	// FindCheckpoint returns nil, nil when the job has never run.
	FindCheckpoint(ctx context.Context, jobName string) (*Checkpoint, error)

	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
}

// SnapshotStore reads pre-computed prison statistics. Both methods take a
// half-open day range [from, to).
type SnapshotStore interface {
	// AggregatedStats returns zero or one aggregate over the range. Zero
	// means no daily data exists, which is not the same as zero activity.
	AggregatedStats(ctx context.Context, prisonID string, from, to generic.TimePoint) ([]AggregatedSnapshot, error)

	// DailyStats returns the daily rows ordered by date.
	DailyStats(ctx context.Context, prisonID string, from, to generic.TimePoint) ([]DailySnapshot, error)
}

// PrisonConfigStore reads per-prison configuration.
type PrisonConfigStore interface {
	// PrisonConfig returns the prison's configuration, or a default
	// configuration when the prison is unknown.
	PrisonConfig(ctx context.Context, prisonID string) (PrisonConfig, error)

	// MigratedPrisons lists prisons whose key-worker data is live.
	MigratedPrisons(ctx context.Context) ([]PrisonConfig, error)
}

// =============================================================================
// UPSTREAM SOURCES
// =============================================================================

// MovementSource lists offender movements. Transient failures satisfy
// generic.IsTransient; anything else is permanent.
type MovementSource interface {
	// Movements returns movements created at or after `since` that were
	// recorded on day `on`.
	Movements(ctx context.Context, since time.Time, on generic.TimePoint) ([]MovementRecord, error)
}

// CaseNoteUsageSource counts case notes per offender and subtype over an
// inclusive day range. An empty subType means every subtype.
type CaseNoteUsageSource interface {
	CaseNoteUsage(ctx context.Context, offenderNos []string, caseNoteType, subType string, from, to generic.TimePoint) ([]UsageCount, error)
}

// =============================================================================
// OBSERVABILITY
// =============================================================================

// EventSink receives structured events and failures.
type EventSink interface {
	Event(ctx context.Context, name string, attrs map[string]string)
	Failure(ctx context.Context, err error, attrs map[string]string)
}

// Event names emitted by the batch jobs.
const (
	EventDeallocationCheck     = "deallocationCheck"
	EventDeallocationCheckStep = "deallocationCheckStep"
	EventDeallocationRetry     = "deallocationRetry"
	EventUpdateStatus          = "updateStatus"
)

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Event(context.Context, string, map[string]string)  {}
func (NopSink) Failure(context.Context, error, map[string]string) {}

// ReportFailure hands a failed job result to the sink. Successful results are
// left alone.
func ReportFailure[T any](ctx context.Context, sink EventSink, job string, result generic.JobResult[T]) {
	if sink == nil || result.IsOk() {
		return
	}
	sink.Failure(ctx, result.Err, map[string]string{"job": job})
}
