package keyworker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/keyworker-engine/generic"
	"github.com/warp/keyworker-engine/keyworker"
	"github.com/warp/keyworker-engine/keyworker/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	sweepNow  = time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)
	threshold = time.Date(2018, time.April, 1, 0, 0, 0, 0, time.UTC)
)

type recordedEvent struct {
	Name  string
	Attrs map[string]string
}

// recordingSink keeps every event and failure it receives.
type recordingSink struct {
	mu       sync.Mutex
	events   []recordedEvent
	failures []error
}

func (s *recordingSink) Event(_ context.Context, name string, attrs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, recordedEvent{Name: name, Attrs: attrs})
}

func (s *recordingSink) Failure(_ context.Context, err error, _ map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, err)
}

func (s *recordingSink) named(name string) []recordedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []recordedEvent
	for _, e := range s.events {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// flakySource fails the first `failures` calls with err, then delegates.
type flakySource struct {
	inner    keyworker.MovementSource
	failures int
	err      error
	calls    int
	since    []time.Time
}

func (f *flakySource) Movements(ctx context.Context, since time.Time, on generic.TimePoint) ([]keyworker.MovementRecord, error) {
	f.calls++
	f.since = append(f.since, since)
	if f.failures < 0 || f.calls <= f.failures {
		return nil, f.err
	}
	return f.inner.Movements(ctx, since, on)
}

type panickingSource struct{}

func (panickingSource) Movements(context.Context, time.Time, generic.TimePoint) ([]keyworker.MovementRecord, error) {
	panic("upstream decoder blew up")
}

type sweepFixture struct {
	store     *store.Memory
	movements *store.Movements
	sink      *recordingSink
	pauses    int
	engine    *keyworker.DeallocationEngine
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	f := &sweepFixture{
		store:     store.NewMemory(),
		movements: &store.Movements{},
		sink:      &recordingSink{},
	}
	f.engine = &keyworker.DeallocationEngine{
		Movements:   f.movements,
		Allocations: f.store,
		Checkpoints: f.store,
		Sink:        f.sink,
		Config:      keyworker.DeallocationConfig{
			LookBackDays:     3,
			MaxAttempts:      2,
			Backoff:          5 * time.Second,
			InitialThreshold: threshold,
		},
		Now:   func() time.Time { return sweepNow },
		Sleep: func(ctx context.Context, d time.Duration) error {
			f.pauses++
			return ctx.Err()
		},
	}
	return f
}

func (f *sweepFixture) allocate(t *testing.T, offenderNo, prisonID string) int64 {
	t.Helper()
	id, err := f.store.SaveAllocation(context.Background(), keyworker.Allocation{
		OffenderNo: offenderNo,
		StaffID:    1001,
		PrisonID:   prisonID,
		AssignedAt: time.Date(2024, time.January, 2, 9, 0, 0, 0, time.UTC),
		Active:     true,
		Type:       keyworker.AllocationManual,
		Reason:     keyworker.AllocationReasonManual,
	})
	require.NoError(t, err)
	return id
}

func movement(offenderNo, movementType, from, to string, at time.Time) keyworker.MovementRecord {
	return keyworker.MovementRecord{
		OffenderNo:   offenderNo,
		MovementType: movementType,
		FromAgency:   from,
		ToAgency:     to,
		Direction:    "OUT",
		CreatedAt:    at,
	}
}

// =============================================================================
// DEALLOCATION
// =============================================================================

func TestDeallocation_Release_DeallocatesWithReasonReleased(t *testing.T) {
	// GIVEN: An offender allocated at MDI who was released this morning
	// WHEN: The sweep runs
	// THEN: The allocation is inactive, expires at the movement time, reason RELEASED

	f := newSweepFixture(t)
	id := f.allocate(t, "A1234AA", "MDI")
	releasedAt := time.Date(2024, time.March, 15, 8, 30, 0, 0, time.UTC)
	f.movements.Add(movement("A1234AA", keyworker.MovementRelease, "MDI", "OUT", releasedAt))

	result := f.engine.Run(context.Background())
	require.True(t, result.IsOk(), "sweep failed: %v", result.Err)
	assert.Equal(t, 1, result.Value.Deallocated)

	a, ok := f.store.Allocation(id)
	require.True(t, ok)
	assert.False(t, a.Active)
	require.NotNil(t, a.ExpiresAt)
	assert.Equal(t, releasedAt, *a.ExpiresAt)
	assert.Equal(t, keyworker.DeallocationReleased, a.DeallocationReason)
}

func TestDeallocation_Transfer_DeallocatesWithReasonTransfer(t *testing.T) {
	// GIVEN: An offender transferred from MDI to LEI two days ago
	// WHEN: The sweep runs (within the look-back window)
	// THEN: The allocation ends with reason TRANSFER

	f := newSweepFixture(t)
	id := f.allocate(t, "A1234AB", "MDI")
	f.movements.Add(movement("A1234AB", keyworker.MovementTransfer, "MDI", "LEI", sweepNow.AddDate(0, 0, -2)))

	result := f.engine.Run(context.Background())
	require.True(t, result.IsOk())

	a, _ := f.store.Allocation(id)
	assert.False(t, a.Active)
	assert.Equal(t, keyworker.DeallocationTransfer, a.DeallocationReason)
}

func TestDeallocation_AnyNonReleaseType_IsTransfer(t *testing.T) {
	for _, movementType := range []string{keyworker.MovementTransfer, keyworker.MovementAdmission, "CRT", "TAP"} {
		t.Run(movementType, func(t *testing.T) {
			m := movement("A1", movementType, "MDI", "LEI", sweepNow)
			assert.Equal(t, keyworker.DeallocationTransfer, m.DeallocationReason())
		})
	}
	assert.Equal(t, keyworker.DeallocationReleased, movement("A1", "REL", "MDI", "OUT", sweepNow).DeallocationReason())
}

func TestDeallocation_DestinationIsCurrentPrison_NoOp(t *testing.T) {
	// GIVEN: A movement whose destination is the allocation's own prison
	// WHEN: The sweep runs
	// THEN: The allocation stays active and the movement counts as skipped

	f := newSweepFixture(t)
	id := f.allocate(t, "A1234AC", "MDI")
	f.movements.Add(movement("A1234AC", keyworker.MovementAdmission, "LEI", "MDI", sweepNow.Add(-time.Hour)))

	result := f.engine.Run(context.Background())
	require.True(t, result.IsOk())
	assert.Equal(t, 0, result.Value.Deallocated)
	assert.Equal(t, 1, result.Value.Skipped)

	a, _ := f.store.Allocation(id)
	assert.True(t, a.Active)
	assert.Nil(t, a.ExpiresAt)
	assert.Equal(t, keyworker.DeallocationNone, a.DeallocationReason)
}

func TestDeallocation_MovementsOutsideLookBack_Ignored(t *testing.T) {
	f := newSweepFixture(t)
	id := f.allocate(t, "A1234AD", "MDI")
	f.movements.Add(movement("A1234AD", keyworker.MovementRelease, "MDI", "OUT", sweepNow.AddDate(0, 0, -4)))

	result := f.engine.Run(context.Background())
	require.True(t, result.IsOk())

	a, _ := f.store.Allocation(id)
	assert.True(t, a.Active, "day -4 is outside a 3 day look-back")
}

func TestDeallocation_MultipleMovements_ProcessedInTimestampOrder(t *testing.T) {
	// GIVEN: Upstream returns a later release before an earlier transfer
	// WHEN: The sweep runs
	// THEN: The earlier movement is applied first, so the allocation ends as TRANSFER

	f := newSweepFixture(t)
	id := f.allocate(t, "A1234AE", "MDI")
	f.movements.Add(
		movement("A1234AE", keyworker.MovementRelease, "LEI", "OUT", sweepNow.Add(-1*time.Hour)),
		movement("A1234AE", keyworker.MovementTransfer, "MDI", "LEI", sweepNow.Add(-3*time.Hour)),
	)

	result := f.engine.Run(context.Background())
	require.True(t, result.IsOk())
	assert.Equal(t, 1, result.Value.Deallocated, "second movement finds no active allocation")

	a, _ := f.store.Allocation(id)
	assert.Equal(t, keyworker.DeallocationTransfer, a.DeallocationReason)
}

// =============================================================================
// CHECKPOINT
// =============================================================================

func TestDeallocation_Bootstrap_UsesInitialThreshold(t *testing.T) {
	// GIVEN: No checkpoint has ever been written
	// WHEN: The sweep runs
	// THEN: Movements are queried since the configured threshold and the
	//       checkpoint ends at this run's start

	f := newSweepFixture(t)
	source := &flakySource{inner: f.movements}
	f.engine.Movements = source

	result := f.engine.Run(context.Background())
	require.True(t, result.IsOk())
	assert.Equal(t, threshold, result.Value.PreviousRunStart)
	for _, since := range source.since {
		assert.Equal(t, threshold, since)
	}

	cp, err := f.store.FindCheckpoint(context.Background(), keyworker.DeallocateJobName)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, sweepNow, cp.LastRun)
}

func TestDeallocation_Bootstrap_PersistedEvenWhenSweepFails(t *testing.T) {
	f := newSweepFixture(t)
	f.engine.Movements = &flakySource{failures: -1, err: errors.New("bad request")}

	result := f.engine.Run(context.Background())
	require.True(t, result.IsFailed())

	cp, err := f.store.FindCheckpoint(context.Background(), keyworker.DeallocateJobName)
	require.NoError(t, err)
	require.NotNil(t, cp, "bootstrap checkpoint must exist before the sweep")
	assert.Equal(t, threshold, cp.LastRun)
}

func TestDeallocation_RunTwice_Idempotent(t *testing.T) {
	// GIVEN: A sweep has already deallocated a released offender
	// WHEN: The sweep runs again with no new movements
	// THEN: Allocation state is unchanged; only the checkpoint advances

	f := newSweepFixture(t)
	id := f.allocate(t, "A1234AF", "MDI")
	other := f.allocate(t, "A1234AG", "MDI")
	f.movements.Add(movement("A1234AF", keyworker.MovementRelease, "MDI", "OUT", sweepNow.Add(-2*time.Hour)))

	require.True(t, f.engine.Run(context.Background()).IsOk())
	first, _ := f.store.Allocation(id)
	untouched, _ := f.store.Allocation(other)

	later := sweepNow.Add(24 * time.Hour)
	f.engine.Now = func() time.Time { return later }
	result := f.engine.Run(context.Background())
	require.True(t, result.IsOk())
	assert.Equal(t, sweepNow, result.Value.PreviousRunStart)
	assert.Equal(t, 0, result.Value.Deallocated)

	second, _ := f.store.Allocation(id)
	stillUntouched, _ := f.store.Allocation(other)
	assert.Equal(t, first, second)
	assert.Equal(t, untouched, stillUntouched)

	cp, _ := f.store.FindCheckpoint(context.Background(), keyworker.DeallocateJobName)
	assert.Equal(t, later, cp.LastRun)
}

func TestDeallocation_MovementBeforeAllocation_Skipped(t *testing.T) {
	// GIVEN: A release at 05:00 that a failed run never applied, and a new
	//   allocation made at 08:00 after the offender came back
	// WHEN: The re-scan sees the old release
	// THEN: The newer allocation stays active and the movement counts as skipped

	f := newSweepFixture(t)
	assigned := sweepNow.Add(-2 * time.Hour)
	id, err := f.store.SaveAllocation(context.Background(), keyworker.Allocation{
		OffenderNo: "A1234AZ",
		StaffID:    1001,
		PrisonID:   "MDI",
		AssignedAt: assigned,
		Active:     true,
		Type:       keyworker.AllocationManual,
		Reason:     keyworker.AllocationReasonManual,
	})
	require.NoError(t, err)
	f.movements.Add(movement("A1234AZ", keyworker.MovementRelease, "MDI", "OUT", sweepNow.Add(-5*time.Hour)))

	result := f.engine.Run(context.Background())
	require.True(t, result.IsOk(), "sweep failed: %v", result.Err)
	assert.Equal(t, 0, result.Value.Deallocated)
	assert.Equal(t, 1, result.Value.Skipped)

	a, _ := f.store.Allocation(id)
	assert.True(t, a.Active)
	assert.Nil(t, a.ExpiresAt)
}

// =============================================================================
// RETRY AND FAILURE
// =============================================================================

func TestDeallocation_TransientFailure_RetriedThenSucceeds(t *testing.T) {
	// GIVEN: The first two fetches fail with a gateway error, MaxAttempts = 3
	// WHEN: The sweep runs
	// THEN: The fetch is retried, two backoff pauses are taken, the job succeeds

	f := newSweepFixture(t)
	id := f.allocate(t, "A1234AH", "MDI")
	f.movements.Add(movement("A1234AH", keyworker.MovementRelease, "MDI", "OUT", sweepNow.Add(-time.Hour)))
	source := &flakySource{inner: f.movements, failures: 2, err: generic.ErrGatewayUnavailable}
	f.engine.Movements = source
	f.engine.Config.MaxAttempts = 3

	result := f.engine.Run(context.Background())
	require.True(t, result.IsOk(), "sweep failed: %v", result.Err)

	// 3 attempts on day 0 (2 failures + success), then one call per other day
	assert.Equal(t, 2, f.pauses, "pauses = attempts needed - 1")
	assert.Equal(t, 3+3, source.calls)
	assert.Len(t, f.sink.named(keyworker.EventDeallocationRetry), 2)

	a, _ := f.store.Allocation(id)
	assert.False(t, a.Active)
}

func TestDeallocation_TransientFailure_ExhaustsRetries(t *testing.T) {
	// GIVEN: The upstream gateway is down for good, MaxAttempts = 2
	// WHEN: The sweep runs
	// THEN: The job fails with the gateway error, nothing is deallocated and
	//       the checkpoint stays where it was

	f := newSweepFixture(t)
	id := f.allocate(t, "A1234AI", "MDI")
	f.movements.Add(movement("A1234AI", keyworker.MovementRelease, "MDI", "OUT", sweepNow.Add(-time.Hour)))
	before := time.Date(2024, time.March, 14, 2, 0, 0, 0, time.UTC)
	require.NoError(t, f.store.SaveCheckpoint(context.Background(), keyworker.Checkpoint{JobName: keyworker.DeallocateJobName, LastRun: before}))

	source := &flakySource{inner: f.movements, failures: -1, err: fmt.Errorf("prison api: %w", generic.ErrGatewayUnavailable)}
	f.engine.Movements = source

	result := f.engine.Run(context.Background())
	require.True(t, result.IsFailed())
	assert.ErrorIs(t, result.Err, generic.ErrGatewayUnavailable)
	assert.Equal(t, 2, source.calls)
	assert.Equal(t, 1, f.pauses)

	a, _ := f.store.Allocation(id)
	assert.True(t, a.Active)

	cp, _ := f.store.FindCheckpoint(context.Background(), keyworker.DeallocateJobName)
	assert.Equal(t, before, cp.LastRun)
}

func TestDeallocation_PermanentFailure_NotRetried(t *testing.T) {
	f := newSweepFixture(t)
	source := &flakySource{failures: -1, err: errors.New("400 bad request")}
	f.engine.Movements = source

	result := f.engine.Run(context.Background())
	require.True(t, result.IsFailed())
	assert.Equal(t, 1, source.calls)
	assert.Equal(t, 0, f.pauses)
}

func TestDeallocation_Panic_BecomesFailedResult(t *testing.T) {
	f := newSweepFixture(t)
	f.engine.Movements = panickingSource{}

	var result generic.JobResult[keyworker.DeallocationSummary]
	require.NotPanics(t, func() { result = f.engine.Run(context.Background()) })
	require.True(t, result.IsFailed())
	assert.Contains(t, result.Err.Error(), "upstream decoder blew up")

	cp, _ := f.store.FindCheckpoint(context.Background(), keyworker.DeallocateJobName)
	assert.Equal(t, threshold, cp.LastRun)
}

func TestDeallocation_CancelledDuringBackoff_Aborts(t *testing.T) {
	f := newSweepFixture(t)
	f.engine.Movements = &flakySource{failures: -1, err: generic.ErrGatewayUnavailable}
	f.engine.Config.Backoff = time.Hour
	f.engine.Sleep = nil

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	started := time.Now()
	result := f.engine.Run(ctx)
	require.True(t, result.IsFailed())
	assert.ErrorIs(t, result.Err, context.Canceled)
	assert.Less(t, time.Since(started), 10*time.Second)
}

func TestDeallocation_ReportFailure_OnlyForFailedResults(t *testing.T) {
	f := newSweepFixture(t)
	f.engine.Movements = &flakySource{failures: -1, err: errors.New("boom")}

	failed := f.engine.Run(context.Background())
	keyworker.ReportFailure(context.Background(), f.sink, keyworker.DeallocateJobName, failed)

	f.engine.Movements = f.movements
	ok := f.engine.Run(context.Background())
	keyworker.ReportFailure(context.Background(), f.sink, keyworker.DeallocateJobName, ok)

	require.Len(t, f.sink.failures, 1)
	assert.Contains(t, f.sink.failures[0].Error(), "boom")
}

// =============================================================================
// EVENTS
// =============================================================================

func TestDeallocation_EmitsCheckAndStepEvents(t *testing.T) {
	f := newSweepFixture(t)
	f.allocate(t, "A1234AJ", "MDI")
	f.movements.Add(movement("A1234AJ", keyworker.MovementRelease, "MDI", "OUT", sweepNow.AddDate(0, 0, -1)))

	require.True(t, f.engine.Run(context.Background()).IsOk())

	checks := f.sink.named(keyworker.EventDeallocationCheck)
	require.Len(t, checks, 1)
	assert.Equal(t, "2024-03-15", checks[0].Attrs["date"])
	assert.Equal(t, threshold.Format(time.RFC3339), checks[0].Attrs["previousJobStart"])

	steps := f.sink.named(keyworker.EventDeallocationCheckStep)
	require.Len(t, steps, 4, "today plus three days back")
	assert.Equal(t, "0", steps[0].Attrs["dayNumber"])
	assert.Equal(t, "0", steps[0].Attrs["prisonersFound"])
	assert.Equal(t, "-1", steps[1].Attrs["dayNumber"])
	assert.Equal(t, "1", steps[1].Attrs["prisonersFound"])
	assert.Contains(t, steps[1].Attrs, "queryMs")
}
