package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/keyworker-engine/generic"
	"github.com/warp/keyworker-engine/keyworker"
	"github.com/warp/keyworker-engine/keyworker/store"
	"github.com/warp/keyworker-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func activeAllocation(offenderNo string, staffID int64, prisonID string) keyworker.Allocation {
	return keyworker.Allocation{
		OffenderNo: offenderNo,
		StaffID:    staffID,
		PrisonID:   prisonID,
		AssignedAt: time.Date(2024, time.January, 2, 9, 30, 0, 0, time.UTC),
		Active:     true,
		Type:       keyworker.AllocationAuto,
		Reason:     keyworker.AllocationReasonAuto,
	}
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func TestAllocations_InsertFindAndDeallocate(t *testing.T) {
	// GIVEN: An active allocation
	// WHEN: It is deallocated and saved
	// THEN: It disappears from the active lookup but stays in the staff history

	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.SaveAllocation(ctx, activeAllocation("A1234AA", 1001, "MDI"))
	require.NoError(t, err)
	require.NotZero(t, id)

	active, err := s.FindActiveByOffender(ctx, "A1234AA")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)
	assert.True(t, active[0].AssignedAt.Equal(time.Date(2024, time.January, 2, 9, 30, 0, 0, time.UTC)))
	assert.Nil(t, active[0].ExpiresAt)
	assert.Equal(t, keyworker.DeallocationNone, active[0].DeallocationReason)

	released := time.Date(2024, time.March, 15, 8, 0, 0, 0, time.UTC)
	a := active[0]
	a.Deallocate(released, keyworker.DeallocationReleased)
	_, err = s.SaveAllocation(ctx, a)
	require.NoError(t, err)

	active, err = s.FindActiveByOffender(ctx, "A1234AA")
	require.NoError(t, err)
	assert.Empty(t, active)

	history, err := s.FindByStaffAndPrison(ctx, 1001, "MDI")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].Active)
	require.NotNil(t, history[0].ExpiresAt)
	assert.True(t, history[0].ExpiresAt.Equal(released))
	assert.Equal(t, keyworker.DeallocationReleased, history[0].DeallocationReason)
	assert.Equal(t, keyworker.AllocationAuto, history[0].Type)
}

func TestAllocations_UpdateMissing_NotFound(t *testing.T) {
	s := newTestStore(t)
	a := activeAllocation("A1234AB", 1001, "MDI")
	a.ID = 999

	_, err := s.SaveAllocation(context.Background(), a)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

func TestAllocations_UnregisteredType_Rejected(t *testing.T) {
	s := newTestStore(t)
	a := activeAllocation("A1234AC", 1001, "MDI")
	a.Type = "BULK"

	_, err := s.SaveAllocation(context.Background(), a)
	assert.ErrorIs(t, err, generic.ErrUnknownCode)
}

// =============================================================================
// KEY WORKERS
// =============================================================================

func TestKeyWorkers_FindReturningFromLeave(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	today := generic.NewTimePoint(2024, time.March, 15)
	tomorrow := today.AddDays(1)
	yesterday := today.AddDays(-1)

	require.NoError(t, s.SaveKeyWorker(ctx, keyworker.KeyWorker{StaffID: 1, Capacity: 6, Status: keyworker.StatusAnnualLeave, ActiveDate: &today}))
	require.NoError(t, s.SaveKeyWorker(ctx, keyworker.KeyWorker{StaffID: 2, Capacity: 6, Status: keyworker.StatusAnnualLeave, ActiveDate: &tomorrow}))
	require.NoError(t, s.SaveKeyWorker(ctx, keyworker.KeyWorker{StaffID: 3, Capacity: 6, Status: keyworker.StatusAnnualLeave, ActiveDate: &yesterday}))
	require.NoError(t, s.SaveKeyWorker(ctx, keyworker.KeyWorker{StaffID: 4, Capacity: 6, Status: keyworker.StatusActive, AutoAllocation: true}))

	returning, err := s.FindReturningFromLeave(ctx, keyworker.StatusAnnualLeave, today)
	require.NoError(t, err)
	require.Len(t, returning, 2)
	assert.Equal(t, int64(1), returning[0].StaffID)
	assert.Equal(t, int64(3), returning[1].StaffID)
	assert.Equal(t, "2024-03-15", returning[0].ActiveDate.String())
}

func TestKeyWorkers_StatusEngineAgainstSQLite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	today := generic.NewTimePoint(2024, time.March, 15)
	require.NoError(t, s.SaveKeyWorker(ctx, keyworker.KeyWorker{StaffID: 9, Capacity: 6, Status: keyworker.StatusAnnualLeave, ActiveDate: &today}))

	engine := &keyworker.StatusEngine{KeyWorkers: s, Now: func() time.Time { return today.Time.Add(2 * time.Hour) }}
	result := engine.Run(ctx)
	require.True(t, result.IsOk(), "status update failed: %v", result.Err)
	assert.Equal(t, []int64{9}, result.Value)

	kw, err := s.GetKeyWorker(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, keyworker.StatusActive, kw.Status)
	assert.Nil(t, kw.ActiveDate)
	assert.True(t, kw.AutoAllocation)

	_, err = s.GetKeyWorker(ctx, 10)
	assert.ErrorIs(t, err, generic.ErrNotFound)
}

// =============================================================================
// CHECKPOINTS
// =============================================================================

func TestCheckpoints_AbsentThenUpserted(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cp, err := s.FindCheckpoint(ctx, keyworker.DeallocateJobName)
	require.NoError(t, err)
	assert.Nil(t, cp)

	first := time.Date(2024, time.March, 14, 2, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)
	require.NoError(t, s.SaveCheckpoint(ctx, keyworker.Checkpoint{JobName: keyworker.DeallocateJobName, LastRun: first}))
	require.NoError(t, s.SaveCheckpoint(ctx, keyworker.Checkpoint{JobName: keyworker.DeallocateJobName, LastRun: second}))

	cp, err = s.FindCheckpoint(ctx, keyworker.DeallocateJobName)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.True(t, cp.LastRun.Equal(second))
}

func TestDeallocationEngineAgainstSQLite(t *testing.T) {
	// GIVEN: A released offender and a SQLite-backed engine
	// WHEN: The sweep runs
	// THEN: The allocation is ended and the checkpoint written

	s := newTestStore(t)
	ctx := context.Background()
	now := time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)

	id, err := s.SaveAllocation(ctx, activeAllocation("A1234AD", 1001, "MDI"))
	require.NoError(t, err)

	movements := &store.Movements{}
	movements.Add(keyworker.MovementRecord{
		OffenderNo: "A1234AD", MovementType: keyworker.MovementTransfer,
		FromAgency: "MDI", ToAgency: "LEI", Direction: "OUT", CreatedAt: now.Add(-time.Hour),
	})

	engine := &keyworker.DeallocationEngine{
		Movements:   movements,
		Allocations: s,
		Checkpoints: s,
		Config:      keyworker.DefaultDeallocationConfig(),
		Now:         func() time.Time { return now },
	}
	result := engine.Run(ctx)
	require.True(t, result.IsOk(), "sweep failed: %v", result.Err)

	history, err := s.FindByStaffAndPrison(ctx, 1001, "MDI")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, id, history[0].ID)
	assert.Equal(t, keyworker.DeallocationTransfer, history[0].DeallocationReason)

	cp, err := s.FindCheckpoint(ctx, keyworker.DeallocateJobName)
	require.NoError(t, err)
	assert.True(t, cp.LastRun.Equal(now))
}

// =============================================================================
// STATISTICS
// =============================================================================

func TestStatistics_AggregatedAndDaily(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	three := int64(3)
	for day := 1; day <= 10; day++ {
		row := keyworker.DailySnapshot{
			PrisonID:                      "MDI",
			SnapshotDate:                  generic.NewTimePoint(2024, time.January, day),
			NumberKeyWorkerSessions:       int64(day),
			NumberKeyWorkerEntries:        1,
			NumberOfActiveKeyworkers:      4,
			NumPrisonersAssignedKeyWorker: 60 + int64(day%2)*10, // 60/70 alternating
			TotalNumPrisoners:             100,
		}
		if day%2 == 0 {
			row.AvgDaysReceptionToAllocation = &three
		}
		require.NoError(t, s.SaveDailySnapshot(ctx, row))
	}
	require.NoError(t, s.SaveDailySnapshot(ctx, keyworker.DailySnapshot{
		PrisonID: "LEI", SnapshotDate: generic.NewTimePoint(2024, time.January, 2), NumberKeyWorkerSessions: 99,
	}))

	from := generic.NewTimePoint(2024, time.January, 1)
	to := generic.NewTimePoint(2024, time.January, 5) // exclusive

	agg, err := s.AggregatedStats(ctx, "MDI", from, to)
	require.NoError(t, err)
	require.Len(t, agg, 1)
	assert.Equal(t, int64(1+2+3+4), agg[0].NumberKeyWorkerSessions)
	assert.Equal(t, int64(4), agg[0].NumberKeyWorkerEntries)
	assert.InDelta(t, 65.0, agg[0].NumPrisonersAssignedKeyWorker, 0.0001)
	assert.InDelta(t, 3.0, agg[0].AvgDaysReceptionToAllocation, 0.0001, "NULL days are ignored")
	assert.Equal(t, "2024-01-01", agg[0].StartDate.String())
	assert.Equal(t, "2024-01-04", agg[0].EndDate.String())

	empty, err := s.AggregatedStats(ctx, "MDI", generic.NewTimePoint(2023, time.January, 1), generic.NewTimePoint(2023, time.February, 1))
	require.NoError(t, err)
	assert.Empty(t, empty, "no data means no row, not a zero row")

	daily, err := s.DailyStats(ctx, "MDI", from, to)
	require.NoError(t, err)
	require.Len(t, daily, 4)
	assert.Equal(t, "2024-01-01", daily[0].SnapshotDate.String())
	assert.Nil(t, daily[0].AvgDaysReceptionToAllocation)
	require.NotNil(t, daily[1].AvgDaysReceptionToAllocation)
	assert.Equal(t, int64(3), *daily[1].AvgDaysReceptionToAllocation)
}

func TestStatistics_MatchesInMemoryAggregation(t *testing.T) {
	s := newTestStore(t)
	mem := store.NewMemory()
	ctx := context.Background()

	for day := 1; day <= 28; day++ {
		row := keyworker.DailySnapshot{
			PrisonID:                      "MDI",
			SnapshotDate:                  generic.NewTimePoint(2024, time.February, day),
			NumberKeyWorkerSessions:       int64(day % 5),
			NumPrisonersAssignedKeyWorker: int64(50 + day),
			TotalNumPrisoners:             120,
			NumberOfActiveKeyworkers:      int64(day % 3),
		}
		require.NoError(t, s.SaveDailySnapshot(ctx, row))
		mem.AddDailySnapshots(row)
	}

	from := generic.NewTimePoint(2024, time.February, 3)
	to := generic.NewTimePoint(2024, time.February, 20)
	want, err := mem.AggregatedStats(ctx, "MDI", from, to)
	require.NoError(t, err)
	got, err := s.AggregatedStats(ctx, "MDI", from, to)
	require.NoError(t, err)

	require.Len(t, got, 1)
	require.Len(t, want, 1)
	assert.Equal(t, want[0].NumberKeyWorkerSessions, got[0].NumberKeyWorkerSessions)
	assert.InDelta(t, want[0].NumPrisonersAssignedKeyWorker, got[0].NumPrisonersAssignedKeyWorker, 0.0001)
	assert.InDelta(t, want[0].NumberOfActiveKeyworkers, got[0].NumberOfActiveKeyworkers, 0.0001)
	assert.Equal(t, want[0].StartDate, got[0].StartDate)
	assert.Equal(t, want[0].EndDate, got[0].EndDate)
}

// =============================================================================
// PRISON CONFIG
// =============================================================================

func TestPrisonConfig_DefaultAndMigrated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	cfg, err := s.PrisonConfig(ctx, "XXI")
	require.NoError(t, err)
	assert.Equal(t, keyworker.DefaultSessionFrequencyWeeks, cfg.SessionFrequencyWeeks)
	assert.False(t, cfg.Migrated)

	require.NoError(t, s.SavePrisonConfig(ctx, keyworker.PrisonConfig{PrisonID: "MDI", Migrated: true, SessionFrequencyWeeks: 2}))
	require.NoError(t, s.SavePrisonConfig(ctx, keyworker.PrisonConfig{PrisonID: "LEI", Migrated: true}))
	require.NoError(t, s.SavePrisonConfig(ctx, keyworker.PrisonConfig{PrisonID: "BXI"}))

	cfg, err = s.PrisonConfig(ctx, "MDI")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.SessionFrequencyWeeks)

	migrated, err := s.MigratedPrisons(ctx)
	require.NoError(t, err)
	require.Len(t, migrated, 2)
	assert.Equal(t, "LEI", migrated[0].PrisonID)
	assert.Equal(t, 1, migrated[0].SessionFrequencyWeeks, "zero frequency is stored as the default")
	assert.Equal(t, "MDI", migrated[1].PrisonID)
}

// =============================================================================
// BATCH RUNS
// =============================================================================

func TestBatchRuns_SaveAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Date(2024, time.March, 15, 2, 0, 0, 0, time.UTC)

	run := sqlite.BatchRun{ID: "run-1", Job: keyworker.DeallocateJobName, Status: sqlite.RunStatusRunning, Trigger: "schedule", StartedAt: start}
	require.NoError(t, s.SaveBatchRun(ctx, run))

	done := start.Add(3 * time.Second)
	run.Status = sqlite.RunStatusCompleted
	run.CompletedAt = &done
	run.SummaryJSON = `{"deallocated":2}`
	require.NoError(t, s.SaveBatchRun(ctx, run))

	require.NoError(t, s.SaveBatchRun(ctx, sqlite.BatchRun{
		ID: "run-2", Job: "UpdateStatusJob", Status: sqlite.RunStatusFailed, Trigger: "manual",
		Error: "disk full", StartedAt: start.Add(time.Hour),
	}))

	all, err := s.ListBatchRuns(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "run-2", all[0].ID, "most recent first")
	assert.Equal(t, "disk full", all[0].Error)
	assert.Nil(t, all[0].CompletedAt)

	dealloc, err := s.ListBatchRuns(ctx, keyworker.DeallocateJobName, 10)
	require.NoError(t, err)
	require.Len(t, dealloc, 1)
	assert.Equal(t, sqlite.RunStatusCompleted, dealloc[0].Status)
	assert.Equal(t, `{"deallocated":2}`, dealloc[0].SummaryJSON)
	require.NotNil(t, dealloc[0].CompletedAt)
	assert.True(t, dealloc[0].CompletedAt.Equal(done))
}
