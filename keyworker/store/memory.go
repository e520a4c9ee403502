// Package store provides in-memory implementations of the keyworker stores.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/warp/keyworker-engine/generic"
	"github.com/warp/keyworker-engine/keyworker"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements every persistent keyworker store. Values are copied on
// the way in and out, so callers never share state with the store.
type Memory struct {
	mu          sync.RWMutex
	allocations map[int64]keyworker.Allocation
	nextID      int64
	keyWorkers  map[int64]keyworker.KeyWorker
	checkpoints map[string]keyworker.Checkpoint
	daily       []keyworker.DailySnapshot
	prisons     map[string]keyworker.PrisonConfig
}

var (
	_ keyworker.AllocationStore   = (*Memory)(nil)
	_ keyworker.KeyWorkerStore    = (*Memory)(nil)
	_ keyworker.CheckpointStore   = (*Memory)(nil)
	_ keyworker.SnapshotStore     = (*Memory)(nil)
	_ keyworker.PrisonConfigStore = (*Memory)(nil)
)

func NewMemory() *Memory {
	return &Memory{
		allocations: make(map[int64]keyworker.Allocation),
		keyWorkers:  make(map[int64]keyworker.KeyWorker),
		checkpoints: make(map[string]keyworker.Checkpoint),
		prisons:     make(map[string]keyworker.PrisonConfig),
	}
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

func (m *Memory) FindActiveByOffender(_ context.Context, offenderNo string) ([]keyworker.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectLocked(func(a keyworker.Allocation) bool {
		return a.OffenderNo == offenderNo && a.Active
	}), nil
}

func (m *Memory) FindByStaffAndPrison(_ context.Context, staffID int64, prisonID string) ([]keyworker.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.selectLocked(func(a keyworker.Allocation) bool {
		return a.StaffID == staffID && a.PrisonID == prisonID
	}), nil
}

// SaveAllocation inserts when ID is zero, otherwise replaces the stored row.
func (m *Memory) SaveAllocation(_ context.Context, a keyworker.Allocation) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a.ID == 0 {
		m.nextID++
		a.ID = m.nextID
	} else if a.ID > m.nextID {
		m.nextID = a.ID
	}
	m.allocations[a.ID] = copyAllocation(a)
	return a.ID, nil
}

// Allocation returns a stored allocation by ID.
func (m *Memory) Allocation(id int64) (keyworker.Allocation, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.allocations[id]
	return copyAllocation(a), ok
}

// selectLocked returns matching allocations ordered by ID.
func (m *Memory) selectLocked(match func(keyworker.Allocation) bool) []keyworker.Allocation {
	var result []keyworker.Allocation
	for _, a := range m.allocations {
		if match(a) {
			result = append(result, copyAllocation(a))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func copyAllocation(a keyworker.Allocation) keyworker.Allocation {
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		a.ExpiresAt = &t
	}
	return a
}

// =============================================================================
// KEY WORKERS
// =============================================================================

func (m *Memory) FindReturningFromLeave(_ context.Context, status keyworker.Status, onOrBefore generic.TimePoint) ([]keyworker.KeyWorker, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []keyworker.KeyWorker
	for _, kw := range m.keyWorkers {
		if kw.Status == status && kw.ActiveDate != nil && kw.ActiveDate.BeforeOrEqual(onOrBefore) {
			result = append(result, copyKeyWorker(kw))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StaffID < result[j].StaffID })
	return result, nil
}

func (m *Memory) SaveKeyWorker(_ context.Context, kw keyworker.KeyWorker) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyWorkers[kw.StaffID] = copyKeyWorker(kw)
	return nil
}

// KeyWorker returns a stored key worker by staff ID.
func (m *Memory) KeyWorker(staffID int64) (keyworker.KeyWorker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kw, ok := m.keyWorkers[staffID]
	return copyKeyWorker(kw), ok
}

func copyKeyWorker(kw keyworker.KeyWorker) keyworker.KeyWorker {
	if kw.ActiveDate != nil {
		d := *kw.ActiveDate
		kw.ActiveDate = &d
	}
	return kw
}

// =============================================================================
// CHECKPOINTS
// =============================================================================

func (m *Memory) FindCheckpoint(_ context.Context, jobName string) (*keyworker.Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cp, ok := m.checkpoints[jobName]
	if !ok {
		return nil, nil
	}
	return &cp, nil
}

func (m *Memory) SaveCheckpoint(_ context.Context, cp keyworker.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[cp.JobName] = cp
	return nil
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// AddDailySnapshots appends pre-computed daily rows.
func (m *Memory) AddDailySnapshots(rows ...keyworker.DailySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.daily = append(m.daily, rows...)
}

func (m *Memory) AggregatedStats(_ context.Context, prisonID string, from, to generic.TimePoint) ([]keyworker.AggregatedSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return keyworker.AggregateDaily(prisonID, from, to, m.daily), nil
}

func (m *Memory) DailyStats(_ context.Context, prisonID string, from, to generic.TimePoint) ([]keyworker.DailySnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []keyworker.DailySnapshot
	for _, d := range m.daily {
		if d.PrisonID == prisonID && from.BeforeOrEqual(d.SnapshotDate) && d.SnapshotDate.Before(to) {
			result = append(result, d)
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].SnapshotDate.Before(result[j].SnapshotDate)
	})
	return result, nil
}

// =============================================================================
// PRISON CONFIG
// =============================================================================

// SavePrisonConfig stores or replaces a prison's configuration.
func (m *Memory) SavePrisonConfig(cfg keyworker.PrisonConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prisons[cfg.PrisonID] = cfg
}

func (m *Memory) PrisonConfig(_ context.Context, prisonID string) (keyworker.PrisonConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cfg, ok := m.prisons[prisonID]; ok {
		return cfg, nil
	}
	return keyworker.PrisonConfig{PrisonID: prisonID, SessionFrequencyWeeks: keyworker.DefaultSessionFrequencyWeeks}, nil
}

func (m *Memory) MigratedPrisons(_ context.Context) ([]keyworker.PrisonConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []keyworker.PrisonConfig
	for _, cfg := range m.prisons {
		if cfg.Migrated {
			result = append(result, cfg)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PrisonID < result[j].PrisonID })
	return result, nil
}

// =============================================================================
// UPSTREAM FAKES
// =============================================================================

// Movements is an in-memory MovementSource keyed by the day a movement was
// recorded.
type Movements struct {
	mu      sync.RWMutex
	records []keyworker.MovementRecord
}

func (mv *Movements) Add(records ...keyworker.MovementRecord) {
	mv.mu.Lock()
	defer mv.mu.Unlock()
	mv.records = append(mv.records, records...)
}

func (mv *Movements) Movements(_ context.Context, since time.Time, on generic.TimePoint) ([]keyworker.MovementRecord, error) {
	mv.mu.RLock()
	defer mv.mu.RUnlock()

	var result []keyworker.MovementRecord
	for _, r := range mv.records {
		if !r.CreatedAt.Before(since) && generic.DateOf(r.CreatedAt).Equal(on) {
			result = append(result, r)
		}
	}
	return result, nil
}

// CaseNotes is an in-memory CaseNoteUsageSource over dated case notes.
type CaseNotes struct {
	mu    sync.RWMutex
	notes []CaseNote
}

// CaseNote is one recorded case note.
type CaseNote struct {
	OffenderNo string
	Type       string
	SubType    string
	Date       generic.TimePoint
}

func (c *CaseNotes) Add(notes ...CaseNote) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notes = append(c.notes, notes...)
}

func (c *CaseNotes) CaseNoteUsage(_ context.Context, offenderNos []string, caseNoteType, subType string, from, to generic.TimePoint) ([]keyworker.UsageCount, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	wanted := make(map[string]bool, len(offenderNos))
	for _, o := range offenderNos {
		wanted[o] = true
	}

	type k struct{ offender, subType string }
	counts := map[k]int64{}
	for _, n := range c.notes {
		if !wanted[n.OffenderNo] || n.Type != caseNoteType || (subType != "" && n.SubType != subType) {
			continue
		}
		if n.Date.Before(from) || n.Date.After(to) {
			continue
		}
		counts[k{n.OffenderNo, n.SubType}]++
	}

	result := make([]keyworker.UsageCount, 0, len(counts))
	for key, n := range counts {
		result = append(result, keyworker.UsageCount{
			OffenderNo:      key.offender,
			CaseNoteType:    caseNoteType,
			CaseNoteSubType: key.subType,
			NumCaseNotes:    n,
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].OffenderNo != result[j].OffenderNo {
			return result[i].OffenderNo < result[j].OffenderNo
		}
		return result[i].CaseNoteSubType < result[j].CaseNoteSubType
	})
	return result, nil
}
