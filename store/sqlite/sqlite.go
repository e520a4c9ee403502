/*
Package sqlite provides a SQLite-backed implementation of the keyworker stores.

PURPOSE:
  Implements every persistence interface the engines depend on. In production
  the same patterns apply to PostgreSQL with minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  keyworker.AllocationStore:   offender_key_worker
  keyworker.KeyWorkerStore:    key_worker
  keyworker.CheckpointStore:   batch_history
  keyworker.SnapshotStore:     prison_key_worker_statistic
  keyworker.PrisonConfigStore: prison_supported

NO DELETES:
  Allocations are deactivated, never deleted. There is no DELETE statement on
  offender_key_worker anywhere in this package.

CODES:
  Statuses and reasons are stored as short codes. Every write encodes through
  the keyworker code registries and every read decodes through them, so an
  unknown code in the table fails the read with generic.ErrUnknownCode.

DATES:
  Calendar days are stored as YYYY-MM-DD and timestamps as fixed-width
  RFC3339 in UTC. Both sort lexicographically, so range predicates and
  ORDER BY work on the text columns.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

USAGE:
  store, err := sqlite.New("./data/keyworker.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - keyworker/store.go: Interface definitions
  - keyworker/store/memory.go: In-memory implementation for testing
  - runs.go: Batch-run history
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/keyworker-engine/generic"
	"github.com/warp/keyworker-engine/keyworker"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var (
	_ keyworker.AllocationStore   = (*Store)(nil)
	_ keyworker.KeyWorkerStore    = (*Store)(nil)
	_ keyworker.CheckpointStore   = (*Store)(nil)
	_ keyworker.SnapshotStore     = (*Store)(nil)
	_ keyworker.PrisonConfigStore = (*Store)(nil)
)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Allocations (never deleted)
	CREATE TABLE IF NOT EXISTS offender_key_worker (
		offender_keyworker_id INTEGER PRIMARY KEY AUTOINCREMENT,
		offender_no TEXT NOT NULL,
		staff_id INTEGER NOT NULL,
		prison_id TEXT NOT NULL,
		assigned_date_time TEXT NOT NULL,
		expiry_date_time TEXT,
		active_flag INTEGER NOT NULL,
		alloc_type TEXT NOT NULL,
		alloc_reason TEXT NOT NULL,
		dealloc_reason TEXT,
		create_datetime TEXT NOT NULL,
		modify_datetime TEXT NOT NULL
	);

	-- Deallocation sweep: active allocations of one offender (hot path)
	CREATE INDEX IF NOT EXISTS idx_okw_offender_active
		ON offender_key_worker(offender_no, active_flag);

	-- Staff stats
	CREATE INDEX IF NOT EXISTS idx_okw_staff_prison
		ON offender_key_worker(staff_id, prison_id);

	-- Key workers
	CREATE TABLE IF NOT EXISTS key_worker (
		staff_id INTEGER PRIMARY KEY,
		capacity INTEGER NOT NULL DEFAULT 6,
		status TEXT NOT NULL,
		active_date TEXT,
		auto_allocation_flag INTEGER NOT NULL DEFAULT 1
	);

	CREATE INDEX IF NOT EXISTS idx_key_worker_status_date
		ON key_worker(status, active_date);

	-- One checkpoint per batch job
	CREATE TABLE IF NOT EXISTS batch_history (
		batch_id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		last_run TEXT NOT NULL
	);

	-- Daily pre-computed statistics
	CREATE TABLE IF NOT EXISTS prison_key_worker_statistic (
		prison_id TEXT NOT NULL,
		snapshot_date TEXT NOT NULL,
		num_prisoners_assigned_kw INTEGER NOT NULL,
		total_num_prisoners INTEGER NOT NULL,
		num_kw_sessions INTEGER NOT NULL,
		num_kw_entries INTEGER NOT NULL,
		num_active_keyworkers INTEGER NOT NULL,
		recpt_to_alloc_days INTEGER,
		recpt_to_kw_session_days INTEGER,
		PRIMARY KEY (prison_id, snapshot_date)
	);

	-- Per-prison configuration
	CREATE TABLE IF NOT EXISTS prison_supported (
		prison_id TEXT PRIMARY KEY,
		migrated INTEGER NOT NULL DEFAULT 0,
		auto_allocate INTEGER NOT NULL DEFAULT 0,
		kw_session_frequency_in_weeks INTEGER NOT NULL DEFAULT 1
	);

	-- Batch job executions
	CREATE TABLE IF NOT EXISTS batch_runs (
		id TEXT PRIMARY KEY,
		job TEXT NOT NULL,
		status TEXT NOT NULL,
		trigger_source TEXT NOT NULL,
		error TEXT,
		summary_json TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_batch_runs_job
		ON batch_runs(job, started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// ALLOCATIONS
// =============================================================================

const allocationColumns = `
	offender_keyworker_id, offender_no, staff_id, prison_id, assigned_date_time,
	expiry_date_time, active_flag, alloc_type, alloc_reason, dealloc_reason`

// FindActiveByOffender returns the offender's active allocations.
func (s *Store) FindActiveByOffender(ctx context.Context, offenderNo string) ([]keyworker.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + allocationColumns + `
		FROM offender_key_worker
		WHERE offender_no = ? AND active_flag = 1
		ORDER BY offender_keyworker_id`
	return s.queryAllocations(ctx, query, offenderNo)
}

// FindByStaffAndPrison returns every allocation of a key worker at a prison.
func (s *Store) FindByStaffAndPrison(ctx context.Context, staffID int64, prisonID string) ([]keyworker.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + allocationColumns + `
		FROM offender_key_worker
		WHERE staff_id = ? AND prison_id = ?
		ORDER BY offender_keyworker_id`
	return s.queryAllocations(ctx, query, staffID, prisonID)
}

// SaveAllocation inserts when ID is zero, otherwise updates in place.
func (s *Store) SaveAllocation(ctx context.Context, a keyworker.Allocation) (int64, error) {
	allocType, err := keyworker.AllocationTypeCodes.Encode(a.Type)
	if err != nil {
		return 0, err
	}
	allocReason, err := keyworker.AllocationReasonCodes.Encode(a.Reason)
	if err != nil {
		return 0, err
	}
	var deallocReason sql.NullString
	if a.DeallocationReason != keyworker.DeallocationNone {
		code, err := keyworker.DeallocationReasonCodes.Encode(a.DeallocationReason)
		if err != nil {
			return 0, err
		}
		deallocReason = nullString(code)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTimestamp(time.Now())
	if a.ID == 0 {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO offender_key_worker (offender_no, staff_id, prison_id, assigned_date_time,
				expiry_date_time, active_flag, alloc_type, alloc_reason, dealloc_reason,
				create_datetime, modify_datetime)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.OffenderNo, a.StaffID, a.PrisonID, formatTimestamp(a.AssignedAt),
			nullTimestamp(a.ExpiresAt), a.Active, allocType, allocReason, deallocReason,
			now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert allocation: %w", err)
		}
		return res.LastInsertId()
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE offender_key_worker SET
			offender_no = ?, staff_id = ?, prison_id = ?, assigned_date_time = ?,
			expiry_date_time = ?, active_flag = ?, alloc_type = ?, alloc_reason = ?,
			dealloc_reason = ?, modify_datetime = ?
		WHERE offender_keyworker_id = ?`,
		a.OffenderNo, a.StaffID, a.PrisonID, formatTimestamp(a.AssignedAt),
		nullTimestamp(a.ExpiresAt), a.Active, allocType, allocReason,
		deallocReason, now, a.ID,
	)
	if err != nil {
		return 0, fmt.Errorf("update allocation %d: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return 0, fmt.Errorf("allocation %d: %w", a.ID, generic.ErrNotFound)
	}
	return a.ID, nil
}

func (s *Store) queryAllocations(ctx context.Context, query string, args ...any) ([]keyworker.Allocation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []keyworker.Allocation
	for rows.Next() {
		var (
			a                      keyworker.Allocation
			assigned               string
			expiry, deallocReason  sql.NullString
			allocType, allocReason string
		)
		if err := rows.Scan(
			&a.ID, &a.OffenderNo, &a.StaffID, &a.PrisonID, &assigned,
			&expiry, &a.Active, &allocType, &allocReason, &deallocReason,
		); err != nil {
			return nil, err
		}

		if a.AssignedAt, err = parseTimestamp(assigned); err != nil {
			return nil, err
		}
		if expiry.Valid {
			t, err := parseTimestamp(expiry.String)
			if err != nil {
				return nil, err
			}
			a.ExpiresAt = &t
		}
		if a.Type, err = keyworker.AllocationTypeCodes.Decode(allocType); err != nil {
			return nil, err
		}
		if a.Reason, err = keyworker.AllocationReasonCodes.Decode(allocReason); err != nil {
			return nil, err
		}
		if deallocReason.Valid {
			if a.DeallocationReason, err = keyworker.DeallocationReasonCodes.Decode(deallocReason.String); err != nil {
				return nil, err
			}
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// =============================================================================
// KEY WORKERS
// =============================================================================

// FindReturningFromLeave returns key workers in the status whose return date
// is on or before the given day.
func (s *Store) FindReturningFromLeave(ctx context.Context, status keyworker.Status, onOrBefore generic.TimePoint) ([]keyworker.KeyWorker, error) {
	code, err := keyworker.StatusCodes.Encode(status)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT staff_id, capacity, status, active_date, auto_allocation_flag
		FROM key_worker
		WHERE status = ? AND active_date IS NOT NULL AND active_date <= ?
		ORDER BY staff_id`,
		code, onOrBefore.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []keyworker.KeyWorker
	for rows.Next() {
		kw, err := scanKeyWorker(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, kw)
	}
	return result, rows.Err()
}

// GetKeyWorker returns one key worker or generic.ErrNotFound.
func (s *Store) GetKeyWorker(ctx context.Context, staffID int64) (keyworker.KeyWorker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT staff_id, capacity, status, active_date, auto_allocation_flag
		FROM key_worker WHERE staff_id = ?`, staffID)
	kw, err := scanKeyWorker(row)
	if errors.Is(err, sql.ErrNoRows) {
		return keyworker.KeyWorker{}, fmt.Errorf("key worker %d: %w", staffID, generic.ErrNotFound)
	}
	return kw, err
}

// SaveKeyWorker inserts or replaces a key worker.
func (s *Store) SaveKeyWorker(ctx context.Context, kw keyworker.KeyWorker) error {
	code, err := keyworker.StatusCodes.Encode(kw.Status)
	if err != nil {
		return err
	}
	var activeDate sql.NullString
	if kw.ActiveDate != nil {
		activeDate = nullString(kw.ActiveDate.String())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO key_worker (staff_id, capacity, status, active_date, auto_allocation_flag)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(staff_id) DO UPDATE SET
			capacity = excluded.capacity,
			status = excluded.status,
			active_date = excluded.active_date,
			auto_allocation_flag = excluded.auto_allocation_flag`,
		kw.StaffID, kw.Capacity, code, activeDate, kw.AutoAllocation,
	)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKeyWorker(row scanner) (keyworker.KeyWorker, error) {
	var (
		kw         keyworker.KeyWorker
		status     string
		activeDate sql.NullString
	)
	if err := row.Scan(&kw.StaffID, &kw.Capacity, &status, &activeDate, &kw.AutoAllocation); err != nil {
		return keyworker.KeyWorker{}, err
	}
	var err error
	if kw.Status, err = keyworker.StatusCodes.Decode(status); err != nil {
		return keyworker.KeyWorker{}, err
	}
	if activeDate.Valid {
		d, err := generic.ParseDate(activeDate.String)
		if err != nil {
			return keyworker.KeyWorker{}, err
		}
		kw.ActiveDate = &d
	}
	return kw, nil
}

// =============================================================================
// CHECKPOINTS (batch_history)
// =============================================================================

// FindCheckpoint returns nil, nil when the job has never run.
func (s *Store) FindCheckpoint(ctx context.Context, jobName string) (*keyworker.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var lastRun string
	err := s.db.QueryRowContext(ctx,
		`SELECT last_run FROM batch_history WHERE name = ?`, jobName,
	).Scan(&lastRun)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	t, err := parseTimestamp(lastRun)
	if err != nil {
		return nil, err
	}
	return &keyworker.Checkpoint{JobName: jobName, LastRun: t}, nil
}

// SaveCheckpoint upserts the job's checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, cp keyworker.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO batch_history (name, last_run) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET last_run = excluded.last_run`,
		cp.JobName, formatTimestamp(cp.LastRun),
	)
	return err
}

// =============================================================================
// DAILY STATISTICS
// =============================================================================

// SaveDailySnapshot upserts one day of prison statistics.
func (s *Store) SaveDailySnapshot(ctx context.Context, d keyworker.DailySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prison_key_worker_statistic (prison_id, snapshot_date,
			num_prisoners_assigned_kw, total_num_prisoners, num_kw_sessions, num_kw_entries,
			num_active_keyworkers, recpt_to_alloc_days, recpt_to_kw_session_days)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(prison_id, snapshot_date) DO UPDATE SET
			num_prisoners_assigned_kw = excluded.num_prisoners_assigned_kw,
			total_num_prisoners = excluded.total_num_prisoners,
			num_kw_sessions = excluded.num_kw_sessions,
			num_kw_entries = excluded.num_kw_entries,
			num_active_keyworkers = excluded.num_active_keyworkers,
			recpt_to_alloc_days = excluded.recpt_to_alloc_days,
			recpt_to_kw_session_days = excluded.recpt_to_kw_session_days`,
		d.PrisonID, d.SnapshotDate.String(),
		d.NumPrisonersAssignedKeyWorker, d.TotalNumPrisoners, d.NumberKeyWorkerSessions,
		d.NumberKeyWorkerEntries, d.NumberOfActiveKeyworkers,
		d.AvgDaysReceptionToAllocation, d.AvgDaysReceptionToKeyWorkSession,
	)
	return err
}

// AggregatedStats folds [from, to) into at most one row. GROUP BY yields no
// row at all when the range is empty.
func (s *Store) AggregatedStats(ctx context.Context, prisonID string, from, to generic.TimePoint) ([]keyworker.AggregatedSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT prison_id, MIN(snapshot_date), MAX(snapshot_date),
			SUM(num_kw_sessions), SUM(num_kw_entries),
			AVG(num_active_keyworkers), AVG(num_prisoners_assigned_kw), AVG(total_num_prisoners),
			AVG(recpt_to_alloc_days), AVG(recpt_to_kw_session_days)
		FROM prison_key_worker_statistic
		WHERE prison_id = ? AND snapshot_date >= ? AND snapshot_date < ?
		GROUP BY prison_id`,
		prisonID, from.String(), to.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []keyworker.AggregatedSnapshot
	for rows.Next() {
		var (
			agg                  keyworker.AggregatedSnapshot
			start, end           string
			allocDays, firstDays sql.NullFloat64
		)
		if err := rows.Scan(
			&agg.PrisonID, &start, &end,
			&agg.NumberKeyWorkerSessions, &agg.NumberKeyWorkerEntries,
			&agg.NumberOfActiveKeyworkers, &agg.NumPrisonersAssignedKeyWorker, &agg.TotalNumPrisoners,
			&allocDays, &firstDays,
		); err != nil {
			return nil, err
		}
		if agg.StartDate, err = generic.ParseDate(start); err != nil {
			return nil, err
		}
		if agg.EndDate, err = generic.ParseDate(end); err != nil {
			return nil, err
		}
		agg.AvgDaysReceptionToAllocation = allocDays.Float64
		agg.AvgDaysReceptionToKeyWorkSession = firstDays.Float64
		result = append(result, agg)
	}
	return result, rows.Err()
}

// DailyStats returns the rows in [from, to) ordered by date.
func (s *Store) DailyStats(ctx context.Context, prisonID string, from, to generic.TimePoint) ([]keyworker.DailySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT prison_id, snapshot_date, num_prisoners_assigned_kw, total_num_prisoners,
			num_kw_sessions, num_kw_entries, num_active_keyworkers,
			recpt_to_alloc_days, recpt_to_kw_session_days
		FROM prison_key_worker_statistic
		WHERE prison_id = ? AND snapshot_date >= ? AND snapshot_date < ?
		ORDER BY snapshot_date`,
		prisonID, from.String(), to.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []keyworker.DailySnapshot
	for rows.Next() {
		var (
			d                    keyworker.DailySnapshot
			date                 string
			allocDays, firstDays sql.NullInt64
		)
		if err := rows.Scan(
			&d.PrisonID, &date, &d.NumPrisonersAssignedKeyWorker, &d.TotalNumPrisoners,
			&d.NumberKeyWorkerSessions, &d.NumberKeyWorkerEntries, &d.NumberOfActiveKeyworkers,
			&allocDays, &firstDays,
		); err != nil {
			return nil, err
		}
		if d.SnapshotDate, err = generic.ParseDate(date); err != nil {
			return nil, err
		}
		if allocDays.Valid {
			v := allocDays.Int64
			d.AvgDaysReceptionToAllocation = &v
		}
		if firstDays.Valid {
			v := firstDays.Int64
			d.AvgDaysReceptionToKeyWorkSession = &v
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

// =============================================================================
// PRISON CONFIG (prison_supported)
// =============================================================================

// SavePrisonConfig inserts or replaces a prison's configuration.
func (s *Store) SavePrisonConfig(ctx context.Context, cfg keyworker.PrisonConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prison_supported (prison_id, migrated, auto_allocate, kw_session_frequency_in_weeks)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(prison_id) DO UPDATE SET
			migrated = excluded.migrated,
			auto_allocate = excluded.auto_allocate,
			kw_session_frequency_in_weeks = excluded.kw_session_frequency_in_weeks`,
		cfg.PrisonID, cfg.Migrated, cfg.AutoAllocate, cfg.SessionFrequency(),
	)
	return err
}

// PrisonConfig returns the prison's configuration; unknown prisons get the
// default session frequency.
func (s *Store) PrisonConfig(ctx context.Context, prisonID string) (keyworker.PrisonConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg := keyworker.PrisonConfig{PrisonID: prisonID}
	err := s.db.QueryRowContext(ctx, `
		SELECT migrated, auto_allocate, kw_session_frequency_in_weeks
		FROM prison_supported WHERE prison_id = ?`, prisonID,
	).Scan(&cfg.Migrated, &cfg.AutoAllocate, &cfg.SessionFrequencyWeeks)
	if errors.Is(err, sql.ErrNoRows) {
		cfg.SessionFrequencyWeeks = keyworker.DefaultSessionFrequencyWeeks
		return cfg, nil
	}
	return cfg, err
}

// MigratedPrisons lists migrated prisons ordered by id.
func (s *Store) MigratedPrisons(ctx context.Context) ([]keyworker.PrisonConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT prison_id, migrated, auto_allocate, kw_session_frequency_in_weeks
		FROM prison_supported WHERE migrated = 1
		ORDER BY prison_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []keyworker.PrisonConfig
	for rows.Next() {
		var cfg keyworker.PrisonConfig
		if err := rows.Scan(&cfg.PrisonID, &cfg.Migrated, &cfg.AutoAllocate, &cfg.SessionFrequencyWeeks); err != nil {
			return nil, err
		}
		result = append(result, cfg)
	}
	return result, rows.Err()
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// timestampLayout is RFC3339 with fixed-width nanoseconds so that stored
// timestamps sort lexicographically.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func nullTimestamp(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return nullString(formatTimestamp(*t))
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}
