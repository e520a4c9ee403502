/*
Package keyworker tracks prison key-worker allocations and the batch jobs and
statistics built on them.

KEY CONCEPTS IN THIS FILE (types.go):
  - Allocation: an offender assigned to a key worker at a prison
  - KeyWorker: a staff member with a capacity and an availability status
  - Checkpoint: the last successful run of an incremental batch job
  - MovementRecord: an upstream release/transfer/admission event
  - DailySnapshot / AggregatedSnapshot: pre-computed per-prison statistics

ENUMERATIONS:
  Every status/reason/type is a string-typed enumeration whose storage code is
  registered in init(). Storage encodes and decodes through those registries,
  so an unknown code fails the read instead of producing an empty value.

SEE ALSO:
  - deallocate.go: Reconciliation engine (release/transfer sweep)
  - status.go: Status-transition engine (return from leave)
  - stats.go: Compliance statistics
  - store.go: Collaborator interfaces
*/
package keyworker

import (
	"time"

	"github.com/warp/keyworker-engine/generic"
)

// =============================================================================
// ENUMERATIONS
// =============================================================================

// AllocationType records how an allocation was made.
type AllocationType string

const (
	AllocationAuto        AllocationType = "AUTO"
	AllocationManual      AllocationType = "MANUAL"
	AllocationProvisional AllocationType = "PROVISIONAL"
)

// AllocationReason records why an allocation was made.
type AllocationReason string

const (
	AllocationReasonAuto   AllocationReason = "AUTO"
	AllocationReasonManual AllocationReason = "MANUAL"
)

// DeallocationReason records why an allocation ended. Empty while active.
type DeallocationReason string

const (
	DeallocationNone         DeallocationReason = ""
	DeallocationOverride     DeallocationReason = "OVERRIDE"
	DeallocationReleased     DeallocationReason = "RELEASED"
	DeallocationTransfer     DeallocationReason = "TRANSFER"
	DeallocationStatusChange DeallocationReason = "KEYWORKER_STATUS_CHANGE"
	DeallocationManual       DeallocationReason = "MANUAL"
)

// Status is a key worker's availability.
type Status string

const (
	StatusActive            Status = "ACTIVE"
	StatusAnnualLeave       Status = "UNAVAILABLE_ANNUAL_LEAVE"
	StatusLongTermAbsence   Status = "UNAVAILABLE_LONG_TERM_ABSENCE"
	StatusNoPrisonerContact Status = "UNAVAILABLE_NO_PRISONER_CONTACT"
	StatusInactive          Status = "INACTIVE"
)

// IsTimedUnavailability reports whether the status ends on a known return date.
func (s Status) IsTimedUnavailability() bool {
	return s == StatusAnnualLeave
}

// TimedUnavailabilityStatuses lists the statuses the status-transition
// engine promotes back to ACTIVE.
func TimedUnavailabilityStatuses() []Status {
	return []Status{StatusAnnualLeave}
}

// Code registries. Storage goes through these and nothing else.
var (
	AllocationTypeCodes     = generic.NewCodeRegistry[AllocationType]("allocation type")
	AllocationReasonCodes   = generic.NewCodeRegistry[AllocationReason]("allocation reason")
	DeallocationReasonCodes = generic.NewCodeRegistry[DeallocationReason]("deallocation reason")
	StatusCodes             = generic.NewCodeRegistry[Status]("key worker status")
)

func init() {
	AllocationTypeCodes.Register(AllocationAuto, "A")
	AllocationTypeCodes.Register(AllocationManual, "M")
	AllocationTypeCodes.Register(AllocationProvisional, "P")

	AllocationReasonCodes.Register(AllocationReasonAuto, "AUTO")
	AllocationReasonCodes.Register(AllocationReasonManual, "MANUAL")

	DeallocationReasonCodes.Register(DeallocationOverride, "OVERRIDE")
	DeallocationReasonCodes.Register(DeallocationReleased, "RELEASED")
	DeallocationReasonCodes.Register(DeallocationTransfer, "TRANSFER")
	DeallocationReasonCodes.Register(DeallocationStatusChange, "KEYWORKER_STATUS_CHANGE")
	DeallocationReasonCodes.Register(DeallocationManual, "MANUAL")

	StatusCodes.Register(StatusActive, "ACT")
	StatusCodes.Register(StatusAnnualLeave, "UAL")
	StatusCodes.Register(StatusLongTermAbsence, "ULT")
	StatusCodes.Register(StatusNoPrisonerContact, "UNP")
	StatusCodes.Register(StatusInactive, "INA")
}

// =============================================================================
// ALLOCATION
// =============================================================================

// Allocation assigns one offender to one key worker at one prison.
// Invariant: Active == (ExpiresAt == nil). Allocations are never deleted.
type Allocation struct {
	ID                 int64
	OffenderNo         string
	StaffID            int64
	PrisonID           string
	AssignedAt         time.Time
	ExpiresAt          *time.Time
	Active             bool
	Type               AllocationType
	Reason             AllocationReason
	DeallocationReason DeallocationReason
}

// Deallocate ends the allocation at the given instant.
func (a *Allocation) Deallocate(at time.Time, reason DeallocationReason) {
	expiry := at
	a.ExpiresAt = &expiry
	a.Active = false
	a.DeallocationReason = reason
}

// Overlaps reports whether the allocation was in force at any point of the window.
func (a Allocation) Overlaps(window generic.Period) bool {
	return window.Overlaps(a.AssignedAt, a.ExpiresAt)
}

// DaysAllocated counts the days of the window the allocation was in force.
func (a Allocation) DaysAllocated(window generic.Period) int {
	return window.OverlapDays(a.AssignedAt, a.ExpiresAt)
}

// =============================================================================
// KEY WORKER
// =============================================================================

// KeyWorker is a staff member who can hold a caseload.
// Invariant: a timed-unavailability status has ActiveDate set; ACTIVE does not.
type KeyWorker struct {
	StaffID        int64
	Capacity       int
	Status         Status
	ActiveDate     *generic.TimePoint
	AutoAllocation bool
}

// ReturnToActive makes the key worker available again.
func (k *KeyWorker) ReturnToActive() {
	k.Status = StatusActive
	k.ActiveDate = nil
	k.AutoAllocation = true
}

// =============================================================================
// CHECKPOINT
// =============================================================================

// DeallocateJobName is the checkpoint key of the deallocation sweep.
const DeallocateJobName = "DeallocateJob"

// Checkpoint records when a batch job last completed a full sweep.
type Checkpoint struct {
	JobName string
	LastRun time.Time
}

// =============================================================================
// MOVEMENTS (upstream, read-only)
// =============================================================================

// Movement type codes used by the upstream system.
const (
	MovementRelease   = "REL"
	MovementTransfer  = "TRN"
	MovementAdmission = "ADM"
)

// MovementRecord is one external movement of an offender.
type MovementRecord struct {
	OffenderNo   string
	MovementType string
	FromAgency   string
	ToAgency     string
	Direction    string
	CreatedAt    time.Time
}

// IsRelease reports whether the movement is a release from custody.
func (m MovementRecord) IsRelease() bool {
	return m.MovementType == MovementRelease
}

// DeallocationReason maps the movement onto the reason an allocation ends.
func (m MovementRecord) DeallocationReason() DeallocationReason {
	if m.IsRelease() {
		return DeallocationReleased
	}
	return DeallocationTransfer
}

// =============================================================================
// CASE NOTES
// =============================================================================

// Key-worker case note type and subtypes.
const (
	CaseNoteType           = "KA"
	CaseNoteSessionSubType = "KS"
	CaseNoteEntrySubType   = "KE"
)

// UsageCount is the number of case notes of one subtype for one offender.
type UsageCount struct {
	OffenderNo      string
	CaseNoteType    string
	CaseNoteSubType string
	NumCaseNotes    int64
}

// =============================================================================
// PRISON CONFIG
// =============================================================================

// DefaultSessionFrequencyWeeks applies to prisons with no configuration.
const DefaultSessionFrequencyWeeks = 1

// PrisonConfig is the per-prison key-worker configuration.
type PrisonConfig struct {
	PrisonID              string
	Migrated              bool
	AutoAllocate          bool
	SessionFrequencyWeeks int
}

// SessionFrequency returns the configured frequency, never less than one week.
func (p PrisonConfig) SessionFrequency() int {
	if p.SessionFrequencyWeeks < 1 {
		return DefaultSessionFrequencyWeeks
	}
	return p.SessionFrequencyWeeks
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

// DailySnapshot is one day of pre-computed statistics for a prison.
type DailySnapshot struct {
	PrisonID                         string
	SnapshotDate                     generic.TimePoint
	NumberKeyWorkerSessions          int64
	NumberKeyWorkerEntries           int64
	NumberOfActiveKeyworkers         int64
	NumPrisonersAssignedKeyWorker    int64
	TotalNumPrisoners                int64
	AvgDaysReceptionToAllocation     *int64
	AvgDaysReceptionToKeyWorkSession *int64
}

// AggregatedSnapshot summarises the daily snapshots of one window.
// Counts are summed; population figures and day averages are means.
type AggregatedSnapshot struct {
	PrisonID                         string
	StartDate                        generic.TimePoint
	EndDate                          generic.TimePoint
	NumberKeyWorkerSessions          int64
	NumberKeyWorkerEntries           int64
	NumberOfActiveKeyworkers         float64
	NumPrisonersAssignedKeyWorker    float64
	TotalNumPrisoners                float64
	AvgDaysReceptionToAllocation     float64
	AvgDaysReceptionToKeyWorkSession float64
}
