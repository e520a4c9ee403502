package keyworker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/warp/keyworker-engine/generic"
)

// =============================================================================
// STATUS TRANSITION - Key workers returning from timed unavailability
// =============================================================================

// StatusEngine returns key workers to ACTIVE once their return date has
// passed. Like the deallocation sweep it reports through a JobResult: on
// failure the caller gets no staff list at all, never a partial one.
type StatusEngine struct {
	KeyWorkers KeyWorkerStore
	Sink       EventSink
	Logger     *slog.Logger
	Now        func() time.Time
}

// Run promotes every key worker whose return date is today or earlier and
// returns their staff IDs.
func (e *StatusEngine) Run(ctx context.Context) generic.JobResult[[]int64] {
	return generic.RunJob(func() ([]int64, error) {
		return e.update(ctx)
	})
}

func (e *StatusEngine) update(ctx context.Context) ([]int64, error) {
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "update-status")

	today := generic.DateOf(now())
	updated := []int64{}

	for _, status := range TimedUnavailabilityStatuses() {
		returning, err := e.KeyWorkers.FindReturningFromLeave(ctx, status, today)
		if err != nil {
			return nil, fmt.Errorf("finding key workers in %s: %w", status, err)
		}
		for _, kw := range returning {
			kw.ReturnToActive()
			if err := e.KeyWorkers.SaveKeyWorker(ctx, kw); err != nil {
				return nil, fmt.Errorf("activating key worker %d: %w", kw.StaffID, err)
			}
			updated = append(updated, kw.StaffID)
		}
	}

	if e.Sink != nil {
		e.Sink.Event(ctx, EventUpdateStatus, map[string]string{
			AttrKeyworkersUpdated: FormatStaffIDs(updated),
		})
	}
	logger.Info("key worker statuses updated", "date", today.String(), "updated", len(updated))
	return updated, nil
}

// AttrKeyworkersUpdated is the updateStatus event attribute listing the staff
// IDs returned to active, formatted by FormatStaffIDs.
const AttrKeyworkersUpdated = "KeyworkersUpdated"

// FormatStaffIDs renders IDs as "[1, 2, 3]"; an empty list is "[]".
func FormatStaffIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// ParseStaffIDs is the inverse of FormatStaffIDs.
func ParseStaffIDs(s string) ([]int64, error) {
	inner, ok := strings.CutPrefix(strings.TrimSpace(s), "[")
	if ok {
		inner, ok = strings.CutSuffix(inner, "]")
	}
	if !ok {
		return nil, fmt.Errorf("%w: staff id list %q", generic.ErrInvalidArgument, s)
	}
	if strings.TrimSpace(inner) == "" {
		return []int64{}, nil
	}
	parts := strings.Split(inner, ",")
	ids := make([]int64, len(parts))
	for i, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: staff id list %q", generic.ErrInvalidArgument, s)
		}
		ids[i] = id
	}
	return ids, nil
}
