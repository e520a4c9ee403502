/*
dto.go - Data Transfer Objects for API responses

PURPOSE:
  JSON shapes of the stats and batch endpoints. Domain types stay free of
  JSON concerns; the handlers convert at the edge.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - Rates are JSON numbers with two decimals (json.Number), never floats, so
    42.86 stays 42.86

SEE ALSO:
  - handlers.go: Uses these types
  - keyworker/stats.go: Source types
*/
package api

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/keyworker-engine/keyworker"
	"github.com/warp/keyworker-engine/store/sqlite"
)

// =============================================================================
// STATS
// =============================================================================

// StaffStatsDTO is one key worker's compliance at one prison.
type StaffStatsDTO struct {
	StaffID                    int64       `json:"staffId"`
	PrisonID                   string      `json:"prisonId"`
	FromDate                   string      `json:"fromDate"`
	ToDate                     string      `json:"toDate"`
	ProjectedKeyworkerSessions int64       `json:"projectedKeyworkerSessions"`
	ComplianceRate             json.Number `json:"complianceRate"`
	CaseNoteEntryCount         int64       `json:"caseNoteEntryCount"`
	CaseNoteSessionCount       int64       `json:"caseNoteSessionCount"`
}

// SummaryStatisticDTO summarises one prison over one window.
type SummaryStatisticDTO struct {
	DataRangeFrom                              string      `json:"dataRangeFrom"`
	DataRangeTo                                string      `json:"dataRangeTo"`
	NumberKeyWorkerSessions                    int64       `json:"numberKeyWorkerSessions"`
	NumberKeyWorkerEntries                     int64       `json:"numberKeyWorkerEntries"`
	NumberOfActiveKeyworkers                   int64       `json:"numberOfActiveKeyworkers"`
	TotalNumPrisoners                          int64       `json:"totalNumPrisoners"`
	NumPrisonersAssignedKeyWorker              int64       `json:"numPrisonersAssignedKeyWorker"`
	PercentagePrisonersWithKeyworker           int64       `json:"percentagePrisonersWithKeyworker"`
	NumProjectedKeyworkerSessions              int64       `json:"numProjectedKeyworkerSessions"`
	ComplianceRate                             json.Number `json:"complianceRate"`
	AvgNumDaysFromReceptionToAllocationDays    int64       `json:"avgNumDaysFromReceptionToAllocationDays"`
	AvgNumDaysFromReceptionToKeyWorkingSession int64       `json:"avgNumDaysFromReceptionToKeyWorkingSession"`
}

// PrisonStatsDTO is the summary and timelines of one prison or a combination.
type PrisonStatsDTO struct {
	PrisonID                    string                 `json:"prisonId,omitempty"`
	FromDate                    string                 `json:"fromDate"`
	ToDate                      string                 `json:"toDate"`
	Current                     *SummaryStatisticDTO   `json:"current"`
	Previous                    *SummaryStatisticDTO   `json:"previous"`
	KeyworkerSessions           map[string]int64       `json:"keyworkerSessions"`
	ComplianceTimeline          map[string]json.Number `json:"complianceTimeline"`
	AvgOverallKeyworkerSessions int64                  `json:"avgOverallKeyworkerSessions"`
	AvgOverallCompliance        *json.Number           `json:"avgOverallCompliance"`
}

// PrisonStatsResponse holds the combined summary and every requested prison.
type PrisonStatsResponse struct {
	Summary PrisonStatsDTO            `json:"summary"`
	Prisons map[string]PrisonStatsDTO `json:"prisons"`
}

// =============================================================================
// BATCH
// =============================================================================

// BatchRunDTO is one recorded job execution.
type BatchRunDTO struct {
	ID          string          `json:"id"`
	Job         string          `json:"job"`
	Status      string          `json:"status"`
	Trigger     string          `json:"trigger"`
	Error       string          `json:"error,omitempty"`
	Summary     json.RawMessage `json:"summary,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// ScheduleDTO lists the registered jobs and when each runs next.
type ScheduleDTO struct {
	Jobs    []string             `json:"jobs"`
	NextRun map[string]time.Time `json:"nextRun"`
}

// HealthDTO is the /health body. The service itself is always UP; the
// upstream Prison API status is a detail.
type HealthDTO struct {
	Status    string             `json:"status"`
	PrisonAPI *UpstreamHealthDTO `json:"prisonApi,omitempty"`
}

type UpstreamHealthDTO struct {
	HTTPStatus int    `json:"httpStatus"`
	Error      string `json:"error,omitempty"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func rate(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

// NewStaffStatsDTO renders rates with two decimal places.
func NewStaffStatsDTO(s keyworker.StaffStats) StaffStatsDTO {
	return StaffStatsDTO{
		StaffID:                    s.StaffID,
		PrisonID:                   s.PrisonID,
		FromDate:                   s.Window.Start.String(),
		ToDate:                     s.Window.End.String(),
		ProjectedKeyworkerSessions: s.ProjectedSessions,
		ComplianceRate:             rate(s.ComplianceRate),
		CaseNoteEntryCount:         s.CaseNoteEntryCount,
		CaseNoteSessionCount:       s.CaseNoteSessionCount,
	}
}

func toSummaryDTO(s *keyworker.SummaryStatistic) *SummaryStatisticDTO {
	if s == nil {
		return nil
	}
	return &SummaryStatisticDTO{
		DataRangeFrom:                              s.DataRangeFrom.String(),
		DataRangeTo:                                s.DataRangeTo.String(),
		NumberKeyWorkerSessions:                    s.NumberKeyWorkerSessions,
		NumberKeyWorkerEntries:                     s.NumberKeyWorkerEntries,
		NumberOfActiveKeyworkers:                   s.NumberOfActiveKeyworkers,
		TotalNumPrisoners:                          s.TotalNumPrisoners,
		NumPrisonersAssignedKeyWorker:              s.NumPrisonersAssignedKeyWorker,
		PercentagePrisonersWithKeyworker:           s.PercentagePrisonersWithKeyworker,
		NumProjectedKeyworkerSessions:              s.NumProjectedKeyworkerSessions,
		ComplianceRate:                             rate(s.ComplianceRate),
		AvgNumDaysFromReceptionToAllocationDays:    s.AvgDaysReceptionToAllocation,
		AvgNumDaysFromReceptionToKeyWorkingSession: s.AvgDaysReceptionToKeyWorkSession,
	}
}

func toPrisonStatsDTO(p keyworker.PrisonStats) PrisonStatsDTO {
	dto := PrisonStatsDTO{
		PrisonID:                    p.PrisonID,
		FromDate:                    p.Window.Start.String(),
		ToDate:                      p.Window.End.String(),
		Current:                     toSummaryDTO(p.Current),
		Previous:                    toSummaryDTO(p.Previous),
		KeyworkerSessions:           make(map[string]int64, len(p.Timeline)),
		ComplianceTimeline:          make(map[string]json.Number, len(p.Timeline)),
		AvgOverallKeyworkerSessions: p.AvgOverallSessions,
	}
	for _, b := range p.Timeline {
		week := b.WeekEnding.String()
		dto.KeyworkerSessions[week] = b.Sessions
		dto.ComplianceTimeline[week] = rate(b.ComplianceRate)
	}
	if p.AvgOverallCompliance != nil {
		avg := rate(*p.AvgOverallCompliance)
		dto.AvgOverallCompliance = &avg
	}
	return dto
}

// NewPrisonStatsResponse renders the combined summary and each prison.
func NewPrisonStatsResponse(s keyworker.PrisonStatsSummary) PrisonStatsResponse {
	resp := PrisonStatsResponse{
		Summary: toPrisonStatsDTO(s.Summary),
		Prisons: make(map[string]PrisonStatsDTO, len(s.Prisons)),
	}
	for id, p := range s.Prisons {
		resp.Prisons[id] = toPrisonStatsDTO(p)
	}
	return resp
}

// NewBatchRunDTO renders a stored run with its summary embedded as JSON.
func NewBatchRunDTO(r sqlite.BatchRun) BatchRunDTO {
	dto := BatchRunDTO{
		ID:          r.ID,
		Job:         r.Job,
		Status:      r.Status,
		Trigger:     r.Trigger,
		Error:       r.Error,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
	if r.SummaryJSON != "" {
		dto.Summary = json.RawMessage(r.SummaryJSON)
	}
	return dto
}
