/*
client.go - HTTP client for the upstream Prison API

PURPOSE:
  Implements keyworker.MovementSource and keyworker.CaseNoteUsageSource over
  the Prison API's JSON endpoints. The engines only see the interfaces.

ENDPOINTS:
  GET  /movements?fromDateTime=...&movementDate=YYYY-MM-DD
  POST /case-notes/usage
  GET  /health

ERRORS:
  Any non-2xx answer becomes an *HTTPError. Gateway answers (502/503/504)
  unwrap to generic.ErrGatewayUnavailable, which is what the deallocation
  sweep retries on. Everything else is permanent.

SEE ALSO:
  - keyworker/store.go: The interfaces implemented here
  - generic/retry.go: Retries on generic.IsTransient
*/
package prisonapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/warp/keyworker-engine/generic"
	"github.com/warp/keyworker-engine/keyworker"
)

// fromDateTimeLayout is the local date-time shape the upstream API accepts.
const fromDateTimeLayout = "2006-01-02T15:04:05"

// maxErrorBody bounds how much of an error response is kept on HTTPError.
const maxErrorBody = 4 << 10

var (
	_ keyworker.MovementSource      = (*Client)(nil)
	_ keyworker.CaseNoteUsageSource = (*Client)(nil)
)

// =============================================================================
// ERRORS
// =============================================================================

// HTTPError is a non-2xx answer from the upstream API.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("%s %s: upstream returned %d", e.Method, e.Path, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Unwrap maps gateway statuses onto generic.ErrGatewayUnavailable.
func (e *HTTPError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return generic.ErrGatewayUnavailable
	}
	return nil
}

// =============================================================================
// CLIENT
// =============================================================================

// Client talks to one Prison API base URL.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New returns a client with its own http.Client bounded by timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

type movementDTO struct {
	OffenderNo     string `json:"offenderNo"`
	CreateDateTime string `json:"createDateTime"`
	FromAgency     string `json:"fromAgency"`
	ToAgency       string `json:"toAgency"`
	MovementType   string `json:"movementType"`
	DirectionCode  string `json:"directionCode"`
}

// Movements returns the movements recorded on the given day at or after since.
func (c *Client) Movements(ctx context.Context, since time.Time, on generic.TimePoint) ([]keyworker.MovementRecord, error) {
	q := url.Values{}
	q.Set("fromDateTime", since.UTC().Format(fromDateTimeLayout))
	q.Set("movementDate", on.String())

	var dtos []movementDTO
	if err := c.do(ctx, http.MethodGet, "/movements?"+q.Encode(), nil, &dtos); err != nil {
		return nil, err
	}

	records := make([]keyworker.MovementRecord, 0, len(dtos))
	for _, d := range dtos {
		createdAt, err := parseDateTime(d.CreateDateTime)
		if err != nil {
			return nil, fmt.Errorf("movement for %s: %w", d.OffenderNo, err)
		}
		records = append(records, keyworker.MovementRecord{
			OffenderNo:   d.OffenderNo,
			MovementType: d.MovementType,
			FromAgency:   d.FromAgency,
			ToAgency:     d.ToAgency,
			Direction:    d.DirectionCode,
			CreatedAt:    createdAt,
		})
	}
	return records, nil
}

type usageRequest struct {
	OffenderNos []string `json:"offenderNos"`
	Type        string   `json:"type"`
	SubType     string   `json:"subType,omitempty"`
	FromDate    string   `json:"fromDate"`
	ToDate      string   `json:"toDate"`
}

type usageDTO struct {
	OffenderNo      string `json:"offenderNo"`
	CaseNoteType    string `json:"caseNoteType"`
	CaseNoteSubType string `json:"caseNoteSubType"`
	NumCaseNotes    int64  `json:"numCaseNotes"`
}

// CaseNoteUsage returns case-note counts per offender and subtype. An empty
// subType asks for every subtype of caseNoteType.
func (c *Client) CaseNoteUsage(ctx context.Context, offenderNos []string, caseNoteType, subType string, from, to generic.TimePoint) ([]keyworker.UsageCount, error) {
	if len(offenderNos) == 0 {
		return nil, nil
	}

	body := usageRequest{
		OffenderNos: offenderNos,
		Type:        caseNoteType,
		SubType:     subType,
		FromDate:    from.String(),
		ToDate:      to.String(),
	}
	var dtos []usageDTO
	if err := c.do(ctx, http.MethodPost, "/case-notes/usage", body, &dtos); err != nil {
		return nil, err
	}

	counts := make([]keyworker.UsageCount, len(dtos))
	for i, d := range dtos {
		counts[i] = keyworker.UsageCount{
			OffenderNo:      d.OffenderNo,
			CaseNoteType:    d.CaseNoteType,
			CaseNoteSubType: d.CaseNoteSubType,
			NumCaseNotes:    d.NumCaseNotes,
		}
	}
	return counts, nil
}

// Health probes the upstream /health endpoint and returns the HTTP status it
// answered with. An unreachable upstream counts as 503.
func (c *Client) Health(ctx context.Context) (int, error) {
	err := c.do(ctx, http.MethodGet, "/health", nil, nil)
	var httpErr *HTTPError
	switch {
	case err == nil:
		return http.StatusOK, nil
	case errors.As(err, &httpErr):
		return httpErr.StatusCode, err
	default:
		return http.StatusServiceUnavailable, err
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", path, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{
			Method:     method,
			Path:       strings.SplitN(path, "?", 2)[0],
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient == nil {
		return http.DefaultClient
	}
	return c.HTTPClient
}

// parseDateTime accepts both zoned and local timestamps; local ones are UTC.
func parseDateTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02T15:04:05.999999999", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}
