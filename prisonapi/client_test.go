package prisonapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/keyworker-engine/generic"
	"github.com/warp/keyworker-engine/keyworker"
	"github.com/warp/keyworker-engine/prisonapi"
)

// =============================================================================
// MOVEMENTS
// =============================================================================

func TestMovements_DecodesRecords(t *testing.T) {
	// GIVEN: An upstream answering one release and one transfer
	// WHEN: Movements are fetched for a day
	// THEN: The query carries the threshold and date, and records are decoded

	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/movements", r.URL.Path)
		gotQuery = map[string]string{
			"fromDateTime": r.URL.Query().Get("fromDateTime"),
			"movementDate": r.URL.Query().Get("movementDate"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"offenderNo":"A1234AA","createDateTime":"2024-03-14T09:30:00","fromAgency":"MDI","toAgency":"OUT","movementType":"REL","directionCode":"OUT"},
			{"offenderNo":"B2345BB","createDateTime":"2024-03-14T11:00:00.123Z","fromAgency":"MDI","toAgency":"LEI","movementType":"TRN","directionCode":"OUT"}
		]`))
	}))
	defer srv.Close()

	client := prisonapi.New(srv.URL, time.Second)
	since := time.Date(2024, time.March, 13, 2, 0, 0, 0, time.UTC)
	records, err := client.Movements(context.Background(), since, generic.NewTimePoint(2024, time.March, 14))
	require.NoError(t, err)

	assert.Equal(t, "2024-03-13T02:00:00", gotQuery["fromDateTime"])
	assert.Equal(t, "2024-03-14", gotQuery["movementDate"])

	require.Len(t, records, 2)
	assert.Equal(t, "A1234AA", records[0].OffenderNo)
	assert.True(t, records[0].IsRelease())
	assert.Equal(t, time.Date(2024, time.March, 14, 9, 30, 0, 0, time.UTC), records[0].CreatedAt)
	assert.Equal(t, "LEI", records[1].ToAgency)
	assert.Equal(t, keyworker.DeallocationTransfer, records[1].DeallocationReason())
	assert.Equal(t, "OUT", records[1].Direction)
}

func TestMovements_BadTimestamp_Fails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"offenderNo":"A1234AA","createDateTime":"yesterday"}]`))
	}))
	defer srv.Close()

	_, err := prisonapi.New(srv.URL, time.Second).Movements(context.Background(), time.Now(), generic.Today())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A1234AA")
}

// =============================================================================
// ERROR CLASSIFICATION
// =============================================================================

func TestHTTPError_GatewayStatusesAreTransient(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{http.StatusBadGateway, true},
		{http.StatusServiceUnavailable, true},
		{http.StatusGatewayTimeout, true},
		{http.StatusInternalServerError, false},
		{http.StatusNotFound, false},
		{http.StatusUnauthorized, false},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "upstream says no", tt.status)
			}))
			defer srv.Close()

			_, err := prisonapi.New(srv.URL, time.Second).Movements(context.Background(), time.Now(), generic.Today())
			require.Error(t, err)

			var httpErr *prisonapi.HTTPError
			require.True(t, errors.As(err, &httpErr))
			assert.Equal(t, tt.status, httpErr.StatusCode)
			assert.Equal(t, "/movements", httpErr.Path)
			assert.Equal(t, "upstream says no", httpErr.Body)
			assert.Equal(t, tt.transient, generic.IsTransient(err))
		})
	}
}

func TestMovements_RetriedThroughGateway(t *testing.T) {
	// GIVEN: An upstream whose gateway fails once before answering
	// WHEN: The fetch runs under a two-attempt retry policy
	// THEN: The second attempt succeeds

	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := prisonapi.New(srv.URL, time.Second)
	policy := generic.RetryPolicy{
		MaxAttempts: 2,
		Sleep:       func(context.Context, time.Duration) error { return nil },
	}
	records, err := generic.Retry(context.Background(), policy, func(ctx context.Context) ([]keyworker.MovementRecord, error) {
		return client.Movements(ctx, time.Now(), generic.Today())
	})
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 2, calls)
}

// =============================================================================
// CASE NOTE USAGE
// =============================================================================

func TestCaseNoteUsage_PostsFilterAndDecodes(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/case-notes/usage", r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`[
			{"offenderNo":"A1234AA","caseNoteType":"KA","caseNoteSubType":"KS","numCaseNotes":3},
			{"offenderNo":"A1234AA","caseNoteType":"KA","caseNoteSubType":"KE","numCaseNotes":1}
		]`))
	}))
	defer srv.Close()

	counts, err := prisonapi.New(srv.URL, time.Second).CaseNoteUsage(
		context.Background(), []string{"A1234AA"}, keyworker.CaseNoteType, "",
		generic.NewTimePoint(2024, time.February, 1), generic.NewTimePoint(2024, time.February, 29))
	require.NoError(t, err)

	assert.Equal(t, "KA", got["type"])
	assert.NotContains(t, got, "subType")
	assert.Equal(t, "2024-02-01", got["fromDate"])
	assert.Equal(t, "2024-02-29", got["toDate"])
	assert.Equal(t, []any{"A1234AA"}, got["offenderNos"])

	require.Len(t, counts, 2)
	assert.Equal(t, keyworker.CaseNoteSessionSubType, counts[0].CaseNoteSubType)
	assert.Equal(t, int64(3), counts[0].NumCaseNotes)
	assert.Equal(t, int64(1), counts[1].NumCaseNotes)
}

func TestCaseNoteUsage_NoOffenders_SkipsCall(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	counts, err := prisonapi.New(srv.URL, time.Second).CaseNoteUsage(
		context.Background(), nil, keyworker.CaseNoteType, "", generic.Today(), generic.Today())
	require.NoError(t, err)
	assert.Empty(t, counts)
	assert.False(t, called)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"status":"UP"}`))
	}))
	defer srv.Close()

	status, err := prisonapi.New(srv.URL+"/", time.Second).Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
}

func TestHealth_ReportsUpstreamStatus(t *testing.T) {
	// GIVEN: An upstream whose health endpoint answers 500, and one that is down
	// WHEN: Health is probed
	// THEN: The upstream status is reported as is, and an unreachable host as 503

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer failing.Close()

	status, err := prisonapi.New(failing.URL, time.Second).Health(context.Background())
	assert.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, status)

	down := httptest.NewServer(http.NotFoundHandler())
	downURL := down.URL
	down.Close()

	status, err = prisonapi.New(downURL, time.Second).Health(context.Background())
	assert.Error(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}
