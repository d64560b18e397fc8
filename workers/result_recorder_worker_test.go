/* result_recorder_worker_test.go
 * Contains unit tests for the scoreboard result recorder. The HTTP side is
 * exercised against httptest servers; no database needed.
 */

package workers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"match-escrow-system/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSettlement() *models.SettlementRecord {
	return &models.SettlementRecord{
		ID:           "a2f1c9e0-0000-0000-0000-000000000001",
		MatchID:      42,
		Token:        models.NativeToken,
		Winner:       "alice",
		Losers:       `["bob","carol"]`,
		TotalPrize:   300,
		WinnerAmount: 270,
		FeeTotal:     30,
		CreatedAt:    time.Date(2026, 8, 1, 12, 30, 0, 0, time.UTC),
	}
}

func TestBuildResultPayload(t *testing.T) {
	payload := BuildResultPayload(sampleSettlement())

	assert.Equal(t, uint64(42), payload.MatchID)
	assert.Equal(t, "alice", payload.Winner)
	assert.Equal(t, []string{"bob", "carol"}, payload.Losers)
	assert.Equal(t, int64(300), payload.TotalPrize)
	assert.Equal(t, models.NativeToken, payload.Token)
	assert.Equal(t, "2026-08-01T12:30:00Z", payload.SettledAt)
}

func TestBuildResultPayload_MalformedLosers(t *testing.T) {
	rec := sampleSettlement()
	rec.Losers = "not json"

	payload := BuildResultPayload(rec)
	assert.Nil(t, payload.Losers)
	assert.Equal(t, "alice", payload.Winner)
}

func TestRecordOne_PostsPayloadWithServiceToken(t *testing.T) {
	var gotToken string
	var gotPayload MatchResultPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "/api/v1/internal/match-results", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		gotToken = r.Header.Get("X-Service-Token")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	w := NewResultRecorderWorker(nil, server.URL, "/api/v1/internal/match-results", "secret-token")
	err := w.recordOne(context.Background(), sampleSettlement())
	require.NoError(t, err)

	assert.Equal(t, "secret-token", gotToken)
	assert.Equal(t, uint64(42), gotPayload.MatchID)
	assert.Equal(t, "alice", gotPayload.Winner)
	assert.Equal(t, []string{"bob", "carol"}, gotPayload.Losers)
}

func TestRecordOne_NonSuccessStatusIsAnError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "scoreboard maintenance", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	w := NewResultRecorderWorker(nil, server.URL, "/api/v1/internal/match-results", "secret-token")
	err := w.recordOne(context.Background(), sampleSettlement())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestRecordOne_UnreachableService(t *testing.T) {
	w := NewResultRecorderWorker(nil, "http://127.0.0.1:1", "/api/v1/internal/match-results", "secret-token")
	err := w.recordOne(context.Background(), sampleSettlement())
	assert.Error(t, err)
}
