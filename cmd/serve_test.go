package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brokerdesk/callpipe/internal/model"
	"github.com/brokerdesk/callpipe/internal/state"
	"github.com/brokerdesk/callpipe/internal/store"
)

func newTestRouter(t *testing.T, run func(ctx context.Context, from, to string) (*model.Run, error)) (http.Handler, *state.Store, store.Store) {
	t.Helper()

	base := t.TempDir()
	ledger, err := state.Open(base)
	require.NoError(t, err)

	st, err := store.NewSQLite(filepath.Join(base, "runs.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	return newRouter(serverDeps{ledger: ledger, store: st, run: run}), ledger, st
}

func TestServe_Healthz(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServe_Stats(t *testing.T) {
	router, ledger, _ := newTestRouter(t, nil)
	require.NoError(t, ledger.MarkAudioDownloaded("c1", "b1", "b1_c1.wav", "/tmp/b1_c1.wav"))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var stats model.ProcessingStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 1, stats.AudioDownloaded)
}

func TestServe_Failed(t *testing.T) {
	router, ledger, _ := newTestRouter(t, nil)
	require.NoError(t, ledger.MarkAudioDownloadFailed("c9", assert.AnError))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/failed", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var failed model.FailedItems
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failed))
	assert.Equal(t, []string{"c9"}, failed.Downloads)
}

func TestServe_ListRuns(t *testing.T) {
	router, _, st := newTestRouter(t, nil)
	_, err := st.CreateRun(context.Background(), "2026-08-01", "2026-08-02")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs?limit=10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, "2026-08-01", runs[0].FromDate)
}

func TestServe_ListRuns_EmptyIsArray(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestServe_LaunchRun(t *testing.T) {
	started := make(chan [2]string, 1)
	router, _, _ := newTestRouter(t, func(ctx context.Context, from, to string) (*model.Run, error) {
		started <- [2]string{from, to}
		return &model.Run{ID: "r1", Status: model.RunStatusComplete}, nil
	})

	body := strings.NewReader(`{"from_date":"2026-08-01","to_date":"2026-08-02"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", body))

	assert.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case got := <-started:
		assert.Equal(t, [2]string{"2026-08-01", "2026-08-02"}, got)
	case <-time.After(2 * time.Second):
		t.Fatal("run was never launched")
	}
}

func TestServe_LaunchRun_MissingDates(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader(`{"from_date":""}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServe_LaunchRun_BadBody(t *testing.T) {
	router, _, _ := newTestRouter(t, nil)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/runs", strings.NewReader("not json")))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
