package api

import (
	"bytes"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ppk.report/internal/align"
	"github.com/banshee-data/ppk.report/internal/db"
	"github.com/banshee-data/ppk.report/internal/monitoring"
	"github.com/banshee-data/ppk.report/internal/testutil"
	"github.com/banshee-data/ppk.report/internal/timeutil"
	"github.com/banshee-data/ppk.report/internal/version"
)

// setupTestServer serves a three-capture flight whose EO records are one
// capture late, so the best shift over [-1, 1] is 1.
func setupTestServer(t *testing.T, withStore bool) *Server {
	t.Helper()
	metrics, err := monitoring.NewSearchMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	searcher := align.NewSearcher(nil)
	searcher.Recorder = metrics
	session := testutil.FlightSession(t, 3, 1, searcher)

	opts := Options{
		Label:       "flight-7",
		Range:       align.ShiftRange{Min: -1, Max: 1},
		Metrics:     metrics,
		ImageSource: "images.json",
		EOSources:   []string{"altum_eo.txt"},
	}
	if withStore {
		database, err := db.NewDB(filepath.Join(t.TempDir(), "runs.db"))
		require.NoError(t, err)
		t.Cleanup(func() { database.Close() })
		opts.Store = db.NewRunStore(database)
	}
	return NewServer(session, opts)
}

func do(t *testing.T, s *Server, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != nil {
		req = httptest.NewRequest(method, target, bytes.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.ServeMux().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func TestHandleSummary(t *testing.T) {
	s := setupTestServer(t, false)
	w := do(t, s, http.MethodGet, "/api/summary", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp summaryResponse
	decode(t, w, &resp)
	assert.Equal(t, "flight-7", resp.Label)
	assert.Equal(t, align.Summary{Images: 3, EORecords: 3, CommonKeys: 3}, resp.Summary)
	assert.Equal(t, align.ShiftRange{Min: -1, Max: 1}, resp.Range)
	assert.Contains(t, resp.Objectives, "avg_3d")
}

func TestHandleSummaryMethodNotAllowed(t *testing.T) {
	s := setupTestServer(t, false)
	w := do(t, s, http.MethodPost, "/api/summary", nil)
	testutil.AssertStatusCode(t, w.Code, http.StatusMethodNotAllowed)
}

func TestHandleObjectives(t *testing.T) {
	s := setupTestServer(t, false)
	w := do(t, s, http.MethodGet, "/api/objectives", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var objs []map[string]string
	decode(t, w, &objs)
	require.Len(t, objs, 5)
	assert.Equal(t, "avg_2d", objs[0]["name"])
	assert.NotEmpty(t, objs[0]["description"])
}

func TestHandleAlignment(t *testing.T) {
	s := setupTestServer(t, false)

	tests := []struct {
		query string
		avg   float64
	}{
		{"?shift=1", 0},
		{"?shift=4", 0},
		{"", 40.0 / 3},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			w := do(t, s, http.MethodGet, "/api/alignment"+tt.query, nil)
			require.Equal(t, http.StatusOK, w.Code)

			var ev align.Evaluation
			decode(t, w, &ev)
			assert.Equal(t, 3, ev.Stats.MatchCount)
			assert.InDelta(t, tt.avg, ev.Stats.Avg3D, 1e-9)
			assert.Len(t, ev.Matches, 3)
		})
	}
}

func TestHandleAlignmentBadShift(t *testing.T) {
	s := setupTestServer(t, false)
	w := do(t, s, http.MethodGet, "/api/alignment?shift=one", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "must be an integer")
}

func TestHandleSearch(t *testing.T) {
	s := setupTestServer(t, false)
	w := do(t, s, http.MethodGet, "/api/search", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var res align.SearchResult
	decode(t, w, &res)
	assert.True(t, res.Found)
	assert.Equal(t, 1, res.BestShift)
	assert.Equal(t, "avg_3d", res.Objective)
	assert.Len(t, res.PerShift, 3)

	w = do(t, s, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `alignment_searches_total{outcome="aligned"} 1`)
	assert.Contains(t, w.Body.String(), "alignment_best_shift 1")
}

func TestHandleSearchParams(t *testing.T) {
	s := setupTestServer(t, false)

	w := do(t, s, http.MethodGet, "/api/search?min=-5&max=5&objective=max_3d", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res align.SearchResult
	decode(t, w, &res)
	assert.Equal(t, "max_3d", res.Objective)
	assert.Equal(t, align.ShiftRange{Min: -5, Max: 5}, res.Range)
	assert.Equal(t, 1, res.BestShift)

	for _, q := range []string{"?min=3&max=1", "?objective=nope", "?min=x", "?max=-20000"} {
		w := do(t, s, http.MethodGet, "/api/search"+q, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, q)
	}
}

func TestHandleSearchAtIntLimits(t *testing.T) {
	s := setupTestServer(t, false)

	w := do(t, s, http.MethodGet, "/api/search?min=9223372036854775806&max=9223372036854775807", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var res align.SearchResult
	decode(t, w, &res)
	assert.Equal(t, align.ShiftRange{Min: math.MaxInt - 1, Max: math.MaxInt}, res.Range)
	assert.Len(t, res.PerShift, 2)

	w = do(t, s, http.MethodGet, "/api/search?min=-9223372036854775808&max=9223372036854775807", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleSearchNoAlignment(t *testing.T) {
	session, err := align.NewSession(
		[]align.PositionRecord{{Key: "A", Time: align.ParseTimestamp("1")}},
		[]align.PositionRecord{{Key: "B", Time: align.ParseTimestamp("1")}},
		align.SessionOptions{},
	)
	require.NoError(t, err)
	s := NewServer(session, Options{Range: align.ShiftRange{Min: 0, Max: 2}})

	w := do(t, s, http.MethodGet, "/api/search", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var raw map[string]interface{}
	decode(t, w, &raw)
	assert.Equal(t, false, raw["found"])
	assert.Nil(t, raw["best_score"])
	assert.Len(t, raw["per_shift"], 3)
}

func TestRunsDisabledWithoutStore(t *testing.T) {
	s := setupTestServer(t, false)
	testutil.AssertStatusCode(t, do(t, s, http.MethodGet, "/api/runs", nil).Code, http.StatusNotFound)
	testutil.AssertStatusCode(t, do(t, s, http.MethodGet, "/api/runs/abc", nil).Code, http.StatusNotFound)
}

func TestRunsLifecycle(t *testing.T) {
	s := setupTestServer(t, true)

	w := do(t, s, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()))

	w = do(t, s, http.MethodPost, "/api/runs", []byte(`{"label":"search"}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var searched runCreated
	decode(t, w, &searched)
	assert.Equal(t, db.StatusAligned, searched.Status)
	assert.NotEmpty(t, searched.RunID)

	w = do(t, s, http.MethodPost, "/api/runs", []byte(`{"shift":0}`))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var pinned runCreated
	decode(t, w, &pinned)
	assert.Equal(t, db.StatusPinned, pinned.Status)

	w = do(t, s, http.MethodGet, "/api/runs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var runs []db.Run
	decode(t, w, &runs)
	assert.Len(t, runs, 2)

	w = do(t, s, http.MethodGet, "/api/runs/"+searched.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail runDetail
	decode(t, w, &detail)
	require.NotNil(t, detail.Run)
	assert.Equal(t, "search", detail.Run.Label)
	assert.Equal(t, "images.json", detail.Run.ImageSource)
	assert.Equal(t, []string{"altum_eo.txt"}, detail.Run.EOSources)
	require.NotNil(t, detail.Run.BestShift)
	assert.Equal(t, 1, *detail.Run.BestShift)
	assert.Len(t, detail.PerShift, 3)
	assert.Len(t, detail.Matches, 3)

	w = do(t, s, http.MethodGet, "/api/runs/"+pinned.RunID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	decode(t, w, &detail)
	assert.Equal(t, "flight-7", detail.Run.Label, "server label is the default")

	assert.Equal(t, http.StatusNoContent, do(t, s, http.MethodDelete, "/api/runs/"+pinned.RunID, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/runs/"+pinned.RunID, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodDelete, "/api/runs/"+pinned.RunID, nil).Code)
}

func TestCreateRunRejectsBadInput(t *testing.T) {
	s := setupTestServer(t, true)

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"shift":`},
		{"unknown objective", `{"objective":"best"}`},
		{"inverted range", `{"min":2,"max":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/runs", []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, s, http.MethodPut, "/api/runs", nil).Code)
}

func TestHandleVersion(t *testing.T) {
	s := setupTestServer(t, false)
	w := do(t, s, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var info version.Info
	decode(t, w, &info)
	assert.Equal(t, version.Current(), info)
}

func TestHandleDashboard(t *testing.T) {
	s := setupTestServer(t, false)

	w := do(t, s, http.MethodGet, "/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "flight-7")
	assert.Contains(t, w.Body.String(), "Residuals at shift 1")

	w = do(t, s, http.MethodGet, "/dashboard?shift=0", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Residuals at shift 0")

	w = do(t, s, http.MethodGet, "/dashboard?shift=zero", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestInstrumentation(t *testing.T) {
	s := setupTestServer(t, false)
	clock := timeutil.NewMockClock(time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC))
	clock.SetStep(5 * time.Millisecond)
	s.clock = clock

	logs, restore := monitoring.CaptureLogger()
	defer restore()

	for _, shift := range []string{"0", "1", "2"} {
		w := do(t, s, http.MethodGet, "/api/alignment?shift="+shift, nil)
		require.Equal(t, http.StatusOK, w.Code)
	}
	w := do(t, s, http.MethodGet, "/api/alignment?shift=x", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, 3.0, promtestutil.ToFloat64(s.metrics.Requests.WithLabelValues("/api/alignment", "200")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(s.metrics.Requests.WithLabelValues("/api/alignment", "400")))
	assert.Equal(t, 1, promtestutil.CollectAndCount(s.metrics.RequestDuration), "query strings must not create series")

	lines := logs.Lines()
	require.Len(t, lines, 4)
	assert.Equal(t, "[api] 200 GET /api/alignment?shift=0 5.000ms", lines[0])
	assert.Equal(t, "[api] 400 GET /api/alignment?shift=x 5.000ms", lines[3])
}
