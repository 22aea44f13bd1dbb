package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/bikeflow/core/model"
	"github.com/kilianp07/bikeflow/core/publish"
	"github.com/kilianp07/bikeflow/core/runlog"
	"github.com/kilianp07/bikeflow/infra/cache"
)

type flowMap map[string][]model.ODRow

func (f flowMap) Flows(_ context.Context, id string) ([]model.ODRow, error) { return f[id], nil }

func do(t *testing.T, h http.Handler, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthz(t *testing.T) {
	rr := do(t, NewRouter(Handlers{}), "/healthz", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
}

func TestLatestFlows(t *testing.T) {
	mem := cache.NewMemory()
	h := NewRouter(Handlers{Latest: mem})

	rr := do(t, h, "/api/flows", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	bucket := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, mem.PutLatest(context.Background(), publish.RunMessage{RunID: "r1", Moved: 6, To: bucket, Flows: []model.ODRow{
		{Origin: "a", Destination: "b", Count: 1},
		{Origin: "a", Destination: "c", Count: 3},
		{Origin: "b", Destination: "c", Count: 2},
	}}, []model.Flow{
		{Bucket: bucket, Origin: "a", Destination: "b", Count: 1},
		{Bucket: bucket, Origin: "a", Destination: "c", Count: 3},
		{Bucket: bucket, Origin: "b", Destination: "c", Count: 2},
	}))

	rr = do(t, h, "/api/flows?top=2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var msg publish.RunMessage
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msg))
	assert.Equal(t, "r1", msg.RunID)
	assert.Equal(t, []model.ODRow{
		{Origin: "a", Destination: "c", Count: 3},
		{Origin: "b", Destination: "c", Count: 2},
	}, msg.Flows)

	rr = do(t, h, "/api/flows?top=0", "")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &msg))
	assert.Len(t, msg.Flows, 3)

	assert.Equal(t, http.StatusBadRequest, do(t, h, "/api/flows?top=-1", "").Code)

	rr = do(t, h, "/api/flows/cumulative?top=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[{"origin_station_id":"a","destination_station_id":"c","count":3}]`, rr.Body.String())

	rr = do(t, h, "/api/flows/cumulative?top=0", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var rows []model.ODRow
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rows))
	assert.Len(t, rows, 3)
}

func TestRunsAuthAndFilters(t *testing.T) {
	store, err := runlog.NewJSONLStore(filepath.Join(t.TempDir(), "runs.jsonl"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.Append(ctx, runlog.RunRecord{RunID: "r1", Timestamp: base, Matcher: "greedy"}))
	require.NoError(t, store.Append(ctx, runlog.RunRecord{RunID: "r2", Timestamp: base.Add(time.Hour), Matcher: "lp"}))

	h := NewRouter(Handlers{Runs: store, Token: "tok"})
	assert.Equal(t, http.StatusUnauthorized, do(t, h, "/api/runs", "").Code)

	rr := do(t, h, "/api/runs?matcher=lp", "tok")
	require.Equal(t, http.StatusOK, rr.Code)
	var recs []runlog.RunRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "r2", recs[0].RunID)

	rr = do(t, h, "/api/runs?end=2025-03-01T10:30:00Z", "tok")
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "r1", recs[0].RunID)

	assert.Equal(t, http.StatusBadRequest, do(t, h, "/api/runs?start=yesterday", "tok").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, "/api/runs?limit=x", "tok").Code)
}

func TestRunsWithoutStore(t *testing.T) {
	rr := do(t, NewRouter(Handlers{}), "/api/runs", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "[]\n", rr.Body.String())
}

func TestRunFlows(t *testing.T) {
	store, err := runlog.NewJSONLStore(filepath.Join(t.TempDir(), "runs.jsonl"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	ctx := context.Background()
	require.NoError(t, store.Append(ctx, runlog.RunRecord{RunID: "r1", Timestamp: time.Now(), Moved: 2}))
	require.NoError(t, store.Append(ctx, runlog.RunRecord{RunID: "quiet", Timestamp: time.Now()}))

	h := NewRouter(Handlers{Runs: store, Flows: flowMap{"r1": {{Origin: "a", Destination: "b", Count: 2}}}})
	rr := do(t, h, "/api/runs/r1/flows", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[{"origin_station_id":"a","destination_station_id":"b","count":2}]`, rr.Body.String())

	rr = do(t, h, "/api/runs/quiet/flows", "")
	require.Equal(t, http.StatusOK, rr.Code, "a run that moved nothing still exists")
	assert.Equal(t, "[]\n", rr.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, h, "/api/runs/r9/flows", "").Code)
}
