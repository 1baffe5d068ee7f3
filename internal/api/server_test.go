package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arbflow/internal/domain"
	"arbflow/internal/pipeline"
	"arbflow/internal/scheduler"
	"arbflow/internal/store"
)

type fixture struct {
	srv    *httptest.Server
	engine *scheduler.Engine
	repo   store.Repository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, false)
}

func newFixtureWith(t *testing.T, debug bool) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "arbflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := store.NewSQLiteRepo(db)

	e := scheduler.New(scheduler.Options{Name: "api-test", Context: map[string]any{pipeline.KeyManualMode: false}})
	require.NoError(t, e.RegisterInterval("noop", func(context.Context, *scheduler.Shared) (any, error) {
		return nil, nil
	}, time.Hour, scheduler.IntervalOptions{}))
	require.NoError(t, e.Initialize(context.Background()))
	require.NoError(t, e.Start())
	t.Cleanup(func() { e.Stop() })

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "arbflow_test_total", Help: "test"}))

	srv := httptest.NewServer(NewServer(e, repo, reg, Options{Debug: debug}))
	t.Cleanup(srv.Close)
	return &fixture{srv: srv, engine: e, repo: repo}
}

func (f *fixture) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var buf strings.Builder
	_, _ = io.Copy(&buf, resp.Body)
	assert.Contains(t, buf.String(), "arbflow_test_total")
}

func TestProfilerOnlyWhenDebugEnabled(t *testing.T) {
	resp := newFixture(t).do(t, http.MethodGet, "/debug/pprof/cmdline", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = newFixtureWith(t, true).do(t, http.MethodGet, "/debug/pprof/cmdline", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestPauseResume(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPost, "/api/scheduler/pause", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, scheduler.StatePaused, f.engine.State())

	resp = f.do(t, http.MethodPost, "/api/scheduler/resume", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, scheduler.StateRunning, f.engine.State())

	resp = f.do(t, http.MethodGet, "/api/scheduler", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var st statusResp
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&st))
	assert.Equal(t, "api-test", st.Name)
	assert.Equal(t, scheduler.StateRunning, st.State)
	require.Len(t, st.Tasks, 1)
	assert.Equal(t, "noop", st.Tasks[0].ID)
}

func TestToggleTaskAndManualMode(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, http.MethodPut, "/api/scheduler/tasks/noop/enabled", `{"enabled":false}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, f.engine.Tasks()[0].Enabled)

	resp = f.do(t, http.MethodPut, "/api/scheduler/tasks/ghost/enabled", `{"enabled":true}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/api/scheduler/tasks/noop/enabled", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodPut, "/api/scheduler/manual", `{"enabled":true}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, f.engine.Shared().Bool(pipeline.KeyManualMode))
}

func TestTransactions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	payoutID := "p1"
	id, _, err := f.repo.CreateTransaction(ctx, domain.Transaction{
		PayoutID: &payoutID, AdvertisementID: "ad-1", Amount: decimal.NewFromInt(1500), Currency: "RUB",
	})
	require.NoError(t, err)

	resp := f.do(t, http.MethodGet, "/api/transactions?status=pending", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []txView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	require.Len(t, list, 1)
	assert.Equal(t, "1500", list[0].Amount)

	resp = f.do(t, http.MethodGet, "/api/transactions?status=completed", "")
	list = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Empty(t, list)

	resp = f.do(t, http.MethodGet, "/api/transactions?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/transactions/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var one txView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&one))
	assert.Equal(t, domain.StatusPending, one.Status)

	resp = f.do(t, http.MethodGet, "/api/transactions/missing", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
