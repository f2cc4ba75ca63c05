package worker_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightflow-run/lightflow/internal/queue/memqueue"
	"github.com/lightflow-run/lightflow/internal/runtime"
	"github.com/lightflow-run/lightflow/internal/signalbus/memsignalbus"
	"github.com/lightflow-run/lightflow/internal/store/memstore"
	"github.com/lightflow-run/lightflow/internal/worker"
)

func TestHTTPServerHealthzAndStatus(t *testing.T) {
	q := memqueue.New(0)
	bus := memsignalbus.New()
	stores := memstore.New()
	runner := runtime.NewRunner(runtime.NewScriptRegistry())

	w := worker.NewWorker("w1", []string{"task", "dag"}, 3, q, bus, stores, stubLoader{}, runner)
	srv := worker.NewHTTPServer(w)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status worker.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "w1", status.WorkerID)
	assert.Equal(t, 3, status.Concurrency)
	assert.ElementsMatch(t, []string{"task", "dag"}, status.Queues)
}

func TestHTTPServerExposesMetrics(t *testing.T) {
	q := memqueue.New(0)
	bus := memsignalbus.New()
	stores := memstore.New()
	runner := runtime.NewRunner(runtime.NewScriptRegistry())

	w := worker.NewWorker("w2", []string{"task"}, 1, q, bus, stores, stubLoader{}, runner)
	srv := worker.NewHTTPServer(w)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lightflow_jobs_processed_total")
}
