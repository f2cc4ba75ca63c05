package worker

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics are the process-wide Prometheus counters a worker publishes at
// /metrics, shared across every Worker in one process.
var Metrics = struct {
	JobsProcessed *prometheus.CounterVec
	TasksByResult *prometheus.CounterVec
}{
	JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lightflow",
		Name:      "jobs_processed_total",
		Help:      "Jobs dequeued and processed by a worker, by kind and outcome.",
	}, []string{"kind", "outcome"}),
	TasksByResult: prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lightflow",
		Name:      "tasks_total",
		Help:      "Task invocations by classified outcome.",
	}, []string{"outcome"}),
}

func init() {
	prometheus.MustRegister(Metrics.JobsProcessed, Metrics.TasksByResult)
}

// HealthStatus is the /status response body.
type HealthStatus struct {
	WorkerID    string   `json:"workerId"`
	Queues      []string `json:"queues"`
	Concurrency int      `json:"concurrency"`
	ActiveJobID string   `json:"activeJobId,omitempty"`
	Uptime      string   `json:"uptime"`
}

// HTTPServer exposes a worker's liveness, status, and metrics over HTTP,
// the introspection surface spec.md §6 reserves for operators without
// routing every query through the signal bus.
type HTTPServer struct {
	worker    *Worker
	startedAt time.Time
	router    chi.Router
}

// NewHTTPServer builds the router for w. Callers wrap it in an
// *http.Server bound to their chosen listen address.
func NewHTTPServer(w *Worker) *HTTPServer {
	s := &HTTPServer{worker: w, startedAt: time.Now()}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET"},
	}))
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *HTTPServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.worker.mu.Lock()
	active := s.worker.activeJob
	s.worker.mu.Unlock()

	status := HealthStatus{
		WorkerID:    s.worker.ID,
		Queues:      s.worker.Queues,
		Concurrency: s.worker.Concurrency,
		ActiveJobID: active,
		Uptime:      time.Since(s.startedAt).String(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(status)
}
