// Package metrics exposes worker activity as Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pixelvide/queuehost/pkg/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "queuehost"

// Job outcome labels
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusRetrying  = "retrying"
)

// Metrics holds the worker collectors
type Metrics struct {
	gatherer prometheus.Gatherer

	WorkersRunning *prometheus.GaugeVec
	JobsActive     *prometheus.GaugeVec
	JobsTotal      *prometheus.CounterVec
	JobDuration    *prometheus.HistogramVec
	PopErrors      *prometheus.CounterVec
}

// New creates the collectors and registers them on reg
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		gatherer: reg,
		WorkersRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workers_running",
			Help:      "Workers currently consuming, by queue.",
		}, []string{"queue"}),
		JobsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_active",
			Help:      "Jobs currently being processed, by queue.",
		}, []string{"queue"}),
		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Processed jobs, by queue and outcome.",
		}, []string{"queue", "status"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Job processing time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
		PopErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pop_errors_total",
			Help:      "Failures fetching jobs from the backend, by queue.",
		}, []string{"queue"}),
	}

	for _, c := range []prometheus.Collector{m.WorkersRunning, m.JobsActive, m.JobsTotal, m.JobDuration, m.PopErrors} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Started marks a worker for queueName as running. Call it once the
// worker has been registered.
func (m *Metrics) Started(queueName string) {
	m.WorkersRunning.WithLabelValues(queueName).Set(1)
}

// Subscriptions returns the listeners that feed the collectors
func (m *Metrics) Subscriptions() []worker.Subscription {
	return []worker.Subscription{
		worker.On(worker.EventActive, func(e worker.Event) {
			m.JobsActive.WithLabelValues(e.Queue).Inc()
		}),
		worker.On(worker.EventCompleted, func(e worker.Event) {
			m.finished(e, StatusCompleted)
		}),
		worker.On(worker.EventFailed, func(e worker.Event) {
			// Undecodable jobs fail without ever going active
			if e.Job != nil && e.Job.Payload != nil {
				m.finished(e, StatusFailed)
				return
			}
			m.JobsTotal.WithLabelValues(e.Queue, StatusFailed).Inc()
		}),
		worker.On(worker.EventRetrying, func(e worker.Event) {
			m.finished(e, StatusRetrying)
		}),
		worker.On(worker.EventError, func(e worker.Event) {
			m.PopErrors.WithLabelValues(e.Queue).Inc()
		}),
		worker.On(worker.EventClosed, func(e worker.Event) {
			m.WorkersRunning.WithLabelValues(e.Queue).Set(0)
		}),
	}
}

func (m *Metrics) finished(e worker.Event, status string) {
	m.JobsActive.WithLabelValues(e.Queue).Dec()
	m.JobsTotal.WithLabelValues(e.Queue, status).Inc()
	m.JobDuration.WithLabelValues(e.Queue).Observe(e.Duration.Seconds())
}

// Router serves /metrics and /healthz
func (m *Metrics) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
	return r
}
