// Package metrics exposes prometheus instruments for the billing core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the billing instruments registered on the default
// prometheus registry.
type Metrics struct {
	journalEntriesPosted   *prometheus.CounterVec
	journalEntriesReversed prometheus.Counter
	invoicesFinalized      prometheus.Counter
	adjustmentsCreated     *prometheus.CounterVec
	jobRuns                *prometheus.CounterVec
	jobErrors              *prometheus.CounterVec
	jobDuration            *prometheus.HistogramVec
	lifecycleTransitions   *prometheus.CounterVec
	httpRequests           *prometheus.CounterVec
	httpDuration           *prometheus.HistogramVec
}

func New() *Metrics {
	return &Metrics{
		journalEntriesPosted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_journal_entries_posted_total",
			Help: "Journal entries posted, by entry type.",
		}, []string{"type"}),
		journalEntriesReversed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "billing_journal_entries_reversed_total",
			Help: "Journal entries reversed.",
		}),
		invoicesFinalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "billing_invoices_finalized_total",
			Help: "Invoices transitioned to FINAL.",
		}),
		adjustmentsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_adjustments_created_total",
			Help: "Adjustments created, by kind (charge/credit).",
		}, []string{"kind"}),
		jobRuns: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_scheduler_job_runs_total",
			Help: "Scheduler job executions.",
		}, []string{"job"}),
		jobErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_scheduler_job_errors_total",
			Help: "Scheduler job failures.",
		}, []string{"job"}),
		jobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billing_scheduler_job_duration_seconds",
			Help:    "Scheduler job wall time.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		lifecycleTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_subscription_transitions_total",
			Help: "Subscription status transitions.",
		}, []string{"from", "to"}),
		httpRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "billing_http_requests_total",
			Help: "HTTP requests, by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "billing_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) IncJournalEntryPosted(entryType string) {
	if m == nil {
		return
	}
	m.journalEntriesPosted.WithLabelValues(entryType).Inc()
}

func (m *Metrics) IncJournalEntryReversed() {
	if m == nil {
		return
	}
	m.journalEntriesReversed.Inc()
}

func (m *Metrics) IncInvoiceFinalized() {
	if m == nil {
		return
	}
	m.invoicesFinalized.Inc()
}

func (m *Metrics) IncAdjustmentCreated(kind string) {
	if m == nil {
		return
	}
	m.adjustmentsCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *Metrics) IncJobError(job string) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job).Inc()
}

func (m *Metrics) ObserveJobDuration(job string, d time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(d.Seconds())
}

func (m *Metrics) IncLifecycleTransition(from, to string) {
	if m == nil {
		return
	}
	m.lifecycleTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncHTTPRequest(method, route, status string) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
}

func (m *Metrics) ObserveHTTPDuration(method, route string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}
