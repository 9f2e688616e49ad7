package scraper

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the connector.
type Metrics struct {
	Registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration prometheus.Histogram
	AccountsTotal   prometheus.Counter
	RecordsTotal    prometheus.Counter
	RowsDropped     *prometheus.CounterVec
	DocumentsTotal  *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_requests_total",
			Help: "Total HTTP requests issued against the portal.",
		},
		[]string{"method"},
	)
	requestDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "connector_request_duration_seconds",
			Help:    "HTTP request latency for portal requests.",
			Buckets: prometheus.DefBuckets,
		},
	)
	accounts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "connector_accounts_total",
			Help: "Total number of sub-accounts scraped.",
		},
	)
	records := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "connector_records_total",
			Help: "Total number of billing records sent to the sink.",
		},
	)
	dropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_rows_dropped_total",
			Help: "Scraped rows excluded from the output, by reason.",
		},
		[]string{"reason"},
	)
	documents := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_documents_total",
			Help: "Bill documents handled, by result (downloaded or present).",
		},
		[]string{"result"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_errors_total",
			Help: "Total number of connector errors by type.",
		},
		[]string{"error_type"},
	)

	registry.MustRegister(requests, requestDuration, accounts, records, dropped, documents, errorsTotal)

	return &Metrics{
		Registry:        registry,
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		AccountsTotal:   accounts,
		RecordsTotal:    records,
		RowsDropped:     dropped,
		DocumentsTotal:  documents,
		ErrorsTotal:     errorsTotal,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(method string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.Observe(d.Seconds())
}

// IncAccounts increments the accounts counter.
func (m *Metrics) IncAccounts() {
	if m == nil {
		return
	}
	m.AccountsTotal.Inc()
}

// AddRecords adds n emitted records.
func (m *Metrics) AddRecords(n int) {
	if m == nil {
		return
	}
	m.RecordsTotal.Add(float64(n))
}

// AddDropped adds n rows dropped for reason.
func (m *Metrics) AddDropped(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsDropped.WithLabelValues(reason).Add(float64(n))
}

// IncDocument counts one bill document by result.
func (m *Metrics) IncDocument(result string) {
	if m == nil {
		return
	}
	m.DocumentsTotal.WithLabelValues(result).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(errorType).Inc()
}
