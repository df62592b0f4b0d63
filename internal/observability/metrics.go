package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce            sync.Once
	httpRequestsTotal       *prometheus.CounterVec
	httpLatencySeconds      *prometheus.HistogramVec
	httpErrorsTotal         *prometheus.CounterVec
	attemptsStartedTotal    *prometheus.CounterVec
	attemptsFinalizedTotal  *prometheus.CounterVec
	attemptsActive          prometheus.Gauge
	gradeReleasesTotal      *prometheus.CounterVec
	gradebookViewsTotal     *prometheus.CounterVec
	notificationsPublished  *prometheus.CounterVec
	sseClientsActive        prometheus.Gauge
	suggestionsTotal        *prometheus.CounterVec
	domainEventsPublished   *prometheus.CounterVec
)

// RegisterMetrics initialises the Prometheus collectors used by the API.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_latency_seconds",
			Help:    "Latency distribution for API requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		httpErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total number of error responses returned by the API.",
		}, []string{"method", "route", "status"})

		attemptsStartedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_attempts_started_total",
			Help: "Attempts started, labelled by whether a time limit applies.",
		}, []string{"timed"})

		attemptsFinalizedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_attempts_finalized_total",
			Help: "Attempts closed, labelled by submit reason and resulting state.",
		}, []string{"reason", "state"})

		attemptsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "assessment_attempts_active",
			Help: "Attempt sessions currently held in memory.",
		})

		gradeReleasesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "assessment_grade_releases_total",
			Help: "Grades released to students, labelled by path.",
		}, []string{"path"})

		gradebookViewsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gradebook_views_total",
			Help: "Gradebook aggregations served, labelled by cache outcome.",
		}, []string{"cache"})

		notificationsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "notifications_published_total",
			Help: "Notifications delivered to subscribers, labelled by type.",
		}, []string{"type"})

		sseClientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notifications_sse_clients_active",
			Help: "Open notification streams.",
		})

		suggestionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "content_suggestions_total",
			Help: "Content suggestion drafts, labelled by kind and outcome.",
		}, []string{"kind", "outcome"})

		domainEventsPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "domain_events_published_total",
			Help: "Domain events handed to the message broker, labelled by routing key and result.",
		}, []string{"routing_key", "result"})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			httpErrorsTotal,
			attemptsStartedTotal,
			attemptsFinalizedTotal,
			attemptsActive,
			gradeReleasesTotal,
			gradebookViewsTotal,
			notificationsPublished,
			sseClientsActive,
			suggestionsTotal,
			domainEventsPublished,
		)
	})
}

// HTTPRequests exposes the counter for API requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for API requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// HTTPErrors exposes the counter for API error responses.
func HTTPErrors() *prometheus.CounterVec {
	RegisterMetrics()
	return httpErrorsTotal
}

// AttemptsStarted exposes the attempt start counter.
func AttemptsStarted() *prometheus.CounterVec {
	RegisterMetrics()
	return attemptsStartedTotal
}

// AttemptsFinalized exposes the attempt close counter.
func AttemptsFinalized() *prometheus.CounterVec {
	RegisterMetrics()
	return attemptsFinalizedTotal
}

// AttemptsActive exposes the in-memory session gauge.
func AttemptsActive() prometheus.Gauge {
	RegisterMetrics()
	return attemptsActive
}

// GradeReleases exposes the grade release counter.
func GradeReleases() *prometheus.CounterVec {
	RegisterMetrics()
	return gradeReleasesTotal
}

// GradebookViews exposes the gradebook aggregation counter.
func GradebookViews() *prometheus.CounterVec {
	RegisterMetrics()
	return gradebookViewsTotal
}

// NotificationsPublishedTotal exposes the notification delivery counter.
func NotificationsPublishedTotal() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsPublished
}

// SSEClientsActive exposes the open stream gauge.
func SSEClientsActive() prometheus.Gauge {
	RegisterMetrics()
	return sseClientsActive
}

// Suggestions exposes the content suggestion counter.
func Suggestions() *prometheus.CounterVec {
	RegisterMetrics()
	return suggestionsTotal
}

// DomainEventsPublished exposes the broker publish counter.
func DomainEventsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return domainEventsPublished
}
