// Package metrics provides Prometheus metrics for the proctoring pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the proctor services.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Ingest
	eventsReceived   *prometheus.CounterVec
	eventsDuplicate  prometheus.Counter
	logsSubmitted    prometheus.Counter
	resultsSubmitted prometheus.Counter
	reportLatency    prometheus.Histogram
	videoChunkBytes  prometheus.Counter

	// Detection (agent side)
	detectionsFired      *prometheus.CounterVec
	detectionsSuppressed *prometheus.CounterVec
	captureFailures      *prometheus.CounterVec
	evidenceUploads      *prometheus.CounterVec

	// Transport
	transportFailures *prometheus.CounterVec
	breakerState      prometheus.Gauge

	// Outbox queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Outbox workers
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Live alerts
	liveClients    prometheus.Gauge
	liveBroadcasts prometheus.Counter
	liveDropped    prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "proctor",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: m.histogramBuckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every metric definition
	m.eventsReceived = m.counterVec("events_received_total", "Cheating events accepted by the backend", "type")
	m.eventsDuplicate = m.counter("events_duplicate_total", "Cheating events rejected as already stored")
	m.logsSubmitted = m.counter("logs_submitted_total", "Final cheating logs stored")
	m.resultsSubmitted = m.counter("results_submitted_total", "Quiz results graded and stored")
	m.reportLatency = m.histogram("report_latency_milliseconds", "Time to assemble combined reports")
	m.videoChunkBytes = m.counter("video_chunk_bytes_total", "Bytes of recorded video appended")

	m.detectionsFired = m.counterVec("detections_fired_total", "Classifier firings turned into events", "type")
	m.detectionsSuppressed = m.counterVec("detections_suppressed_total", "Classifier firings inside the re-fire window", "type")
	m.captureFailures = m.counterVec("capture_failures_total", "Evidence captures that discarded an event", "reason")
	m.evidenceUploads = m.counterVec("evidence_uploads_total", "Evidence uploads by outcome", "status")

	m.transportFailures = m.counterVec("transport_failures_total", "Failed calls to the backend", "operation")
	m.breakerState = m.gauge("transport_breaker_state", "Per-event breaker state: 0 closed, 1 half-open, 2 open")

	m.queueSize = m.gauge("outbox_queue_size", "Events waiting in the outbox")
	m.queueCapacity = m.gauge("outbox_queue_capacity", "Outbox capacity")
	m.queueUtilization = m.gauge("outbox_queue_utilization", "Outbox fill ratio (0-1)")
	m.queueEnqueueRate = m.counter("outbox_enqueue_total", "Events enqueued to the outbox")
	m.queueDequeueRate = m.counter("outbox_dequeue_total", "Events dequeued from the outbox")
	m.queueEnqueueErrors = m.counter("outbox_enqueue_errors_total", "Events dropped at enqueue")
	m.queueProcessingLatency = m.histogram("outbox_enqueue_latency_milliseconds", "Enqueue latency")

	m.workerActiveCount = m.gauge("outbox_workers", "Outbox delivery workers")
	m.workerProcessingLatency = m.histogram("outbox_delivery_latency_milliseconds", "Per-event delivery latency")
	m.workerErrorRate = m.counter("outbox_delivery_errors_total", "Per-event deliveries that failed")

	m.liveClients = m.gauge("live_clients", "Connected monitoring dashboards")
	m.liveBroadcasts = m.counter("live_broadcasts_total", "Alerts fanned out to dashboards")
	m.liveDropped = m.counter("live_dropped_total", "Alerts dropped for slow dashboards")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method",
		"endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds",
		"endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Errors by type and severity", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by HTTP endpoint",
		"endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of failed operations", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutines", "Running goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_milliseconds", "Average GC pause")
}

// RecordEventReceived counts an accepted event of the given type.
func RecordEventReceived(eventType string) {
	globalManager.eventsReceived.WithLabelValues(eventType).Inc()
}

// RecordEventDuplicate counts an event rejected as already stored.
func RecordEventDuplicate() {
	globalManager.eventsDuplicate.Inc()
}

// RecordLogSubmitted counts a stored final cheating log.
func RecordLogSubmitted() {
	globalManager.logsSubmitted.Inc()
}

// RecordResultSubmitted counts a stored quiz result.
func RecordResultSubmitted() {
	globalManager.resultsSubmitted.Inc()
}

// RecordReportLatency records report assembly latency.
func RecordReportLatency(latencyMs float64) {
	globalManager.reportLatency.Observe(latencyMs)
}

// RecordVideoChunk adds appended video bytes.
func RecordVideoChunk(bytes int64) {
	globalManager.videoChunkBytes.Add(float64(bytes))
}

// RecordDetectionFired counts a firing that became an event.
func RecordDetectionFired(eventType string) {
	globalManager.detectionsFired.WithLabelValues(eventType).Inc()
}

// RecordDetectionSuppressed counts a firing swallowed by the re-fire window.
func RecordDetectionSuppressed(eventType string) {
	globalManager.detectionsSuppressed.WithLabelValues(eventType).Inc()
}

// RecordCaptureFailure counts an event discarded during evidence capture.
func RecordCaptureFailure(reason string) {
	globalManager.captureFailures.WithLabelValues(reason).Inc()
}

// RecordEvidenceUpload counts an upload attempt by outcome.
func RecordEvidenceUpload(status string) {
	globalManager.evidenceUploads.WithLabelValues(status).Inc()
}

// RecordTransportFailure counts a failed backend call.
func RecordTransportFailure(operation string) {
	globalManager.transportFailures.WithLabelValues(operation).Inc()
}

// UpdateBreakerState sets the per-event breaker state gauge.
func UpdateBreakerState(state int) {
	globalManager.breakerState.Set(float64(state))
}

// UpdateQueueSize sets the current outbox size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the outbox capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the outbox fill ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records enqueue latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// UpdateWorkerActiveCount sets the number of delivery workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records per-event delivery latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the delivery error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// UpdateLiveClients sets the number of connected dashboards.
func UpdateLiveClients(count int) {
	globalManager.liveClients.Set(float64(count))
}

// RecordLiveBroadcast counts an alert fanned out to dashboards.
func RecordLiveBroadcast() {
	globalManager.liveBroadcasts.Inc()
}

// RecordLiveDropped counts an alert dropped for a slow dashboard.
func RecordLiveDropped() {
	globalManager.liveDropped.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	globalManager.errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	globalManager.errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
