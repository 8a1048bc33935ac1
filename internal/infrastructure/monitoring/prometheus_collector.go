package monitoring

import (
	"time"

	"duetrec/internal/core/domain"
	"duetrec/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Gauges
	recordersOpen prometheus.Gauge

	// Counters
	phaseTransitions *prometheus.CounterVec
	framesSkipped    *prometheus.CounterVec
	chunksTotal      prometheus.Counter
	chunkBytes       prometheus.Counter
	recordedSeconds  prometheus.Counter
	publishedTotal   prometheus.Counter
	publishedBytes   prometheus.Counter
	publishFailures  *prometheus.CounterVec

	// Histograms
	composeDuration prometheus.Histogram
	publishDuration prometheus.Histogram

	// HTTP
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var _ ports.Metrics = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the service metrics with reg.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	factory := promauto.With(reg)
	return &PrometheusCollector{
		recordersOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "duetrec_recorders_open",
			Help: "Number of open duet recorders",
		}),

		phaseTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duetrec_phase_transitions_total",
			Help: "Recording phase transitions",
		}, []string{"from", "to"}),

		framesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duetrec_frames_skipped_total",
			Help: "Render ticks that produced no frame",
		}, []string{"reason"}),

		chunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "duetrec_chunks_total",
			Help: "Encoded chunks appended to takes",
		}),

		chunkBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "duetrec_chunk_bytes_total",
			Help: "Encoded bytes appended to takes",
		}),

		recordedSeconds: factory.NewCounter(prometheus.CounterOpts{
			Name: "duetrec_recorded_seconds_total",
			Help: "Seconds recorded across all takes",
		}),

		publishedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "duetrec_published_total",
			Help: "Duets published",
		}),

		publishedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "duetrec_published_bytes_total",
			Help: "Artifact bytes uploaded",
		}),

		publishFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duetrec_publish_failures_total",
			Help: "Failed publish attempts",
		}, []string{"reason"}),

		composeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "duetrec_compose_duration_seconds",
			Help:    "Time spent composing one frame",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05},
		}),

		publishDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "duetrec_publish_duration_seconds",
			Help:    "Duration of successful publishes",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),

		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "duetrec_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),

		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "duetrec_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (p *PrometheusCollector) RecorderOpened() {
	p.recordersOpen.Inc()
}

func (p *PrometheusCollector) RecorderClosed() {
	p.recordersOpen.Dec()
}

func (p *PrometheusCollector) PhaseChanged(from, to domain.Phase) {
	if from == to {
		return
	}
	p.phaseTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (p *PrometheusCollector) FrameComposed(d time.Duration) {
	p.composeDuration.Observe(d.Seconds())
}

func (p *PrometheusCollector) FrameSkipped(reason string) {
	p.framesSkipped.WithLabelValues(reason).Inc()
}

func (p *PrometheusCollector) ChunkAppended(bytes int) {
	p.chunksTotal.Inc()
	p.chunkBytes.Add(float64(bytes))
}

func (p *PrometheusCollector) RecordedSecond() {
	p.recordedSeconds.Inc()
}

func (p *PrometheusCollector) PublishCompleted(d time.Duration, bytes int) {
	p.publishedTotal.Inc()
	p.publishedBytes.Add(float64(bytes))
	p.publishDuration.Observe(d.Seconds())
}

func (p *PrometheusCollector) PublishFailed(reason string) {
	p.publishFailures.WithLabelValues(reason).Inc()
}

// RecordHTTPRequest observes one served request.
func (p *PrometheusCollector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	p.httpRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	p.httpDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
