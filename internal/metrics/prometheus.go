package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"oggstream/internal/oggdemux"
)

// Seek outcomes used as the "outcome" label.
const (
	SeekFound    = "found"
	SeekNotFound = "not_found"
	SeekError    = "error"
)

// Metrics contains all Prometheus metrics for the oggstream service
type Metrics struct {
	// Container metrics
	PagesRead       prometheus.Counter
	PageBytes       prometheus.Counter
	ResyncBytes     prometheus.Counter
	DiscardedBytes  prometheus.Counter
	StreamsFound    prometheus.Counter
	PacketsStreamed prometheus.Counter

	// Seek metrics
	Seeks        *prometheus.CounterVec
	SeekDuration prometheus.Histogram

	// Session metrics
	ActiveSessions prometheus.Gauge

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

var _ oggdemux.Observer = (*Metrics)(nil)

// New creates all metrics and registers them with reg. A nil reg registers
// nothing, which tests use to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PagesRead: f.NewCounter(prometheus.CounterOpts{
			Name: "oggstream_pages_read_total",
			Help: "Total number of Ogg pages parsed",
		}),
		PageBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "oggstream_page_bytes_total",
			Help: "Total bytes of parsed Ogg pages, headers included",
		}),
		ResyncBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "oggstream_resync_bytes_total",
			Help: "Total bytes skipped while searching for a page header",
		}),
		DiscardedBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "oggstream_discarded_bytes_total",
			Help: "Total bytes released from demuxer read windows",
		}),
		StreamsFound: f.NewCounter(prometheus.CounterOpts{
			Name: "oggstream_streams_found_total",
			Help: "Total number of logical streams discovered",
		}),
		PacketsStreamed: f.NewCounter(prometheus.CounterOpts{
			Name: "oggstream_packets_streamed_total",
			Help: "Total number of packets sent to WebSocket subscribers",
		}),

		Seeks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oggstream_seeks_total",
			Help: "Total number of granule seeks by outcome",
		}, []string{"outcome"}),
		SeekDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "oggstream_seek_duration_seconds",
			Help:    "Duration of granule seeks",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8), // 100us to ~1.6s
		}),

		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Name: "oggstream_active_sessions",
			Help: "Current number of open demux sessions",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "oggstream_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "oggstream_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// PageRead implements oggdemux.Observer.
func (m *Metrics) PageRead(_ uint32, size int) {
	m.PagesRead.Inc()
	m.PageBytes.Add(float64(size))
}

// Resync implements oggdemux.Observer.
func (m *Metrics) Resync(skipped int64) {
	m.ResyncBytes.Add(float64(skipped))
}

// Discarded implements oggdemux.Observer.
func (m *Metrics) Discarded(n int64) {
	m.DiscardedBytes.Add(float64(n))
}

// StreamFound implements oggdemux.Observer.
func (m *Metrics) StreamFound(uint32) {
	m.StreamsFound.Inc()
}

// RecordPacketStreamed increments the streamed packets counter
func (m *Metrics) RecordPacketStreamed() {
	m.PacketsStreamed.Inc()
}

// RecordSeek records one seek and its duration
func (m *Metrics) RecordSeek(outcome string, durationSeconds float64) {
	m.Seeks.WithLabelValues(outcome).Inc()
	m.SeekDuration.Observe(durationSeconds)
}

// SetActiveSessions sets the current number of open sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
