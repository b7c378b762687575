package ripper

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "icyrip"

type metrics struct {
	audioBytes      prometheus.Counter
	metadataBlocks  prometheus.Counter
	titleChanges    prometheus.Counter
	segmentsWritten *prometheus.CounterVec
	segmentBytes    prometheus.Histogram
	sessions        prometheus.Counter
	sessionFailures *prometheus.CounterVec
	connected       prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)

	return &metrics{
		audioBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "audio_bytes_total",
			Help:      "Audio bytes received with metadata removed.",
		}),
		metadataBlocks: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "metadata_blocks_total",
			Help:      "Non-empty inline metadata blocks parsed.",
		}),
		titleChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "title_changes_total",
			Help:      "Track boundaries detected from title changes.",
		}),
		segmentsWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "segments_written_total",
			Help:      "Segment files handled, by kind (complete, partial, incomplete, failed).",
		}, []string{"kind"}),
		segmentBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "segment_size_bytes",
			Help:      "Size of written segment files.",
			Buckets:   prometheus.ExponentialBuckets(256*1024, 2, 8),
		}),
		sessions: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sessions_total",
			Help:      "Stream connection attempts.",
		}),
		sessionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "session_failures_total",
			Help:      "Stream sessions that ended with an error, by reason.",
		}, []string{"reason"}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected",
			Help:      "Whether the stream is currently connected.",
		}),
	}
}
