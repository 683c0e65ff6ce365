package upload

import (
	"errors"

	"github.com/coursemart/go-uploadutils/upload/chunkuploader"
	"github.com/prometheus/client_golang/prometheus"
)

// Part failure reasons.
const (
	reasonNetwork     = "network"
	reasonMissingETag = "missing_etag"
	reasonOther       = "other"
)

// sizeBuckets are exponential buckets for part sizes in bytes, 256 KiB up to 64 MiB.
var sizeBuckets = prometheus.ExponentialBuckets(262144, 2, 9)

// Metrics are the Prometheus collectors updated by an Uploader. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// PartsUploaded counts parts confirmed with an ETag.
	PartsUploaded prometheus.Counter
	// BytesUploaded counts the bytes of confirmed parts.
	BytesUploaded prometheus.Counter
	// PartSize observes the size of confirmed parts.
	PartSize prometheus.Histogram
	// PartFailures counts failed part uploads by reason.
	PartFailures *prometheus.CounterVec
	// PartsInFlight is the number of part uploads holding a concurrency permit.
	PartsInFlight prometheus.Gauge
	// Uploads counts finished UploadFile and Resume calls by status.
	Uploads *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg. reg may be nil, in which case
// the collectors are created but not registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PartsUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_parts_uploaded_total",
			Help: "Parts uploaded and confirmed with an ETag",
		}),
		BytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "upload_bytes_uploaded_total",
			Help: "Bytes of confirmed parts",
		}),
		PartSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "upload_part_size_bytes",
			Help:    "Size of confirmed parts in bytes",
			Buckets: sizeBuckets,
		}),
		PartFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_part_failures_total",
			Help: "Failed part uploads by reason",
		}, []string{"reason"}),
		PartsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "upload_parts_in_flight",
			Help: "Part uploads currently in flight",
		}),
		Uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "upload_uploads_total",
			Help: "Finished upload attempts by status",
		}, []string{"status"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.PartsUploaded,
			m.BytesUploaded,
			m.PartSize,
			m.PartFailures,
			m.PartsInFlight,
			m.Uploads,
		)
	}

	return m
}

func (m *Metrics) partStarted() {
	if m == nil {
		return
	}
	m.PartsInFlight.Inc()
}

func (m *Metrics) partFinished() {
	if m == nil {
		return
	}
	m.PartsInFlight.Dec()
}

func (m *Metrics) partUploaded(size int64) {
	if m == nil {
		return
	}
	m.PartsUploaded.Inc()
	m.BytesUploaded.Add(float64(size))
	m.PartSize.Observe(float64(size))
}

func (m *Metrics) partFailed(err error) {
	if m == nil || errors.Is(err, chunkuploader.ErrAborted) {
		return
	}
	m.PartFailures.WithLabelValues(failureReason(err)).Inc()
}

func (m *Metrics) uploadFinished(status string) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(status).Inc()
}

func failureReason(err error) string {
	var networkErr *chunkuploader.NetworkError
	switch {
	case errors.As(err, &networkErr):
		return reasonNetwork
	case errors.Is(err, chunkuploader.ErrMissingETag):
		return reasonMissingETag
	default:
		return reasonOther
	}
}
