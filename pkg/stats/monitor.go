package stats

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/oglimmer/vmsg/pkg/types"
)

const (
	FinalizeSignal   = "signal"
	FinalizeFallback = "fallback"
	FinalizeError    = "error"
)

type Monitor struct {
	sessionsCounter     *prometheus.CounterVec
	finalizeCounter     *prometheus.CounterVec
	fragmentBytes       prometheus.Counter
	artifactSize        prometheus.Histogram
	uploadsCounter      *prometheus.CounterVec
	uploadsResponseTime *prometheus.HistogramVec
	backupCounter       *prometheus.CounterVec
}

// NewMonitor registers the recorder metrics with reg.
func NewMonitor(reg prometheus.Registerer) *Monitor {
	m := &Monitor{}

	m.sessionsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vmsg",
		Subsystem: "recorder",
		Name:      "sessions",
		Help:      "Number of recording sessions by terminal state",
	}, []string{"state"}) // state: started, stopped, failed

	m.finalizeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vmsg",
		Subsystem: "recorder",
		Name:      "finalizations",
		Help:      "Number of finalized stop requests by completion path",
	}, []string{"path"}) // path: signal, fallback, error

	m.fragmentBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "vmsg",
		Subsystem: "recorder",
		Name:      "fragment_bytes",
		Help:      "Encoded bytes received from the encoder",
	})

	m.artifactSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vmsg",
		Subsystem: "recorder",
		Name:      "artifact_size_bytes",
		Help:      "Size of finalized recordings",
		Buckets:   prometheus.ExponentialBuckets(64*1024, 4, 10),
	})

	m.uploadsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vmsg",
		Subsystem: "uploader",
		Name:      "uploads",
		Help:      "Number of uploads with location and status labels",
	}, []string{"location", "status"}) // location: api, s3, gcp, azure, local; status: success,failure

	m.uploadsResponseTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vmsg",
		Subsystem: "uploader",
		Name:      "upload_response_time_ms",
		Help:      "A histogram of latencies for upload requests in milliseconds.",
		Buckets:   []float64{10, 20, 50, 100, 200, 500, 1000, 2000, 5000, 10000, 15000, 20000, 30000},
	}, []string{"location", "status"})

	m.backupCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vmsg",
		Subsystem: "uploader",
		Name:      "backup_storage_writes",
		Help:      "Number of recordings written to backup storage",
	}, []string{"location"})

	reg.MustRegister(
		m.sessionsCounter,
		m.finalizeCounter,
		m.fragmentBytes,
		m.artifactSize,
		m.uploadsCounter,
		m.uploadsResponseTime,
		m.backupCounter,
	)

	return m
}

func (m *Monitor) IncSessionStarted() {
	m.sessionsCounter.With(prometheus.Labels{"state": "started"}).Inc()
}

func (m *Monitor) IncSessionEnded(state types.SessionState) {
	m.sessionsCounter.With(prometheus.Labels{"state": string(state)}).Inc()
}

func (m *Monitor) IncFinalized(path string) {
	m.finalizeCounter.With(prometheus.Labels{"path": path}).Inc()
}

func (m *Monitor) AddFragmentBytes(n int) {
	m.fragmentBytes.Add(float64(n))
}

func (m *Monitor) ObserveArtifactSize(n int) {
	m.artifactSize.Observe(float64(n))
}

func (m *Monitor) IncUploadCountSuccess(location string, elapsed float64) {
	labels := prometheus.Labels{"location": location, "status": "success"}
	m.uploadsCounter.With(labels).Add(1)
	m.uploadsResponseTime.With(labels).Observe(elapsed)
}

func (m *Monitor) IncUploadCountFailure(location string, elapsed float64) {
	labels := prometheus.Labels{"location": location, "status": "failure"}
	m.uploadsCounter.With(labels).Add(1)
	m.uploadsResponseTime.With(labels).Observe(elapsed)
}

func (m *Monitor) IncBackupStorageWrites(location string) {
	m.backupCounter.With(prometheus.Labels{"location": location}).Add(1)
}
