package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultSuccess = "success"
	ResultFailure = "failure"

	EntryIncluded = "included"
	EntrySkipped  = "skipped"
)

// Config carries the constant labels attached to every series.
type Config struct {
	ServiceName string
	Environment string
}

// PipelineMetrics tracks packet batches. A nil *PipelineMetrics records
// nothing.
type PipelineMetrics struct {
	packetsBuilt    *prometheus.CounterVec
	packetEntries   *prometheus.CounterVec
	buildDuration   prometheus.Histogram
	batches         *prometheus.CounterVec
	batchHouseholds *prometheus.CounterVec
	archives        *prometheus.CounterVec
	rateLimitDenied prometheus.Counter
	jobRuns         *prometheus.CounterVec
	jobDuration     *prometheus.HistogramVec
	sweptObjects    *prometheus.CounterVec
}

func NewPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "surge"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &PipelineMetrics{
		packetsBuilt: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "surge_packets_built_total",
			Help:        "Household packet builds by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		packetEntries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "surge_packet_entries_total",
			Help:        "Packet sources attempted by kind and whether they contributed pages.",
			ConstLabels: constLabels,
		}, []string{"kind", "result"}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "surge_packet_build_seconds",
			Help:        "Latency of a single household packet build.",
			Buckets:     []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			ConstLabels: constLabels,
		}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "surge_batches_total",
			Help:        "Accepted prepare batches by post action.",
			ConstLabels: constLabels,
		}, []string{"action"}),
		batchHouseholds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "surge_batch_households_total",
			Help:        "Households finished by batches, by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		archives: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "surge_archives_total",
			Help:        "Archive builds by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		rateLimitDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "surge_rate_limit_denied_total",
			Help:        "Prepare calls rejected by admission control.",
			ConstLabels: constLabels,
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "surge_scheduler_job_runs_total",
			Help:        "Housekeeping job runs by job and result.",
			ConstLabels: constLabels,
		}, []string{"job", "result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "surge_scheduler_job_seconds",
			Help:        "Latency of housekeeping job runs.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60},
			ConstLabels: constLabels,
		}, []string{"job"}),
		sweptObjects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "surge_swept_objects_total",
			Help:        "Stored objects removed by housekeeping jobs.",
			ConstLabels: constLabels,
		}, []string{"job"}),
	}

	registerer.MustRegister(
		m.packetsBuilt,
		m.packetEntries,
		m.buildDuration,
		m.batches,
		m.batchHouseholds,
		m.archives,
		m.rateLimitDenied,
		m.jobRuns,
		m.jobDuration,
		m.sweptObjects,
	)
	return m
}

func (m *PipelineMetrics) RecordPacketBuild(err error, took time.Duration) {
	if m == nil {
		return
	}
	m.packetsBuilt.WithLabelValues(result(err)).Inc()
	m.buildDuration.Observe(took.Seconds())
}

func (m *PipelineMetrics) RecordEntry(kind string, included bool) {
	if m == nil {
		return
	}
	outcome := EntrySkipped
	if included {
		outcome = EntryIncluded
	}
	m.packetEntries.WithLabelValues(kind, outcome).Inc()
}

func (m *PipelineMetrics) RecordBatch(action string) {
	if m == nil {
		return
	}
	m.batches.WithLabelValues(action).Inc()
}

func (m *PipelineMetrics) RecordBatchResult(succeeded, failed int64) {
	if m == nil {
		return
	}
	m.batchHouseholds.WithLabelValues(ResultSuccess).Add(float64(succeeded))
	m.batchHouseholds.WithLabelValues(ResultFailure).Add(float64(failed))
}

func (m *PipelineMetrics) RecordArchive(err error) {
	if m == nil {
		return
	}
	m.archives.WithLabelValues(result(err)).Inc()
}

func (m *PipelineMetrics) RecordRateLimitDenied() {
	if m == nil {
		return
	}
	m.rateLimitDenied.Inc()
}

func (m *PipelineMetrics) RecordJob(job string, err error, took time.Duration) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, result(err)).Inc()
	m.jobDuration.WithLabelValues(job).Observe(took.Seconds())
}

func (m *PipelineMetrics) RecordSwept(job string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sweptObjects.WithLabelValues(job).Add(float64(count))
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
