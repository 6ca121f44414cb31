package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type (
	DBOperation  string
	BatchOutcome string
	Subprocess   string
)

const (
	DBOperationRead            DBOperation = "read"
	DBOperationInsert          DBOperation = "insert"
	DBOperationUpdate          DBOperation = "update"
	DBOperationDelete          DBOperation = "delete"
	DBOperationCreateTempTable DBOperation = "create_temp_table"

	BatchOutcomeSucceeded BatchOutcome = "succeeded"
	BatchOutcomeFailed    BatchOutcome = "failed"
	BatchOutcomeErrored   BatchOutcome = "errored"

	SubprocessAligner       Subprocess = "aligner"
	SubprocessCladeAssigner Subprocess = "clade_assigner"
)

const HarvesterMetricsPrefix = "harvester_"

type Metrics struct {
	dbErrorsCounter    *prometheus.CounterVec
	batchesCounter     *prometheus.CounterVec
	recordsCounter     *prometheus.CounterVec
	subprocessDuration *prometheus.HistogramVec
	queueDepth         prometheus.Gauge
	sourceLines        prometheus.Counter
}

// NewMetrics registers the collectors with reg. Tests pass a fresh registry so that repeated construction does not
// panic on duplicate registration.
func NewMetrics(prefix string, reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		dbErrorsCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "db_errors",
			Help: "Number of database errors grouped by database operation",
		}, []string{"operation"}),
		batchesCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "batches",
			Help: "Number of batches processed grouped by outcome",
		}, []string{"outcome"}),
		recordsCounter: factory.NewCounterVec(prometheus.CounterOpts{
			Name: prefix + "records",
			Help: "Number of records written grouped by disposition",
		}, []string{"disposition"}),
		subprocessDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    prefix + "subprocess_duration_seconds",
			Help:    "Wall clock time of external tool invocations",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"tool"}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: prefix + "queue_depth",
			Help: "Number of batches waiting for a worker",
		}),
		sourceLines: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "source_lines",
			Help: "Number of lines read from the source",
		}),
	}
}

// NewNoopMetrics returns metrics bound to a private registry.
func NewNoopMetrics() *Metrics {
	return NewMetrics(HarvesterMetricsPrefix, prometheus.NewRegistry())
}

func (m *Metrics) RecordDBError(operation DBOperation) {
	m.dbErrorsCounter.With(map[string]string{"operation": string(operation)}).Inc()
}

func (m *Metrics) RecordBatch(outcome BatchOutcome) {
	m.batchesCounter.With(map[string]string{"outcome": string(outcome)}).Inc()
}

func (m *Metrics) RecordRecords(disposition string, n int) {
	if n > 0 {
		m.recordsCounter.With(map[string]string{"disposition": disposition}).Add(float64(n))
	}
}

func (m *Metrics) ObserveSubprocess(tool Subprocess, d time.Duration) {
	m.subprocessDuration.With(map[string]string{"tool": string(tool)}).Observe(d.Seconds())
}

func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) RecordSourceLine() {
	m.sourceLines.Inc()
}
