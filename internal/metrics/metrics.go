package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "debugbridge"

var (
	registerOnce sync.Once

	remoteRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "requests_total",
			Help:      "Requests sent to the remote process.",
		},
		[]string{"path", "method", "outcome"},
	)
	remoteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "request_duration_seconds",
			Help:      "Round-trip duration of remote requests in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)
	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts to the remote process.",
		},
		[]string{"outcome"},
	)
	batchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "batch_size",
			Help:      "Requests drained per batch tick.",
			Buckets:   []float64{1, 2, 5, 10, 20, 50},
		},
	)
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "remote",
			Name:      "queue_depth",
			Help:      "Requests waiting in the batch queue.",
		},
	)
	stepRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "steps_total",
			Help:      "Tool executions by outcome (success, failure, skipped, cached).",
		},
		[]string{"tool", "outcome"},
	)
	stepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "step_duration_seconds",
			Help:      "Tool execution duration in seconds, retries included.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)
	pipelineRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "orchestrator",
			Name:      "pipelines_total",
			Help:      "Pipeline runs by terminal state.",
		},
		[]string{"state"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			remoteRequests, remoteDuration, connectAttempts, batchSize, queueDepth,
			stepRuns, stepDuration, pipelineRuns,
		)
	})
}

// RecordRemoteRequest counts one request on path ("simple" or "batch").
func RecordRemoteRequest(path, method, outcome string, duration time.Duration) {
	RegisterMetrics()
	remoteRequests.WithLabelValues(path, method, outcome).Inc()
	if duration > 0 {
		remoteDuration.WithLabelValues(path, method).Observe(duration.Seconds())
	}
}

func RecordConnectAttempt(success bool) {
	RegisterMetrics()
	outcome := "failure"
	if success {
		outcome = "success"
	}
	connectAttempts.WithLabelValues(outcome).Inc()
}

func RecordBatch(size int) {
	RegisterMetrics()
	batchSize.Observe(float64(size))
}

func SetQueueDepth(n int) {
	RegisterMetrics()
	queueDepth.Set(float64(n))
}

func RecordStep(tool, outcome string, duration time.Duration) {
	RegisterMetrics()
	stepRuns.WithLabelValues(tool, outcome).Inc()
	if duration > 0 {
		stepDuration.WithLabelValues(tool).Observe(duration.Seconds())
	}
}

func RecordPipeline(state string) {
	RegisterMetrics()
	pipelineRuns.WithLabelValues(state).Inc()
}
