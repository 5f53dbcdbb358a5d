package service

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

// Metrics holds the engine's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	tasks        *prometheus.CounterVec
	taskDuration prometheus.Histogram
	retries      prometheus.Counter
	queueDepth   prometheus.Gauge
	engineStatus prometheus.Gauge
	confidence   prometheus.Histogram
}

// MustNewMetrics registers the engine collectors with reg, reusing collectors
// that are already registered.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		tasks: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_tasks_total",
			Help: "Tasks that reached a terminal state, by status.",
		}, []string{"status"})),
		taskDuration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "automation_task_duration_seconds",
			Help:    "Time from task start to terminal state.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		})),
		retries: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automation_task_retries_total",
			Help: "Tasks sent back to the queue after a failure.",
		})),
		queueDepth: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "automation_task_queue_depth",
			Help: "Tasks waiting in the queue.",
		})),
		engineStatus: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "automation_engine_status",
			Help: "Engine status (0 idle, 1 initializing, 2 ready, 3-5 busy, 6 error, 7 shutdown).",
		})),
		confidence: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "automation_response_confidence",
			Help:    "Confidence score of parsed responses.",
			Buckets: prometheus.LinearBuckets(0.1, 0.1, 10),
		})),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *Metrics) taskFinished(status models.TaskStatus, took time.Duration) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(status.String()).Inc()
	if took > 0 {
		m.taskDuration.Observe(took.Seconds())
	}
}

func (m *Metrics) taskRetried() {
	if m == nil {
		return
	}
	m.retries.Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}

func (m *Metrics) setEngineStatus(s models.AutomationStatus) {
	if m == nil {
		return
	}
	m.engineStatus.Set(float64(s))
}

func (m *Metrics) observeConfidence(score float64) {
	if m == nil {
		return
	}
	m.confidence.Observe(score)
}
