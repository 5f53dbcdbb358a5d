package adb

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Thirteen88/ish-automation-sub001/models"
)

// Metrics holds the channel's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	commands    *prometheus.CounterVec
	duration    prometheus.Histogram
	deviceState *prometheus.GaugeVec
}

// MustNewMetrics registers the collectors with reg, reusing collectors that
// are already registered.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		commands: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automation_adb_commands_total",
			Help: "ADB commands executed, by result.",
		}, []string{"result"})),
		duration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "automation_adb_command_duration_seconds",
			Help:    "Wall time of ADB commands.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		})),
		deviceState: register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "automation_device_connection_state",
			Help: "Device connection state (0 disconnected, 1 connected, 2 booting, 3 error).",
		}, []string{"device"})),
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

func (m *Metrics) observeCommand(res models.DeviceCommandResult) {
	if m == nil {
		return
	}
	result := "success"
	if !res.Success {
		result = res.ErrorKind.String()
	}
	m.commands.WithLabelValues(result).Inc()
	m.duration.Observe(res.Duration.Seconds())
}

func (m *Metrics) setDeviceState(deviceID string, state models.DeviceConnectionState) {
	if m == nil {
		return
	}
	m.deviceState.WithLabelValues(deviceID).Set(float64(state))
}
