package metrics

import (
	"net/http"
	"time"

	"github.com/berfenger/broute2mqtt/pkg/skstack"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	PROPERTY_INSTANTANEOUS_POWER   = "instantaneous_power"
	PROPERTY_CUMULATIVE_ENERGY     = "cumulative_energy"
	PROPERTY_INSTANTANEOUS_CURRENT = "instantaneous_current"
	RESULT_OK                      = "ok"
	RESULT_ERROR                   = "error"
)

// NewRegistry creates a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

type MeterMetrics struct {
	ModemCommandSeconds *prometheus.HistogramVec // labels: command
	MeterReadsTotal     *prometheus.CounterVec   // labels: property, result
	InstantaneousPower  prometheus.Gauge
	SessionConnected    prometheus.Gauge
}

func NewMeterMetrics(reg prometheus.Registerer) *MeterMetrics {
	m := &MeterMetrics{
		ModemCommandSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "broute_modem_command_seconds",
			Help:    "Modem command round trip time.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"command"}),
		MeterReadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broute_meter_reads_total",
			Help: "Meter property reads by result.",
		}, []string{"property", "result"}),
		InstantaneousPower: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broute_meter_instantaneous_power_watts",
			Help: "Last instantaneous power read from the meter.",
		}),
		SessionConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "broute_meter_session_connected",
			Help: "1 while a B-route session with the meter is open.",
		}),
	}
	reg.MustRegister(m.ModemCommandSeconds, m.MeterReadsTotal, m.InstantaneousPower, m.SessionConnected)
	return m
}

// ModemInstrument feeds modem command timings into the command histogram.
func (m *MeterMetrics) ModemInstrument() *skstack.Instrument {
	return &skstack.Instrument{
		RecordTime: func(command string, elapsed time.Duration) {
			m.ModemCommandSeconds.WithLabelValues(command).Observe(elapsed.Seconds())
		},
	}
}

func (m *MeterMetrics) ObserveRead(property string, err error) {
	result := RESULT_OK
	if err != nil {
		result = RESULT_ERROR
	}
	m.MeterReadsTotal.WithLabelValues(property, result).Inc()
}

func (m *MeterMetrics) SetConnected(connected bool) {
	if connected {
		m.SessionConnected.Set(1)
	} else {
		m.SessionConnected.Set(0)
	}
}
