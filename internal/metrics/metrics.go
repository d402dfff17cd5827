// Package metrics exposes meter pipeline state to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/doananhminh-dev/Class-calm/internal/meter"
)

const namespace = "classcalm"

// Metrics holds the collectors and implements meter.Observer.
type Metrics struct {
	reg *prometheus.Registry

	level        *prometheus.GaugeVec
	raw          *prometheus.GaugeVec
	limit        *prometheus.GaugeVec
	exceeding    *prometheus.GaugeVec
	alertActive  *prometheus.GaugeVec
	running      *prometheus.GaugeVec
	frames       *prometheus.CounterVec
	invalid      *prometheus.CounterVec
	alerts       *prometheus.CounterVec
	exceedances  *prometheus.CounterVec
	exceedDurSec *prometheus.HistogramVec
	deviceRefs   prometheus.GaugeFunc
}

var _ meter.Observer = (*Metrics)(nil)

// New creates and registers the collectors on a private registry.
// deviceRefs reports the live microphone handle count.
func New(deviceRefs func() int) *Metrics {
	sessionLabel := []string{"session"}
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		level: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "level",
			Help: "Smoothed noise level on the 0-100 scale.",
		}, sessionLabel),
		raw: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "raw_level",
			Help: "Last raw loudness reading before gating.",
		}, sessionLabel),
		limit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "limit",
			Help: "Configured noise limit.",
		}, sessionLabel),
		exceeding: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "exceeding",
			Help: "1 while the level is above the limit.",
		}, sessionLabel),
		alertActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "alert_active",
			Help: "1 while an alert is showing.",
		}, sessionLabel),
		running: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "session_running",
			Help: "1 while the meter session is running.",
		}, sessionLabel),
		frames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "frames_total",
			Help: "Frames processed by the pipeline.",
		}, sessionLabel),
		invalid: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "invalid_frames_total",
			Help: "Frames rejected by the loudness estimator.",
		}, sessionLabel),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "alerts_total",
			Help: "Alerts fired.",
		}, sessionLabel),
		exceedances: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "exceedances_total",
			Help: "Times the level crossed the limit.",
		}, sessionLabel),
		exceedDurSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "exceedance_duration_seconds",
			Help:    "Length of completed exceedances.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 300},
		}, sessionLabel),
	}
	if deviceRefs != nil {
		m.deviceRefs = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Name: "device_refs",
			Help: "Live handles on the shared microphone.",
		}, func() float64 { return float64(deviceRefs()) })
		m.reg.MustRegister(m.deviceRefs)
	}

	m.reg.MustRegister(
		m.level, m.raw, m.limit, m.exceeding, m.alertActive, m.running,
		m.frames, m.invalid, m.alerts, m.exceedances, m.exceedDurSec,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// SessionStarted implements meter.Observer.
func (m *Metrics) SessionStarted(session string, _ time.Time) {
	m.running.WithLabelValues(session).Set(1)
}

// SessionStopped implements meter.Observer.
func (m *Metrics) SessionStopped(session string, _ time.Time, _ int64, _ error) {
	m.running.WithLabelValues(session).Set(0)
	m.level.WithLabelValues(session).Set(0)
	m.raw.WithLabelValues(session).Set(0)
	m.exceeding.WithLabelValues(session).Set(0)
	m.alertActive.WithLabelValues(session).Set(0)
}

// FrameProcessed implements meter.Observer.
// A flush step carries no audio and only closes the exceedance.
func (m *Metrics) FrameProcessed(session string, step *meter.Step) {
	if step.Flush {
		m.exceeding.WithLabelValues(session).Set(0)
		if step.Detector.JustCleared {
			m.exceedDurSec.WithLabelValues(session).Observe(float64(step.Detector.TotalDurationMs) / 1000)
		}
		return
	}

	m.frames.WithLabelValues(session).Inc()
	if step.Invalid {
		m.invalid.WithLabelValues(session).Inc()
	}
	m.level.WithLabelValues(session).Set(step.Smoothed)
	m.raw.WithLabelValues(session).Set(step.Raw)
	m.limit.WithLabelValues(session).Set(step.Limit)
	m.exceeding.WithLabelValues(session).Set(boolFloat(step.Detector.InstantOver))
	m.alertActive.WithLabelValues(session).Set(boolFloat(step.Alert.Active))

	if step.Detector.JustEntered {
		m.exceedances.WithLabelValues(session).Inc()
	}
	if step.Detector.JustCleared {
		m.exceedDurSec.WithLabelValues(session).Observe(float64(step.Detector.TotalDurationMs) / 1000)
	}
	if step.Alert.Fired {
		m.alerts.WithLabelValues(session).Inc()
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
