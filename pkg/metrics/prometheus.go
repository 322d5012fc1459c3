package metrics

import (
	"strconv"

	"SignalGate/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	samples       *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	rawSignals    *prometheus.CounterVec
	combined      *prometheus.CounterVec
	decisions     *prometheus.CounterVec
	regime        *prometheus.GaugeVec
	latencyFactor prometheus.Gauge
	slippage      *prometheus.HistogramVec
	messagesSent  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

var regimes = []models.Regime{
	models.RegimeCalm, models.RegimeNormal, models.RegimeVolatile, models.RegimeHighlyVolatile,
}

// New creates a Prometheus metrics recorder registered on reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		samples: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_samples_total",
				Help: "Total number of samples applied to the pipeline",
			},
			[]string{"stream", "symbol"},
		),
		dropped: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_samples_dropped_total",
				Help: "Total number of samples dropped before detection",
			},
			[]string{"stream", "reason"},
		),
		rawSignals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_raw_signals_total",
				Help: "Total number of detector firings",
			},
			[]string{"algorithm", "event"},
		),
		combined: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_combined_signals_total",
				Help: "Total number of cross-confirmed signals",
			},
			[]string{"direction"},
		),
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_decisions_total",
				Help: "Total number of gate decisions by outcome",
			},
			[]string{"execute", "gate"},
		),
		regime: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalgate_market_regime",
				Help: "1 for the current market regime, 0 otherwise",
			},
			[]string{"regime"},
		),
		latencyFactor: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalgate_latency_factor",
				Help: "Overall latency adjustment factor",
			},
		),
		slippage: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalgate_slippage_ratio",
				Help:    "Estimated slippage at the configured trade size",
				Buckets: []float64{0, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02, 0.05},
			},
			[]string{"symbol"},
		),
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_messages_sent_total",
				Help: "Total number of messages written to a sink",
			},
			[]string{"backend", "symbol"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalgate_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "signalgate_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

func (r *Recorder) RecordSample(stream models.Stream, symbol string) {
	r.samples.WithLabelValues(string(stream), symbol).Inc()
}

func (r *Recorder) RecordDropped(stream models.Stream, reason string) {
	r.dropped.WithLabelValues(string(stream), reason).Inc()
}

func (r *Recorder) RecordRawSignal(algorithm string, event models.Direction) {
	r.rawSignals.WithLabelValues(algorithm, string(event)).Inc()
}

func (r *Recorder) RecordCombined(direction models.Direction) {
	r.combined.WithLabelValues(string(direction)).Inc()
}

func (r *Recorder) RecordDecision(execute bool, gate models.Gate) {
	g := string(gate)
	if g == "" {
		g = "none"
	}
	r.decisions.WithLabelValues(strconv.FormatBool(execute), g).Inc()
}

// RecordRegime sets the current regime to 1 and every other regime to 0.
func (r *Recorder) RecordRegime(regime models.Regime) {
	for _, rg := range regimes {
		v := 0.0
		if rg == regime {
			v = 1
		}
		r.regime.WithLabelValues(string(rg)).Set(v)
	}
}

func (r *Recorder) RecordLatencyFactor(factor float64) {
	r.latencyFactor.Set(factor)
}

func (r *Recorder) RecordSlippage(symbol string, slippage float64) {
	r.slippage.WithLabelValues(symbol).Observe(slippage)
}

// RecordMessageSent records a message sent to a backend.
func (r *Recorder) RecordMessageSent(backend, symbol string) {
	r.messagesSent.WithLabelValues(backend, symbol).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordSample(models.Stream, string) {}
func (Nop) RecordDropped(models.Stream, string) {}
func (Nop) RecordRawSignal(string, models.Direction) {}
func (Nop) RecordCombined(models.Direction) {}
func (Nop) RecordDecision(bool, models.Gate) {}
func (Nop) RecordRegime(models.Regime) {}
func (Nop) RecordLatencyFactor(float64) {}
func (Nop) RecordSlippage(string, float64) {}
func (Nop) RecordMessageSent(string, string) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
