package monitoring

import (
	"net/http"

	"connectrtc/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type PrometheusCollector struct {
	registry *prometheus.Registry

	// Counters
	sessionsTotal *prometheus.CounterVec
	failureFlags  *prometheus.CounterVec

	// Gauges
	sessionsActive prometheus.Gauge

	// Histograms
	stageDuration   *prometheus.HistogramVec
	talkingDuration prometheus.Histogram
}

// NewPrometheusCollector registers the softphone metrics on registry. A nil
// registry gets a fresh one so collectors never collide in tests.
func NewPrometheusCollector(registry *prometheus.Registry) *PrometheusCollector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &PrometheusCollector{
		registry: registry,

		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "connectrtc_sessions_total",
			Help: "Finished call attempts by final state and failure reason",
		}, []string{"outcome", "reason"}),

		failureFlags: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "connectrtc_session_failure_flags_total",
			Help: "Failure flags raised in finished session reports",
		}, []string{"flag"}),

		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "connectrtc_sessions_active",
			Help: "Sessions that are connected and not yet destroyed",
		}),

		stageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "connectrtc_session_stage_duration_seconds",
			Help:    "Duration of each call setup stage",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"stage"}),

		talkingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "connectrtc_session_talking_duration_seconds",
			Help:    "Duration of connected calls",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

func (p *PrometheusCollector) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the collector's registry in the Prometheus text format.
func (p *PrometheusCollector) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusCollector) RecordSessionStarted() {
	p.sessionsActive.Inc()
}

// RecordSessionReport accounts for a destroyed session. Stages that never
// ran are left out of the histograms.
func (p *PrometheusCollector) RecordSessionReport(report *domain.SessionReport) {
	p.sessionsActive.Dec()

	p.sessionsTotal.WithLabelValues(outcome(report.FinalState), string(report.FailureReason)).Inc()

	stages := []struct {
		name   string
		millis int64
	}{
		{"gum", report.GumTimeMillis},
		{"initialization", report.InitializationTimeMillis},
		{"ice_collection", report.IceCollectionTimeMillis},
		{"signalling_connect", report.SignallingConnectTimeMillis},
		{"handshaking", report.HandshakingTimeMillis},
		{"pre_talking", report.PreTalkingTimeMillis},
		{"cleanup", report.CleanupTimeMillis},
	}
	for _, stage := range stages {
		if stage.millis > 0 {
			p.stageDuration.WithLabelValues(stage.name).Observe(seconds(stage.millis))
		}
	}
	if report.TalkingTimeMillis > 0 {
		p.talkingDuration.Observe(seconds(report.TalkingTimeMillis))
	}

	flags := []struct {
		name string
		set  bool
	}{
		{"gum_timeout", report.GumTimeoutFailure},
		{"gum_other", report.GumOtherFailure},
		{"create_offer", report.CreateOfferFailure},
		{"set_local_description", report.SetLocalDescriptionFailure},
		{"ice_collection", report.IceCollectionFailure},
		{"signalling_connection", report.SignallingConnectionFailure},
		{"handshaking", report.HandshakingFailure},
		{"user_busy", report.UserBusyFailure},
		{"invalid_remote_sdp", report.InvalidRemoteSDPFailure},
		{"no_remote_ice_candidate", report.NoRemoteIceCandidateFailure},
		{"set_remote_description", report.SetRemoteDescriptionFailure},
	}
	for _, flag := range flags {
		if flag.set {
			p.failureFlags.WithLabelValues(flag.name).Inc()
		}
	}
}

func outcome(final domain.StateName) string {
	switch final {
	case domain.StateDisconnected:
		return "completed"
	case domain.StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func seconds(millis int64) float64 {
	return float64(millis) / 1000
}
