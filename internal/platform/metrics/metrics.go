package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the bot
type Metrics struct {
	VerificationsTotal   *prometheus.CounterVec
	VerificationDuration *prometheus.HistogramVec
	VerificationsActive  prometheus.Gauge
	StageFailures        *prometheus.CounterVec
	RolesGranted         *prometheus.CounterVec
	DirectoryFallbacks   prometheus.Counter

	// Chat platform
	MessagesHandled  *prometheus.CounterVec
	GatewayConnected prometheus.Gauge

	// HTTP surface
	EndpointLatency *prometheus.HistogramVec
}

// New creates the metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		VerificationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qrverify_verifications_total",
			Help: "Total number of verification submissions, labeled by outcome",
		}, []string{"outcome"}),
		VerificationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qrverify_verification_duration_seconds",
			Help:    "End-to-end verification latency in seconds, labeled by outcome",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"outcome"}),
		VerificationsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "qrverify_verifications_in_flight",
			Help: "Current number of verifications holding a user lock",
		}),
		StageFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qrverify_stage_failures_total",
			Help: "Pipeline stage failures, labeled by stage and reason",
		}, []string{"stage", "reason"}),
		RolesGranted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qrverify_roles_granted_total",
			Help: "Roles granted after verification, labeled by role",
		}, []string{"role"}),
		DirectoryFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "qrverify_directory_snapshot_fallbacks_total",
			Help: "Times the membership directory snapshot answered instead of the live directory",
		}),
		MessagesHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "qrverify_messages_handled_total",
			Help: "Chat messages seen in the verification channel, labeled by disposition",
		}, []string{"disposition"}),
		GatewayConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "qrverify_gateway_connected",
			Help: "1 while the chat gateway session is connected",
		}),
		EndpointLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "qrverify_endpoint_latency_seconds",
			Help:    "Latency of endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

// ObserveVerification records a finished verification.
func (m *Metrics) ObserveVerification(outcome string, durationSeconds float64) {
	m.VerificationsTotal.WithLabelValues(outcome).Inc()
	m.VerificationDuration.WithLabelValues(outcome).Observe(durationSeconds)
}

// IncrementStageFailure records a failed pipeline stage.
func (m *Metrics) IncrementStageFailure(stage, reason string) {
	m.StageFailures.WithLabelValues(stage, reason).Inc()
}

// IncrementRoleGranted records a role grant.
func (m *Metrics) IncrementRoleGranted(role string) {
	m.RolesGranted.WithLabelValues(role).Inc()
}

// ObserveEndpointLatency records request latency for an endpoint.
func (m *Metrics) ObserveEndpointLatency(endpoint string, durationSeconds float64) {
	m.EndpointLatency.WithLabelValues(endpoint).Observe(durationSeconds)
}
