package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	GatewayRequests        *prometheus.CounterVec
	GatewayRequestDuration *prometheus.HistogramVec
	MailingsCreated        prometheus.Counter
	SubmissionErrors       *prometheus.CounterVec
	RecipientUpdates       *prometheus.CounterVec
	StatusTicks            *prometheus.CounterVec
	StatusSubscribers      prometheus.Gauge
	PollerChecks           *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GatewayRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_gateway_requests_total",
				Help: "Total number of requests issued to the SMS gateway",
			},
			[]string{"api_method", "outcome"},
		),
		GatewayRequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sms_gateway_request_duration_seconds",
				Help:    "Duration of SMS gateway requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"api_method"},
		),
		MailingsCreated: f.NewCounter(
			prometheus.CounterOpts{
				Name: "sms_mailings_created_total",
				Help: "Total number of mailings accepted by the gateway and stored",
			},
		),
		SubmissionErrors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_submission_errors_total",
				Help: "Total number of failed mailing submissions",
			},
			[]string{"reason"},
		),
		RecipientUpdates: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_recipient_status_updates_total",
				Help: "Total number of recipient status updates by resulting status and outcome",
			},
			[]string{"status", "outcome"},
		),
		StatusTicks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_status_ticks_total",
				Help: "Total number of status aggregation ticks",
			},
			[]string{"outcome"},
		),
		StatusSubscribers: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "sms_status_subscribers",
				Help: "Number of connected live status subscribers",
			},
		),
		PollerChecks: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sms_poller_checks_total",
				Help: "Total number of recipient status checks by mapped status",
			},
			[]string{"status"},
		),
	}
}

func (m *Metrics) ObserveGatewayRequest(apiMethod, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.GatewayRequests.WithLabelValues(apiMethod, outcome).Inc()
	m.GatewayRequestDuration.WithLabelValues(apiMethod).Observe(d.Seconds())
}

func (m *Metrics) IncMailingsCreated() {
	if m == nil {
		return
	}
	m.MailingsCreated.Inc()
}

func (m *Metrics) IncSubmissionError(reason string) {
	if m == nil {
		return
	}
	m.SubmissionErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncRecipientUpdate(status, outcome string) {
	if m == nil {
		return
	}
	m.RecipientUpdates.WithLabelValues(status, outcome).Inc()
}

func (m *Metrics) IncStatusTick(outcome string) {
	if m == nil {
		return
	}
	m.StatusTicks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SubscriberConnected() {
	if m == nil {
		return
	}
	m.StatusSubscribers.Inc()
}

func (m *Metrics) SubscriberDisconnected() {
	if m == nil {
		return
	}
	m.StatusSubscribers.Dec()
}

func (m *Metrics) IncPollerCheck(status string) {
	if m == nil {
		return
	}
	m.PollerChecks.WithLabelValues(status).Inc()
}
