package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Validation Metrics
	validationsTotal     *prometheus.CounterVec
	validationRejections *prometheus.CounterVec

	// Funding Metrics
	fundingRequestsTotal *prometheus.CounterVec
	fundedTransactions   prometheus.Counter

	// Claim Builder Metrics
	claimsBuiltTotal      *prometheus.CounterVec
	claimComputeUnitLimit *prometheus.HistogramVec

	// Broadcast Metrics
	broadcastAttemptsTotal *prometheus.CounterVec
	broadcastOutcomesTotal *prometheus.CounterVec
	broadcastDuration      *prometheus.HistogramVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	httpInFlight        *prometheus.GaugeVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),

		// Validation Metrics
		validationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_validations_total",
				Help: "Total number of transaction policy validations by result",
			},
			[]string{"result"},
		),
		validationRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transaction_validation_rejections_total",
				Help: "Total number of failed policy predicates by predicate name",
			},
			[]string{"predicate"},
		),

		// Funding Metrics
		fundingRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "funding_requests_total",
				Help: "Total number of funding requests by outcome",
			},
			[]string{"outcome"},
		),
		fundedTransactions: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "funded_transactions_total",
				Help: "Total number of transactions co-signed by a funder",
			},
		),

		// Claim Builder Metrics
		claimsBuiltTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claims_built_total",
				Help: "Total number of claim transactions built by ecosystem and status",
			},
			[]string{"ecosystem", "status"},
		),
		claimComputeUnitLimit: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "claim_compute_unit_limit",
				Help:    "Compute unit limit assigned to built claim transactions",
				Buckets: []float64{25_000, 50_000, 100_000, 150_000, 200_000, 300_000, 400_000},
			},
			[]string{"ecosystem"},
		),

		// Broadcast Metrics
		broadcastAttemptsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcast_attempts_total",
				Help: "Total number of per-endpoint broadcast attempts by how they ended",
			},
			[]string{"endpoint", "result"},
		),
		broadcastOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "broadcast_outcomes_total",
				Help: "Total number of broadcast transactions by final outcome",
			},
			[]string{"outcome"},
		),
		broadcastDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "broadcast_duration_seconds",
				Help:    "Time from fan-out to resolution of a broadcast transaction",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 35, 60},
			},
			[]string{"outcome"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		httpInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being served by handler",
			},
			[]string{"handler"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// Validation metric helpers

// RecordValidation records a single transaction validation and the predicates it failed.
func (m *Metrics) RecordValidation(failedPredicates []string) {
	if len(failedPredicates) == 0 {
		m.validationsTotal.WithLabelValues("accepted").Inc()
		return
	}
	m.validationsTotal.WithLabelValues("rejected").Inc()
	for _, p := range failedPredicates {
		m.validationRejections.WithLabelValues(p).Inc()
	}
}

// Funding metric helpers

// RecordFundingRequest records the outcome of a /fund_transaction request.
func (m *Metrics) RecordFundingRequest(outcome string, funded int) {
	m.fundingRequestsTotal.WithLabelValues(outcome).Inc()
	m.fundedTransactions.Add(float64(funded))
}

// Claim builder metric helpers

// RecordClaimBuilt records a claim build attempt and, on success, its compute budget.
func (m *Metrics) RecordClaimBuilt(ecosystem string, computeUnitLimit uint32, err error) {
	if err != nil {
		m.claimsBuiltTotal.WithLabelValues(ecosystem, "error").Inc()
		return
	}
	m.claimsBuiltTotal.WithLabelValues(ecosystem, "success").Inc()
	m.claimComputeUnitLimit.WithLabelValues(ecosystem).Observe(float64(computeUnitLimit))
}

// Broadcast metric helpers

// RecordBroadcastAttempt records how one endpoint attempt ended
// ("confirmed", "failed", "cancelled", "timeout").
func (m *Metrics) RecordBroadcastAttempt(endpoint, result string) {
	m.broadcastAttemptsTotal.WithLabelValues(endpoint, result).Inc()
}

// RecordBroadcastOutcome records the resolution of one broadcast transaction.
func (m *Metrics) RecordBroadcastOutcome(outcome string, duration float64) {
	m.broadcastOutcomesTotal.WithLabelValues(outcome).Inc()
	m.broadcastDuration.WithLabelValues(outcome).Observe(duration)
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
