package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus metric the engine and its surfaces emit.
type Metrics struct {
	// --- Transition processing ---
	TransitionsApplied  *prometheus.CounterVec
	TransitionsRejected *prometheus.CounterVec
	TransitionDuration  *prometheus.HistogramVec

	// --- Market aggregates ---
	OpenInterestLong  *prometheus.GaugeVec
	OpenInterestShort *prometheus.GaugeVec
	TotalCollateral   *prometheus.GaugeVec
	OraclePrice       *prometheus.GaugeVec

	// --- Store ---
	StoreCommitDuration prometheus.Histogram

	// --- Intake ---
	IntakeReceived   *prometheus.CounterVec
	IntakeDuplicates *prometheus.CounterVec
	IntakeParseError *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on the default registry.
func NewMetrics() *Metrics {
	applyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		TransitionsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_transitions_applied_total",
			Help: "Transitions committed",
		}, []string{"kind"}),

		TransitionsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_transitions_rejected_total",
			Help: "Transitions rejected, by validation failure",
		}, []string{"kind", "reason"}),

		TransitionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_transition_duration_seconds",
			Help:    "End-to-end time to validate and commit one transition",
			Buckets: applyBuckets,
		}, []string{"kind"}),

		OpenInterestLong: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_open_interest_long",
			Help: "Sum of absolute long position sizes",
		}, []string{"market_id"}),

		OpenInterestShort: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_open_interest_short",
			Help: "Sum of absolute short position sizes",
		}, []string{"market_id"}),

		TotalCollateral: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_total_collateral",
			Help: "Collateral posted across all positions in a market",
		}, []string{"market_id"}),

		OraclePrice: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "perp_oracle_price",
			Help: "Last accepted oracle price (1e8 scale)",
		}, []string{"market_id"}),

		StoreCommitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "perp_store_commit_duration_seconds",
			Help:    "Account batch commit latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		IntakeReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_intake_received_total",
			Help: "Transition envelopes received from transport",
		}, []string{"kind"}),

		IntakeDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_intake_duplicates_total",
			Help: "Envelopes skipped as duplicate transition ids",
		}, []string{"kind"}),

		IntakeParseError: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_intake_parse_errors_total",
			Help: "Envelopes dropped as unparseable",
		}, []string{"subject"}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "perp_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "perp_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
