package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for SynthVault.
type Metrics struct {
	// --- Engine ---
	OpsApplied     *prometheus.CounterVec
	OpsRejected    *prometheus.CounterVec
	OpDuration     *prometheus.HistogramVec
	EngineSequence prometheus.Gauge
	ReentrancyHits prometheus.Counter

	// --- Collateral & debt ---
	CollateralDeposited *prometheus.CounterVec
	CollateralRedeemed  *prometheus.CounterVec
	SynthMinted         prometheus.Counter
	SynthBurned         prometheus.Counter

	// --- Liquidation ---
	LiquidationsExecuted prometheus.Counter
	LiquidationsRejected *prometheus.CounterVec
	CollateralSeized     *prometheus.CounterVec

	// --- Price feed ---
	PriceUpdates    *prometheus.CounterVec
	PriceFeedErrors prometheus.Counter

	// --- Persistence ---
	PersistRecordsWritten prometheus.Counter
	PersistBatchDur       prometheus.Histogram
	PersistErrors         *prometheus.CounterVec
	PersistLastSequence   prometheus.Gauge
	PublishDrops          prometheus.Counter

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		OpsApplied: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_ops_applied_total",
			Help: "Vault operations committed",
		}, []string{"op"}),

		OpsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_ops_rejected_total",
			Help: "Vault operations rejected (validation, solvency, transfer)",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_op_duration_seconds",
			Help:    "Time to execute one vault operation",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_engine_sequence",
			Help: "Current global operation sequence",
		}),

		ReentrancyHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_reentrancy_rejections_total",
			Help: "Calls rejected by the reentrancy latch",
		}),

		CollateralDeposited: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_collateral_deposited_total",
			Help: "Deposit operations per asset",
		}, []string{"asset"}),

		CollateralRedeemed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_collateral_redeemed_total",
			Help: "Redeem operations per asset",
		}, []string{"asset"}),

		SynthMinted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_minted_total",
			Help: "Mint operations committed",
		}),

		SynthBurned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_burned_total",
			Help: "Burn operations committed",
		}),

		LiquidationsExecuted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_liquidations_executed_total",
			Help: "Liquidations committed",
		}),

		LiquidationsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_liquidations_rejected_total",
			Help: "Liquidations rejected",
		}, []string{"reason"}),

		CollateralSeized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_collateral_seized_total",
			Help: "Liquidation seizure operations per asset",
		}, []string{"asset"}),

		PriceUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_price_updates_total",
			Help: "Oracle price updates applied",
		}, []string{"feed"}),

		PriceFeedErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_price_feed_errors_total",
			Help: "Malformed or unparseable price messages",
		}),

		PersistRecordsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_persist_records_written_total",
			Help: "Operation records written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "synth_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "synth_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "synth_publish_drops_total",
			Help: "Records dropped due to full publish channel",
		}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "synth_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "synth_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}
