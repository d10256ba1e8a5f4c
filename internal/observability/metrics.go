package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for AuctionLedger.
type Metrics struct {
	// --- Auction lifecycle ---
	AuctionsStarted   prometheus.Counter
	AuctionsClosed    *prometheus.CounterVec
	AuctionsActive    prometheus.Gauge
	CollateralBought  prometheus.Counter
	DebtRepaid        prometheus.Counter
	BuysTotal         *prometheus.CounterVec
	OpRejected        *prometheus.CounterVec
	OpDuration        *prometheus.HistogramVec
	ControllerSequence prometheus.Gauge

	// --- Channel & backpressure ---
	ChannelSize        *prometheus.GaugeVec
	ChannelCapacity    *prometheus.GaugeVec
	ChannelUtilization *prometheus.GaugeVec
	PublishDrops       prometheus.Counter
	ProjectionDrops    prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Idempotency ---
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge
	DedupLRUEvictions     prometheus.Counter
	DedupTier2Duration    prometheus.Histogram

	// --- Persistence ---
	PersistEventsWritten prometheus.Counter
	PersistBatchDur      prometheus.Histogram
	PersistBatchSize     prometheus.Histogram
	PersistErrors        *prometheus.CounterVec
	PersistLastSequence  prometheus.Gauge

	// --- Ingestion ---
	CommandsReceived *prometheus.CounterVec
	CommandsRejected *prometheus.CounterVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	opBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		AuctionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_auctions_started_total",
			Help: "Auctions started",
		}),

		AuctionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_auctions_closed_total",
			Help: "Auctions closed by trigger (buy/payall)",
		}, []string{"trigger"}),

		AuctionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "liq_auctions_active",
			Help: "Vaults currently under auction",
		}),

		CollateralBought: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_collateral_bought_total",
			Help: "Collateral base units released to buyers",
		}),

		DebtRepaid: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_debt_repaid_total",
			Help: "Normalized debt base units removed",
		}),

		BuysTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_buys_total",
			Help: "Buy operations by outcome (ok/error)",
		}, []string{"op", "outcome"}),

		OpRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_ops_rejected_total",
			Help: "Operations rejected by reason",
		}, []string{"op", "reason"}),

		OpDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "liq_op_duration_seconds",
			Help:    "Controller operation duration",
			Buckets: opBuckets,
		}, []string{"op"}),

		ControllerSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "liq_controller_sequence",
			Help: "Current global event sequence",
		}),

		ChannelSize: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liq_channel_size",
			Help: "Current items in channel",
		}, []string{"name"}),

		ChannelCapacity: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liq_channel_capacity",
			Help: "Channel capacity (constant)",
		}, []string{"name"}),

		ChannelUtilization: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "liq_channel_utilization",
			Help: "Channel size / capacity (0.0-1.0)",
		}, []string{"name"}),

		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_publish_drops_total",
			Help: "Events dropped due to full publish channel",
		}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_projection_drops_total",
			Help: "Events dropped due to full projection channel",
		}),

		PersistBackpressure: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_persist_backpressure_total",
			Help: "Times the controller blocked on the persist channel",
		}),

		IdempotencyDuplicates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_idempotency_duplicates_total",
			Help: "Duplicate commands caught (lru/postgres)",
		}, []string{"tier"}),

		DedupLRUSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "liq_dedup_lru_size",
			Help: "Current LRU occupancy",
		}),

		DedupLRUEvictions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_dedup_lru_evictions_total",
			Help: "LRU evictions",
		}),

		DedupTier2Duration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "liq_dedup_tier2_duration_seconds",
			Help:    "Postgres dedup lookup latency",
			Buckets: opBuckets,
		}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "liq_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistBatchDur: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "liq_persist_batch_duration_seconds",
			Help:    "Postgres batch write duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PersistBatchSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "liq_persist_batch_size",
			Help:    "Events per batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "liq_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		CommandsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_commands_received_total",
			Help: "Commands received from NATS",
		}, []string{"type"}),

		CommandsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_commands_rejected_total",
			Help: "Commands rejected (parse/dedup/apply)",
		}, []string{"type", "reason"}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "liq_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "liq_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// SetChannelMetrics updates channel utilization metrics.
func (m *Metrics) SetChannelMetrics(name string, size, capacity int) {
	m.ChannelSize.WithLabelValues(name).Set(float64(size))
	m.ChannelCapacity.WithLabelValues(name).Set(float64(capacity))
	if capacity > 0 {
		m.ChannelUtilization.WithLabelValues(name).Set(float64(size) / float64(capacity))
	}
}
