package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for SaveLedger.
type Metrics struct {
	// --- Ledger operations ---
	LedgerOpsApplied     *prometheus.CounterVec
	LedgerOpsRejected    *prometheus.CounterVec
	LedgerOpDuration     *prometheus.HistogramVec
	LedgerJournals       *prometheus.CounterVec
	LedgerSequence       *prometheus.GaugeVec
	LedgerTotalSupply    *prometheus.GaugeVec
	SubAccountsCreated   *prometheus.CounterVec
	Compensations        *prometheus.CounterVec
	CompensationFailures *prometheus.CounterVec
	AdapterErrors        *prometheus.CounterVec
	ShareClasses         prometheus.Gauge

	// --- Channel & Backpressure ---
	ChannelSize         *prometheus.GaugeVec
	ChannelCapacity     *prometheus.GaugeVec
	ChannelUtilization  *prometheus.GaugeVec
	ProjectionDrops     *prometheus.CounterVec
	PublishDrops        prometheus.Counter
	PersistBackpressure prometheus.Counter

	// --- Ingestion & Idempotency ---
	CommandsReceived        *prometheus.CounterVec
	CommandsInvalid         prometheus.Counter
	CommandsUnauthenticated *prometheus.CounterVec
	CommandDuplicates       *prometheus.CounterVec
	DedupLRUSize            prometheus.Gauge
	DedupLRUEvictions       prometheus.Counter
	DedupTier2Errors        prometheus.Counter
	NATSPullLatency         prometheus.Histogram

	// --- Persistence ---
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistBatchSize       prometheus.Histogram
	PersistBatchDur        prometheus.Histogram
	PersistErrors          *prometheus.CounterVec
	PersistRetry           prometheus.Counter
	PersistLastSequence    *prometheus.GaugeVec

	// --- Projection ---
	ProjectionUpdateDur prometheus.Histogram
	ProjectionErrors    prometheus.Counter

	// --- Snapshot ---
	SnapshotTaken     prometheus.Counter
	SnapshotDuration  prometheus.Histogram
	SnapshotSizeBytes prometheus.Gauge
	SnapshotLastSeq   *prometheus.GaugeVec

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers all metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	opBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05,
	}

	return &Metrics{
		LedgerOpsApplied: f.NewCounterVec(prometheus.CounterOpts{
			Name: "save_ledger_ops_applied_total",
			Help: "Ledger operations committed",
		}, []string{"class", "op"}),

		LedgerOpsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "save_ledger_ops_rejected_total",
			Help: "Ledger operations rejected, by error kind",
		}, []string{"class", "op", "kind"}),

		LedgerOpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "save_ledger_op_duration_seconds",
			Help:    "Time to run one ledger operation including adapter calls",
			Buckets: opBuckets,
		}, []string{"op"}),

		LedgerJournals: f.NewCounterVec(prometheus.CounterOpts{
			Name: "save_ledger_journals_generated_total",
			Help: "Journal entries generated",
		}, []string{"journal_type"}),

		LedgerSequence: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "save_ledger_sequence",
			Help: "Next sequence number per share class",
		}, []string{"class"}),

		LedgerTotalSupply: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "save_ledger_total_supply",
			Help: "Outstanding shares per share class (raw units, lossy above 2^53)",
		}, []string{"class"}),

		SubAccountsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "save_sub_accounts_created_total",
			Help: "Holder sub-accounts created",
		}, []string{"class"}),

		Compensations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "save_compensations_total",
			Help: "Operations rolled back after an adapter failure",
		}, []string{"class", "op"}),

		CompensationFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "save_compensation_failures_total",
			Help: "Compensating steps that themselves failed; need manual reconciliation",
		}, []string{"class", "op"}),

		AdapterErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "save_adapter_errors_total",
			Help: "Adapter calls that returned an error",
		}, []string{"class", "step"}),

		ShareClasses: f.NewGauge(prometheus.GaugeOpts{
			Name: "save_share_classes",
			Help: "Share classes in the registry",
		}),

		ChannelSize: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "save_channel_size",
			Help: "Current items in channel",
		}, []string{"channel"}),

		ChannelCapacity: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "save_channel_capacity",
			Help: "Channel buffer capacity",
		}, []string{"channel"}),

		ChannelUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "save_channel_utilization",
			Help: "Channel size / capacity",
		}, []string{"channel"}),

		ProjectionDrops: f.NewCounterVec(prometheus.CounterOpts{
			Name: "save_projection_drops_total",
			Help: "Outputs dropped because a non-blocking consumer was full",
		}, []string{"consumer"}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "save_publish_drops_total",
			Help: "Outbound events dropped on publish failure",
		}),

		PersistBackpressure: f.NewCounter(prometheus.CounterOpts{
			Name: "save_persist_backpressure_total",
			Help: "Times a ledger blocked on a full persist channel",
		}),

		CommandsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "save_commands_received_total",
			Help: "Commands received from NATS or HTTP",
		}, []string{"source", "op"}),

		CommandsInvalid: f.NewCounter(prometheus.CounterOpts{
			Name: "save_commands_invalid_total",
			Help: "Commands that failed to parse",
		}),

		CommandsUnauthenticated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "save_commands_unauthenticated_total",
			Help: "Commands refused for a missing or foreign signature",
		}, []string{"source"}),

		CommandDuplicates: f.NewCounterVec(prometheus.CounterOpts{
			Name: "save_command_duplicates_total",
			Help: "Commands skipped as already processed",
		}, []string{"tier"}),

		DedupLRUSize: f.NewGauge(prometheus.GaugeOpts{
			Name: "save_dedup_lru_size",
			Help: "Command ids held in the in-memory dedup cache",
		}),

		DedupLRUEvictions: f.NewCounter(prometheus.CounterOpts{
			Name: "save_dedup_lru_evictions_total",
			Help: "Dedup cache evictions",
		}),

		DedupTier2Errors: f.NewCounter(prometheus.CounterOpts{
			Name: "save_dedup_tier2_errors_total",
			Help: "Postgres dedup lookups that failed",
		}),

		NATSPullLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "save_nats_pull_latency_seconds",
			Help:    "NATS fetch round trip",
			Buckets: prometheus.DefBuckets,
		}),

		PersistEventsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "save_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: f.NewCounter(prometheus.CounterOpts{
			Name: "save_persist_journals_written_total",
			Help: "Journal rows written to Postgres",
		}),

		PersistBatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "save_persist_batch_size",
			Help:    "Outputs per persistence transaction",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),

		PersistBatchDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "save_persist_batch_duration_seconds",
			Help:    "Time to commit one persistence batch",
			Buckets: prometheus.DefBuckets,
		}),

		PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "save_persist_errors_total",
			Help: "Persistence failures",
		}, []string{"stage"}),

		PersistRetry: f.NewCounter(prometheus.CounterOpts{
			Name: "save_persist_retry_total",
			Help: "Persistence batch retries",
		}),

		PersistLastSequence: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "save_persist_last_sequence",
			Help: "Last persisted sequence per share class",
		}, []string{"class"}),

		ProjectionUpdateDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "save_projection_update_duration_seconds",
			Help:    "Time to upsert one projection update",
			Buckets: prometheus.DefBuckets,
		}),

		ProjectionErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "save_projection_errors_total",
			Help: "Projection updates that failed",
		}),

		SnapshotTaken: f.NewCounter(prometheus.CounterOpts{
			Name: "save_snapshot_taken_total",
			Help: "Snapshots written",
		}),

		SnapshotDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "save_snapshot_duration_seconds",
			Help:    "Time to capture and write a snapshot",
			Buckets: prometheus.DefBuckets,
		}),

		SnapshotSizeBytes: f.NewGauge(prometheus.GaugeOpts{
			Name: "save_snapshot_size_bytes",
			Help: "Size of the last snapshot",
		}),

		SnapshotLastSeq: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "save_snapshot_last_sequence",
			Help: "Sequence of the last snapshot per share class",
		}, []string{"class"}),

		QueryRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "save_query_requests_total",
			Help: "HTTP API requests",
		}, []string{"route"}),

		QueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "save_query_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),

		QueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "save_query_errors_total",
			Help: "HTTP API errors",
		}, []string{"route", "status"}),
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
