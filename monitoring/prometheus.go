package monitoring

import (
	"net/http"
	"time"

	"github.com/ledgermesh/blockcoord/logx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StateLabel names a coordinator state for the state-transition counter.
type StateLabel string

type coordinatorPromMetrics struct {
	nodeUpUnixSeconds  prometheus.Gauge
	stateTransitions   *prometheus.CounterVec
	resetCount         prometheus.Counter
	panicCount         prometheus.Counter
	blockHeight        prometheus.Gauge
	blockTime          prometheus.Histogram
	executorBusy       prometheus.Gauge
	executorItemCount  prometheus.Histogram
	proofIterations    prometheus.Counter
	pendingTxCount     prometheus.Gauge
	mergedMinedBlocks  prometheus.Counter
	transmitFailures   prometheus.Counter
}

func newCoordinatorPromMetrics() *coordinatorPromMetrics {
	return &coordinatorPromMetrics{
		nodeUpUnixSeconds: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockcoord_up_timestamp_unix_seconds",
				Help: "Unix timestamp at which the coordinator process started",
			},
		),
		stateTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "blockcoord_state_transitions_total",
				Help: "Number of times the coordinator handler entered a given state",
			},
			[]string{"state"},
		),
		resetCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blockcoord_reset_total",
				Help: "Number of times the state machine funneled through RESET",
			},
		),
		panicCount: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blockcoord_panic_total",
				Help: "Number of recovered panics in coordinator-owned goroutines",
			},
		),
		blockHeight: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockcoord_block_height",
				Help: "Block number of last_executed_block",
			},
		),
		blockTime: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name: "blockcoord_block_time_seconds",
				Help: "Wall-clock time between two consecutive TRANSMIT_BLOCK completions",
			},
		),
		executorBusy: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockcoord_executor_busy",
				Help: "1 if the execution manager reports ACTIVE, 0 otherwise",
			},
		),
		executorItemCount: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name: "blockcoord_executor_items_per_block",
				Help: "Number of execution items dispatched per scheduled block",
			},
		),
		proofIterations: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blockcoord_proof_iterations_total",
				Help: "Total proof-of-work iterations attempted across all PROOF_SEARCH ticks",
			},
		),
		pendingTxCount: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "blockcoord_pending_tx_count",
				Help: "Number of transaction digests still awaited in WAIT_FOR_TRANSACTIONS",
			},
		),
		mergedMinedBlocks: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blockcoord_mined_blocks_total",
				Help: "Number of blocks this node has successfully mined and transmitted",
			},
		),
		transmitFailures: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "blockcoord_transmit_failures_total",
				Help: "Number of TRANSMIT_BLOCK attempts that were logged and swallowed",
			},
		),
	}
}

var coordinatorMetrics *coordinatorPromMetrics

// InitMetrics registers the coordinator's Prometheus collectors.
func InitMetrics() {
	coordinatorMetrics = newCoordinatorPromMetrics()
	coordinatorMetrics.nodeUpUnixSeconds.SetToCurrentTime()
}

// RegisterMetrics mounts the Prometheus scrape handler on mux.
func RegisterMetrics(mux *http.ServeMux) {
	logx.Info("MONITORING", "registering prometheus metrics")
	mux.Handle("/metrics", promhttp.Handler())
}

// Every setter below is a no-op until InitMetrics has run: collaborator
// unit tests construct a coordinator without a metrics registry, and
// none of them should have to know that to avoid a nil dereference.

func RecordStateEntered(state string) {
	if coordinatorMetrics == nil {
		return
	}
	coordinatorMetrics.stateTransitions.With(prometheus.Labels{"state": state}).Inc()
}

func IncreaseResetCount() {
	if coordinatorMetrics == nil {
		return
	}
	coordinatorMetrics.resetCount.Inc()
}

func IncreasePanicCount() {
	if coordinatorMetrics == nil {
		return
	}
	coordinatorMetrics.panicCount.Inc()
}

func SetBlockHeight(blockNumber uint64) {
	if coordinatorMetrics == nil {
		return
	}
	coordinatorMetrics.blockHeight.Set(float64(blockNumber))
}

func RecordBlockTime(d time.Duration) {
	if coordinatorMetrics == nil {
		return
	}
	coordinatorMetrics.blockTime.Observe(d.Seconds())
}

func SetExecutorBusy(busy bool) {
	if coordinatorMetrics == nil {
		return
	}
	if busy {
		coordinatorMetrics.executorBusy.Set(1)
		return
	}
	coordinatorMetrics.executorBusy.Set(0)
}

func RecordExecutorItemCount(n int) {
	if coordinatorMetrics == nil {
		return
	}
	coordinatorMetrics.executorItemCount.Observe(float64(n))
}

func IncreaseProofIterations(n int) {
	if coordinatorMetrics == nil {
		return
	}
	coordinatorMetrics.proofIterations.Add(float64(n))
}

func SetPendingTxCount(n int) {
	if coordinatorMetrics == nil {
		return
	}
	coordinatorMetrics.pendingTxCount.Set(float64(n))
}

func IncreaseMinedBlocks() {
	if coordinatorMetrics == nil {
		return
	}
	coordinatorMetrics.mergedMinedBlocks.Inc()
}

func IncreaseTransmitFailures() {
	if coordinatorMetrics == nil {
		return
	}
	coordinatorMetrics.transmitFailures.Inc()
}
