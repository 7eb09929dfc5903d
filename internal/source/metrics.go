package source

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollTicks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logstream_source_poll_ticks_total",
		Help: "Total poll ticks across all poll-mode streams",
	})

	pollTicksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logstream_source_poll_ticks_failed_total",
		Help: "Poll ticks that ended in a transient error without advancing",
	})

	recordsDelivered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logstream_source_records_delivered_total",
		Help: "Records delivered downstream after deduplication",
	})

	dedupDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logstream_source_dedup_dropped_total",
		Help: "Records dropped as duplicates of already delivered ones",
	})

	rangeSplits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logstream_source_range_splits_total",
		Help: "Range queries shrunk after a node result-limit error",
	})

	headBlock = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "logstream_source_head_block",
		Help: "Most recently observed head block number",
	})
)

// PollTickInc counts one poll tick.
func PollTickInc() { pollTicks.Inc() }

// PollTickFailedInc counts one failed poll tick.
func PollTickFailedInc() { pollTicksFailed.Inc() }

// RecordsDeliveredInc counts one record delivered downstream.
func RecordsDeliveredInc() { recordsDelivered.Inc() }

// DedupDroppedInc counts one record dropped as a duplicate.
func DedupDroppedInc() { dedupDropped.Inc() }

// RangeSplitInc counts one shrunk range query.
func RangeSplitInc() { rangeSplits.Inc() }

// HeadBlockSet records the latest observed head block number.
func HeadBlockSet(n uint64) { headBlock.Set(float64(n)) }
