package blockmanager

import (
	"sync"

	"github.com/buildbarn/bb-blockmanager/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	blockInfoManagerPrometheusMetrics sync.Once

	blockInfoManagerLockAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "blockmanager",
			Subsystem: "block_info_manager",
			Name:      "lock_attempts_total",
			Help:      "Number of times a lock was requested, by operation and outcome",
		},
		[]string{"operation", "outcome"})

	blockInfoManagerBlockingWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "blockmanager",
			Subsystem: "block_info_manager",
			Name:      "blocking_wait_seconds",
			Help:      "Time spent suspended in a blocking lock call waiting for a notification",
			Buckets:   util.DecimalExponentialBuckets(-3, 6, 2),
		},
		[]string{"operation"})
)

// blockInfoManagerMetrics holds the Observer/Counter handles, cached on
// construction so that lock/unlock calls on the hot path never touch a
// label map. The underlying vectors are process-wide and carry no
// per-manager label, so every manager reports into the same series.
type blockInfoManagerMetrics struct {
	readHit          prometheus.Counter
	readMiss         prometheus.Counter
	readBlocked      prometheus.Counter
	writeHit         prometheus.Counter
	writeMiss        prometheus.Counter
	writeBlocked     prometheus.Counter
	newBlockWon      prometheus.Counter
	newBlockLost     prometheus.Counter
	readWaitSeconds  prometheus.Observer
	writeWaitSeconds prometheus.Observer
}

func newBlockInfoManagerMetrics() *blockInfoManagerMetrics {
	blockInfoManagerPrometheusMetrics.Do(func() {
		prometheus.MustRegister(blockInfoManagerLockAttempts)
		prometheus.MustRegister(blockInfoManagerBlockingWaitSeconds)
	})
	return &blockInfoManagerMetrics{
		readHit:          blockInfoManagerLockAttempts.WithLabelValues("lock_for_reading", "hit"),
		readMiss:         blockInfoManagerLockAttempts.WithLabelValues("lock_for_reading", "miss"),
		readBlocked:      blockInfoManagerLockAttempts.WithLabelValues("lock_for_reading", "blocked"),
		writeHit:         blockInfoManagerLockAttempts.WithLabelValues("lock_for_writing", "hit"),
		writeMiss:        blockInfoManagerLockAttempts.WithLabelValues("lock_for_writing", "miss"),
		writeBlocked:     blockInfoManagerLockAttempts.WithLabelValues("lock_for_writing", "blocked"),
		newBlockWon:      blockInfoManagerLockAttempts.WithLabelValues("lock_new_block_for_writing", "won"),
		newBlockLost:     blockInfoManagerLockAttempts.WithLabelValues("lock_new_block_for_writing", "lost"),
		readWaitSeconds:  blockInfoManagerBlockingWaitSeconds.WithLabelValues("lock_for_reading"),
		writeWaitSeconds: blockInfoManagerBlockingWaitSeconds.WithLabelValues("lock_for_writing"),
	}
}
