package txn

import "github.com/prometheus/client_golang/prometheus"

var (
	txnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyledger",
			Subsystem: "txn",
			Name:      "finished_total",
			Help:      "Counter of finished transactions by engine and outcome.",
		}, []string{"engine", "outcome"})

	conflictCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyledger",
			Subsystem: "txn",
			Name:      "conflicts_total",
			Help:      "Counter of operations rejected by concurrency control, by engine and error.",
		}, []string{"engine", "error"})

	waitHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tinyledger",
			Subsystem: "txn",
			Name:      "wait_duration_seconds",
			Help:      "Bucketed histogram of time operations spent suspended.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 20),
		}, []string{"engine"})
)

func init() {
	prometheus.MustRegister(txnCounter)
	prometheus.MustRegister(conflictCounter)
	prometheus.MustRegister(waitHistogram)
}

// Transaction outcomes.
const (
	OutcomeCommit  = "commit"
	OutcomeAbort   = "abort"
	OutcomeTimeout = "timeout"
)

// ObserveFinished counts a transaction that ended with outcome.
func ObserveFinished(engine, outcome string) {
	txnCounter.WithLabelValues(engine, outcome).Inc()
}

// ObserveConflict counts err if it is one of the concurrency control errors.
func ObserveConflict(engine string, err error) {
	var label string
	switch {
	case err == nil:
		return
	case ErrorIs(err, ErrTimestampOutdated):
		label = "timestamp_outdated"
	case ErrorIs(err, ErrDeadlockDetected):
		label = "deadlock"
	case ErrorIs(err, ErrAccountDirty):
		label = "account_dirty"
	case ErrorIs(err, ErrAccountNegativeBalance):
		label = "negative_balance"
	default:
		return
	}
	conflictCounter.WithLabelValues(engine, label).Inc()
}

// ObserveWait records how long an operation of engine was suspended.
func ObserveWait(engine string, seconds float64) {
	waitHistogram.WithLabelValues(engine).Observe(seconds)
}
