package ledger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	resultOK              = "ok"
	resultNotFound        = "not_found"
	resultUnauthenticated = "unauthenticated"
	resultInvalid         = "invalid_argument"
	resultConflict        = "conflict"
	resultCanceled        = "canceled"
	resultError           = "error"
)

var (
	// voteCastTotal counts castVote calls by outcome
	voteCastTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qaboard_vote_cast_total",
		Help: "Vote casts by result",
	}, []string{"result"})

	// voteCastDuration tracks castVote latency including retries
	voteCastDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "qaboard_vote_cast_duration_seconds",
		Help:    "Vote cast duration in seconds, retries included",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
	}, []string{"result"})

	// voteAttempts tracks transaction runs per cast
	voteAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "qaboard_vote_transaction_attempts",
		Help:    "Transaction attempts needed per vote cast",
		Buckets: []float64{1, 2, 3, 4, 5, 8, 16},
	})

	// voteConflicts counts commits rejected by the store
	voteConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qaboard_vote_conflicts_total",
		Help: "Vote transactions rejected with a commit conflict",
	})
)
