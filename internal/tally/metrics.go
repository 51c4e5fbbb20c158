package tally

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheRequests counts snapshot cache lookups by result
	cacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "qaboard_tally_cache_requests_total",
		Help: "Tally snapshot cache lookups by result",
	}, []string{"result"})

	// feedDropped counts snapshots replaced before a slow subscriber read them
	feedDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "qaboard_tally_feed_dropped_total",
		Help: "Snapshots superseded before a subscriber received them",
	})
)
