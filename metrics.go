package telemdb

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pagesPersistedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemdb_pages_persisted_total",
		Help: "Cumulative number of sample pages written to a store.",
	})
	syncPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemdb_sync_passes_total",
		Help: "Cumulative number of synchronization passes, by outcome.",
	}, []string{"outcome"})
	syncTransferredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemdb_sync_transferred_total",
		Help: "Cumulative number of records copied by synchronization.",
	})
	syncPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemdb_sync_pruned_total",
		Help: "Cumulative number of source records deleted after transfer.",
	})
)

// Outcome labels of syncPassesTotal.
const (
	outcomeOk   = "ok"
	outcomeFail = "fail"
)
