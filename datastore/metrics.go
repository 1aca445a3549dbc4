package datastore

import (
	"github.com/overlaydex/go-overlay/metrics"
)

const subsystem = "datastore"

var (
	writes = metrics.NewCounter(
		"writes",
		subsystem,
		"Replication events persisted, by kind",
		[]string{"kind"})

	duplicates = metrics.NewCounter(
		"duplicates",
		subsystem,
		"Replication events ignored because a newer or equal version is stored",
		[]string{}).WithLabelValues()

	cacheHits = metrics.NewCounter(
		"cache_hits",
		subsystem,
		"Duplicates absorbed from the sequence number cache",
		[]string{}).WithLabelValues()
)
