package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/overlaydex/go-overlay/metrics"
)

const (
	subsystem = "invsync"
	result    = "result"
	kind      = "kind"
	reason    = "reason"
)

var (
	requestsTotal = metrics.NewCounter(
		"requests",
		subsystem,
		"Inventory requests sent to peers, by result",
		[]string{result})
	requestSucceeded = requestsTotal.WithLabelValues("ok")
	requestFailed    = requestsTotal.WithLabelValues("fail")
	requestTimedOut  = requestsTotal.WithLabelValues("timeout")
	requestCancelled = requestsTotal.WithLabelValues("cancelled")

	pendingRequests = metrics.NewGauge(
		"pending_requests",
		subsystem,
		"Inventory requests in flight",
		[]string{}).WithLabelValues()

	requestDuration = metrics.NewHistogramWithBuckets(
		"request_duration_seconds",
		subsystem,
		"Duration of successful inventory requests",
		[]string{},
		prometheus.ExponentialBuckets(0.01, 2, 16),
	).WithLabelValues()

	entriesApplied = metrics.NewCounter(
		"entries_applied",
		subsystem,
		"Inventory entries applied to the local store, by kind",
		[]string{kind})

	inventoriesServed = metrics.NewCounter(
		"inventories_served",
		subsystem,
		"Inventories sent in response to peer requests",
		[]string{}).WithLabelValues()

	servedEntries = metrics.NewHistogramWithBuckets(
		"served_entries",
		subsystem,
		"Number of entries per served inventory",
		[]string{},
		prometheus.ExponentialBuckets(1, 4, 10),
	).WithLabelValues()

	requestsDropped = metrics.NewCounter(
		"requests_dropped",
		subsystem,
		"Peer requests dropped without a response, by reason",
		[]string{reason})
	droppedUnsupported = requestsDropped.WithLabelValues("unsupported_filter")
	droppedRateLimited = requestsDropped.WithLabelValues("rate_limited")
	droppedFailed      = requestsDropped.WithLabelValues("failed")
)
