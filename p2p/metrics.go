package p2p

import "github.com/overlaydex/go-overlay/metrics"

const subsystem = "p2p"

var (
	connectedPeers = metrics.NewGauge(
		"connected_peers",
		subsystem,
		"number of handshaked peers",
		[]string{},
	).WithLabelValues()
	handshakeFailures = metrics.NewCounter(
		"handshake_failures",
		subsystem,
		"number of failed handshakes",
		[]string{},
	).WithLabelValues()
)
