package metrics

import (
	"github.com/libp2p/go-libp2p/core/network"
	ma "github.com/multiformats/go-multiaddr"

	overlaymetrics "github.com/overlaydex/go-overlay/metrics"
)

var connections = overlaymetrics.NewGauge(
	"connections",
	subsystem,
	"number of libp2p connections",
	[]string{"dir"},
)

// ConnectionsMeter tracks the number of open libp2p connections by direction.
type ConnectionsMeter struct{}

var _ network.Notifiee = ConnectionsMeter{}

// NewConnectionsMeter returns a notifiee to register with the libp2p network.
func NewConnectionsMeter() ConnectionsMeter {
	return ConnectionsMeter{}
}

func direction(c network.Conn) string {
	if c.Stat().Direction == network.DirOutbound {
		return outgoing
	}
	return incoming
}

func (ConnectionsMeter) Connected(_ network.Network, c network.Conn) {
	connections.WithLabelValues(direction(c)).Inc()
}

func (ConnectionsMeter) Disconnected(_ network.Network, c network.Conn) {
	connections.WithLabelValues(direction(c)).Dec()
}

func (ConnectionsMeter) Listen(network.Network, ma.Multiaddr)      {}
func (ConnectionsMeter) ListenClose(network.Network, ma.Multiaddr) {}
