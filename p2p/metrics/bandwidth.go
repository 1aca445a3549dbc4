// Package metrics exposes libp2p traffic and connection statistics to prometheus.
package metrics

import (
	"errors"

	"github.com/libp2p/go-libp2p/core/metrics"
	"github.com/prometheus/client_golang/prometheus"

	overlaymetrics "github.com/overlaydex/go-overlay/metrics"
)

const (
	subsystem = "p2p"
	incoming  = "incoming"
	outgoing  = "outgoing"
)

var (
	trafficDesc = prometheus.NewDesc(
		prometheus.BuildFQName(overlaymetrics.Namespace, subsystem, "traffic_bytes_total"),
		"total traffic of the node",
		[]string{"dir"}, nil,
	)
	protocolTrafficDesc = prometheus.NewDesc(
		prometheus.BuildFQName(overlaymetrics.Namespace, subsystem, "protocol_traffic_bytes_total"),
		"traffic per libp2p protocol",
		[]string{"protocol", "dir"}, nil,
	)
)

// BandwidthCollector is a libp2p bandwidth reporter that can be registered
// as a prometheus collector.
type BandwidthCollector struct {
	*metrics.BandwidthCounter
}

var _ prometheus.Collector = (*BandwidthCollector)(nil)

// NewBandwidthCollector creates a new BandwidthCollector.
func NewBandwidthCollector() *BandwidthCollector {
	return &BandwidthCollector{BandwidthCounter: metrics.NewBandwidthCounter()}
}

// Describe implements prometheus.Collector.
func (b *BandwidthCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- trafficDesc
	ch <- protocolTrafficDesc
}

// Collect implements prometheus.Collector.
func (b *BandwidthCollector) Collect(ch chan<- prometheus.Metric) {
	totals := b.GetBandwidthTotals()
	ch <- prometheus.MustNewConstMetric(trafficDesc, prometheus.CounterValue, float64(totals.TotalIn), incoming)
	ch <- prometheus.MustNewConstMetric(trafficDesc, prometheus.CounterValue, float64(totals.TotalOut), outgoing)
	for proto, stats := range b.GetBandwidthByProtocol() {
		ch <- prometheus.MustNewConstMetric(protocolTrafficDesc, prometheus.CounterValue,
			float64(stats.TotalIn), string(proto), incoming)
		ch <- prometheus.MustNewConstMetric(protocolTrafficDesc, prometheus.CounterValue,
			float64(stats.TotalOut), string(proto), outgoing)
	}
}

// Register adds the collector to reg. Registering a second collector is a no-op.
func (b *BandwidthCollector) Register(reg prometheus.Registerer) error {
	if err := reg.Register(b); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			return nil
		}
		return err
	}
	return nil
}
