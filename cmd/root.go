package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/overlaydex/go-overlay/config"
	"github.com/overlaydex/go-overlay/config/presets"
)

// flagKeys maps flag names to config keys. Only flags that were set on the
// command line override the config file.
var flagKeys = map[string]string{}

func stringFlag(cmd *cobra.Command, name, key, value, usage string) {
	cmd.PersistentFlags().String(name, value, usage)
	flagKeys[name] = key
}

func intFlag(cmd *cobra.Command, name, key string, value int, usage string) {
	cmd.PersistentFlags().Int(name, value, usage)
	flagKeys[name] = key
}

func durationFlag(cmd *cobra.Command, name, key string, value time.Duration, usage string) {
	cmd.PersistentFlags().Duration(name, value, usage)
	flagKeys[name] = key
}

// AddCommands adds the node flags to cmd.
func AddCommands(cmd *cobra.Command) {
	defaults := config.DefaultConfig()

	cmd.PersistentFlags().StringP("preset", "p", "",
		fmt.Sprintf("preset overwrites default values of the config. options %+s", presets.Options()))
	cmd.PersistentFlags().StringP("config", "c", "", "load configuration from file")

	/** ======================== BaseConfig Flags ========================== **/
	stringFlag(cmd, "data-folder", "main.data-folder", defaults.DataDirParent,
		"specify data directory for the node")
	cmd.PersistentFlags().Bool("metrics", defaults.CollectMetrics, "collect node metrics")
	flagKeys["metrics"] = "main.metrics"
	intFlag(cmd, "metrics-port", "main.metrics-port", defaults.MetricsPort, "metric server port")
	stringFlag(cmd, "metrics-push", "main.metrics-push", defaults.MetricsPush, "push metrics to url")
	durationFlag(cmd, "metrics-push-period", "main.metrics-push-period", defaults.MetricsPushPeriod, "push period")
	stringFlag(cmd, "log-encoder", "logging.log-encoder", defaults.LOGGING.Encoder,
		"log encoder, console or json")
	stringFlag(cmd, "log-level", "logging.app", defaults.LOGGING.AppLoggerLevel, "application log level")

	/** ======================== P2P Flags ========================== **/
	stringFlag(cmd, "listen", "p2p.listen", defaults.P2P.Listen, "address for listening")
	cmd.PersistentFlags().StringSlice("bootnodes", defaults.P2P.Bootnodes,
		"multiaddrs of seed nodes, comma separated")
	flagKeys["bootnodes"] = "p2p.bootnodes"
	stringFlag(cmd, "network-id", "p2p.network-id", defaults.P2P.NetworkID,
		"peers with a different network id are disconnected")
	intFlag(cmd, "target-peers", "p2p.target-peers", defaults.P2P.TargetPeers,
		"number of connections the node aims to keep")
	intFlag(cmd, "low-peers", "p2p.low-peers", defaults.P2P.LowPeers,
		"low watermark for the number of connections")
	intFlag(cmd, "high-peers", "p2p.high-peers", defaults.P2P.HighPeers,
		"high watermark for the number of connections")

	/** ======================== Inventory sync Flags ========================== **/
	cmd.PersistentFlags().StringSlice("filter-types", defaults.InvSync.PreferredFilterTypes,
		"inventory filter types, most preferred first")
	flagKeys["filter-types"] = "invsync.preferred-filter-types"
	intFlag(cmd, "max-size-in-kb", "invsync.max-size-in-kb", defaults.InvSync.MaxSizeInKb,
		"maximal size of an inventory served to a peer")
	durationFlag(cmd, "repeat-request-interval", "invsync.repeat-request-interval",
		defaults.InvSync.RepeatRequestInterval, "interval of periodic inventory requests")
	intFlag(cmd, "max-pending-requests", "invsync.max-pending-requests",
		defaults.InvSync.MaxPendingRequests, "maximal number of concurrent inventory requests")
	intFlag(cmd, "min-completed-requests", "invsync.min-completed-requests",
		defaults.InvSync.MinCompletedRequests, "peers that must deliver all data before the node is synced")
	durationFlag(cmd, "request-timeout", "invsync.request-timeout",
		defaults.InvSync.RequestTimeout, "hard timeout of an inventory request")
}
