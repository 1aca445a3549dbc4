package presets

import (
	"time"

	"github.com/overlaydex/go-overlay/config"
)

func init() {
	register("testnet", testnet())
}

func testnet() config.Config {
	conf := config.DefaultConfig()
	conf.P2P.NetworkID = "overlay-testnet"
	conf.P2P.TargetPeers = 4
	conf.InvSync.RepeatRequestInterval = 2 * time.Minute
	conf.InvSync.PreferredFilterTypes = []string{"hash_set"}
	conf.CollectMetrics = true
	return conf
}
