package presets

import (
	"os"
	"path/filepath"
	"time"

	"github.com/overlaydex/go-overlay/config"
)

func init() {
	register("standalone", standalone())
}

func standalone() config.Config {
	conf := config.DefaultConfig()
	conf.DataDirParent = filepath.Join(os.TempDir(), "overlay")
	conf.P2P.NetworkID = "overlay-standalone"
	conf.P2P.Listen = "/ip4/127.0.0.1/tcp/0"
	conf.P2P.TargetPeers = 1
	conf.P2P.LowPeers = 1
	conf.P2P.HighPeers = 4

	conf.InvSync.RepeatRequestInterval = 30 * time.Second
	conf.InvSync.MinCompletedRequests = 1
	conf.InvSync.RequestTimeout = 10 * time.Second
	conf.InvSync.InitialRetryInterval = time.Second
	conf.InvSync.NoCandidatesDelay = 5 * time.Second

	conf.LOGGING.AppLoggerLevel = "debug"
	conf.LOGGING.InvSyncLoggerLevel = "debug"
	return conf
}
