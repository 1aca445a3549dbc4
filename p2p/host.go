package p2p

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	lp2plog "github.com/ipfs/go-log/v2"
	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/core/transport"
	"github.com/libp2p/go-libp2p/p2p/muxer/yamux"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	tptu "github.com/libp2p/go-libp2p/p2p/net/upgrader"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/natefinch/atomic"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	p2pmetrics "github.com/overlaydex/go-overlay/p2p/metrics"
)

const keyFilename = "p2p.key"

// DefaultConfig config.
func DefaultConfig() Config {
	return Config{
		Listen:             "/ip4/0.0.0.0/tcp/7513",
		NetworkID:          "overlay-mainnet",
		LogLevel:           "error",
		TargetPeers:        8,
		LowPeers:           20,
		HighPeers:          40,
		GracePeersShutdown: 30 * time.Second,
		MaxMessageSize:     8 << 20,
		HandshakeTimeout:   10 * time.Second,
		MessageTimeout:     25 * time.Second,
	}
}

// Config for all things related to p2p layer.
type Config struct {
	DataDir            string        `mapstructure:"data-dir"`
	LogLevel           string        `mapstructure:"log-level"`
	GracePeersShutdown time.Duration `mapstructure:"grace-peers-shutdown"`
	// MaxMessageSize bounds a message payload. It must fit the largest
	// inventory request.
	MaxMessageSize   int           `mapstructure:"max-message-size"`
	HandshakeTimeout time.Duration `mapstructure:"handshake-timeout"`
	MessageTimeout   time.Duration `mapstructure:"message-timeout"`

	// see https://lwn.net/Articles/542629/ for reuseport explanation
	DisableReusePort bool     `mapstructure:"disable-reuseport"`
	Listen           string   `mapstructure:"listen"`
	Bootnodes        []string `mapstructure:"bootnodes"`
	// NetworkID separates networks. Peers with a different id are disconnected.
	NetworkID   string `mapstructure:"network-id"`
	TargetPeers int    `mapstructure:"target-peers"`
	LowPeers    int    `mapstructure:"low-peers"`
	HighPeers   int    `mapstructure:"high-peers"`
}

// EnsureIdentity loads the node key from dir or generates and stores a new one.
// An empty dir yields an ephemeral key.
func EnsureIdentity(dir string) (crypto.PrivKey, error) {
	if dir == "" {
		key, _, err := crypto.GenerateEd25519Key(nil)
		return key, err
	}
	path := filepath.Join(dir, keyFilename)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, err := crypto.UnmarshalPrivateKey(data)
		if err != nil {
			return nil, fmt.Errorf("unmarshal identity from %s: %w", path, err)
		}
		return key, nil
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("read identity %s: %w", path, err)
	}
	key, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	data, err = crypto.MarshalPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal identity: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("write identity %s: %w", path, err)
	}
	return key, nil
}

// New initializes libp2p host configured for the overlay.
func New(ctx context.Context, logger *zap.Logger, cfg Config, opts ...Opt) (*Host, error) {
	logger.Info("starting libp2p host", zap.Any("config", &cfg))
	key, err := EnsureIdentity(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	lp2plog.SetPrimaryCore(logger.Core())
	level, err := lp2plog.LevelFromString(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("p2p log level: %w", err)
	}
	lp2plog.SetAllLoggers(level)
	cm, err := connmgr.NewConnManager(cfg.LowPeers, cfg.HighPeers, connmgr.WithGracePeriod(cfg.GracePeersShutdown))
	if err != nil {
		return nil, fmt.Errorf("p2p create conn mgr: %w", err)
	}
	bw := p2pmetrics.NewBandwidthCollector()
	if err := bw.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register bandwidth collector: %w", err)
	}
	streamer := *yamux.DefaultTransport
	prologue := []byte(cfg.NetworkID)
	lopts := []libp2p.Option{
		libp2p.Identity(key),
		libp2p.ListenAddrStrings(cfg.Listen),
		libp2p.UserAgent("go-overlay"),
		libp2p.Transport(func(upgrader transport.Upgrader, rcmgr network.ResourceManager) (transport.Transport, error) {
			opts := []tcp.Option{}
			if cfg.DisableReusePort {
				opts = append(opts, tcp.DisableReuseport())
			}
			return tcp.NewTCPTransport(upgrader, rcmgr, opts...)
		}),
		libp2p.Security(noise.ID, func(id protocol.ID, privkey crypto.PrivKey, muxers []tptu.StreamMuxer) (*noise.SessionTransport, error) {
			tp, err := noise.New(id, privkey, muxers)
			if err != nil {
				return nil, err
			}
			return tp.WithSessionOptions(noise.Prologue(prologue))
		}),
		libp2p.Muxer(yamux.ID, &streamer),
		libp2p.ConnectionManager(cm),
		libp2p.BandwidthReporter(bw),
	}
	h, err := libp2p.New(lopts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize libp2p host: %w", err)
	}
	h.Network().Notify(p2pmetrics.NewConnectionsMeter())
	logger.Info("local node identity", zap.Stringer("identity", h.ID()))
	opts = append([]Opt{WithConfig(cfg), WithLog(logger), WithContext(ctx)}, opts...)
	return Upgrade(h, opts...)
}

func parseBootnodes(bootnodes []string) ([]peer.AddrInfo, error) {
	infos := make([]peer.AddrInfo, 0, len(bootnodes))
	for _, bootnode := range bootnodes {
		addr, err := ma.NewMultiaddr(bootnode)
		if err != nil {
			return nil, fmt.Errorf("parse multiaddr %s: %w", bootnode, err)
		}
		info, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			return nil, fmt.Errorf("parse into peer.AddrInfo %s: %w", bootnode, err)
		}
		infos = append(infos, *info)
	}
	return infos, nil
}
