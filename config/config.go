// Package config contains go-overlay node configuration definitions
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/overlaydex/go-overlay/invsync"
	"github.com/overlaydex/go-overlay/invsync/types"
	"github.com/overlaydex/go-overlay/p2p"
)

const (
	defaultConfigFileName = "./config.toml"
	defaultDataDirName    = "overlay"
)

// Config defines the top level configuration for an overlay node.
type Config struct {
	BaseConfig `mapstructure:"main"`
	P2P        p2p.Config     `mapstructure:"p2p"`
	InvSync    invsync.Config `mapstructure:"invsync"`
	Store      StoreConfig    `mapstructure:"store"`
	LOGGING    LoggerConfig   `mapstructure:"logging"`
}

// BaseConfig defines the default configuration options for the overlay app.
type BaseConfig struct {
	DataDirParent string `mapstructure:"data-folder"`
	ConfigFile    string `mapstructure:"config"`

	CollectMetrics bool `mapstructure:"metrics"`
	MetricsPort    int  `mapstructure:"metrics-port"`

	// MetricsPush is the url of a prometheus push gateway. Empty disables pushing.
	MetricsPush       string        `mapstructure:"metrics-push"`
	MetricsPushPeriod time.Duration `mapstructure:"metrics-push-period"`
}

// StoreConfig tunes the on-disk data store.
type StoreConfig struct {
	// CacheSize is the number of sequence numbers kept in memory.
	CacheSize int `mapstructure:"cache-size"`
	// DBCache is the leveldb block cache in megabytes.
	DBCache   int `mapstructure:"db-cache"`
	DBHandles int `mapstructure:"db-handles"`
}

// DataDir returns the directory with the node's data, separated by network id.
func (cfg *Config) DataDir() string {
	return filepath.Join(cfg.DataDirParent, cfg.P2P.NetworkID)
}

// DefaultConfig returns the default configuration for an overlay node.
func DefaultConfig() Config {
	return Config{
		BaseConfig: defaultBaseConfig(),
		P2P:        p2p.DefaultConfig(),
		InvSync:    invsync.DefaultConfig(),
		Store: StoreConfig{
			CacheSize: 10000,
			DBCache:   16,
			DBHandles: 16,
		},
		LOGGING: defaultLoggingConfig(),
	}
}

func defaultBaseConfig() BaseConfig {
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.TempDir()
	}
	return BaseConfig{
		DataDirParent:     filepath.Join(home, defaultDataDirName),
		ConfigFile:        defaultConfigFileName,
		MetricsPort:       1010,
		MetricsPushPeriod: time.Minute,
	}
}

// LoadConfig load the config file.
func LoadConfig(fileLocation string, vip *viper.Viper) error {
	if fileLocation == "" {
		fileLocation = defaultConfigFileName
	}
	vip.SetConfigFile(fileLocation)
	if err := vip.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", fileLocation, err)
	}
	return nil
}

// DecodeHook converts config values that toml and flags carry as strings.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// Unmarshal decodes the values in vip on top of conf.
func Unmarshal(vip *viper.Viper, conf *Config) error {
	if err := vip.Unmarshal(conf, viper.DecodeHook(DecodeHook())); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// Validate checks the subsystem configurations.
func (cfg *Config) Validate() error {
	if err := cfg.InvSync.Validate(); err != nil {
		return fmt.Errorf("invsync: %w", err)
	}
	if cfg.P2P.MaxMessageSize < types.MaxInventoryRequestSize {
		return fmt.Errorf("p2p: max-message-size %d does not fit an inventory request of %d bytes",
			cfg.P2P.MaxMessageSize, types.MaxInventoryRequestSize)
	}
	if resp := cfg.InvSync.MaxSizeInKb*1024 + types.InventoryResponseOverhead; cfg.P2P.MaxMessageSize < resp {
		return fmt.Errorf("p2p: max-message-size %d does not fit an inventory response of %d bytes",
			cfg.P2P.MaxMessageSize, resp)
	}
	if cfg.P2P.TargetPeers <= 0 {
		return fmt.Errorf("p2p: target-peers must be positive, got %d", cfg.P2P.TargetPeers)
	}
	if cfg.MetricsPush != "" && cfg.MetricsPushPeriod <= 0 {
		return fmt.Errorf("metrics-push-period must be positive, got %v", cfg.MetricsPushPeriod)
	}
	if cfg.P2P.NetworkID == "" {
		return fmt.Errorf("p2p: network-id must not be empty")
	}
	return nil
}

// Diff describes how cfg differs from the default configuration.
// It is empty if cfg uses the defaults.
func (cfg *Config) Diff() string {
	return cmp.Diff(DefaultConfig(), *cfg)
}
