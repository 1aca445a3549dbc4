package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogEncoder defines a log encoder kind.
type LogEncoder = string

const (
	defaultLoggingLevel = zapcore.InfoLevel
	// ConsoleLogEncoder represents logging with plain text.
	ConsoleLogEncoder LogEncoder = "console"
	// JSONLogEncoder represents logging with JSON.
	JSONLogEncoder LogEncoder = "json"
)

// LoggerConfig holds the logging level for each module.
type LoggerConfig struct {
	Encoder             LogEncoder `mapstructure:"log-encoder"`
	AppLoggerLevel      string     `mapstructure:"app"`
	P2PLoggerLevel      string     `mapstructure:"p2p"`
	InvSyncLoggerLevel  string     `mapstructure:"invsync"`
	StoreLoggerLevel    string     `mapstructure:"store"`
	DatabaseLoggerLevel string     `mapstructure:"database"`
}

func defaultLoggingConfig() LoggerConfig {
	return LoggerConfig{
		Encoder:             ConsoleLogEncoder,
		AppLoggerLevel:      defaultLoggingLevel.String(),
		P2PLoggerLevel:      defaultLoggingLevel.String(),
		InvSyncLoggerLevel:  defaultLoggingLevel.String(),
		StoreLoggerLevel:    defaultLoggingLevel.String(),
		DatabaseLoggerLevel: zapcore.WarnLevel.String(),
	}
}

// Module names used with NewLogger.
const (
	AppLogger      = "app"
	P2PLogger      = "p2p"
	InvSyncLogger  = "invsync"
	StoreLogger    = "store"
	DatabaseLogger = "database"
)

func (c *LoggerConfig) level(module string) string {
	switch module {
	case P2PLogger:
		return c.P2PLoggerLevel
	case InvSyncLogger:
		return c.InvSyncLoggerLevel
	case StoreLogger:
		return c.StoreLoggerLevel
	case DatabaseLogger:
		return c.DatabaseLoggerLevel
	default:
		return c.AppLoggerLevel
	}
}

// NewLogger builds a logger named after module with the level configured for it.
func (c *LoggerConfig) NewLogger(module string) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.level(module))
	if err != nil {
		return nil, fmt.Errorf("log level for %s: %w", module, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Sampling = nil
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	switch c.Encoder {
	case JSONLogEncoder:
		zcfg.Encoding = "json"
	case ConsoleLogEncoder, "":
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log encoder %q", c.Encoder)
	}
	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Named(module), nil
}
