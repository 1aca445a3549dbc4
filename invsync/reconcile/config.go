package reconcile

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the request policy and service parameters.
type Config struct {
	// MaxSizeInKb is the byte budget of one inventory served to a peer.
	MaxSizeInKb int `mapstructure:"max-size-in-kb"`
	// RepeatRequestInterval is the delay between periodic rounds once the
	// initial reconciliation completed.
	RepeatRequestInterval time.Duration `mapstructure:"repeat-request-interval"`
	MaxSeedsForRequest    int           `mapstructure:"max-seeds-for-request"`
	MaxPeersForRequest    int           `mapstructure:"max-peers-for-request"`
	// MaxPendingRequests is the admission limit for in-flight requests.
	MaxPendingRequests                   int `mapstructure:"max-pending-requests"`
	MaxPendingRequestsAtPeriodicRequests int `mapstructure:"max-pending-requests-at-periodic-requests"`
	// MinCompletedRequests is the number of peers that must deliver their final
	// data before the initial reconciliation is considered complete.
	MinCompletedRequests int `mapstructure:"min-completed-requests"`
	// RequestTimeout is the hard timeout of a single request.
	RequestTimeout       time.Duration `mapstructure:"request-timeout"`
	InitialRetryInterval time.Duration `mapstructure:"initial-retry-interval"`
	FastRetryDelay       time.Duration `mapstructure:"fast-retry-delay"`
	NoCandidatesDelay    time.Duration `mapstructure:"no-candidates-delay"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxSizeInKb:                          2000,
		RepeatRequestInterval:                10 * time.Minute,
		MaxSeedsForRequest:                   2,
		MaxPeersForRequest:                   4,
		MaxPendingRequests:                   5,
		MaxPendingRequestsAtPeriodicRequests: 2,
		MinCompletedRequests:                 2,
		RequestTimeout:                       2 * time.Minute,
		InitialRetryInterval:                 10 * time.Second,
		FastRetryDelay:                       time.Second,
		NoCandidatesDelay:                    time.Minute,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	var errs []error
	positive := func(name string, v int) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}
	positive("max-size-in-kb", c.MaxSizeInKb)
	positive("max-pending-requests", c.MaxPendingRequests)
	positive("max-pending-requests-at-periodic-requests", c.MaxPendingRequestsAtPeriodicRequests)
	positive("min-completed-requests", c.MinCompletedRequests)
	if c.MaxSeedsForRequest < 0 || c.MaxPeersForRequest < 0 {
		errs = append(errs, errors.New("max-seeds-for-request and max-peers-for-request must not be negative"))
	}
	for name, d := range map[string]time.Duration{
		"repeat-request-interval": c.RepeatRequestInterval,
		"request-timeout":         c.RequestTimeout,
		"initial-retry-interval":  c.InitialRetryInterval,
		"fast-retry-delay":        c.FastRetryDelay,
		"no-candidates-delay":     c.NoCandidatesDelay,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, d))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) maxSizeBytes() int {
	return c.MaxSizeInKb * 1024
}
