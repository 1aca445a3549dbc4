// Package invsync reconciles the local data store with the inventories of
// connected peers. It wires the request side, which pulls missing entries, and
// the response side, which serves them, to a single p2p node.
package invsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/overlaydex/go-overlay/invsync/filter"
	"github.com/overlaydex/go-overlay/invsync/reconcile"
	"github.com/overlaydex/go-overlay/invsync/types"
	"github.com/overlaydex/go-overlay/p2p"
)

type Config struct {
	reconcile.Config `mapstructure:",squash"`
	// PreferredFilterTypes lists the filter types to use, most preferred first.
	PreferredFilterTypes []string `mapstructure:"preferred-filter-types"`
	// ResponderRequestsPerSecond limits the requests served to a single peer.
	// Zero disables the limit.
	ResponderRequestsPerSecond float64 `mapstructure:"responder-requests-per-second"`
	ResponderBurst             int     `mapstructure:"responder-burst"`
}

func DefaultConfig() Config {
	return Config{
		Config:                     reconcile.DefaultConfig(),
		PreferredFilterTypes:       []string{types.HashSet.String()},
		ResponderRequestsPerSecond: 0,
		ResponderBurst:             5,
	}
}

// FilterTypes parses PreferredFilterTypes.
func (c *Config) FilterTypes() ([]types.FilterType, error) {
	if len(c.PreferredFilterTypes) == 0 {
		return nil, filter.ErrNoFilterTypes
	}
	rst := make([]types.FilterType, 0, len(c.PreferredFilterTypes))
	for _, s := range c.PreferredFilterTypes {
		t, err := types.ParseFilterType(s)
		if err != nil {
			return nil, err
		}
		rst = append(rst, t)
	}
	return rst, nil
}

// Features returns the capabilities the node must advertise for the
// configured filter types.
func (c *Config) Features() ([]p2p.Feature, error) {
	fts, err := c.FilterTypes()
	if err != nil {
		return nil, err
	}
	features := make([]p2p.Feature, 0, len(fts))
	for _, t := range fts {
		features = append(features, t.Feature())
	}
	return features, nil
}

func (c *Config) Validate() error {
	var errs []error
	if err := c.Config.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.FilterTypes(); err != nil {
		errs = append(errs, fmt.Errorf("preferred-filter-types: %w", err))
	}
	if c.ResponderRequestsPerSecond < 0 {
		errs = append(errs, fmt.Errorf("responder-requests-per-second must not be negative, got %v",
			c.ResponderRequestsPerSecond))
	}
	if c.ResponderRequestsPerSecond > 0 && c.ResponderBurst <= 0 {
		errs = append(errs, fmt.Errorf("responder-burst must be positive, got %d", c.ResponderBurst))
	}
	return errors.Join(errs...)
}

// Store is the local data store reconciled with peers.
type Store interface {
	filter.StorageService
	reconcile.DataService
}

// Opt specifies an option for a Service.
type Opt func(*Service)

// WithClock specifies the clock used by the request service.
func WithClock(clock clockwork.Clock) Opt {
	return func(s *Service) {
		s.clock = clock
	}
}

// Service runs inventory reconciliation on a node.
type Service struct {
	logger    *zap.Logger
	clock     clockwork.Clock
	node      p2p.Node
	factory   *filter.Factory
	requester *reconcile.RequestService
	responder *reconcile.ResponseService
}

// New wires request and response services for node.
func New(
	logger *zap.Logger,
	node p2p.Node,
	peers p2p.PeerGroup,
	store Store,
	cfg Config,
	opts ...Opt,
) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid inventory sync config: %w", err)
	}
	fts, err := cfg.FilterTypes()
	if err != nil {
		return nil, err
	}
	services := make([]filter.FilterService, 0, len(fts))
	for _, t := range fts {
		svc, err := filter.NewService(t, store, filter.WithLogger(logger.Named("filter")))
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	factory, err := filter.NewFactory(fts, services...)
	if err != nil {
		return nil, err
	}

	s := &Service{
		logger:  logger,
		clock:   clockwork.NewRealClock(),
		node:    node,
		factory: factory,
	}
	for _, opt := range opts {
		opt(s)
	}
	for _, f := range factory.Features() {
		if !p2p.HasFeature(node.Features(), f) {
			logger.Warn("node does not advertise inventory filter capability, peers won't request from us",
				zap.String("feature", string(f)))
		}
	}

	s.requester = reconcile.NewRequestService(cfg.Config, node, peers, store, factory,
		reconcile.WithLogger(logger.Named("requester")),
		reconcile.WithClock(s.clock),
	)
	responderOpts := []reconcile.ResponseServiceOpt{
		reconcile.WithResponderLogger(logger.Named("responder")),
	}
	if cfg.ResponderRequestsPerSecond > 0 {
		responderOpts = append(responderOpts,
			reconcile.WithPeerRateLimit(cfg.ResponderRequestsPerSecond, cfg.ResponderBurst))
	}
	s.responder = reconcile.NewResponseService(cfg.Config, node, factory, responderOpts...)
	return s, nil
}

// Features returns the capabilities the node advertises for inventory reconciliation.
func (s *Service) Features() []p2p.Feature {
	return s.factory.Features()
}

// Start serves peer requests and starts pulling inventories.
func (s *Service) Start(ctx context.Context) {
	s.responder.Start(ctx)
	s.requester.Start(ctx)
	s.logger.Info("inventory sync started",
		zap.Stringers("filter_types", s.factory.Preferred()),
	)
}

// Stop cancels outstanding requests and stops all timers.
func (s *Service) Stop() {
	s.requester.Stop()
	s.responder.Stop()
	s.logger.Info("inventory sync stopped")
}

// Phase returns the phase of the request side.
func (s *Service) Phase() reconcile.Phase {
	return s.requester.Phase()
}

// Synced is true once the initial reconciliation completed.
func (s *Service) Synced() bool {
	return s.requester.InitialCompleted()
}
