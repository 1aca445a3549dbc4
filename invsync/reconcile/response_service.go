package reconcile

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/overlaydex/go-overlay/invsync/filter"
	"github.com/overlaydex/go-overlay/invsync/types"
	"github.com/overlaydex/go-overlay/p2p"
)

// ResponseServiceOpt specifies an option for a ResponseService.
type ResponseServiceOpt func(*ResponseService)

// WithResponderLogger specifies the logger for the ResponseService.
func WithResponderLogger(logger *zap.Logger) ResponseServiceOpt {
	return func(s *ResponseService) {
		s.logger = logger
	}
}

// WithPeerRateLimit limits the inventory requests served to a single peer.
// Requests over the limit are answered with an empty truncated inventory.
func WithPeerRateLimit(rps float64, burst int) ResponseServiceOpt {
	return func(s *ResponseService) {
		s.limit = rate.Limit(rps)
		s.burst = burst
	}
}

// WithLimiterCacheSize bounds the number of peers with a tracked rate limiter.
func WithLimiterCacheSize(size int) ResponseServiceOpt {
	return func(s *ResponseService) {
		s.cacheSize = size
	}
}

// ResponseService answers inventory requests from peers.
type ResponseService struct {
	logger       *zap.Logger
	node         p2p.Node
	factory      *filter.Factory
	maxSizeBytes int

	limit     rate.Limit
	burst     int
	cacheSize int
	limiterMu sync.Mutex
	limiters  *lru.Cache[string, *rate.Limiter]

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	eg      errgroup.Group
	remove  func()
}

var _ p2p.Listener = (*ResponseService)(nil)

// NewResponseService creates a ResponseService serving inventories of at most
// cfg.MaxSizeInKb kilobytes.
func NewResponseService(cfg Config, node p2p.Node, factory *filter.Factory, opts ...ResponseServiceOpt) *ResponseService {
	s := &ResponseService{
		logger:       zap.NewNop(),
		node:         node,
		factory:      factory,
		maxSizeBytes: cfg.maxSizeBytes(),
		limit:        rate.Inf,
		burst:        1,
		cacheSize:    1024,
	}
	for _, opt := range opts {
		opt(s)
	}
	limiters, err := lru.New[string, *rate.Limiter](s.cacheSize)
	if err != nil {
		panic("BUG: invalid limiter cache size: " + err.Error())
	}
	s.limiters = limiters
	return s
}

// Start registers the service with the node.
func (s *ResponseService) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.remove = s.node.AddListener(s)
}

// Stop unregisters the service and waits for pending responses.
func (s *ResponseService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.remove()
	s.mu.Unlock()
	if err := s.eg.Wait(); err != nil {
		s.logger.Error("inventory response service terminated with an error", zap.Error(err))
	}
}

func (s *ResponseService) allow(addr string) bool {
	if s.limit == rate.Inf {
		return true
	}
	s.limiterMu.Lock()
	defer s.limiterMu.Unlock()
	limiter, ok := s.limiters.Get(addr)
	if !ok {
		limiter = rate.NewLimiter(s.limit, s.burst)
		s.limiters.Add(addr, limiter)
	}
	return limiter.Allow()
}

func (s *ResponseService) OnMessage(conn p2p.Connection, msg p2p.Message) {
	req, ok := msg.(*types.InventoryRequest)
	if !ok {
		return
	}
	logger := s.logger.With(
		zap.String("peer", conn.PeerAddress()),
		zap.Int32("nonce", req.Nonce),
	)
	limited := !s.allow(conn.PeerAddress())
	svc, ok := s.factory.Service(req.Filter.Type)
	if !ok && !limited {
		droppedUnsupported.Inc()
		logger.Warn("unsupported filter type in inventory request", zap.Stringer("type", req.Filter.Type))
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	ctx := s.ctx
	s.eg.Go(func() error {
		var inv *types.Inventory
		if limited {
			// an empty truncated inventory makes the requester move on to another peer
			droppedRateLimited.Inc()
			logger.Debug("inventory request rate limited")
			inv = &types.Inventory{NumDropped: 1}
		} else {
			var err error
			inv, err = svc.CreateInventory(&req.Filter, s.maxSizeBytes)
			if err != nil {
				droppedFailed.Inc()
				logger.Warn("failed to create inventory", zap.Error(err))
				return nil
			}
		}
		resp := &types.InventoryResponse{Inventory: *inv, RequestNonce: req.Nonce}
		if err := s.node.Send(ctx, conn, resp); err != nil {
			logger.Debug("failed to send inventory", zap.Error(err))
			return nil
		}
		if limited {
			return nil
		}
		inventoriesServed.Inc()
		servedEntries.Observe(float64(len(inv.Entries)))
		logger.Debug("sent inventory", zap.Object("inventory", inv))
		return nil
	})
}

func (s *ResponseService) OnConnection(p2p.Connection) {}

func (s *ResponseService) OnDisconnect(p2p.Connection) {}
