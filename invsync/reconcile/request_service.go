package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/overlaydex/go-overlay/invsync/filter"
	"github.com/overlaydex/go-overlay/invsync/types"
	"github.com/overlaydex/go-overlay/p2p"
)

// Phase of the request service state machine.
type Phase int32

const (
	// Bootstrapping waits for sufficient connections.
	Bootstrapping Phase = iota
	// InitialReconciliation requests from eligible peers until enough of them
	// delivered their final data.
	InitialReconciliation
	// PeriodicMaintenance runs slow repeating rounds to catch missed broadcasts.
	PeriodicMaintenance
)

func (p Phase) String() string {
	switch p {
	case Bootstrapping:
		return "bootstrapping"
	case InitialReconciliation:
		return "initial"
	case PeriodicMaintenance:
		return "periodic"
	}
	return "unknown"
}

// RequestServiceOpt specifies an option for a RequestService.
type RequestServiceOpt func(*RequestService)

// WithLogger specifies the logger for the RequestService.
func WithLogger(logger *zap.Logger) RequestServiceOpt {
	return func(s *RequestService) {
		s.logger = logger
	}
}

// WithClock specifies the clock used for request timeouts and round scheduling.
func WithClock(clock clockwork.Clock) RequestServiceOpt {
	return func(s *RequestService) {
		s.clock = clock
	}
}

// RequestService is the active side of inventory reconciliation. It requests
// inventories from peers, applies them to the DataService and drives the
// Policy from bootstrapping to periodic maintenance.
type RequestService struct {
	logger  *zap.Logger
	clock   clockwork.Clock
	cfg     Config
	node    p2p.Node
	peers   p2p.PeerGroup
	data    DataService
	factory *filter.Factory
	model   *RequestModel
	policy  *Policy

	phase atomic.Int32

	mu           sync.Mutex
	running      bool
	ctx          context.Context
	cancel       context.CancelFunc
	eg           errgroup.Group
	handlers     map[string]*Handler
	initialTimer clockwork.Timer
	periodTimer  clockwork.Timer
	remove       func()
}

var _ p2p.Listener = (*RequestService)(nil)

// NewRequestService creates a RequestService.
func NewRequestService(
	cfg Config,
	node p2p.Node,
	peers p2p.PeerGroup,
	data DataService,
	factory *filter.Factory,
	opts ...RequestServiceOpt,
) *RequestService {
	s := &RequestService{
		logger:   zap.NewNop(),
		clock:    clockwork.NewRealClock(),
		cfg:      cfg,
		node:     node,
		peers:    peers,
		data:     data,
		factory:  factory,
		model:    NewRequestModel(),
		handlers: make(map[string]*Handler),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.policy = NewPolicy(s.logger, cfg, s.model, peers, factory)
	return s
}

// Start registers the service with the node and starts the initial
// reconciliation if the node is already sufficiently connected.
func (s *RequestService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.remove = s.node.AddListener(s)
	s.mu.Unlock()

	s.maybeStartInitial()
}

// Stop disposes every outstanding handler, stops the timers and waits for
// in-flight requests to finish.
func (s *RequestService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.stopTimersLocked()
	for _, h := range s.handlers {
		h.Dispose()
	}
	remove := s.remove
	s.mu.Unlock()

	remove()
	if err := s.eg.Wait(); err != nil {
		s.logger.Error("inventory request service terminated with an error", zap.Error(err))
	}
}

// Phase returns the current phase.
func (s *RequestService) Phase() Phase {
	return Phase(s.phase.Load())
}

// InitialCompleted is true once enough peers delivered their final data.
func (s *RequestService) InitialCompleted() bool {
	return s.model.InitialCompleted()
}

// NumPending is the number of requests in flight.
func (s *RequestService) NumPending() int {
	return s.model.NumPending()
}

func (s *RequestService) OnMessage(p2p.Connection, p2p.Message) {}

func (s *RequestService) OnConnection(conn p2p.Connection) {
	s.logger.Debug("new connection",
		zap.String("peer", conn.PeerAddress()),
		zap.Bool("seed", conn.IsSeed()),
		zap.Stringer("phase", s.Phase()),
	)
	s.maybeStartInitial()
}

func (s *RequestService) OnDisconnect(conn p2p.Connection) {
	s.mu.Lock()
	if h, exists := s.handlers[conn.ID()]; exists {
		h.Dispose()
		delete(s.handlers, conn.ID())
	}
	if !s.running || len(s.peers.AllConnections()) > 0 {
		s.mu.Unlock()
		return
	}
	s.stopTimersLocked()
	s.phase.Store(int32(Bootstrapping))
	s.mu.Unlock()

	s.policy.Reset()
	s.logger.Info("all connections lost, inventory reconciliation will restart")
}

func (s *RequestService) sufficientConnections() bool {
	n := len(s.peers.AllConnections())
	return n > 0 && 2*n > s.peers.TargetConnectedPeers()
}

// spawn runs f in the service errgroup unless the service is stopped.
func (s *RequestService) spawn(f func(ctx context.Context)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	ctx := s.ctx
	s.eg.Go(func() error {
		f(ctx)
		return nil
	})
	return true
}

func (s *RequestService) maybeStartInitial() {
	if s.model.InitialCompleted() || !s.sufficientConnections() {
		return
	}
	candidates := s.policy.InitialCandidates()
	if len(candidates) == 0 {
		if s.model.NumPending() == 0 {
			s.scheduleInitialRetry()
		}
		return
	}
	s.phase.CompareAndSwap(int32(Bootstrapping), int32(InitialReconciliation))
	s.logger.Debug("starting initial inventory requests", zap.Int("candidates", len(candidates)))
	s.spawn(func(ctx context.Context) {
		var eg errgroup.Group
		for _, conn := range candidates {
			eg.Go(func() error {
				s.requestWithFollowUp(ctx, conn)
				return nil
			})
		}
		eg.Wait()
		if !s.model.InitialCompleted() && s.model.NumPending() == 0 {
			s.scheduleInitialRetry()
		}
	})
}

// requestWithFollowUp issues a request on conn and keeps following the
// policy decisions until there is nothing more to do for this chain. A chain
// moves to every peer at most once; the next round starts after
// InitialRetryInterval.
func (s *RequestService) requestWithFollowUp(ctx context.Context, conn p2p.Connection) {
	tried := map[string]struct{}{conn.PeerAddress(): {}}
	for conn != nil {
		res, ok := s.request(ctx, conn)
		if !ok {
			return
		}
		action := s.policy.OnRequestCompleted(conn, res.Inventory, res.Err)
		s.logger.Debug("inventory request completed",
			zap.String("peer", conn.PeerAddress()),
			zap.Stringer("action", action),
			zap.NamedError("request_error", res.Err),
		)
		switch action {
		case RetryWithSameConnection:
		case RetryWithNewConnection:
			next, found := s.policy.NextCandidate(tried)
			if !found {
				return
			}
			conn = next
			tried[conn.PeerAddress()] = struct{}{}
		case StartPeriodicRequests:
			s.startPeriodic()
			return
		default:
			return
		}
	}
}

// request performs a single inventory request and applies the result.
// It returns false if the request was not admitted or was cancelled by a
// disconnect or shutdown, in which case there is no result to act upon.
func (s *RequestService) request(ctx context.Context, conn p2p.Connection) (Result, bool) {
	ft, ok := s.factory.Select(conn.Features())
	if !ok {
		return Result{}, false
	}
	if !s.model.TryAcquire(conn.ID(), s.cfg.MaxPendingRequests) {
		return Result{}, false
	}
	defer s.model.Release(conn.ID())

	h := NewHandler(s.logger, s.node, conn)
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return Result{}, false
	}
	s.handlers[conn.ID()] = h
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.handlers[conn.ID()] == h {
			delete(s.handlers, conn.ID())
		}
		s.mu.Unlock()
	}()

	svc, _ := s.factory.Service(ft)
	f, err := svc.GetFilter()
	if err != nil {
		requestFailed.Inc()
		s.logger.Error("failed to build filter", zap.Stringer("type", ft), zap.Error(err))
		return Result{Conn: conn, Err: err}, true
	}

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	timer := s.clock.AfterFunc(s.cfg.RequestTimeout, func() { cancel(ErrTimeout) })
	defer timer.Stop()

	start := s.clock.Now()
	inv, err := h.Request(reqCtx, f)
	switch {
	case err == nil:
	case errors.Is(err, ErrDisposed), errors.Is(err, ErrDisconnected), ctx.Err() != nil:
		requestCancelled.Inc()
		s.logger.Debug("inventory request cancelled",
			zap.String("peer", conn.PeerAddress()),
			zap.Error(err),
		)
		return Result{}, false
	case errors.Is(err, ErrTimeout):
		requestTimedOut.Inc()
		s.logger.Info("inventory request timed out",
			zap.String("peer", conn.PeerAddress()),
			zap.Duration("timeout", s.cfg.RequestTimeout),
		)
		return Result{Conn: conn, Err: err}, true
	default:
		requestFailed.Inc()
		s.logger.Info("inventory request failed",
			zap.String("peer", conn.PeerAddress()),
			zap.Error(err),
		)
		return Result{Conn: conn, Err: err}, true
	}
	requestSucceeded.Inc()
	requestDuration.Observe(s.clock.Since(start).Seconds())
	s.logger.Debug("received inventory",
		zap.String("peer", conn.PeerAddress()),
		zap.Object("inventory", inv),
	)
	s.apply(ctx, conn, inv)
	return Result{Conn: conn, Inventory: inv}, true
}

// apply submits entries to the data service in the received order.
func (s *RequestService) apply(ctx context.Context, conn p2p.Connection, inv *types.Inventory) {
	added, removed := 0, 0
	for i := range inv.Entries {
		req := &inv.Entries[i]
		var (
			changed bool
			err     error
		)
		switch req.Kind {
		case types.Add:
			changed, err = s.data.ProcessAddDataRequest(ctx, req)
		case types.Remove:
			changed, err = s.data.ProcessRemoveDataRequest(ctx, req)
		}
		if err != nil {
			s.logger.Warn("failed to apply inventory entry",
				zap.String("peer", conn.PeerAddress()),
				zap.Object("entry", req),
				zap.Error(err),
			)
			continue
		}
		if changed {
			entriesApplied.WithLabelValues(req.Kind.String()).Inc()
			if req.Kind == types.Add {
				added++
			} else {
				removed++
			}
		}
	}
	if added+removed > 0 {
		s.logger.Info("applied inventory",
			zap.String("peer", conn.PeerAddress()),
			zap.Int("added", added),
			zap.Int("removed", removed),
		)
	}
}

func (s *RequestService) scheduleInitialRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.Phase() == PeriodicMaintenance {
		return
	}
	if s.initialTimer != nil {
		s.initialTimer.Stop()
	}
	s.initialTimer = s.clock.AfterFunc(s.cfg.InitialRetryInterval, s.maybeStartInitial)
}

func (s *RequestService) startPeriodic() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialTimer != nil {
		s.initialTimer.Stop()
		s.initialTimer = nil
	}
	s.phase.Store(int32(PeriodicMaintenance))
	s.schedulePeriodicLocked(s.cfg.RepeatRequestInterval)
}

func (s *RequestService) schedulePeriodic(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedulePeriodicLocked(d)
}

func (s *RequestService) schedulePeriodicLocked(d time.Duration) {
	if !s.running || s.Phase() != PeriodicMaintenance {
		return
	}
	if s.periodTimer != nil {
		s.periodTimer.Stop()
	}
	s.logger.Debug("next periodic inventory round", zap.Duration("delay", d))
	s.periodTimer = s.clock.AfterFunc(d, func() {
		s.spawn(s.periodicRound)
	})
}

func (s *RequestService) periodicRound(ctx context.Context) {
	if s.Phase() != PeriodicMaintenance {
		return
	}
	candidates := s.policy.PeriodicCandidates()
	if len(candidates) == 0 {
		s.schedulePeriodic(s.policy.NoCandidatesDelay())
		return
	}
	results := make([]Result, len(candidates))
	admitted := make([]bool, len(candidates))
	var eg errgroup.Group
	for i, conn := range candidates {
		eg.Go(func() error {
			results[i], admitted[i] = s.request(ctx, conn)
			return nil
		})
	}
	eg.Wait()
	var completed []Result
	for i := range results {
		if admitted[i] {
			completed = append(completed, results[i])
		}
	}
	s.schedulePeriodic(s.policy.DelayForNextPeriodicRound(completed))
}

func (s *RequestService) stopTimersLocked() {
	if s.initialTimer != nil {
		s.initialTimer.Stop()
		s.initialTimer = nil
	}
	if s.periodTimer != nil {
		s.periodTimer.Stop()
		s.periodTimer = nil
	}
}
