package reconcile

import (
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/overlaydex/go-overlay/invsync/filter"
	"github.com/overlaydex/go-overlay/invsync/types"
	"github.com/overlaydex/go-overlay/p2p"
)

// RequestAction is the follow-up decided by the Policy after a request completed.
type RequestAction int

const (
	DoNothing RequestAction = iota
	RetryWithSameConnection
	RetryWithNewConnection
	StartPeriodicRequests
)

func (a RequestAction) String() string {
	switch a {
	case DoNothing:
		return "do-nothing"
	case RetryWithSameConnection:
		return "retry-same"
	case RetryWithNewConnection:
		return "retry-new"
	case StartPeriodicRequests:
		return "start-periodic"
	}
	return "unknown"
}

// Result is the outcome of one inventory request.
type Result struct {
	Conn      p2p.Connection
	Inventory *types.Inventory
	Err       error
}

// Policy selects the peers to request from and decides what to do once a
// request completed.
type Policy struct {
	logger  *zap.Logger
	cfg     Config
	model   *RequestModel
	peers   p2p.PeerGroup
	factory *filter.Factory
}

// NewPolicy creates a request policy.
func NewPolicy(
	logger *zap.Logger,
	cfg Config,
	model *RequestModel,
	peers p2p.PeerGroup,
	factory *filter.Factory,
) *Policy {
	return &Policy{
		logger:  logger,
		cfg:     cfg,
		model:   model,
		peers:   peers,
		factory: factory,
	}
}

// CanUseCandidate is true if the peer is not ignored, has no request in
// flight and shares a filter type with us.
func (p *Policy) CanUseCandidate(conn p2p.Connection) bool {
	if p.model.IsIgnored(conn.PeerAddress()) || p.model.HasPending(conn.ID()) {
		return false
	}
	_, ok := p.factory.Select(conn.Features())
	return ok
}

func (p *Policy) eligible(conns []p2p.Connection, limit int) []p2p.Connection {
	rst := make([]p2p.Connection, 0, min(len(conns), max(limit, 0)))
	for _, conn := range conns {
		if len(rst) >= limit {
			break
		}
		if p.CanUseCandidate(conn) {
			rst = append(rst, conn)
		}
	}
	return rst
}

// InitialCandidates returns the eligible connections in random order, limited
// to the free request slots.
func (p *Policy) InitialCandidates() []p2p.Connection {
	conns := p.peers.AllConnections()
	rand.Shuffle(len(conns), func(i, j int) { conns[i], conns[j] = conns[j], conns[i] })
	return p.eligible(conns, p.cfg.MaxPendingRequests-p.model.NumPending())
}

// PeriodicCandidates picks up to MaxPeersForRequest non-seeds and up to
// MaxSeedsForRequest seeds, shuffled with one seed moved to the front, limited
// to MaxPendingRequestsAtPeriodicRequests.
func (p *Policy) PeriodicCandidates() []p2p.Connection {
	peers := p.eligible(p.peers.ShuffledNonSeedConnections(), p.cfg.MaxPeersForRequest)
	seeds := p.eligible(p.peers.ShuffledSeedConnections(), p.cfg.MaxSeedsForRequest)
	rst := append(peers, seeds...)
	rand.Shuffle(len(rst), func(i, j int) { rst[i], rst[j] = rst[j], rst[i] })
	if len(seeds) > 0 {
		for i, conn := range rst {
			if conn.IsSeed() {
				rst[0], rst[i] = rst[i], rst[0]
				break
			}
		}
	}
	if len(rst) > p.cfg.MaxPendingRequestsAtPeriodicRequests {
		rst = rst[:p.cfg.MaxPendingRequestsAtPeriodicRequests]
	}
	return rst
}

// NextCandidate returns a random eligible connection whose peer address is
// not in tried.
func (p *Policy) NextCandidate(tried map[string]struct{}) (p2p.Connection, bool) {
	conns := p.peers.AllConnections()
	rand.Shuffle(len(conns), func(i, j int) { conns[i], conns[j] = conns[j], conns[i] })
	for _, conn := range conns {
		if _, ok := tried[conn.PeerAddress()]; ok {
			continue
		}
		if p.CanUseCandidate(conn) {
			return conn, true
		}
	}
	return nil, false
}

// OnRequestCompleted decides the follow-up of a request during the initial
// reconciliation. The request slot must already be released.
func (p *Policy) OnRequestCompleted(conn p2p.Connection, inv *types.Inventory, err error) RequestAction {
	if p.model.InitialCompleted() {
		return DoNothing
	}
	belowCap := p.model.NumPending() < p.cfg.MaxPendingRequests
	if err != nil {
		if belowCap {
			return RetryWithNewConnection
		}
		return DoNothing
	}
	if inv.FinalDataDelivered() {
		completed := p.model.IncCompleted()
		if completed >= p.cfg.MinCompletedRequests {
			if p.model.MarkInitialCompleted() {
				p.logger.Info("initial inventory reconciliation completed",
					zap.Int("completed", completed),
					zap.String("last_peer", conn.PeerAddress()),
				)
				return StartPeriodicRequests
			}
			return DoNothing
		}
	}
	if !belowCap {
		return DoNothing
	}
	if inv.MaxSizeReached() && len(inv.Entries) > 0 {
		return RetryWithSameConnection
	}
	// nothing more to get from this peer
	p.model.Ignore(conn.PeerAddress())
	return RetryWithNewConnection
}

// DelayForNextPeriodicRound returns the delay before the next periodic round.
// Until some peer delivered its final data the round is retried quickly; once
// one did the regular interval applies.
func (p *Policy) DelayForNextPeriodicRound(results []Result) time.Duration {
	for _, r := range results {
		if r.Err == nil && r.Inventory != nil && r.Inventory.FinalDataDelivered() {
			return p.cfg.RepeatRequestInterval
		}
	}
	return p.cfg.FastRetryDelay
}

// NoCandidatesDelay is the delay before the next periodic round when no peer was eligible.
func (p *Policy) NoCandidatesDelay() time.Duration {
	return p.cfg.NoCandidatesDelay
}

// Reset clears the completion state so the initial reconciliation starts over.
func (p *Policy) Reset() {
	p.model.Reset()
}
