package reconcile

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/overlaydex/go-overlay/invsync/types"
	"github.com/overlaydex/go-overlay/p2p"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxPendingRequests = 3
	cfg.MinCompletedRequests = 2
	return cfg
}

func newTestPolicy(t *testing.T, cfg Config, conns ...p2p.Connection) (*Policy, *RequestModel) {
	model := NewRequestModel()
	peers := &fakePeers{conns: conns, target: len(conns)}
	return NewPolicy(zaptest.NewLogger(t), cfg, model, peers, hashSetFactory(t, newMemStore())), model
}

func final(n int) *types.Inventory {
	return types.NewInventory(genRequests("final", n), 0)
}

func truncated(n int) *types.Inventory {
	return types.NewInventory(genRequests("truncated", n), 10)
}

func TestPolicyCanUseCandidate(t *testing.T) {
	ok := newConn("ok", false)
	ignored := newConn("ignored", false)
	pending := newConn("pending", false)
	other := newConn("other", false)
	other.features = []p2p.Feature{types.FeatureMiniSketch}
	none := newConn("none", false)
	none.features = nil

	p, model := newTestPolicy(t, testConfig(), ok, ignored, pending, other, none)
	model.Ignore(ignored.PeerAddress())
	require.True(t, model.TryAcquire(pending.ID(), 3))

	require.True(t, p.CanUseCandidate(ok))
	require.False(t, p.CanUseCandidate(ignored))
	require.False(t, p.CanUseCandidate(pending))
	require.False(t, p.CanUseCandidate(other))
	require.False(t, p.CanUseCandidate(none))
}

func TestPolicyOnRequestCompleted(t *testing.T) {
	conn := newConn("peer", false)
	for _, tc := range []struct {
		desc     string
		pending  int
		inv      *types.Inventory
		err      error
		expected RequestAction
		ignored  bool
	}{
		{
			desc:     "error below cap",
			err:      errors.New("fail"),
			expected: RetryWithNewConnection,
		},
		{
			desc:     "error at cap",
			pending:  3,
			err:      ErrTimeout,
			expected: DoNothing,
		},
		{
			desc:     "truncated with entries",
			inv:      truncated(5),
			expected: RetryWithSameConnection,
		},
		{
			desc:     "truncated without entries",
			inv:      truncated(0),
			expected: RetryWithNewConnection,
			ignored:  true,
		},
		{
			desc:     "truncated at cap",
			pending:  3,
			inv:      truncated(5),
			expected: DoNothing,
		},
		{
			desc:     "final below minimum",
			inv:      final(5),
			expected: RetryWithNewConnection,
			ignored:  true,
		},
		{
			desc:     "final below minimum at cap",
			pending:  3,
			inv:      final(0),
			expected: DoNothing,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			p, model := newTestPolicy(t, testConfig(), conn)
			for i := range tc.pending {
				require.True(t, model.TryAcquire(fmt.Sprintf("other-%d", i), 3))
			}
			require.Equal(t, tc.expected, p.OnRequestCompleted(conn, tc.inv, tc.err))
			require.Equal(t, tc.ignored, model.IsIgnored(conn.PeerAddress()))
		})
	}
}

func TestPolicyStartPeriodicOnce(t *testing.T) {
	a, b, c := newConn("a", false), newConn("b", false), newConn("c", true)
	p, model := newTestPolicy(t, testConfig(), a, b, c)

	require.Equal(t, RetryWithNewConnection, p.OnRequestCompleted(a, final(3), nil))
	require.False(t, model.InitialCompleted())
	require.Equal(t, StartPeriodicRequests, p.OnRequestCompleted(b, final(0), nil))
	require.True(t, model.InitialCompleted())

	for _, conn := range []p2p.Connection{a, b, c} {
		require.Equal(t, DoNothing, p.OnRequestCompleted(conn, final(0), nil))
		require.Equal(t, DoNothing, p.OnRequestCompleted(conn, truncated(2), nil))
		require.Equal(t, DoNothing, p.OnRequestCompleted(conn, nil, ErrTimeout))
	}
}

func TestPolicyInitialCandidates(t *testing.T) {
	conns := []p2p.Connection{
		newConn("a", false), newConn("b", false), newConn("c", false),
		newConn("d", true), newConn("e", true),
	}
	p, model := newTestPolicy(t, testConfig(), conns...)
	require.Len(t, p.InitialCandidates(), 3)

	require.True(t, model.TryAcquire(conns[0].ID(), 3))
	candidates := p.InitialCandidates()
	require.Len(t, candidates, 2)
	require.NotContains(t, candidates, conns[0])

	require.True(t, model.TryAcquire(conns[1].ID(), 3))
	require.True(t, model.TryAcquire(conns[2].ID(), 3))
	require.Empty(t, p.InitialCandidates())
}

func TestPolicyPeriodicCandidates(t *testing.T) {
	var conns []p2p.Connection
	for i := range 6 {
		conns = append(conns, newConn(fmt.Sprintf("peer-%d", i), false))
	}
	for i := range 3 {
		conns = append(conns, newConn(fmt.Sprintf("seed-%d", i), true))
	}
	cfg := testConfig()
	cfg.MaxPeersForRequest = 4
	cfg.MaxSeedsForRequest = 2
	cfg.MaxPendingRequestsAtPeriodicRequests = 3
	p, _ := newTestPolicy(t, cfg, conns...)

	for range 20 {
		candidates := p.PeriodicCandidates()
		require.Len(t, candidates, 3)
		require.True(t, candidates[0].IsSeed(), "a seed leads the round")
	}

	cfg.MaxPendingRequestsAtPeriodicRequests = 10
	p, _ = newTestPolicy(t, cfg, conns...)
	candidates := p.PeriodicCandidates()
	require.Len(t, candidates, 6)
	seeds := 0
	for _, c := range candidates {
		if c.IsSeed() {
			seeds++
		}
	}
	require.Equal(t, 2, seeds)

	p, _ = newTestPolicy(t, cfg, conns[:6]...)
	candidates = p.PeriodicCandidates()
	require.Len(t, candidates, 4)
	for _, c := range candidates {
		require.False(t, c.IsSeed())
	}
}

func TestPolicyNextCandidate(t *testing.T) {
	a, b, c := newConn("a", false), newConn("b", false), newConn("c", false)
	p, model := newTestPolicy(t, testConfig(), a, b, c)

	tried := map[string]struct{}{a.PeerAddress(): {}}
	next, found := p.NextCandidate(tried)
	require.True(t, found)
	require.NotEqual(t, a, next)
	tried[next.PeerAddress()] = struct{}{}

	last, found := p.NextCandidate(tried)
	require.True(t, found)
	require.NotContains(t, tried, last.PeerAddress())
	tried[last.PeerAddress()] = struct{}{}

	_, found = p.NextCandidate(tried)
	require.False(t, found, "every peer was tried")

	model.Ignore(c.PeerAddress())
	_, found = p.NextCandidate(map[string]struct{}{a.PeerAddress(): {}, b.PeerAddress(): {}})
	require.False(t, found)
}

func TestPolicyPeriodicDelay(t *testing.T) {
	cfg := testConfig()
	cfg.RepeatRequestInterval = 10 * time.Minute
	cfg.FastRetryDelay = 3 * time.Second
	p, _ := newTestPolicy(t, cfg)
	conn := newConn("a", false)

	require.Equal(t, 3*time.Second, p.DelayForNextPeriodicRound(nil))
	require.Equal(t, 3*time.Second, p.DelayForNextPeriodicRound([]Result{
		{Conn: conn, Err: ErrTimeout},
	}))
	require.Equal(t, 3*time.Second, p.DelayForNextPeriodicRound([]Result{
		{Conn: conn, Inventory: truncated(3)},
	}))
	require.Equal(t, 3*time.Second, p.DelayForNextPeriodicRound([]Result{
		{Conn: conn, Err: ErrTimeout},
		{Conn: conn, Inventory: truncated(0)},
	}))
	require.Equal(t, cfg.NoCandidatesDelay, p.NoCandidatesDelay())
}

// A single result with final data is enough to consider the whole round
// complete, even when other peers in the same round were truncated or failed.
func TestPolicyPeriodicDelayAnyFinalResult(t *testing.T) {
	cfg := testConfig()
	cfg.RepeatRequestInterval = 7 * time.Minute
	p, _ := newTestPolicy(t, cfg)
	conn := newConn("a", false)

	require.Equal(t, 7*time.Minute, p.DelayForNextPeriodicRound([]Result{
		{Conn: conn, Err: ErrTimeout},
		{Conn: conn, Inventory: truncated(3)},
		{Conn: conn, Inventory: final(0)},
	}))
	require.Equal(t, 7*time.Minute, p.DelayForNextPeriodicRound([]Result{
		{Conn: conn, Inventory: final(2)},
		{Conn: conn, Inventory: truncated(3)},
	}))
}

func TestPolicyReset(t *testing.T) {
	a, b := newConn("a", false), newConn("b", false)
	p, model := newTestPolicy(t, testConfig(), a, b)
	require.Equal(t, RetryWithNewConnection, p.OnRequestCompleted(a, final(0), nil))
	require.Equal(t, StartPeriodicRequests, p.OnRequestCompleted(b, final(0), nil))

	p.Reset()
	require.False(t, model.InitialCompleted())
	require.False(t, model.IsIgnored(a.PeerAddress()))
	require.Equal(t, RetryWithNewConnection, p.OnRequestCompleted(a, final(0), nil))
	require.Equal(t, StartPeriodicRequests, p.OnRequestCompleted(b, final(0), nil))
}
