package reconcile

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/overlaydex/go-overlay/invsync/types"
	"github.com/overlaydex/go-overlay/p2p"
	"github.com/overlaydex/go-overlay/p2p/simulator"
)

type responseSpy struct {
	mu    sync.Mutex
	resps []*types.InventoryResponse
}

func (s *responseSpy) OnMessage(_ p2p.Connection, msg p2p.Message) {
	if resp, ok := msg.(*types.InventoryResponse); ok {
		s.mu.Lock()
		s.resps = append(s.resps, resp)
		s.mu.Unlock()
	}
}

func (s *responseSpy) OnConnection(p2p.Connection) {}

func (s *responseSpy) OnDisconnect(p2p.Connection) {}

func (s *responseSpy) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resps)
}

func (s *responseSpy) all() []*types.InventoryResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*types.InventoryResponse(nil), s.resps...)
}

func (s *responseSpy) last() *types.InventoryResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resps[len(s.resps)-1]
}

func setupResponder(t *testing.T, opts ...ResponseServiceOpt) (*simulator.Node, p2p.Connection, *responseSpy) {
	sim := newSim(t)
	a := sim.NewNode("a", simulator.WithFeatures(types.FeatureHashSet))
	b := sim.NewNode("b", simulator.WithFeatures(types.FeatureHashSet))
	opts = append([]ResponseServiceOpt{WithResponderLogger(zaptest.NewLogger(t))}, opts...)
	srv := NewResponseService(DefaultConfig(), b, hashSetFactory(t, newMemStore(genRequests("b", 5)...)), opts...)
	srv.Start(context.Background())
	t.Cleanup(srv.Stop)
	spy := &responseSpy{}
	a.AddListener(spy)
	require.NoError(t, sim.Connect(a, b))
	return a, connOf(t, a, "b"), spy
}

func TestResponseServiceEchoesNonce(t *testing.T) {
	a, conn, spy := setupResponder(t)
	req := &types.InventoryRequest{Filter: *emptyFilter(), Nonce: -17}
	require.NoError(t, a.Send(context.Background(), conn, req))
	require.Eventually(t, func() bool { return spy.count() == 1 }, 5*time.Second, time.Millisecond)
	resp := spy.last()
	require.Equal(t, int32(-17), resp.RequestNonce)
	require.Len(t, resp.Inventory.Entries, 5)
	require.True(t, resp.Inventory.FinalDataDelivered())
}

func TestResponseServiceDropsUnsupportedFilter(t *testing.T) {
	a, conn, spy := setupResponder(t)
	req := &types.InventoryRequest{Filter: types.DataFilter{Type: types.MiniSketch}, Nonce: 1}
	require.NoError(t, a.Send(context.Background(), conn, req))
	require.Never(t, func() bool { return spy.count() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}

func TestResponseServiceRateLimit(t *testing.T) {
	a, conn, spy := setupResponder(t, WithPeerRateLimit(0.001, 2), WithLimiterCacheSize(16))
	for i := range 5 {
		req := &types.InventoryRequest{Filter: *emptyFilter(), Nonce: int32(i)}
		require.NoError(t, a.Send(context.Background(), conn, req))
	}
	require.Eventually(t, func() bool { return spy.count() == 5 }, 5*time.Second, time.Millisecond)
	require.Never(t, func() bool { return spy.count() > 5 }, 100*time.Millisecond, 10*time.Millisecond)

	full, limited := 0, 0
	for _, resp := range spy.all() {
		switch {
		case len(resp.Inventory.Entries) == 5 && resp.Inventory.FinalDataDelivered():
			full++
		case len(resp.Inventory.Entries) == 0 && resp.Inventory.MaxSizeReached():
			limited++
		}
	}
	require.Equal(t, 2, full)
	require.Equal(t, 3, limited)
}

func TestResponseServiceStopped(t *testing.T) {
	sim := newSim(t)
	a := sim.NewNode("a", simulator.WithFeatures(types.FeatureHashSet))
	b := sim.NewNode("b", simulator.WithFeatures(types.FeatureHashSet))
	srv := NewResponseService(DefaultConfig(), b, hashSetFactory(t, newMemStore(genRequests("b", 5)...)))
	srv.Start(context.Background())
	srv.Stop()
	srv.Stop()
	spy := &responseSpy{}
	a.AddListener(spy)
	require.NoError(t, sim.Connect(a, b))

	require.NoError(t, a.Send(context.Background(), connOf(t, a, "b"),
		&types.InventoryRequest{Filter: *emptyFilter()}))
	require.Never(t, func() bool { return spy.count() > 0 }, 100*time.Millisecond, 10*time.Millisecond)
}
