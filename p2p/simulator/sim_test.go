package simulator_test

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

type events struct {
	mu           sync.Mutex
	connected    []p2p.Connection
	disconnected []p2p.Connection
	messages     []p2p.Message
}

func (e *events) OnMessage(_ p2p.Connection, msg p2p.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, msg)
}

func (e *events) OnConnection(c p2p.Connection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.connected = append(e.connected, c)
}

func (e *events) OnDisconnect(c p2p.Connection) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.disconnected = append(e.disconnected, c)
}

func (e *events) numMessages() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.messages)
}

func TestSimulatorConnectAndSend(t *testing.T) {
	sim := simulator.New(zaptest.NewLogger(t), types.DecodeMessage)
	a := sim.NewNode("a", simulator.WithSeeds("b"), simulator.WithTargetPeers(3))
	b := sim.NewNode("b", simulator.WithFeatures(types.FeatureHashSet))
	var ea, eb events
	a.AddListener(&ea)
	remove := b.AddListener(&eb)

	require.NoError(t, sim.Connect(a, b))
	require.Error(t, sim.Connect(a, b))
	require.Error(t, sim.Connect(a, a))
	require.Len(t, ea.connected, 1)
	require.Len(t, eb.connected, 1)

	ab := ea.connected[0]
	require.Equal(t, "b", ab.PeerAddress())
	require.True(t, ab.IsSeed())
	require.Equal(t, []p2p.Feature{types.FeatureHashSet}, ab.Features())
	require.False(t, eb.connected[0].IsSeed())
	require.Len(t, a.ShuffledSeedConnections(), 1)
	require.Empty(t, a.ShuffledNonSeedConnections())
	require.Equal(t, 3, a.TargetConnectedPeers())

	req := &types.InventoryRequest{Filter: types.DataFilter{Type: types.HashSet}, Nonce: 7}
	require.NoError(t, a.Send(context.Background(), ab, req))
	require.Eventually(t, func() bool { return eb.numMessages() == 1 }, time.Second, time.Millisecond)
	eb.mu.Lock()
	got, ok := eb.messages[0].(*types.InventoryRequest)
	eb.mu.Unlock()
	require.True(t, ok)
	require.Equal(t, int32(7), got.Nonce)

	remove()
	require.NoError(t, a.Send(context.Background(), ab, req))
	require.Eventually(t, func() bool { return b.Received() == 2 }, time.Second, time.Millisecond)
	require.Equal(t, 1, eb.numMessages())

	sim.Disconnect(a, b)
	require.Len(t, ea.disconnected, 1)
	require.Empty(t, a.Connections())
	require.ErrorIs(t, a.Send(context.Background(), ab, req), p2p.ErrNotConnected)
}

func TestSimulatorReconnectGetsNewID(t *testing.T) {
	sim := simulator.New(zaptest.NewLogger(t), types.DecodeMessage)
	a := sim.NewNode("a")
	b := sim.NewNode("b")
	require.NoError(t, sim.Connect(a, b))
	first := a.Connections()[0]
	sim.Disconnect(a, b)
	require.NoError(t, sim.Connect(a, b))
	second := a.Connections()[0]
	require.NotEqual(t, first.ID(), second.ID())
	require.Equal(t, first.PeerAddress(), second.PeerAddress())
	require.ErrorIs(t, a.Send(context.Background(), first,
		&types.InventoryRequest{Filter: types.DataFilter{Type: types.HashSet}}), p2p.ErrNotConnected)
}

func TestSimulatorUnresponsive(t *testing.T) {
	sim := simulator.New(zaptest.NewLogger(t), types.DecodeMessage)
	a := sim.NewNode("a")
	b := sim.NewNode("b")
	var eb events
	b.AddListener(&eb)
	require.NoError(t, sim.Connect(a, b))
	b.SetUnresponsive(true)
	req := &types.InventoryRequest{Filter: types.DataFilter{Type: types.HashSet}}
	require.NoError(t, a.Send(context.Background(), a.Connections()[0], req))
	require.Eventually(t, func() bool { return b.Received() == 1 }, time.Second, time.Millisecond)
	require.Zero(t, eb.numMessages())
}
