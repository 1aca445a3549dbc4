package p2p_test

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sync/errgroup"

	"github.com/overlaydex/go-overlay/codec"
	"github.com/overlaydex/go-overlay/invsync/types"
	"github.com/overlaydex/go-overlay/p2p"
	"github.com/overlaydex/go-overlay/p2p/server"
)

func fullFilter(t *testing.T) *types.DataFilter {
	entries := make([]types.FilterEntry, types.MaxFilterEntries)
	for i := range entries {
		entries[i].Hash[0] = byte(i >> 16)
		entries[i].Hash[1] = byte(i >> 8)
		entries[i].Hash[2] = byte(i)
		entries[i].SequenceNumber = 1 << 31
	}
	f, err := types.NewDataFilter(types.HashSet, entries)
	require.NoError(t, err)
	require.Equal(t, types.MaxFilterEntries, f.Len())
	return f
}

func TestDefaultMessageSizeFitsFullFilter(t *testing.T) {
	limit := p2p.DefaultConfig().MaxMessageSize
	payload, err := codec.Encode(&types.InventoryRequest{Filter: *fullFilter(t), Nonce: 3})
	require.NoError(t, err)
	require.LessOrEqual(t, len(payload), types.MaxInventoryRequestSize)
	require.LessOrEqual(t, types.MaxInventoryRequestSize, limit)

	mesh, err := mocknet.FullMeshConnected(2)
	require.NoError(t, err)
	proto := "/test/inventory/1"
	received := make(chan []byte, 1)
	handler := func(_ context.Context, _ peer.ID, _ uint16, payload []byte) error {
		received <- payload
		return nil
	}
	opts := []server.Opt{
		server.WithLog(zaptest.NewLogger(t)),
		server.WithMessageSizeLimit(limit),
	}
	client := server.New(mesh.Hosts()[0], proto, handler, opts...)
	srv := server.New(mesh.Hosts()[1], proto, handler, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	var eg errgroup.Group
	eg.Go(func() error { return srv.Run(ctx) })
	t.Cleanup(func() {
		cancel()
		eg.Wait()
	})
	require.Eventually(t, func() bool {
		for _, p := range mesh.Hosts()[1].Mux().Protocols() {
			if string(p) == proto {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, client.Send(context.Background(), mesh.Hosts()[1].ID(),
		uint16(types.MsgInventoryRequest), payload))
	select {
	case got := <-received:
		msg, err := types.DecodeMessage(types.MsgInventoryRequest, got)
		require.NoError(t, err)
		req, ok := msg.(*types.InventoryRequest)
		require.True(t, ok)
		require.Equal(t, types.MaxFilterEntries, req.Filter.Len())
		require.Equal(t, int32(3), req.Nonce)
	case <-time.After(10 * time.Second):
		require.FailNow(t, "full filter request not delivered")
	}
}
