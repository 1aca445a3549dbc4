package reconcile

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/overlaydex/go-overlay/invsync/filter"
	"github.com/overlaydex/go-overlay/invsync/types"
	"github.com/overlaydex/go-overlay/p2p"
)

// memStore keeps the latest request per key.
type memStore struct {
	mu    sync.Mutex
	items map[types.Hash32]types.DataRequest
}

func newMemStore(reqs ...types.DataRequest) *memStore {
	s := &memStore{items: make(map[types.Hash32]types.DataRequest)}
	for _, r := range reqs {
		s.items[r.Key] = r
	}
	return s
}

func (s *memStore) Snapshot() ([]types.DataRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rst := make([]types.DataRequest, 0, len(s.items))
	for _, r := range s.items {
		rst = append(rst, r)
	}
	return rst, nil
}

func (s *memStore) process(req *types.DataRequest) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, exists := s.items[req.Key]; exists && cur.SequenceNumber >= req.SequenceNumber {
		return false
	}
	s.items[req.Key] = *req
	return true
}

func (s *memStore) ProcessAddDataRequest(_ context.Context, req *types.DataRequest) (bool, error) {
	return s.process(req), nil
}

func (s *memStore) ProcessRemoveDataRequest(_ context.Context, req *types.DataRequest) (bool, error) {
	return s.process(req), nil
}

func (s *memStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func genRequests(prefix string, n int) []types.DataRequest {
	rst := make([]types.DataRequest, n)
	for i := range rst {
		rst[i] = types.NewAddRequest(types.Authenticated, 1, []byte(fmt.Sprintf("%s-%03d", prefix, i)), int64(i))
	}
	return rst
}

func hashSetFactory(t testing.TB, storage filter.StorageService) *filter.Factory {
	f, err := filter.NewFactory([]types.FilterType{types.HashSet}, filter.NewHashSetFilterService(storage))
	require.NoError(t, err)
	return f
}

type fakeConn struct {
	id       string
	addr     string
	seed     bool
	features []p2p.Feature
}

func (c *fakeConn) ID() string              { return c.id }
func (c *fakeConn) PeerAddress() string     { return c.addr }
func (c *fakeConn) Features() []p2p.Feature { return c.features }
func (c *fakeConn) IsSeed() bool            { return c.seed }

func newConn(addr string, seed bool) *fakeConn {
	return &fakeConn{
		id:       addr + "-conn",
		addr:     addr,
		seed:     seed,
		features: []p2p.Feature{types.FeatureHashSet},
	}
}

type fakePeers struct {
	conns  []p2p.Connection
	target int
}

func (p *fakePeers) filter(seed bool) []p2p.Connection {
	var rst []p2p.Connection
	for _, c := range p.conns {
		if c.IsSeed() == seed {
			rst = append(rst, c)
		}
	}
	return rst
}

func (p *fakePeers) AllConnections() []p2p.Connection {
	return append([]p2p.Connection(nil), p.conns...)
}
func (p *fakePeers) ShuffledSeedConnections() []p2p.Connection    { return p.filter(true) }
func (p *fakePeers) ShuffledNonSeedConnections() []p2p.Connection { return p.filter(false) }
func (p *fakePeers) TargetConnectedPeers() int                    { return p.target }
