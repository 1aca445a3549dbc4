// Package simulator provides an in-memory network of p2p nodes. Messages are
// encoded and decoded on every hop, so the wire codec is exercised without
// sockets.
package simulator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/overlaydex/go-overlay/codec"
	"github.com/overlaydex/go-overlay/p2p"
)

// Simulator is a p2p node factory and message bridge.
type Simulator struct {
	logger  *zap.Logger
	decoder p2p.Decoder

	mu    sync.RWMutex
	nodes map[string]*Node
}

// New creates a simulated network decoding messages with decoder.
func New(logger *zap.Logger, decoder p2p.Decoder) *Simulator {
	return &Simulator{
		logger:  logger,
		decoder: decoder,
		nodes:   make(map[string]*Node),
	}
}

// NodeOpt specifies an option for a simulated Node.
type NodeOpt func(*Node)

// WithFeatures sets the capabilities advertised by the node.
func WithFeatures(features ...p2p.Feature) NodeOpt {
	return func(n *Node) {
		n.features = features
	}
}

// WithSeeds marks the addresses the node treats as seed nodes.
func WithSeeds(addrs ...string) NodeOpt {
	return func(n *Node) {
		for _, addr := range addrs {
			n.seeds[addr] = struct{}{}
		}
	}
}

// WithTargetPeers sets the connection target reported by the node.
func WithTargetPeers(target int) NodeOpt {
	return func(n *Node) {
		n.target = target
	}
}

// NewNode creates a node with the given address.
func (s *Simulator) NewNode(addr string, opts ...NodeOpt) *Node {
	n := &Node{
		sim:       s,
		addr:      addr,
		seeds:     make(map[string]struct{}),
		target:    1,
		conns:     make(map[string]*conn),
		listeners: make(map[int]p2p.Listener),
	}
	for _, opt := range opts {
		opt(n)
	}
	s.mu.Lock()
	s.nodes[addr] = n
	s.mu.Unlock()
	return n
}

// Connect links two nodes and notifies the listeners on both sides.
func (s *Simulator) Connect(a, b *Node) error {
	if a == b {
		return fmt.Errorf("can't connect %s to itself", a.addr)
	}
	ab := a.addConn(b)
	if ab == nil {
		return fmt.Errorf("%s is already connected to %s", a.addr, b.addr)
	}
	ba := b.addConn(a)
	if ba == nil {
		a.removeConn(b.addr)
		return fmt.Errorf("%s is already connected to %s", b.addr, a.addr)
	}
	s.logger.Debug("connected", zap.String("a", a.addr), zap.String("b", b.addr))
	a.notify(func(l p2p.Listener) { l.OnConnection(ab) })
	b.notify(func(l p2p.Listener) { l.OnConnection(ba) })
	return nil
}

// Disconnect closes the link between two nodes.
func (s *Simulator) Disconnect(a, b *Node) {
	ab := a.removeConn(b.addr)
	ba := b.removeConn(a.addr)
	s.logger.Debug("disconnected", zap.String("a", a.addr), zap.String("b", b.addr))
	if ab != nil {
		a.notify(func(l p2p.Listener) { l.OnDisconnect(ab) })
	}
	if ba != nil {
		b.notify(func(l p2p.Listener) { l.OnDisconnect(ba) })
	}
}

type conn struct {
	id     string
	remote *Node
	seed   bool
}

func (c *conn) ID() string              { return c.id }
func (c *conn) PeerAddress() string     { return c.remote.addr }
func (c *conn) Features() []p2p.Feature { return c.remote.features }
func (c *conn) IsSeed() bool            { return c.seed }

// Node is a simulated p2p node. It implements p2p.Node and p2p.PeerGroup.
type Node struct {
	sim      *Simulator
	addr     string
	features []p2p.Feature
	seeds    map[string]struct{}
	target   int

	dropIncoming atomic.Bool
	received     atomic.Int64

	mu        sync.RWMutex
	conns     map[string]*conn // by remote address
	listeners map[int]p2p.Listener
	nextID    int
}

var (
	_ p2p.Node      = (*Node)(nil)
	_ p2p.PeerGroup = (*Node)(nil)
)

// Address of the node.
func (n *Node) Address() string {
	return n.addr
}

// SetUnresponsive makes the node silently drop every incoming message.
func (n *Node) SetUnresponsive(drop bool) {
	n.dropIncoming.Store(drop)
}

// Received is the number of messages delivered to the node, including dropped ones.
func (n *Node) Received() int {
	return int(n.received.Load())
}

func (n *Node) addConn(remote *Node) *conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.conns[remote.addr]; exists {
		return nil
	}
	_, seed := n.seeds[remote.addr]
	c := &conn{
		id:     uuid.NewString(),
		remote: remote,
		seed:   seed,
	}
	n.conns[remote.addr] = c
	return c
}

func (n *Node) removeConn(addr string) *conn {
	n.mu.Lock()
	defer n.mu.Unlock()
	c, exists := n.conns[addr]
	if !exists {
		return nil
	}
	delete(n.conns, addr)
	return c
}

func (n *Node) lookup(c p2p.Connection) (*conn, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	cur, exists := n.conns[c.PeerAddress()]
	if !exists || cur.id != c.ID() {
		return nil, false
	}
	return cur, true
}

// notify calls f for every listener outside of the node lock.
func (n *Node) notify(f func(p2p.Listener)) {
	n.mu.RLock()
	listeners := make([]p2p.Listener, 0, len(n.listeners))
	for _, l := range n.listeners {
		listeners = append(listeners, l)
	}
	n.mu.RUnlock()
	for _, l := range listeners {
		f(l)
	}
}

// Send encodes msg and delivers it asynchronously to the remote node.
func (n *Node) Send(ctx context.Context, c p2p.Connection, msg p2p.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	local, ok := n.lookup(c)
	if !ok {
		return fmt.Errorf("%w: %s", p2p.ErrNotConnected, c.PeerAddress())
	}
	remote := local.remote
	data, err := codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %T: %w", msg, err)
	}
	remote.mu.RLock()
	back, ok := remote.conns[n.addr]
	remote.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", p2p.ErrNotConnected, c.PeerAddress())
	}
	go remote.receive(back, msg.Type(), data)
	return nil
}

func (n *Node) receive(c *conn, t p2p.MessageType, data []byte) {
	n.received.Add(1)
	if n.dropIncoming.Load() {
		return
	}
	if _, ok := n.lookup(c); !ok {
		return
	}
	msg, err := n.sim.decoder(t, data)
	if err != nil {
		n.sim.logger.Warn("failed to decode message",
			zap.String("node", n.addr),
			zap.String("peer", c.remote.addr),
			zap.Error(err),
		)
		return
	}
	n.notify(func(l p2p.Listener) { l.OnMessage(c, msg) })
}

// AddListener registers l for connection events and messages.
func (n *Node) AddListener(l p2p.Listener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = l
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, id)
	}
}

// Connections returns the established connections.
func (n *Node) Connections() []p2p.Connection {
	n.mu.RLock()
	defer n.mu.RUnlock()
	rst := make([]p2p.Connection, 0, len(n.conns))
	for _, c := range n.conns {
		rst = append(rst, c)
	}
	return rst
}

// Features advertised by the node.
func (n *Node) Features() []p2p.Feature {
	return n.features
}

func (n *Node) AllConnections() []p2p.Connection {
	return n.Connections()
}

func (n *Node) shuffled(seed bool) []p2p.Connection {
	n.mu.RLock()
	rst := make([]p2p.Connection, 0, len(n.conns))
	for _, c := range n.conns {
		if c.seed == seed {
			rst = append(rst, c)
		}
	}
	n.mu.RUnlock()
	rand.Shuffle(len(rst), func(i, j int) { rst[i], rst[j] = rst[j], rst[i] })
	return rst
}

func (n *Node) ShuffledSeedConnections() []p2p.Connection {
	return n.shuffled(true)
}

func (n *Node) ShuffledNonSeedConnections() []p2p.Connection {
	return n.shuffled(false)
}

func (n *Node) TargetConnectedPeers() int {
	return n.target
}
