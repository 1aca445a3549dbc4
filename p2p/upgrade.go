package p2p

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/overlaydex/go-overlay/codec"
	"github.com/overlaydex/go-overlay/p2p/handshake"
	"github.com/overlaydex/go-overlay/p2p/server"
)

// MessageProtocol carries application messages between handshaked peers.
const MessageProtocol = "/overlay/msg/1"

var errPeerGone = errors.New("peer disconnected during handshake")

// Opt is for configuring Host.
type Opt func(fh *Host)

// WithLog configures logger for Host.
func WithLog(logger *zap.Logger) Opt {
	return func(fh *Host) {
		fh.logger = logger
	}
}

// WithConfig sets Config for Host.
func WithConfig(cfg Config) Opt {
	return func(fh *Host) {
		fh.cfg = cfg
	}
}

// WithContext set context for Host.
func WithContext(ctx context.Context) Opt {
	return func(fh *Host) {
		fh.ctx = ctx
	}
}

// WithFeatures sets the capabilities advertised during the handshake.
func WithFeatures(features ...Feature) Opt {
	return func(fh *Host) {
		fh.features = features
	}
}

// WithDecoder sets the decoder for received messages.
func WithDecoder(decoder Decoder) Opt {
	return func(fh *Host) {
		fh.decoder = decoder
	}
}

type connection struct {
	id       string
	pid      peer.ID
	features []Feature
	seed     bool
}

func (c *connection) ID() string          { return c.id }
func (c *connection) PeerAddress() string { return c.pid.String() }
func (c *connection) Features() []Feature { return c.features }
func (c *connection) IsSeed() bool        { return c.seed }

// Host is a conveniency wrapper for all p2p related functionality required to run
// an overlay node. It implements Node and PeerGroup on top of libp2p.
type Host struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
	logger *zap.Logger

	host.Host

	features  []Feature
	decoder   Decoder
	bootnodes []peer.AddrInfo
	seeds     map[peer.ID]struct{}
	srv       *server.Server
	eg        errgroup.Group

	mu        sync.RWMutex
	conns     map[peer.ID]*connection
	listeners map[int]Listener
	nextID    int
}

var (
	_ Node      = (*Host)(nil)
	_ PeerGroup = (*Host)(nil)
)

// Upgrade creates Host instance from host.Host.
func Upgrade(h host.Host, opts ...Opt) (*Host, error) {
	fh := &Host{
		ctx:       context.Background(),
		cfg:       DefaultConfig(),
		logger:    zap.NewNop(),
		Host:      h,
		seeds:     make(map[peer.ID]struct{}),
		conns:     make(map[peer.ID]*connection),
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(fh)
	}
	if fh.decoder == nil {
		return nil, errors.New("message decoder is required")
	}
	bootnodes, err := parseBootnodes(fh.cfg.Bootnodes)
	if err != nil {
		return nil, err
	}
	fh.bootnodes = bootnodes
	for _, info := range bootnodes {
		fh.seeds[info.ID] = struct{}{}
	}
	fh.ctx, fh.cancel = context.WithCancel(fh.ctx)
	fh.srv = server.New(h, MessageProtocol, fh.handleMessage,
		server.WithLog(fh.logger),
		server.WithTimeout(fh.cfg.MessageTimeout),
		server.WithMessageSizeLimit(fh.cfg.MaxMessageSize),
		server.WithMetrics(),
	)
	h.SetStreamHandler(protocol.ID(handshake.ProtocolID), fh.handleHello)
	h.Network().Notify(fh)
	fh.eg.Go(func() error {
		return fh.srv.Run(fh.ctx)
	})
	for _, c := range h.Network().Conns() {
		fh.Connected(h.Network(), c)
	}
	return fh, nil
}

// Start dials the configured bootnodes.
func (fh *Host) Start() {
	for _, info := range fh.bootnodes {
		fh.eg.Go(func() error {
			if err := fh.Connect(fh.ctx, info); err != nil {
				fh.logger.Warn("failed to connect to bootnode",
					zap.Stringer("peer", info.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
}

// Stop background workers and release external resources.
func (fh *Host) Stop() error {
	fh.cancel()
	fh.Network().StopNotify(fh)
	fh.RemoveStreamHandler(protocol.ID(handshake.ProtocolID))
	fh.eg.Wait()
	if err := fh.Host.Close(); err != nil {
		return fmt.Errorf("failed to close libp2p host: %w", err)
	}
	return nil
}

func (fh *Host) localHello() *handshake.Hello {
	features := make([]string, 0, len(fh.features))
	for _, f := range fh.features {
		features = append(features, string(f))
	}
	return &handshake.Hello{
		Cookie:   handshake.NetworkCookie(fh.cfg.NetworkID),
		Features: features,
	}
}

func toFeatures(hello *handshake.Hello) []Feature {
	features := make([]Feature, 0, len(hello.Features))
	for _, f := range hello.Features {
		features = append(features, Feature(f))
	}
	return features
}

// Connected implements network.Notifiee. The dialer initiates the handshake.
func (fh *Host) Connected(_ network.Network, c network.Conn) {
	if c.Stat().Direction != network.DirOutbound {
		return
	}
	pid := c.RemotePeer()
	select {
	case <-fh.ctx.Done():
		return
	default:
	}
	fh.eg.Go(func() error {
		fh.initiate(pid)
		return nil
	})
}

// Disconnected implements network.Notifiee.
func (fh *Host) Disconnected(n network.Network, c network.Conn) {
	pid := c.RemotePeer()
	if n.Connectedness(pid) == network.Connected {
		return
	}
	fh.mu.Lock()
	conn, exists := fh.conns[pid]
	delete(fh.conns, pid)
	fh.mu.Unlock()
	if !exists {
		return
	}
	connectedPeers.Set(float64(fh.numConns()))
	fh.logger.Debug("peer disconnected", zap.Stringer("peer", pid), zap.String("conn", conn.id))
	fh.notify(func(l Listener) { l.OnDisconnect(conn) })
}

func (fh *Host) Listen(network.Network, ma.Multiaddr)      {}
func (fh *Host) ListenClose(network.Network, ma.Multiaddr) {}

func (fh *Host) initiate(pid peer.ID) {
	logger := fh.logger.With(zap.Stringer("peer", pid))
	ctx, cancel := context.WithTimeout(fh.ctx, fh.cfg.HandshakeTimeout)
	defer cancel()
	stream, err := fh.NewStream(
		network.WithNoDial(ctx, "existing connection"),
		pid,
		protocol.ID(handshake.ProtocolID),
	)
	if err != nil {
		logger.Debug("failed to open handshake stream", zap.Error(err))
		handshakeFailures.Inc()
		return
	}
	if deadline, ok := ctx.Deadline(); ok {
		stream.SetDeadline(deadline)
	}
	hello, err := handshake.Initiate(stream, fh.localHello())
	if err != nil {
		stream.Reset()
		logger.Debug("handshake failed", zap.Error(err))
		handshakeFailures.Inc()
		fh.Network().ClosePeer(pid)
		return
	}
	conn, added := fh.register(pid, hello)
	// closing the stream tells the responder that messages can be sent
	stream.Close()
	if added {
		fh.notify(func(l Listener) { l.OnConnection(conn) })
	}
}

func (fh *Host) handleHello(stream network.Stream) {
	defer stream.Close()
	pid := stream.Conn().RemotePeer()
	logger := fh.logger.With(zap.Stringer("peer", pid))
	stream.SetDeadline(time.Now().Add(fh.cfg.HandshakeTimeout))
	var (
		conn  *connection
		added bool
	)
	_, err := handshake.Respond(stream, fh.localHello(), func(hello *handshake.Hello) error {
		conn, added = fh.register(pid, hello)
		if conn == nil {
			return errPeerGone
		}
		return nil
	})
	if err != nil {
		logger.Debug("handshake failed", zap.Error(err))
		if !errors.Is(err, errPeerGone) {
			handshakeFailures.Inc()
			fh.Network().ClosePeer(pid)
		}
		return
	}
	// wait until the initiator registered the connection on its side
	if _, err := io.Copy(io.Discard, stream); err != nil {
		logger.Debug("handshake not confirmed", zap.Error(err))
	}
	if added {
		fh.notify(func(l Listener) { l.OnConnection(conn) })
	}
}

// register returns the connection of the peer and whether it was added by
// this call. Another libp2p connection to the same peer reuses the existing
// one. It returns nil if the peer is gone.
func (fh *Host) register(pid peer.ID, hello *handshake.Hello) (*connection, bool) {
	_, seed := fh.seeds[pid]
	conn := &connection{
		id:       uuid.NewString(),
		pid:      pid,
		features: toFeatures(hello),
		seed:     seed,
	}
	fh.mu.Lock()
	if existing, exists := fh.conns[pid]; exists {
		fh.mu.Unlock()
		return existing, false
	}
	fh.conns[pid] = conn
	n := len(fh.conns)
	fh.mu.Unlock()
	if fh.Network().Connectedness(pid) != network.Connected {
		// disconnected during the handshake
		fh.mu.Lock()
		delete(fh.conns, pid)
		fh.mu.Unlock()
		return nil, false
	}
	connectedPeers.Set(float64(n))
	fh.logger.Debug("peer connected",
		zap.Stringer("peer", pid),
		zap.String("conn", conn.id),
		zap.Bool("seed", seed),
		zap.Strings("features", hello.Features),
	)
	return conn, true
}

func (fh *Host) numConns() int {
	fh.mu.RLock()
	defer fh.mu.RUnlock()
	return len(fh.conns)
}

func (fh *Host) lookup(pid peer.ID) (*connection, bool) {
	fh.mu.RLock()
	defer fh.mu.RUnlock()
	conn, exists := fh.conns[pid]
	return conn, exists
}

func (fh *Host) handleMessage(_ context.Context, pid peer.ID, msgType uint16, payload []byte) error {
	conn, exists := fh.lookup(pid)
	if !exists {
		return fmt.Errorf("%w: message from peer without handshake", ErrNotConnected)
	}
	msg, err := fh.decoder(MessageType(msgType), payload)
	if err != nil {
		return fmt.Errorf("decode message %d: %w", msgType, err)
	}
	fh.notify(func(l Listener) { l.OnMessage(conn, msg) })
	return nil
}

// notify calls f for every listener outside of the host lock.
func (fh *Host) notify(f func(Listener)) {
	fh.mu.RLock()
	listeners := make([]Listener, 0, len(fh.listeners))
	for _, l := range fh.listeners {
		listeners = append(listeners, l)
	}
	fh.mu.RUnlock()
	for _, l := range listeners {
		f(l)
	}
}

// Send encodes msg and delivers it to the peer behind conn.
func (fh *Host) Send(ctx context.Context, c Connection, msg Message) error {
	pid, err := peer.Decode(c.PeerAddress())
	if err != nil {
		return fmt.Errorf("invalid peer address %s: %w", c.PeerAddress(), err)
	}
	cur, exists := fh.lookup(pid)
	if !exists || cur.id != c.ID() {
		return fmt.Errorf("%w: %s", ErrNotConnected, pid)
	}
	data, err := codec.Encode(msg)
	if err != nil {
		return fmt.Errorf("encode %T: %w", msg, err)
	}
	if err := fh.srv.Send(ctx, pid, uint16(msg.Type()), data); err != nil {
		if errors.Is(err, server.ErrNotConnected) {
			return fmt.Errorf("%w: %s", ErrNotConnected, pid)
		}
		return err
	}
	return nil
}

// AddListener registers l for connection events and messages.
func (fh *Host) AddListener(l Listener) func() {
	fh.mu.Lock()
	defer fh.mu.Unlock()
	id := fh.nextID
	fh.nextID++
	fh.listeners[id] = l
	return func() {
		fh.mu.Lock()
		defer fh.mu.Unlock()
		delete(fh.listeners, id)
	}
}

// Connections returns the handshaked connections.
func (fh *Host) Connections() []Connection {
	fh.mu.RLock()
	defer fh.mu.RUnlock()
	rst := make([]Connection, 0, len(fh.conns))
	for _, c := range fh.conns {
		rst = append(rst, c)
	}
	return rst
}

// Features advertised by the host.
func (fh *Host) Features() []Feature {
	return fh.features
}

func (fh *Host) AllConnections() []Connection {
	return fh.Connections()
}

func (fh *Host) shuffled(seed bool) []Connection {
	fh.mu.RLock()
	rst := make([]Connection, 0, len(fh.conns))
	for _, c := range fh.conns {
		if c.seed == seed {
			rst = append(rst, c)
		}
	}
	fh.mu.RUnlock()
	rand.Shuffle(len(rst), func(i, j int) { rst[i], rst[j] = rst[j], rst[i] })
	return rst
}

func (fh *Host) ShuffledSeedConnections() []Connection {
	return fh.shuffled(true)
}

func (fh *Host) ShuffledNonSeedConnections() []Connection {
	return fh.shuffled(false)
}

func (fh *Host) TargetConnectedPeers() int {
	return fh.cfg.TargetPeers
}
