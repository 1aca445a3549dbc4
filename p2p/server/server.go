package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/multiformats/go-varint"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var (
	// ErrNotConnected is returned when peer is not connected.
	ErrNotConnected = errors.New("peer is not connected")
	// ErrMessageTooLarge is returned when the payload exceeds the size limit.
	ErrMessageTooLarge = errors.New("message too large")
)

// Opt is a type to configure a server.
type Opt func(s *Server)

// WithTimeout configures stream timeout.
// A stream is reset if the message was not fully sent or received within
// the specified duration.
func WithTimeout(timeout time.Duration) Opt {
	return func(s *Server) {
		s.timeout = timeout
	}
}

// WithLog configures logger for the server.
func WithLog(logger *zap.Logger) Opt {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithMessageSizeLimit sets the maximum size of a message payload.
func WithMessageSizeLimit(limit int) Opt {
	return func(s *Server) {
		s.sizeLimit = limit
	}
}

// WithMetrics will enable metrics collection in the server.
func WithMetrics() Opt {
	return func(s *Server) {
		s.metrics = newTracker(s.protocol)
	}
}

// WithQueueSize parametrize number of message that will be kept in queue
// and eventually processed by server. Otherwise stream is closed immediately.
//
// Defaults to 1000.
func WithQueueSize(size int) Opt {
	return func(s *Server) {
		s.queueSize = size
	}
}

// WithRequestsPerInterval parametrizes server rate limit to limit maximum amount of bandwidth
// that this handler can consume.
//
// Defaults to 100 messages per second.
func WithRequestsPerInterval(n int, interval time.Duration) Opt {
	return func(s *Server) {
		s.requestsPerInterval = n
		s.interval = interval
	}
}

// Handler is called for every message received from a peer.
type Handler func(ctx context.Context, pid peer.ID, msgType uint16, payload []byte) error

// Host is a subset of libp2p Host used by the server.
type Host interface {
	SetStreamHandler(protocol.ID, network.StreamHandler)
	RemoveStreamHandler(protocol.ID)
	NewStream(context.Context, peer.ID, ...protocol.ID) (network.Stream, error)
	Network() network.Network
}

// Server exchanges one-way messages over short lived streams. Every stream
// carries a single frame: uvarint message type, uvarint payload length, payload.
type Server struct {
	logger              *zap.Logger
	protocol            string
	handler             Handler
	timeout             time.Duration
	sizeLimit           int
	queueSize           int
	requestsPerInterval int
	interval            time.Duration

	metrics *tracker // metrics can be nil

	h Host
}

// New server for the handler.
func New(h Host, proto string, handler Handler, opts ...Opt) *Server {
	srv := &Server{
		logger:              zap.NewNop(),
		protocol:            proto,
		handler:             handler,
		h:                   h,
		timeout:             25 * time.Second,
		sizeLimit:           8 << 20,
		queueSize:           1000,
		requestsPerInterval: 100,
		interval:            time.Second,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

type request struct {
	stream   network.Stream
	received time.Time
}

// Run accepts incoming streams until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	limit := rate.NewLimiter(rate.Every(s.interval/time.Duration(s.requestsPerInterval)), s.requestsPerInterval)
	queue := make(chan request, s.queueSize)
	if s.metrics != nil {
		s.metrics.targetQueue.Set(float64(s.queueSize))
		s.metrics.targetRps.Set(float64(limit.Limit()))
	}
	s.h.SetStreamHandler(protocol.ID(s.protocol), func(stream network.Stream) {
		select {
		case queue <- request{stream: stream, received: time.Now()}:
			if s.metrics != nil {
				s.metrics.queue.Set(float64(len(queue)))
				s.metrics.accepted.Inc()
			}
		default:
			if s.metrics != nil {
				s.metrics.dropped.Inc()
			}
			stream.Reset()
		}
	})
	defer s.h.RemoveStreamHandler(protocol.ID(s.protocol))

	var eg errgroup.Group
	eg.SetLimit(s.queueSize)
	for {
		select {
		case <-ctx.Done():
			eg.Wait()
			return nil
		case req := <-queue:
			if err := limit.Wait(ctx); err != nil {
				req.stream.Reset()
				eg.Wait()
				return nil
			}
			eg.Go(func() error {
				ok := s.queueHandler(ctx, req.stream)
				if s.metrics != nil {
					s.metrics.serverLatency.Observe(time.Since(req.received).Seconds())
					if ok {
						s.metrics.completed.Inc()
					} else {
						s.metrics.failed.Inc()
					}
				}
				return nil
			})
		}
	}
}

func (s *Server) queueHandler(ctx context.Context, stream network.Stream) bool {
	defer stream.Close()
	pid := stream.Conn().RemotePeer()
	logger := s.logger.With(
		zap.String("protocol", s.protocol),
		zap.Stringer("remotePeer", pid),
		zap.Stringer("remoteMultiaddr", stream.Conn().RemoteMultiaddr()),
	)
	if err := stream.SetDeadline(time.Now().Add(s.timeout)); err != nil {
		logger.Debug("failed to set stream deadline", zap.Error(err))
	}
	rd := bufio.NewReader(stream)
	msgType, err := varint.ReadUvarint(rd)
	if err != nil {
		logger.Debug("initial read failed", zap.Error(err))
		return false
	}
	if msgType > 0xffff {
		logger.Warn("invalid message type", zap.Uint64("type", msgType))
		stream.Reset()
		return false
	}
	size, err := varint.ReadUvarint(rd)
	if err != nil {
		logger.Debug("failed to read message size", zap.Error(err))
		return false
	}
	if size > uint64(s.sizeLimit) {
		logger.Warn("message limit overflow",
			zap.Int("limit", s.sizeLimit),
			zap.Uint64("message", size),
		)
		stream.Conn().Close()
		return false
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(rd, buf); err != nil {
		logger.Debug("error reading message", zap.Error(err))
		return false
	}
	start := time.Now()
	if err := s.handler(ctx, pid, uint16(msgType), buf); err != nil {
		logger.Debug("handler reported error", zap.Error(err))
		return false
	}
	logger.Debug("protocol handler execution time", zap.Duration("duration", time.Since(start)))
	return true
}

// Send delivers a single message to the peer over an existing connection.
func (s *Server) Send(ctx context.Context, pid peer.ID, msgType uint16, payload []byte) error {
	start := time.Now()
	err := s.send(ctx, pid, msgType, payload)
	if s.metrics != nil {
		took := time.Since(start).Seconds()
		if err != nil {
			s.metrics.clientFailed.Inc()
			s.metrics.clientLatencyFailure.Observe(took)
		} else {
			s.metrics.clientSucceeded.Inc()
			s.metrics.clientLatency.Observe(took)
		}
	}
	return err
}

func (s *Server) send(ctx context.Context, pid peer.ID, msgType uint16, payload []byte) error {
	if len(payload) > s.sizeLimit {
		return fmt.Errorf("%w: length %d is longer than limit %d", ErrMessageTooLarge, len(payload), s.sizeLimit)
	}
	if s.h.Network().Connectedness(pid) != network.Connected {
		return fmt.Errorf("%w: %s", ErrNotConnected, pid)
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	stream, err := s.h.NewStream(
		network.WithNoDial(ctx, "existing connection"),
		pid,
		protocol.ID(s.protocol),
	)
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		stream.SetWriteDeadline(deadline)
	}
	wr := bufio.NewWriter(stream)
	if _, err := wr.Write(varint.ToUvarint(uint64(msgType))); err != nil {
		stream.Reset()
		return fmt.Errorf("peer %s address %s: %w", pid, stream.Conn().RemoteMultiaddr(), err)
	}
	if _, err := wr.Write(varint.ToUvarint(uint64(len(payload)))); err != nil {
		stream.Reset()
		return fmt.Errorf("peer %s address %s: %w", pid, stream.Conn().RemoteMultiaddr(), err)
	}
	if _, err := wr.Write(payload); err != nil {
		stream.Reset()
		return fmt.Errorf("peer %s address %s: %w", pid, stream.Conn().RemoteMultiaddr(), err)
	}
	if err := wr.Flush(); err != nil {
		stream.Reset()
		return fmt.Errorf("peer %s address %s: %w", pid, stream.Conn().RemoteMultiaddr(), err)
	}
	return stream.Close()
}

// NumAcceptedRequests returns the number of accepted streams for this server.
// It is used for testing.
func (s *Server) NumAcceptedRequests() int {
	if s.metrics == nil {
		return -1
	}
	m := &dto.Metric{}
	if err := s.metrics.accepted.Write(m); err != nil {
		panic("failed to get metric: " + err.Error())
	}
	return int(m.Counter.GetValue())
}
