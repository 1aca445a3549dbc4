package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/overlaydex/go-overlay/invsync/types"
	"github.com/overlaydex/go-overlay/p2p"
)

var (
	// ErrDisconnected is returned when the connection closes before the response arrived.
	ErrDisconnected = errors.New("connection closed")
	// ErrDisposed is returned when the handler was disposed by its owner.
	ErrDisposed = errors.New("request handler disposed")
	// ErrHandlerUsed is returned when Request is called more than once.
	ErrHandlerUsed = errors.New("request handler already used")
	// ErrTimeout is the cancellation cause of a request that ran out of time.
	ErrTimeout = errors.New("inventory request timed out")
)

// Handler performs a single inventory request on one connection.
type Handler struct {
	logger *zap.Logger
	node   p2p.Node
	conn   p2p.Connection

	used  atomic.Bool
	nonce int32
	resp  chan *types.Inventory

	once sync.Once
	done chan struct{}
	err  error
}

var _ p2p.Listener = (*Handler)(nil)

// NewHandler creates a handler for one request on conn.
func NewHandler(logger *zap.Logger, node p2p.Node, conn p2p.Connection) *Handler {
	return &Handler{
		logger: logger,
		node:   node,
		conn:   conn,
		resp:   make(chan *types.Inventory, 1),
		done:   make(chan struct{}),
	}
}

// Request sends the filter to the peer and waits for the matching response.
// It fails with ErrDisconnected if the connection closes, ErrDisposed if the
// handler is disposed, or the cause of ctx cancellation.
func (h *Handler) Request(ctx context.Context, filter *types.DataFilter) (*types.Inventory, error) {
	if !h.used.CompareAndSwap(false, true) {
		return nil, ErrHandlerUsed
	}
	h.nonce = rand.Int32()
	remove := h.node.AddListener(h)
	defer remove()

	req := &types.InventoryRequest{Filter: *filter, Nonce: h.nonce}
	sent := make(chan error, 1)
	go func() {
		sent <- h.node.Send(ctx, h.conn, req)
	}()
	h.logger.Debug("sent inventory request",
		zap.String("peer", h.conn.PeerAddress()),
		zap.Stringer("filter", filter.Type),
		zap.Int("entries", filter.Len()),
		zap.Int32("nonce", h.nonce),
	)
	for {
		select {
		case inv := <-h.resp:
			return inv, nil
		case err := <-sent:
			if err != nil {
				return nil, fmt.Errorf("send inventory request to %s: %w", h.conn.PeerAddress(), err)
			}
			sent = nil
		case <-h.done:
			return nil, h.err
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		}
	}
}

// Dispose aborts a pending Request with ErrDisposed.
func (h *Handler) Dispose() {
	h.close(ErrDisposed)
}

func (h *Handler) close(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// OnMessage accepts the first response on the handler's connection that
// echoes the request nonce.
func (h *Handler) OnMessage(conn p2p.Connection, msg p2p.Message) {
	resp, ok := msg.(*types.InventoryResponse)
	if !ok || conn.ID() != h.conn.ID() {
		return
	}
	if resp.RequestNonce != h.nonce {
		h.logger.Debug("ignoring response with unexpected nonce",
			zap.String("peer", conn.PeerAddress()),
			zap.Int32("nonce", resp.RequestNonce),
			zap.Int32("expected", h.nonce),
		)
		return
	}
	select {
	case h.resp <- &resp.Inventory:
	default:
	}
}

func (h *Handler) OnConnection(p2p.Connection) {}

func (h *Handler) OnDisconnect(conn p2p.Connection) {
	if conn.ID() == h.conn.ID() {
		h.close(ErrDisconnected)
	}
}
