package p2p

import (
	"context"
	"errors"

	"github.com/overlaydex/go-overlay/codec"
)

var (
	// ErrNotConnected is returned when the connection is already closed.
	ErrNotConnected = errors.New("peer is not connected")
	// ErrUnknownMessage is returned when decoding a message with an unregistered type.
	ErrUnknownMessage = errors.New("unknown message type")
)

// Feature is a capability advertised by a node during the handshake.
type Feature string

// MessageType tags a Message on the wire.
type MessageType uint16

// Message is an application message carried by a Node.
type Message interface {
	codec.Encodable
	Type() MessageType
}

// Decoder turns a tagged payload received from the wire into a Message.
type Decoder func(MessageType, []byte) (Message, error)

// Connection is an established, handshaked link to a remote peer.
// Its features are fixed once the handshake completed.
type Connection interface {
	// ID is unique for the lifetime of the process, a reconnecting peer gets a new ID.
	ID() string
	// PeerAddress identifies the remote peer across reconnects.
	PeerAddress() string
	// Features advertised by the remote peer.
	Features() []Feature
	// IsSeed is true if the remote peer is one of the configured seed nodes.
	IsSeed() bool
}

// Listener receives connection lifecycle events and messages.
// Callbacks may run concurrently and must not block.
type Listener interface {
	OnMessage(conn Connection, msg Message)
	OnConnection(conn Connection)
	OnDisconnect(conn Connection)
}

// Node sends messages to connected peers and notifies listeners.
type Node interface {
	// Send delivers msg to the peer behind conn.
	Send(ctx context.Context, conn Connection, msg Message) error
	// AddListener registers l and returns a function that removes it.
	// The returned function is idempotent.
	AddListener(l Listener) (remove func())
	// Connections returns a snapshot of the established connections.
	Connections() []Connection
	// Features advertised by this node.
	Features() []Feature
}

// PeerGroup exposes the connection set split by peer class.
type PeerGroup interface {
	AllConnections() []Connection
	ShuffledSeedConnections() []Connection
	ShuffledNonSeedConnections() []Connection
	// TargetConnectedPeers is the number of connections the node aims to keep.
	TargetConnectedPeers() int
}

// HasFeature reports whether f is among features.
func HasFeature(features []Feature, f Feature) bool {
	for _, feature := range features {
		if feature == f {
			return true
		}
	}
	return false
}
