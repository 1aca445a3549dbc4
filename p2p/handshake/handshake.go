// Package handshake implements the hello exchange run on every new connection.
// Peers agree on the network and learn each other's capabilities.
package handshake

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/libp2p/go-msgio"
	"github.com/spacemeshos/go-scale"

	"github.com/overlaydex/go-overlay/codec"
)

// ProtocolID of the hello stream.
const ProtocolID = "/overlay/hello/1"

const (
	maxHelloSize  = 4096
	maxCookieSize = 64
	maxFeatures   = 32
	maxFeatureLen = 64
)

// ErrCookieMismatch is returned when the peer belongs to another network.
var ErrCookieMismatch = errors.New("network cookie mismatch")

// NetworkCookie specifies a sequence of bytes that can be used to
// prevent peers from different networks from communicating with each
// other.
type NetworkCookie []byte

// Empty returns true if the network cookie is empty.
func (nc NetworkCookie) Empty() bool {
	return len(nc) == 0
}

// String returns string representation of the NetworkCookie, which is
// a hex string.
func (nc NetworkCookie) String() string {
	return hex.EncodeToString(nc)
}

// Equal returns true if this cookie is the same as the other cookie.
func (nc NetworkCookie) Equal(other NetworkCookie) bool {
	return bytes.Equal(nc, other)
}

// Hello is sent by both sides of a new connection.
type Hello struct {
	Cookie   NetworkCookie
	Features []string
}

// EncodeScale implements scale.Encodable.
func (h *Hello) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, h.Cookie, maxCookieSize)
		if err != nil {
			return total, err
		}
		total += n
	}
	if len(h.Features) > maxFeatures {
		return total, fmt.Errorf("too many features: %d", len(h.Features))
	}
	{
		n, err := scale.EncodeCompact32(enc, uint32(len(h.Features)))
		if err != nil {
			return total, err
		}
		total += n
	}
	for _, f := range h.Features {
		n, err := scale.EncodeByteSliceWithLimit(enc, []byte(f), maxFeatureLen)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (h *Hello) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeByteSliceWithLimit(dec, maxCookieSize)
		if err != nil {
			return total, err
		}
		total += n
		h.Cookie = field
	}
	count, n, err := scale.DecodeCompact32(dec)
	if err != nil {
		return total, err
	}
	total += n
	if count > maxFeatures {
		return total, fmt.Errorf("too many features: %d", count)
	}
	h.Features = make([]string, 0, count)
	for range count {
		field, n, err := scale.DecodeByteSliceWithLimit(dec, maxFeatureLen)
		if err != nil {
			return total, err
		}
		total += n
		h.Features = append(h.Features, string(field))
	}
	return total, nil
}

// Initiate sends the local hello and waits for the reply on rw.
func Initiate(rw io.ReadWriter, local *Hello) (*Hello, error) {
	if err := writeHello(rw, local); err != nil {
		return nil, err
	}
	remote, err := readHello(rw)
	if err != nil {
		return nil, err
	}
	if err := checkCookie(local, remote); err != nil {
		return nil, err
	}
	return remote, nil
}

// Respond reads the initiator hello from rw and replies with local. Accept is
// called before the reply is written, so the initiator never observes a
// completed handshake that the responder has not registered yet.
// The reply is written even on cookie mismatch so that the initiator sees the
// reason for disconnect.
func Respond(rw io.ReadWriter, local *Hello, accept func(*Hello) error) (*Hello, error) {
	remote, err := readHello(rw)
	if err != nil {
		return nil, err
	}
	if err := checkCookie(local, remote); err != nil {
		writeHello(rw, local)
		return nil, err
	}
	if accept != nil {
		if err := accept(remote); err != nil {
			return nil, err
		}
	}
	if err := writeHello(rw, local); err != nil {
		return nil, err
	}
	return remote, nil
}

func checkCookie(local, remote *Hello) error {
	if !local.Cookie.Equal(remote.Cookie) {
		return fmt.Errorf("%w: %s instead of expected %s", ErrCookieMismatch, remote.Cookie, local.Cookie)
	}
	return nil
}

func writeHello(w io.Writer, h *Hello) error {
	data, err := codec.Encode(h)
	if err != nil {
		return fmt.Errorf("encode hello: %w", err)
	}
	if err := msgio.NewVarintWriter(w).WriteMsg(data); err != nil {
		return fmt.Errorf("write hello: %w", err)
	}
	return nil
}

func readHello(r io.Reader) (*Hello, error) {
	b, err := msgio.NewVarintReaderSize(r, maxHelloSize).ReadMsg()
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	var h Hello
	if err := codec.Decode(b, &h); err != nil {
		return nil, fmt.Errorf("decode hello: %w", err)
	}
	return &h, nil
}
