package types

import (
	"fmt"

	"github.com/spacemeshos/go-scale"
	"go.uber.org/zap/zapcore"

	"github.com/overlaydex/go-overlay/codec"
	"github.com/overlaydex/go-overlay/hash"
)

// MaxPayloadSize limits the payload of a single DataRequest.
const MaxPayloadSize = 1 << 20

// RequestKind is the replication event of a DataRequest.
type RequestKind uint8

const (
	Add RequestKind = iota + 1
	Remove
)

func (k RequestKind) String() string {
	switch k {
	case Add:
		return "add"
	case Remove:
		return "remove"
	}
	return fmt.Sprintf("unknown(%d)", uint8(k))
}

// Category is the store a DataRequest belongs to.
type Category uint8

const (
	Authenticated Category = iota + 1
	Mailbox
	AppendOnly
)

func (c Category) String() string {
	switch c {
	case Authenticated:
		return "authenticated"
	case Mailbox:
		return "mailbox"
	case AppendOnly:
		return "append_only"
	}
	return fmt.Sprintf("unknown(%d)", uint8(c))
}

// ParseCategory is the inverse of Category.String.
func ParseCategory(s string) (Category, error) {
	for _, c := range []Category{Authenticated, Mailbox, AppendOnly} {
		if c.String() == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown category %q", ErrValidation, s)
}

// DataRequest is a replication event for one item of the distributed store.
// Key is the content hash of the payload the request refers to. Remove
// requests carry no payload.
type DataRequest struct {
	Kind           RequestKind
	Category       Category
	Key            Hash32
	SequenceNumber uint32
	Payload        []byte
	// Created is the creation time in unix milliseconds.
	Created int64
}

// NewAddRequest creates an Add request keyed by the hash of the payload.
func NewAddRequest(category Category, seq uint32, payload []byte, created int64) DataRequest {
	return DataRequest{
		Kind:           Add,
		Category:       category,
		Key:            hash.Sum(payload),
		SequenceNumber: seq,
		Payload:        payload,
		Created:        created,
	}
}

// NewRemoveRequest creates a Remove request for the item with the given key.
func NewRemoveRequest(category Category, key Hash32, seq uint32, created int64) DataRequest {
	return DataRequest{
		Kind:           Remove,
		Category:       category,
		Key:            key,
		SequenceNumber: seq,
		Created:        created,
	}
}

// FilterEntry returns the entry describing this request in a DataFilter.
func (r *DataRequest) FilterEntry() FilterEntry {
	return FilterEntry{Hash: r.Key, SequenceNumber: r.SequenceNumber}
}

// Bytes returns the deterministic serialized form of the request.
func (r *DataRequest) Bytes() []byte {
	return codec.MustEncode(r)
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (r *DataRequest) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("kind", r.Kind.String())
	enc.AddString("category", r.Category.String())
	enc.AddString("key", r.Key.ShortString())
	enc.AddUint32("seq", r.SequenceNumber)
	enc.AddInt("payload", len(r.Payload))
	return nil
}

// EncodeScale implements scale.Encodable.
func (r *DataRequest) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeCompact8(enc, uint8(r.Kind))
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact8(enc, uint8(r.Category))
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteArray(enc, r.Key[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact32(enc, r.SequenceNumber)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeByteSliceWithLimit(enc, r.Payload, MaxPayloadSize)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact64(enc, uint64(r.Created))
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (r *DataRequest) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeCompact8(dec)
		if err != nil {
			return total, err
		}
		total += n
		r.Kind = RequestKind(field)
	}
	{
		field, n, err := scale.DecodeCompact8(dec)
		if err != nil {
			return total, err
		}
		total += n
		r.Category = Category(field)
	}
	{
		n, err := scale.DecodeByteArray(dec, r.Key[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		field, n, err := scale.DecodeCompact32(dec)
		if err != nil {
			return total, err
		}
		total += n
		r.SequenceNumber = field
	}
	{
		field, n, err := scale.DecodeByteSliceWithLimit(dec, MaxPayloadSize)
		if err != nil {
			return total, err
		}
		total += n
		r.Payload = field
	}
	{
		field, n, err := scale.DecodeCompact64(dec)
		if err != nil {
			return total, err
		}
		total += n
		r.Created = int64(field)
	}
	return total, nil
}
