package types

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/spacemeshos/go-scale"
	"go.uber.org/zap/zapcore"
)

const (
	// MaxInventoryEntries bounds the number of entries decoded from the wire.
	MaxInventoryEntries = MaxFilterEntries
	// InventoryOverhead bounds the encoded size of an Inventory besides its
	// entries: the entry count and NumDropped.
	InventoryOverhead = 2 * maxCompact32Size
)

// Inventory is the set of entries a peer is missing, as computed by the
// responder from the peer's DataFilter.
type Inventory struct {
	// Entries are sorted by their serialized bytes.
	Entries []DataRequest
	// NumDropped counts entries excluded because of the size budget.
	NumDropped uint32
}

// NewInventory sorts entries by their serialized bytes.
func NewInventory(entries []DataRequest, numDropped uint32) *Inventory {
	inv := &Inventory{Entries: entries, NumDropped: numDropped}
	SortBySerializedBytes(inv.Entries)
	return inv
}

// SortBySerializedBytes sorts requests in place by their encoded form.
func SortBySerializedBytes(requests []DataRequest) {
	encoded := make([][]byte, len(requests))
	for i := range requests {
		encoded[i] = requests[i].Bytes()
	}
	sort.Sort(&byBytes{requests: requests, encoded: encoded})
}

type byBytes struct {
	requests []DataRequest
	encoded  [][]byte
}

func (b *byBytes) Len() int { return len(b.requests) }

func (b *byBytes) Less(i, j int) bool { return bytes.Compare(b.encoded[i], b.encoded[j]) < 0 }

func (b *byBytes) Swap(i, j int) {
	b.requests[i], b.requests[j] = b.requests[j], b.requests[i]
	b.encoded[i], b.encoded[j] = b.encoded[j], b.encoded[i]
}

// MaxSizeReached is true if some entries were dropped to respect the size budget.
func (inv *Inventory) MaxSizeReached() bool {
	return inv.NumDropped > 0
}

// FinalDataDelivered is true if the responder sent everything it had for the filter.
func (inv *Inventory) FinalDataDelivered() bool {
	return !inv.MaxSizeReached()
}

// SerializedSize is the sum of the serialized sizes of the entries.
func (inv *Inventory) SerializedSize() int {
	size := 0
	for i := range inv.Entries {
		size += len(inv.Entries[i].Bytes())
	}
	return size
}

// MarshalLogObject implements zapcore.ObjectMarshaler.
func (inv *Inventory) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddInt("entries", len(inv.Entries))
	enc.AddUint32("dropped", inv.NumDropped)
	enc.AddBool("max_size_reached", inv.MaxSizeReached())
	return nil
}

// EncodeScale implements scale.Encodable.
func (inv *Inventory) EncodeScale(enc *scale.Encoder) (total int, err error) {
	if len(inv.Entries) > MaxInventoryEntries {
		return 0, fmt.Errorf("%w: inventory has %d entries, max %d",
			ErrValidation, len(inv.Entries), MaxInventoryEntries)
	}
	{
		n, err := scale.EncodeCompact32(enc, uint32(len(inv.Entries)))
		if err != nil {
			return total, err
		}
		total += n
	}
	for i := range inv.Entries {
		n, err := inv.Entries[i].EncodeScale(enc)
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact32(enc, inv.NumDropped)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (inv *Inventory) DecodeScale(dec *scale.Decoder) (total int, err error) {
	var length uint32
	{
		field, n, err := scale.DecodeCompact32(dec)
		if err != nil {
			return total, err
		}
		total += n
		length = field
	}
	if length > MaxInventoryEntries {
		return total, fmt.Errorf("%w: inventory has %d entries, max %d",
			ErrValidation, length, MaxInventoryEntries)
	}
	inv.Entries = make([]DataRequest, length)
	for i := range inv.Entries {
		n, err := inv.Entries[i].DecodeScale(dec)
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
		inv.NumDropped = field
	}
	return total, inv.validate()
}

func (inv *Inventory) validate() error {
	var prev []byte
	for i := range inv.Entries {
		cur := inv.Entries[i].Bytes()
		if i > 0 && bytes.Compare(prev, cur) >= 0 {
			return fmt.Errorf("%w: inventory entries not strictly sorted at %d", ErrValidation, i)
		}
		prev = cur
	}
	return nil
}
