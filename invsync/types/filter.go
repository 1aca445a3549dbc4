package types

import (
	"bytes"
	"cmp"
	"encoding/hex"
	"errors"
	"fmt"
	"slices"

	"github.com/spacemeshos/go-scale"

	"github.com/overlaydex/go-overlay/hash"
	"github.com/overlaydex/go-overlay/p2p"
)

// MaxFilterEntries is the maximum number of entries in a DataFilter.
const MaxFilterEntries = 200_000

// maxCompact32Size is the longest scale encoding of a compact uint32.
const maxCompact32Size = 5

// ErrValidation is returned for filters and inventories violating size or ordering limits.
var ErrValidation = errors.New("validation failed")

// Hash32 is a content hash of a payload.
type Hash32 [hash.Size]byte

// String implements fmt.Stringer.
func (h Hash32) String() string {
	return hex.EncodeToString(h[:])
}

// ShortString returns the first 5 hex characters of the hash.
func (h Hash32) ShortString() string {
	return hex.EncodeToString(h[:3])[:5]
}

// Compare compares hashes lexicographically.
func (h Hash32) Compare(other Hash32) int {
	return bytes.Compare(h[:], other[:])
}

// FilterType identifies the reconciliation algorithm of a DataFilter/Inventory pair.
type FilterType uint8

const (
	// HashSet filters carry the full list of entries known to the requester.
	HashSet FilterType = iota + 1
	// MiniSketch filters carry a set sketch. Declared, not implemented.
	MiniSketch
)

const (
	FeatureHashSet    p2p.Feature = "INVENTORY_HASH_SET"
	FeatureMiniSketch p2p.Feature = "INVENTORY_MINI_SKETCH"
)

// String implements fmt.Stringer.
func (t FilterType) String() string {
	switch t {
	case HashSet:
		return "hash_set"
	case MiniSketch:
		return "mini_sketch"
	}
	return fmt.Sprintf("unknown(%d)", uint8(t))
}

// Feature returns the capability a peer advertises when it supports t.
func (t FilterType) Feature() p2p.Feature {
	switch t {
	case HashSet:
		return FeatureHashSet
	case MiniSketch:
		return FeatureMiniSketch
	}
	return ""
}

// FilterTypeFromFeature is the inverse of FilterType.Feature.
func FilterTypeFromFeature(f p2p.Feature) (FilterType, bool) {
	switch f {
	case FeatureHashSet:
		return HashSet, true
	case FeatureMiniSketch:
		return MiniSketch, true
	}
	return 0, false
}

// ParseFilterType parses the String representation of a FilterType.
func ParseFilterType(s string) (FilterType, error) {
	switch s {
	case "hash_set", "HASH_SET":
		return HashSet, nil
	case "mini_sketch", "MINI_SKETCH":
		return MiniSketch, nil
	}
	return 0, fmt.Errorf("unknown filter type %q", s)
}

// FilterEntry identifies one store item by content hash and sequence number.
type FilterEntry struct {
	Hash           Hash32
	SequenceNumber uint32
}

// Compare orders entries by hash, then by sequence number.
func (e FilterEntry) Compare(other FilterEntry) int {
	if c := e.Hash.Compare(other.Hash); c != 0 {
		return c
	}
	return cmp.Compare(e.SequenceNumber, other.SequenceNumber)
}

// EncodeScale implements scale.Encodable.
func (e *FilterEntry) EncodeScale(enc *scale.Encoder) (total int, err error) {
	{
		n, err := scale.EncodeByteArray(enc, e.Hash[:])
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact32(enc, e.SequenceNumber)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (e *FilterEntry) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		n, err := scale.DecodeByteArray(dec, e.Hash[:])
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
		e.SequenceNumber = field
	}
	return total, nil
}

// DataFilter describes what the requester already has.
// Entries are always sorted ascending and free of duplicates, the byte layout
// must be deterministic.
type DataFilter struct {
	Type    FilterType
	Entries []FilterEntry
}

// NewDataFilter sorts and deduplicates entries. It fails if more than
// MaxFilterEntries distinct entries remain.
func NewDataFilter(t FilterType, entries []FilterEntry) (*DataFilter, error) {
	sorted := slices.Clone(entries)
	slices.SortFunc(sorted, FilterEntry.Compare)
	sorted = slices.Compact(sorted)
	if len(sorted) > MaxFilterEntries {
		return nil, fmt.Errorf("%w: filter has %d entries, max %d",
			ErrValidation, len(sorted), MaxFilterEntries)
	}
	return &DataFilter{Type: t, Entries: sorted}, nil
}

// Len returns the number of entries.
func (f *DataFilter) Len() int {
	return len(f.Entries)
}

func (f *DataFilter) validate() error {
	if len(f.Entries) > MaxFilterEntries {
		return fmt.Errorf("%w: filter has %d entries, max %d",
			ErrValidation, len(f.Entries), MaxFilterEntries)
	}
	for i := 1; i < len(f.Entries); i++ {
		if f.Entries[i-1].Compare(f.Entries[i]) >= 0 {
			return fmt.Errorf("%w: filter entries not strictly sorted at %d", ErrValidation, i)
		}
	}
	return nil
}

// EncodeScale implements scale.Encodable.
func (f *DataFilter) EncodeScale(enc *scale.Encoder) (total int, err error) {
	if len(f.Entries) > MaxFilterEntries {
		return 0, fmt.Errorf("%w: filter has %d entries, max %d",
			ErrValidation, len(f.Entries), MaxFilterEntries)
	}
	{
		n, err := scale.EncodeCompact8(enc, uint8(f.Type))
		if err != nil {
			return total, err
		}
		total += n
	}
	{
		n, err := scale.EncodeCompact32(enc, uint32(len(f.Entries)))
		if err != nil {
			return total, err
		}
		total += n
	}
	for i := range f.Entries {
		n, err := f.Entries[i].EncodeScale(enc)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// DecodeScale implements scale.Decodable.
func (f *DataFilter) DecodeScale(dec *scale.Decoder) (total int, err error) {
	{
		field, n, err := scale.DecodeCompact8(dec)
		if err != nil {
			return total, err
		}
		total += n
		f.Type = FilterType(field)
	}
	var length uint32
	{
		field, n, err := scale.DecodeCompact32(dec)
		if err != nil {
			return total, err
		}
		total += n
		length = field
	}
	if length > MaxFilterEntries {
		return total, fmt.Errorf("%w: filter has %d entries, max %d", ErrValidation, length, MaxFilterEntries)
	}
	f.Entries = make([]FilterEntry, length)
	for i := range f.Entries {
		n, err := f.Entries[i].DecodeScale(dec)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, f.validate()
}
