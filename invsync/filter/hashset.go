package filter

import (
	"bytes"
	"cmp"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/overlaydex/go-overlay/invsync/types"
)

// Opt configures a filter service.
type Opt func(*HashSetFilterService)

// WithLogger specifies the logger for the filter service.
func WithLogger(logger *zap.Logger) Opt {
	return func(s *HashSetFilterService) {
		s.logger = logger
	}
}

// HashSetFilterService reconciles using the full list of (hash, sequence number)
// pairs held by the requester.
type HashSetFilterService struct {
	logger  *zap.Logger
	storage StorageService
}

var _ FilterService = (*HashSetFilterService)(nil)

// NewHashSetFilterService creates a HashSetFilterService over storage.
func NewHashSetFilterService(storage StorageService, opts ...Opt) *HashSetFilterService {
	s := &HashSetFilterService{
		logger:  zap.NewNop(),
		storage: storage,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *HashSetFilterService) Type() types.FilterType {
	return types.HashSet
}

// GetFilter returns a filter with one entry per stored key. If the store holds
// more than types.MaxFilterEntries keys, only the most recently created ones are
// included.
func (s *HashSetFilterService) GetFilter() (*types.DataFilter, error) {
	snapshot, err := s.storage.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("storage snapshot: %w", err)
	}
	if len(snapshot) > types.MaxFilterEntries {
		s.logger.Debug("truncating filter",
			zap.Int("stored", len(snapshot)),
			zap.Int("max", types.MaxFilterEntries))
		slices.SortFunc(snapshot, func(a, b types.DataRequest) int {
			return cmp.Compare(b.Created, a.Created)
		})
		snapshot = snapshot[:types.MaxFilterEntries]
	}
	entries := make([]types.FilterEntry, 0, len(snapshot))
	for i := range snapshot {
		entries = append(entries, snapshot[i].FilterEntry())
	}
	return types.NewDataFilter(types.HashSet, entries)
}

type encodedRequest struct {
	request types.DataRequest
	encoded []byte
}

// CreateInventory returns the stored requests that are absent from filter or
// newer than the filter's entry for the same key. The result is sorted by the
// serialized bytes of the requests and cut off at the first request that would
// make the encoded inventory exceed maxSizeBytes.
func (s *HashSetFilterService) CreateInventory(filter *types.DataFilter, maxSizeBytes int) (*types.Inventory, error) {
	if filter.Type != types.HashSet {
		return nil, fmt.Errorf("%w: %s filter passed to %s service",
			types.ErrValidation, filter.Type, types.HashSet)
	}
	known := make(map[types.Hash32]uint32, len(filter.Entries))
	for _, e := range filter.Entries {
		if seq, exists := known[e.Hash]; !exists || seq < e.SequenceNumber {
			known[e.Hash] = e.SequenceNumber
		}
	}
	snapshot, err := s.storage.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("storage snapshot: %w", err)
	}
	var missing []encodedRequest
	for _, r := range snapshot {
		if seq, exists := known[r.Key]; exists && seq >= r.SequenceNumber {
			continue
		}
		missing = append(missing, encodedRequest{request: r, encoded: r.Bytes()})
	}
	slices.SortFunc(missing, func(a, b encodedRequest) int {
		return bytes.Compare(a.encoded, b.encoded)
	})

	inv := &types.Inventory{}
	size := types.InventoryOverhead
	for i, m := range missing {
		if size+len(m.encoded) > maxSizeBytes {
			inv.NumDropped = uint32(len(missing) - i)
			break
		}
		size += len(m.encoded)
		inv.Entries = append(inv.Entries, m.request)
	}
	s.logger.Debug("created inventory",
		zap.Int("filter", len(filter.Entries)),
		zap.Int("stored", len(snapshot)),
		zap.Int("missing", len(missing)),
		zap.Int("size", size),
		zap.Object("inventory", inv))
	return inv, nil
}
