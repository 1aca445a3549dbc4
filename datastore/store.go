// Package datastore persists replication events in leveldb. It keeps the
// latest event per key, including removals, so that removals propagate to
// peers through inventory reconciliation.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/overlaydex/go-overlay/codec"
	"github.com/overlaydex/go-overlay/database"
	"github.com/overlaydex/go-overlay/hash"
	"github.com/overlaydex/go-overlay/invsync/types"
)

var prefix = []byte("req/")

// ErrInvalidRequest is returned for requests that fail validation.
var ErrInvalidRequest = errors.New("invalid data request")

// Opt specifies an option for a Store.
type Opt func(*Store)

// WithLogger specifies the logger for the Store.
func WithLogger(logger *zap.Logger) Opt {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithCacheSize sets the number of keys whose sequence number is cached.
func WithCacheSize(size int) Opt {
	return func(s *Store) {
		s.cacheSize = size
	}
}

// Store keeps the latest DataRequest per key.
type Store struct {
	logger    *zap.Logger
	db        *database.LDBDatabase
	cacheSize int
	cache     seqCache

	// serializes read-compare-write of a key
	mu sync.Mutex
}

// New creates a Store on top of db.
func New(db *database.LDBDatabase, opts ...Opt) *Store {
	s := &Store{
		logger:    zap.NewNop(),
		db:        db,
		cacheSize: 10_000,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.cache = newSeqCache(s.cacheSize)
	return s
}

func dbKey(key types.Hash32) []byte {
	return append(append([]byte(nil), prefix...), key[:]...)
}

// Get returns the stored request for key, failing with database.ErrNotFound.
func (s *Store) Get(key types.Hash32) (*types.DataRequest, error) {
	data, err := s.db.Get(dbKey(key))
	if err != nil {
		return nil, err
	}
	var req types.DataRequest
	if err := codec.Decode(data, &req); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key.ShortString(), err)
	}
	return &req, nil
}

// Snapshot returns every stored request.
func (s *Store) Snapshot() ([]types.DataRequest, error) {
	var (
		rst    []types.DataRequest
		decErr error
	)
	err := s.db.Iterate(prefix, func(key, value []byte) bool {
		var req types.DataRequest
		if err := codec.Decode(value, &req); err != nil {
			decErr = fmt.Errorf("decode %x: %w", key, err)
			return false
		}
		rst = append(rst, req)
		return true
	})
	if err != nil {
		return nil, err
	}
	if decErr != nil {
		return nil, decErr
	}
	return rst, nil
}

// Count returns the number of stored keys.
func (s *Store) Count() (int, error) {
	n := 0
	err := s.db.Iterate(prefix, func(_, _ []byte) bool {
		n++
		return true
	})
	return n, err
}

func validate(req *types.DataRequest) error {
	switch req.Kind {
	case types.Add:
		if len(req.Payload) > types.MaxPayloadSize {
			return fmt.Errorf("%w: payload of %d bytes", ErrInvalidRequest, len(req.Payload))
		}
		if types.Hash32(hash.Sum(req.Payload)) != req.Key {
			return fmt.Errorf("%w: key %s does not match payload", ErrInvalidRequest, req.Key.ShortString())
		}
	case types.Remove:
		if len(req.Payload) != 0 {
			return fmt.Errorf("%w: remove request %s with payload", ErrInvalidRequest, req.Key.ShortString())
		}
	default:
		return fmt.Errorf("%w: kind %s", ErrInvalidRequest, req.Kind)
	}
	return nil
}

// ProcessAddDataRequest stores req unless a request with the same or a higher
// sequence number is already stored.
func (s *Store) ProcessAddDataRequest(ctx context.Context, req *types.DataRequest) (bool, error) {
	if req.Kind != types.Add {
		return false, fmt.Errorf("%w: expected add, got %s", ErrInvalidRequest, req.Kind)
	}
	return s.process(ctx, req)
}

// ProcessRemoveDataRequest stores the removal of req.Key unless a request
// with the same or a higher sequence number is already stored.
func (s *Store) ProcessRemoveDataRequest(ctx context.Context, req *types.DataRequest) (bool, error) {
	if req.Kind != types.Remove {
		return false, fmt.Errorf("%w: expected remove, got %s", ErrInvalidRequest, req.Kind)
	}
	return s.process(ctx, req)
}

func (s *Store) process(ctx context.Context, req *types.DataRequest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validate(req); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache.stale(req.Key, req.SequenceNumber) {
		cacheHits.Inc()
		duplicates.Inc()
		return false, nil
	}
	cur, err := s.Get(req.Key)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		return false, err
	case cur.SequenceNumber >= req.SequenceNumber:
		s.cache.Add(req.Key, cur.SequenceNumber)
		duplicates.Inc()
		return false, nil
	}
	if err := s.db.Put(dbKey(req.Key), codec.MustEncode(req)); err != nil {
		return false, err
	}
	s.cache.Add(req.Key, req.SequenceNumber)
	writes.WithLabelValues(req.Kind.String()).Inc()
	s.logger.Debug("stored data request", zap.Object("request", req))
	return true, nil
}
