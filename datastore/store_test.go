package datastore_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/overlaydex/go-overlay/database"
	"github.com/overlaydex/go-overlay/datastore"
	"github.com/overlaydex/go-overlay/invsync/filter"
	"github.com/overlaydex/go-overlay/invsync/reconcile"
	"github.com/overlaydex/go-overlay/invsync/types"
)

var (
	_ reconcile.DataService  = (*datastore.Store)(nil)
	_ filter.StorageService = (*datastore.Store)(nil)
)

func newStore(t *testing.T, opts ...datastore.Opt) *datastore.Store {
	db := database.NewMemDatabase()
	t.Cleanup(func() { db.Close() })
	opts = append([]datastore.Opt{datastore.WithLogger(zaptest.NewLogger(t))}, opts...)
	return datastore.New(db, opts...)
}

func TestStoreAdd(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	req := types.NewAddRequest(types.Authenticated, 1, []byte("payload"), 1)

	changed, err := s.ProcessAddDataRequest(ctx, &req)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = s.ProcessAddDataRequest(ctx, &req)
	require.NoError(t, err)
	require.False(t, changed, "duplicates are absorbed")

	got, err := s.Get(req.Key)
	require.NoError(t, err)
	require.Equal(t, req, *got)

	newer := req
	newer.SequenceNumber = 2
	changed, err = s.ProcessAddDataRequest(ctx, &newer)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = s.ProcessAddDataRequest(ctx, &req)
	require.NoError(t, err)
	require.False(t, changed, "older sequence number")
}

func TestStoreRemove(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	add := types.NewAddRequest(types.Mailbox, 1, []byte("payload"), 1)
	remove := types.NewRemoveRequest(types.Mailbox, add.Key, 2, 2)

	changed, err := s.ProcessRemoveDataRequest(ctx, &remove)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = s.ProcessAddDataRequest(ctx, &add)
	require.NoError(t, err)
	require.False(t, changed, "removed with a higher sequence number")

	got, err := s.Get(add.Key)
	require.NoError(t, err)
	require.Equal(t, types.Remove, got.Kind)
}

func TestStoreValidation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	add := types.NewAddRequest(types.Authenticated, 1, []byte("payload"), 1)
	_, err := s.ProcessRemoveDataRequest(ctx, &add)
	require.ErrorIs(t, err, datastore.ErrInvalidRequest)

	tampered := add
	tampered.Payload = []byte("other")
	_, err = s.ProcessAddDataRequest(ctx, &tampered)
	require.ErrorIs(t, err, datastore.ErrInvalidRequest)

	remove := types.NewRemoveRequest(types.Authenticated, add.Key, 2, 2)
	remove.Payload = []byte("x")
	_, err = s.ProcessRemoveDataRequest(ctx, &remove)
	require.ErrorIs(t, err, datastore.ErrInvalidRequest)

	n, err := s.Count()
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestStoreSnapshotAcrossCacheEviction(t *testing.T) {
	s := newStore(t, datastore.WithCacheSize(2))
	ctx := context.Background()
	var reqs []types.DataRequest
	for i := range 10 {
		req := types.NewAddRequest(types.AppendOnly, 1, []byte(fmt.Sprintf("item-%d", i)), int64(i))
		reqs = append(reqs, req)
		changed, err := s.ProcessAddDataRequest(ctx, &req)
		require.NoError(t, err)
		require.True(t, changed)
	}
	for i := range reqs {
		changed, err := s.ProcessAddDataRequest(ctx, &reqs[i])
		require.NoError(t, err)
		require.False(t, changed)
	}

	snapshot, err := s.Snapshot()
	require.NoError(t, err)
	require.ElementsMatch(t, reqs, snapshot)
}
