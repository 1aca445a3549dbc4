package filter_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/overlaydex/go-overlay/codec"
	"github.com/overlaydex/go-overlay/invsync/filter"
	"github.com/overlaydex/go-overlay/invsync/types"
)

type storage []types.DataRequest

func (s storage) Snapshot() ([]types.DataRequest, error) {
	return append([]types.DataRequest(nil), s...), nil
}

func genRequests(n int) storage {
	rst := make(storage, n)
	for i := range rst {
		rst[i] = types.NewAddRequest(types.Authenticated, 1, []byte(fmt.Sprintf("item-%03d", i)), int64(i))
	}
	return rst
}

func keys(reqs []types.DataRequest) []types.Hash32 {
	rst := make([]types.Hash32, 0, len(reqs))
	for _, r := range reqs {
		rst = append(rst, r.Key)
	}
	return rst
}

func filterOf(t *testing.T, reqs []types.DataRequest) *types.DataFilter {
	svc := filter.NewHashSetFilterService(storage(reqs))
	f, err := svc.GetFilter()
	require.NoError(t, err)
	return f
}

func TestHashSetGetFilter(t *testing.T) {
	local := genRequests(20)
	f := filterOf(t, local)
	require.Equal(t, types.HashSet, f.Type)
	require.Equal(t, 20, f.Len())

	empty := filterOf(t, nil)
	require.Zero(t, empty.Len())
}

func TestHashSetCreateInventory(t *testing.T) {
	local := genRequests(30)
	svc := filter.NewHashSetFilterService(local, filter.WithLogger(zaptest.NewLogger(t)))
	for _, tc := range []struct {
		desc    string
		peer    []types.DataRequest
		missing []types.DataRequest
	}{
		{
			desc:    "empty filter",
			peer:    nil,
			missing: local,
		},
		{
			desc:    "subset",
			peer:    local[:10],
			missing: local[10:],
		},
		{
			desc:    "same",
			peer:    local,
			missing: nil,
		},
		{
			desc:    "disjoint",
			peer:    genRequests(40)[30:],
			missing: local,
		},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			inv, err := svc.CreateInventory(filterOf(t, tc.peer), 1<<20)
			require.NoError(t, err)
			require.ElementsMatch(t, keys(tc.missing), keys(inv.Entries))
			require.Zero(t, inv.NumDropped)
			require.True(t, inv.FinalDataDelivered())
		})
	}
}

func TestHashSetNewerSequenceNumber(t *testing.T) {
	local := genRequests(3)
	peer := append(storage(nil), local...)
	local[1].SequenceNumber = 5
	removed := types.NewRemoveRequest(types.Authenticated, local[2].Key, 2, 10)
	local[2] = removed

	svc := filter.NewHashSetFilterService(local)
	inv, err := svc.CreateInventory(filterOf(t, peer), 1<<20)
	require.NoError(t, err)
	require.ElementsMatch(t, []types.Hash32{local[1].Key, local[2].Key}, keys(inv.Entries))

	// peer already has a newer version
	peer[0].SequenceNumber = 9
	inv, err = filter.NewHashSetFilterService(local[:1]).CreateInventory(filterOf(t, peer), 1<<20)
	require.NoError(t, err)
	require.Empty(t, inv.Entries)
}

func TestHashSetTruncation(t *testing.T) {
	local := genRequests(50)
	size := len(local[0].Bytes())
	svc := filter.NewHashSetFilterService(local)

	inv, err := svc.CreateInventory(filterOf(t, local[:10]), 15*size+size/2)
	require.NoError(t, err)
	require.Len(t, inv.Entries, 15)
	require.Equal(t, uint32(40-15), inv.NumDropped)
	require.True(t, inv.MaxSizeReached())
	require.False(t, inv.FinalDataDelivered())
	require.LessOrEqual(t, inv.SerializedSize(), 15*size+size/2)
	require.LessOrEqual(t, len(codec.MustEncode(inv)), 15*size+size/2)

	again, err := svc.CreateInventory(filterOf(t, local[:10]), 15*size+size/2)
	require.NoError(t, err)
	require.Equal(t, keys(inv.Entries), keys(again.Entries))

	none, err := svc.CreateInventory(filterOf(t, local[:10]), 0)
	require.NoError(t, err)
	require.Empty(t, none.Entries)
	require.Equal(t, uint32(40), none.NumDropped)
}

func TestHashSetRejectsOtherFilterType(t *testing.T) {
	svc := filter.NewHashSetFilterService(genRequests(1))
	_, err := svc.CreateInventory(&types.DataFilter{Type: types.MiniSketch}, 1024)
	require.ErrorIs(t, err, types.ErrValidation)
}

func TestHashSetBudgetCoversEncoding(t *testing.T) {
	local := genRequests(5)
	size := len(local[0].Bytes())
	svc := filter.NewHashSetFilterService(local)

	// room for every entry but not for the inventory's own prefixes
	inv, err := svc.CreateInventory(filterOf(t, nil), 5*size)
	require.NoError(t, err)
	require.Len(t, inv.Entries, 4)
	require.Equal(t, uint32(1), inv.NumDropped)
	require.LessOrEqual(t, len(codec.MustEncode(inv)), 5*size)

	inv, err = svc.CreateInventory(filterOf(t, nil), 5*size+types.InventoryOverhead)
	require.NoError(t, err)
	require.Len(t, inv.Entries, 5)
	require.LessOrEqual(t, len(codec.MustEncode(inv)), 5*size+types.InventoryOverhead)
}
