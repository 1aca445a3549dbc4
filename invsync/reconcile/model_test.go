package reconcile

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestModelAdmission(t *testing.T) {
	m := NewRequestModel()
	require.True(t, m.TryAcquire("a", 2))
	require.False(t, m.TryAcquire("a", 2), "one request per connection")
	require.True(t, m.TryAcquire("b", 2))
	require.False(t, m.TryAcquire("c", 2), "cap reached")
	require.Equal(t, 2, m.NumPending())
	require.True(t, m.HasPending("a"))

	m.Release("a")
	m.Release("a")
	require.Equal(t, 1, m.NumPending())
	require.False(t, m.HasPending("a"))
	require.True(t, m.TryAcquire("c", 2))
}

func TestRequestModelConcurrencyCap(t *testing.T) {
	const (
		limit   = 5
		workers = 64
		rounds  = 200
	)
	m := NewRequestModel()
	var (
		inflight, peak atomic.Int32
		wg             sync.WaitGroup
	)
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("conn-%d", w)
			for range rounds {
				if !m.TryAcquire(id, limit) {
					continue
				}
				n := inflight.Add(1)
				for {
					cur := peak.Load()
					if n <= cur || peak.CompareAndSwap(cur, n) {
						break
					}
				}
				inflight.Add(-1)
				m.Release(id)
			}
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, int(peak.Load()), limit)
	require.Zero(t, m.NumPending())
}

func TestRequestModelReset(t *testing.T) {
	m := NewRequestModel()
	m.Ignore("a")
	require.Equal(t, 1, m.IncCompleted())
	require.True(t, m.MarkInitialCompleted())
	require.False(t, m.MarkInitialCompleted())
	require.True(t, m.TryAcquire("x", 1))

	m.Reset()
	require.False(t, m.IsIgnored("a"))
	require.Zero(t, m.NumCompleted())
	require.False(t, m.InitialCompleted())
	require.Equal(t, 1, m.NumPending(), "pending requests survive a reset")
}
