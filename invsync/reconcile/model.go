package reconcile

import (
	"sync"
	"sync/atomic"
)

// RequestModel tracks the state shared by the request policy and service.
// Counters are atomics so that completion callbacks do not serialize on a lock.
type RequestModel struct {
	pending          atomic.Int32
	completed        atomic.Int32
	initialCompleted atomic.Bool

	mu           sync.Mutex
	pendingConns map[string]struct{}
	ignored      map[string]struct{}
}

func NewRequestModel() *RequestModel {
	return &RequestModel{
		pendingConns: make(map[string]struct{}),
		ignored:      make(map[string]struct{}),
	}
}

// TryAcquire admits a request on the connection if fewer than limit requests
// are in flight and the connection has none pending.
func (m *RequestModel) TryAcquire(connID string, limit int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(m.pending.Load()) >= limit {
		return false
	}
	if _, exists := m.pendingConns[connID]; exists {
		return false
	}
	m.pendingConns[connID] = struct{}{}
	pendingRequests.Set(float64(m.pending.Add(1)))
	return true
}

// Release returns the slot taken by TryAcquire. Releasing a connection
// without a pending request is a no-op.
func (m *RequestModel) Release(connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.pendingConns[connID]; !exists {
		return
	}
	delete(m.pendingConns, connID)
	pendingRequests.Set(float64(m.pending.Add(-1)))
}

// NumPending is the number of requests in flight.
func (m *RequestModel) NumPending() int {
	return int(m.pending.Load())
}

// HasPending reports whether a request is in flight on the connection.
func (m *RequestModel) HasPending(connID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.pendingConns[connID]
	return exists
}

// Ignore excludes the peer from future candidate selection.
func (m *RequestModel) Ignore(addr string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ignored[addr] = struct{}{}
}

func (m *RequestModel) IsIgnored(addr string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.ignored[addr]
	return exists
}

// IncCompleted counts a peer that delivered its final data and returns the new count.
func (m *RequestModel) IncCompleted() int {
	return int(m.completed.Add(1))
}

func (m *RequestModel) NumCompleted() int {
	return int(m.completed.Load())
}

// MarkInitialCompleted sets the initial-completed flag. It returns true only
// for the call that flipped it.
func (m *RequestModel) MarkInitialCompleted() bool {
	return m.initialCompleted.CompareAndSwap(false, true)
}

func (m *RequestModel) InitialCompleted() bool {
	return m.initialCompleted.Load()
}

// Reset clears the completion state and the ignore set.
// Pending requests are left to be released by their owners.
func (m *RequestModel) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed.Store(0)
	m.initialCompleted.Store(false)
	clear(m.ignored)
}
