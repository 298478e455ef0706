package remote

import (
	"encoding/json"
	"sync"

	"github.com/kleeedolinux/remote.go/remote/protocol"
)

// result is what a pending slot eventually resolves to: either a wire
// response or the error that tore the connection down.
type result struct {
	status protocol.Status
	data   json.RawMessage
	err    error
}

// pendingTable correlates request ids with their waiting callers. Each
// slot is a buffered channel of capacity one, so a slot can never be
// written twice and resolution never blocks the dispatch loop.
type pendingTable struct {
	mu     sync.Mutex
	slots  map[uint64]chan result
	closed bool
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		slots: make(map[uint64]chan result),
	}
}

func (t *pendingTable) register(id uint64) (<-chan result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return nil, ErrNotConnected
	}
	if _, exists := t.slots[id]; exists {
		return nil, ErrDuplicateRequestID
	}

	ch := make(chan result, 1)
	t.slots[id] = ch
	return ch, nil
}

// resolve completes the slot for id and removes it. Returns false when
// no slot exists, which legitimately happens after a caller cancelled.
func (t *pendingTable) resolve(id uint64, res result) bool {
	t.mu.Lock()
	ch, exists := t.slots[id]
	if exists {
		delete(t.slots, id)
	}
	t.mu.Unlock()

	if !exists {
		return false
	}

	ch <- res
	return true
}

// cancel removes a slot without resolving it. The remote is not
// notified; the protocol has no cancellation primitive.
func (t *pendingTable) cancel(id uint64) {
	t.mu.Lock()
	delete(t.slots, id)
	t.mu.Unlock()
}

// failAll drains the table and resolves every outstanding slot with err.
// Called exactly once, when the connection leaves the ready state. The
// table refuses new registrations afterwards.
func (t *pendingTable) failAll(err error) {
	t.mu.Lock()
	slots := t.slots
	t.slots = make(map[uint64]chan result)
	t.closed = true
	t.mu.Unlock()

	for _, ch := range slots {
		ch <- result{err: err}
	}
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.slots)
}
