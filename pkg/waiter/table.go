// Package waiter tracks callers parked on a session awaiting a
// counterpart message. The table holds at most one waiter per session;
// duplicate registration is rejected.
package waiter

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
)

// ErrAlreadyWaiting is returned when a waiter is already registered for
// the session.
var ErrAlreadyWaiting = errors.New("a waiter is already registered for this session")

// Handle is one registered waiter. The caller must Drop it on every
// exit path; a handle left in the table is a leak.
type Handle struct {
	sessionID uuid.UUID
	// Buffered one-shot: TryWake delivers at most one value (possibly
	// nil) and never blocks the producer.
	ch chan *models.Message
}

// SessionID returns the session this handle is parked on.
func (h *Handle) SessionID() uuid.UUID {
	return h.sessionID
}

// Wait blocks until the waiter is woken or ctx expires. The returned
// message is the producer's parked response, which may be nil; the
// caller then re-queries the store.
func (h *Handle) Wait(ctx context.Context) (*models.Message, error) {
	select {
	case msg := <-h.ch:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Table maps session ids to parked waiters.
type Table struct {
	mu      sync.Mutex
	waiters map[uuid.UUID]*Handle
}

// NewTable creates an empty waiter table.
func NewTable() *Table {
	return &Table{waiters: make(map[uuid.UUID]*Handle)}
}

// Register parks a new waiter under the session id. Callers register
// BEFORE persisting their outbound message so a reply cannot fire the
// wake before the waiter exists.
func (t *Table) Register(sessionID uuid.UUID) (*Handle, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.waiters[sessionID]; exists {
		return nil, ErrAlreadyWaiting
	}
	h := &Handle{sessionID: sessionID, ch: make(chan *models.Message, 1)}
	t.waiters[sessionID] = h
	return h, nil
}

// TryWake wakes the waiter parked on the session, handing it msg as an
// optional fast-path response (nil is a bare wake). Reports whether a
// waiter was woken. Non-blocking: a waiter already signalled absorbs
// nothing further.
func (t *Table) TryWake(sessionID uuid.UUID, msg *models.Message) bool {
	t.mu.Lock()
	h, ok := t.waiters[sessionID]
	t.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case h.ch <- msg:
	default:
		// Already signalled; the pending wake covers this message too,
		// the waiter re-queries unread on wake.
	}
	return true
}

// Drop removes the handle from the table. Idempotent; removing a
// handle that was replaced by a newer registration is a no-op.
func (t *Table) Drop(h *Handle) {
	if h == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.waiters[h.sessionID]; ok && cur == h {
		delete(t.waiters, h.sessionID)
	}
}

// Len returns the number of parked waiters (health reporting).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}
