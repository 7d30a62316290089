// Package lock provides PostgreSQL advisory locking for coordinator
// critical sections. Advisory locks are scoped to the connection that
// holds them, so acquire and release always run on the same pinned
// *sql.Conn; the Guard owns that connection for the whole critical
// section and returns it to the pool only after the unlock.
package lock

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotAcquired is returned when the advisory lock is already held by
// another connection.
var ErrNotAcquired = errors.New("advisory lock not acquired")

// releaseTimeout bounds the unlock statement on guard release. Release
// runs on cleanup paths whose caller context may already be cancelled,
// so it uses its own deadline.
const releaseTimeout = 5 * time.Second

// Key derives a stable 63-bit advisory lock key from an identifier:
// the first 8 bytes of the uuid, big-endian, modulo 2^63-1. A
// coincidental collision between two identifiers only serializes two
// unrelated operations briefly; it is not a correctness issue.
func Key(id uuid.UUID) int64 {
	v := binary.BigEndian.Uint64(id[0:8])
	return int64(v % uint64(math.MaxInt64))
}

// Manager acquires advisory locks on pinned connections from the pool.
type Manager struct {
	db             *sql.DB
	acquireTimeout time.Duration
}

// NewManager creates a lock manager. acquireTimeout bounds how long
// pinning a connection from the pool may take.
func NewManager(db *sql.DB, acquireTimeout time.Duration) *Manager {
	return &Manager{db: db, acquireTimeout: acquireTimeout}
}

// Acquire pins a pool connection and attempts the non-blocking advisory
// lock for id. On success the returned Guard holds both the lock and the
// pinned connection until Release. Returns ErrNotAcquired when the lock
// is held elsewhere.
func (m *Manager) Acquire(ctx context.Context, id uuid.UUID) (*Guard, error) {
	connCtx, cancel := context.WithTimeout(ctx, m.acquireTimeout)
	defer cancel()

	conn, err := m.db.Conn(connCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to pin connection: %w", err)
	}

	key := Key(id)
	var acquired bool
	if err := conn.QueryRowContext(connCtx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to try advisory lock: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, ErrNotAcquired
	}

	return &Guard{conn: conn, key: key}, nil
}

// Guard holds an acquired advisory lock and the connection it lives on.
// Release is idempotent and must run on every exit path of the critical
// section.
type Guard struct {
	conn *sql.Conn
	key  int64
	once sync.Once
}

// Conn exposes the pinned connection so the critical section can run
// statements on the same connection that holds the lock.
func (g *Guard) Conn() *sql.Conn {
	return g.conn
}

// Release unlocks the advisory lock on the pinned connection, then
// returns the connection to the pool. Uses its own deadline so cleanup
// succeeds even when the caller's context is already cancelled.
func (g *Guard) Release() {
	g.once.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()

		var released bool
		if err := g.conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", g.key).Scan(&released); err != nil {
			// Closing the connection drops every advisory lock it
			// holds, so the lock cannot leak past this point.
			slog.Error("Failed to release advisory lock, closing connection", "key", g.key, "error", err)
		} else if !released {
			slog.Warn("Advisory lock was not held at release", "key", g.key)
		}
		_ = g.conn.Close()
	})
}
