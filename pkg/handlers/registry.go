// Package handlers holds the process-wide table of user callbacks.
// There is one callback slot per kind, not per agent; the callback
// itself dispatches on the MessageContext it receives.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
)

// Kind names the handler slot a message is dispatched to.
type Kind string

const (
	KindOneWay       Kind = "one_way"
	KindConversation Kind = "conversation"
	KindMeeting      Kind = "meeting"
	KindSystem       Kind = "system"
	KindNotification Kind = "notification"
)

var (
	// ErrNoHandler is returned when no callback is registered for a kind.
	ErrNoHandler = errors.New("no handler registered")

	// ErrHandlerTimeout is returned when a synchronous invocation misses
	// its deadline.
	ErrHandlerTimeout = errors.New("handler timed out")

	// ErrShuttingDown is returned when new invocations are refused
	// during shutdown.
	ErrShuttingDown = errors.New("handler registry is shutting down")
)

// MessageContext carries routing information into a callback.
type MessageContext struct {
	SenderExternalID       string          `json:"sender_id"`
	ReceiverExternalID     string          `json:"receiver_id"`
	OrganizationExternalID string          `json:"organization_id"`
	Kind                   Kind            `json:"handler_kind"`
	MessageID              uuid.UUID       `json:"message_id"`
	SessionID              *uuid.UUID      `json:"session_id,omitempty"`
	MeetingID              *uuid.UUID      `json:"meeting_id,omitempty"`
	Metadata               models.Document `json:"metadata,omitempty"`
}

// Func is a user callback. For conversation handlers a non-nil return
// value is persisted as the reply; for all other kinds the return value
// is ignored.
type Func func(ctx context.Context, msg models.Document, mctx MessageContext) (models.Document, error)

// Registry is the process-wide handler table. Registration overwrites
// any prior entry for the same kind.
type Registry struct {
	mu       sync.RWMutex
	handlers map[Kind]Func
	deadline time.Duration

	wg       sync.WaitGroup
	stopMu   sync.Mutex
	stopping bool
}

// NewRegistry creates a registry. deadline bounds detached invocations
// and is the default for synchronous ones.
func NewRegistry(deadline time.Duration) *Registry {
	return &Registry{
		handlers: make(map[Kind]Func),
		deadline: deadline,
	}
}

// Register installs the callback for a kind, replacing any prior entry.
func (r *Registry) Register(kind Kind, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = fn
}

// Unregister removes the callback for a kind.
func (r *Registry) Unregister(kind Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, kind)
}

// Registered reports whether a callback exists for the kind.
func (r *Registry) Registered(kind Kind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[kind]
	return ok
}

func (r *Registry) lookup(kind Kind) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[kind]
	return fn, ok
}

// InvokeSync runs the callback for kind and waits for its result up to
// deadline (the registry default when deadline is zero). A missed
// deadline surfaces as ErrHandlerTimeout; the callback keeps running on
// its own goroutine until the deadline context stops it. Callback
// errors and panics surface to the caller.
func (r *Registry) InvokeSync(ctx context.Context, kind Kind, msg models.Document, mctx MessageContext, deadline time.Duration) (models.Document, error) {
	fn, ok := r.lookup(kind)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHandler, kind)
	}
	if deadline <= 0 {
		deadline = r.deadline
	}

	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	type result struct {
		value models.Document
		err   error
	}
	resCh := make(chan result, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resCh <- result{err: fmt.Errorf("handler panic: %v\n%s", rec, debug.Stack())}
			}
		}()
		value, err := fn(callCtx, msg, mctx)
		resCh <- result{value: value, err: err}
	}()

	select {
	case res := <-resCh:
		return res.value, res.err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s after %s", ErrHandlerTimeout, kind, deadline)
		}
		return nil, callCtx.Err()
	}
}

// InvokeDetached runs the callback for kind on a supervised background
// goroutine. Errors, timeouts, and panics are logged and swallowed; the
// task is tracked so Shutdown can await it. A missing handler is a
// no-op.
func (r *Registry) InvokeDetached(kind Kind, msg models.Document, mctx MessageContext) {
	fn, ok := r.lookup(kind)
	if !ok {
		return
	}

	r.stopMu.Lock()
	if r.stopping {
		r.stopMu.Unlock()
		slog.Debug("Dropping detached handler invocation during shutdown", "kind", kind)
		return
	}
	r.wg.Add(1)
	r.stopMu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("Detached handler panicked",
					"kind", kind, "message_id", mctx.MessageID,
					"panic", rec, "stack", string(debug.Stack()))
			}
		}()

		callCtx, cancel := context.WithTimeout(context.Background(), r.deadline)
		defer cancel()

		if _, err := fn(callCtx, msg, mctx); err != nil {
			slog.Warn("Detached handler failed",
				"kind", kind, "message_id", mctx.MessageID, "error", err)
		}
	}()
}

// Shutdown stops accepting detached invocations and waits for
// outstanding ones, bounded by ctx.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.stopMu.Lock()
	r.stopping = true
	r.stopMu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("handler shutdown: %w", ctx.Err())
	}
}
