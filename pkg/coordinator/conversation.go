package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/config"
	"github.com/parleyhq/parley/pkg/handlers"
	"github.com/parleyhq/parley/pkg/lock"
	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/store"
	"github.com/parleyhq/parley/pkg/waiter"
)

// Conversations is the unified blocking/non-blocking pairwise messaging
// engine. Blocking sends serialize on the session advisory lock plus
// the locked_agent_id column; non-blocking sends are queued writes that
// never touch the lock.
type Conversations struct {
	store    Store
	locks    Locker
	waiters  *waiter.Table
	handlers *handlers.Registry
	cfg      *config.Config
}

// NewConversations creates the conversation engine.
func NewConversations(st Store, locks Locker, waiters *waiter.Table, registry *handlers.Registry, cfg *config.Config) *Conversations {
	return &Conversations{
		store:    st,
		locks:    locks,
		waiters:  waiters,
		handlers: registry,
		cfg:      cfg,
	}
}

// sessionGuard undoes a blocking send's session acquisition: clear
// locked_agent_id, then release the advisory lock on the pinned
// connection, in that order. Release runs on every exit path and is
// idempotent.
type sessionGuard struct {
	store     Store
	sessionID uuid.UUID
	unlock    Unlocker
	released  bool
}

func (g *sessionGuard) release() {
	if g.released {
		return
	}
	g.released = true

	// The caller's context may already be canceled; the cleanup write
	// must still land or the session stays locked forever.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := g.store.SetSessionLockedAgent(ctx, g.sessionID, nil); err != nil {
		slog.Error("Failed to clear session locked agent",
			"session_id", g.sessionID, "error", err)
	}
	g.unlock.Release()
}

// acquireSession resolves the active session for the pair (creating one
// if needed), rejects sessions locked by another caller, takes the
// session advisory lock, and marks the sender as the locked party.
func (c *Conversations) acquireSession(ctx context.Context, sender, recipient *models.Agent) (*models.Session, *sessionGuard, error) {
	session, err := c.getOrCreateSession(ctx, sender, recipient)
	if err != nil {
		return nil, nil, err
	}
	if session.Status != models.SessionActive {
		return nil, nil, fmt.Errorf("%w: session %s is %s", ErrSessionState, session.ID, session.Status)
	}
	if session.LockedAgentID != nil {
		return nil, nil, fmt.Errorf("%w: session %s is locked by agent %s",
			ErrLockUnavailable, session.ID, *session.LockedAgentID)
	}

	unlock, err := c.locks.Acquire(ctx, session.ID)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, nil, fmt.Errorf("%w: session %s", ErrLockUnavailable, session.ID)
		}
		return nil, nil, persistenceErr(err)
	}

	if err := c.store.SetSessionLockedAgent(ctx, session.ID, &sender.ID); err != nil {
		unlock.Release()
		return nil, nil, persistenceErr(err)
	}

	return session, &sessionGuard{store: c.store, sessionID: session.ID, unlock: unlock}, nil
}

// getOrCreateSession returns the active session for the pair, creating
// one lazily on first contact. A create that loses a race re-reads the
// winner's row.
func (c *Conversations) getOrCreateSession(ctx context.Context, a, b *models.Agent) (*models.Session, error) {
	session, err := c.store.GetActiveSessionByPair(ctx, a.ID, b.ID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, persistenceErr(err)
	}

	session, err = c.store.CreateSession(ctx, a.ID, b.ID)
	if err == nil {
		return session, nil
	}
	if errors.Is(err, store.ErrAlreadyExists) {
		session, err = c.store.GetActiveSessionByPair(ctx, a.ID, b.ID)
		if err != nil {
			return nil, persistenceErr(err)
		}
		return session, nil
	}
	return nil, persistenceErr(err)
}

// SendAndWait is the blocking request/reply path. It persists the
// outbound message, gives the conversation handler a short synchronous
// window to reply, and otherwise parks until the counterpart message
// arrives or the caller's timeout expires. The session stays locked by
// the sender for the whole exchange.
func (c *Conversations) SendAndWait(ctx context.Context, senderExt, recipientExt string, body any, timeout time.Duration, metadata models.Document) (*models.Message, error) {
	if timeout <= 0 || timeout > config.MaxConversationTimeout {
		return nil, NewValidationError("timeout",
			fmt.Sprintf("must be in (0, %s], got %s", config.MaxConversationTimeout, timeout))
	}
	if !c.handlers.Registered(handlers.KindConversation) {
		return nil, fmt.Errorf("%w: %s", ErrNoHandlerRegistered, handlers.KindConversation)
	}

	sender, recipient, err := c.resolvePair(ctx, senderExt, recipientExt)
	if err != nil {
		return nil, err
	}

	session, guard, err := c.acquireSession(ctx, sender, recipient)
	if err != nil {
		return nil, err
	}
	defer guard.release()

	// Register before persisting the outbound message so a reply cannot
	// fire the wake before the waiter exists.
	handle, err := c.waiters.Register(session.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: session %s", ErrLockUnavailable, session.ID)
	}
	defer c.waiters.Drop(handle)

	content := canonicalDocument(body)
	sessionID := session.ID
	outbound, err := c.store.InsertMessage(ctx, &models.Message{
		SenderID:    &sender.ID,
		RecipientID: &recipient.ID,
		SessionID:   &sessionID,
		Type:        models.MessageUserDefined,
		Content:     content,
		Metadata:    metadata,
	}, false)
	if err != nil {
		return nil, persistenceErr(err)
	}

	mctx := handlers.MessageContext{
		SenderExternalID:       sender.ExternalID,
		ReceiverExternalID:     recipient.ExternalID,
		OrganizationExternalID: organizationExternalID(ctx, c.store, sender),
		Kind:                   handlers.KindConversation,
		MessageID:              outbound.ID,
		SessionID:              &sessionID,
		Metadata:               metadata,
	}

	// Fast path: a handler that replies within the short deadline
	// resolves the exchange without parking.
	reply, err := c.handlers.InvokeSync(ctx, handlers.KindConversation, content, mctx, c.cfg.FastPathDeadline)
	switch {
	case err == nil && reply != nil:
		persisted, err := c.store.InsertMessage(ctx, &models.Message{
			SenderID:    &recipient.ID,
			RecipientID: &sender.ID,
			SessionID:   &sessionID,
			Type:        models.MessageUserDefined,
			Content:     reply,
		}, true)
		if err != nil {
			return nil, persistenceErr(err)
		}
		return persisted, nil
	case err == nil:
		// Handler ran to completion and chose to reply out-of-band.
	case errors.Is(err, handlers.ErrHandlerTimeout):
		c.handlers.InvokeDetached(handlers.KindConversation, content, mctx)
	default:
		// Handler failures do not abort the wait; the detached retry
		// lets the handler reply out-of-band.
		slog.Warn("Conversation handler failed on fast path",
			"session_id", sessionID, "message_id", outbound.ID, "error", err)
		c.handlers.InvokeDetached(handlers.KindConversation, content, mctx)
	}

	// A reply may already be persisted via a side channel before the
	// fast path returned.
	if msg, err := c.takeUnread(ctx, recipient.ID, sender.ID, &sessionID); err != nil {
		return nil, err
	} else if msg != nil {
		return msg, nil
	}

	return c.awaitReply(ctx, handle, recipient.ID, sender.ID, &sessionID, timeout)
}

// awaitReply parks on the waiter handle until a counterpart message
// arrives or timeout expires. A wake with an empty slot re-queries
// unread; a wake that finds nothing goes back to waiting.
func (c *Conversations) awaitReply(ctx context.Context, handle *waiter.Handle, from, to uuid.UUID, sessionID *uuid.UUID, timeout time.Duration) (*models.Message, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	for {
		msg, err := handle.Wait(waitCtx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
			}
			return nil, err
		}
		if msg != nil {
			if err := c.store.MarkMessageRead(ctx, msg.ID); err != nil {
				return nil, persistenceErr(err)
			}
			now := time.Now()
			msg.ReadAt = &now
			return msg, nil
		}
		if msg, err := c.takeUnread(ctx, from, to, sessionID); err != nil {
			return nil, err
		} else if msg != nil {
			return msg, nil
		}
	}
}

// takeUnread pops the oldest unread message from one agent to another,
// marking it read. Returns nil when there is none.
func (c *Conversations) takeUnread(ctx context.Context, from, to uuid.UUID, sessionID *uuid.UUID) (*models.Message, error) {
	msg, err := c.store.FirstUnreadBetween(ctx, from, to, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, persistenceErr(err)
	}
	if err := c.store.MarkMessageRead(ctx, msg.ID); err != nil {
		return nil, persistenceErr(err)
	}
	now := time.Now()
	msg.ReadAt = &now
	return msg, nil
}

// SendNoWait is the non-blocking path: persist the message, dispatch
// the conversation handler detached, and wake a parked peer if one
// exists. This path never touches the session lock, so it cannot block
// on a peer's SendAndWait.
func (c *Conversations) SendNoWait(ctx context.Context, senderExt, recipientExt string, body any, metadata models.Document) (*models.Message, error) {
	sender, recipient, err := c.resolvePair(ctx, senderExt, recipientExt)
	if err != nil {
		return nil, err
	}

	session, err := c.getOrCreateSession(ctx, sender, recipient)
	if err != nil {
		return nil, err
	}
	if session.Status != models.SessionActive {
		return nil, fmt.Errorf("%w: session %s is %s", ErrSessionState, session.ID, session.Status)
	}

	content := canonicalDocument(body)
	sessionID := session.ID
	persisted, err := c.store.InsertMessage(ctx, &models.Message{
		SenderID:    &sender.ID,
		RecipientID: &recipient.ID,
		SessionID:   &sessionID,
		Type:        models.MessageUserDefined,
		Content:     content,
		Metadata:    metadata,
	}, false)
	if err != nil {
		return nil, persistenceErr(err)
	}

	mctx := handlers.MessageContext{
		SenderExternalID:       sender.ExternalID,
		ReceiverExternalID:     recipient.ExternalID,
		OrganizationExternalID: organizationExternalID(ctx, c.store, sender),
		Kind:                   handlers.KindConversation,
		MessageID:              persisted.ID,
		SessionID:              &sessionID,
		Metadata:               metadata,
	}
	c.handlers.InvokeDetached(handlers.KindConversation, content, mctx)

	if c.waiters.TryWake(session.ID, persisted) {
		return persisted, nil
	}

	// No waiter: the recipient is passive. Push a notification unless
	// it is blocked inside its own send on another session.
	locked, err := c.store.IsAgentLocked(ctx, recipient.ID)
	if err != nil {
		slog.Warn("Failed to check recipient lock state, skipping notification",
			"receiver_id", recipient.ExternalID, "error", err)
		return persisted, nil
	}
	if !locked {
		mctx.Kind = handlers.KindNotification
		c.handlers.InvokeDetached(handlers.KindNotification, content, mctx)
	}
	return persisted, nil
}

// GetOrWaitForResponse returns the oldest unread message from sender to
// receiver, waiting up to timeout for one to arrive. Returns nil when
// the wait expires with nothing queued.
func (c *Conversations) GetOrWaitForResponse(ctx context.Context, receiverExt, senderExt string, timeout time.Duration) (*models.Message, error) {
	if timeout <= 0 {
		timeout = c.cfg.DefaultConversationTimeout
	}

	receiver, sender, err := c.resolvePair(ctx, receiverExt, senderExt)
	if err != nil {
		return nil, err
	}

	if msg, err := c.takeUnread(ctx, sender.ID, receiver.ID, nil); err != nil {
		return nil, err
	} else if msg != nil {
		return msg, nil
	}

	session, err := c.getOrCreateSession(ctx, receiver, sender)
	if err != nil {
		return nil, err
	}

	handle, err := c.waiters.Register(session.ID)
	if err != nil {
		return nil, fmt.Errorf("%w: session %s", ErrLockUnavailable, session.ID)
	}
	defer c.waiters.Drop(handle)

	msg, err := c.awaitReply(ctx, handle, sender.ID, receiver.ID, nil, timeout)
	if err == nil {
		return msg, nil
	}
	if !errors.Is(err, ErrTimeout) {
		return nil, err
	}

	// Final re-check catches a SendNoWait that raced with registration.
	return c.takeUnread(ctx, sender.ID, receiver.ID, nil)
}

// EndConversation terminates the active session between two agents and
// notifies both sides with a system message. A second call observes no
// active session and fails with a session state error.
func (c *Conversations) EndConversation(ctx context.Context, aExt, bExt string) error {
	a, b, err := c.resolvePair(ctx, aExt, bExt)
	if err != nil {
		return err
	}

	session, err := c.store.GetActiveSessionByPair(ctx, a.ID, b.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: no active session between %s and %s", ErrSessionState, aExt, bExt)
		}
		return persistenceErr(err)
	}

	if err := c.store.EndSession(ctx, session.ID, time.Now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: session %s already ended", ErrSessionState, session.ID)
		}
		return persistenceErr(err)
	}

	// Release a parked peer; the re-query after wake finds nothing and
	// the caller times out promptly instead of at its full deadline.
	c.waiters.TryWake(session.ID, nil)

	content := models.Document{"type": "conversation_ended"}
	sessionID := session.ID
	orgExt := organizationExternalID(ctx, c.store, a)
	for _, dir := range []struct{ from, to *models.Agent }{{a, b}, {b, a}} {
		persisted, err := c.store.InsertMessage(ctx, &models.Message{
			SenderID:    &dir.from.ID,
			RecipientID: &dir.to.ID,
			SessionID:   &sessionID,
			Type:        models.MessageSystem,
			Content:     content,
		}, false)
		if err != nil {
			return persistenceErr(err)
		}
		c.handlers.InvokeDetached(handlers.KindConversation, content, handlers.MessageContext{
			SenderExternalID:       dir.from.ExternalID,
			ReceiverExternalID:     dir.to.ExternalID,
			OrganizationExternalID: orgExt,
			Kind:                   handlers.KindConversation,
			MessageID:              persisted.ID,
			SessionID:              &sessionID,
		})
	}

	slog.Info("Conversation ended", "session_id", session.ID, "agent_a", aExt, "agent_b", bExt)
	return nil
}

// resolvePair resolves two distinct agent external ids.
func (c *Conversations) resolvePair(ctx context.Context, firstExt, secondExt string) (*models.Agent, *models.Agent, error) {
	if firstExt == secondExt {
		return nil, nil, NewValidationError("recipient_id", "cannot converse with yourself")
	}
	first, err := resolveAgent(ctx, c.store, firstExt)
	if err != nil {
		return nil, nil, err
	}
	second, err := resolveAgent(ctx, c.store, secondExt)
	if err != nil {
		return nil, nil, err
	}
	return first, second, nil
}
