package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/store"
)

// History is the read side: unread retrieval, transcripts, the meeting
// audit log, and full-text search over message content.
type History struct {
	store Store
}

// NewHistory creates the history reader.
func NewHistory(st Store) *History {
	return &History{store: st}
}

// GetUnreadMessages drains the unread queue of an agent, oldest first,
// marking each returned message read. A second call returns nothing.
func (h *History) GetUnreadMessages(ctx context.Context, agentExt string) ([]*models.Message, error) {
	agent, err := resolveAgent(ctx, h.store, agentExt)
	if err != nil {
		return nil, err
	}

	unread, err := h.store.ListUnreadForRecipient(ctx, agent.ID)
	if err != nil {
		return nil, persistenceErr(err)
	}
	for _, msg := range unread {
		if err := h.store.MarkMessageRead(ctx, msg.ID); err != nil {
			return nil, persistenceErr(err)
		}
	}
	return unread, nil
}

// GetConversationTranscript returns the messages of the active session
// between two agents in replay order.
func (h *History) GetConversationTranscript(ctx context.Context, aExt, bExt string) ([]*models.Message, error) {
	a, err := resolveAgent(ctx, h.store, aExt)
	if err != nil {
		return nil, err
	}
	b, err := resolveAgent(ctx, h.store, bExt)
	if err != nil {
		return nil, err
	}

	session, err := h.store.GetActiveSessionByPair(ctx, a.ID, b.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: no active session between %s and %s", ErrSessionState, aExt, bExt)
		}
		return nil, persistenceErr(err)
	}

	messages, err := h.store.ListSessionMessages(ctx, session.ID)
	if err != nil {
		return nil, persistenceErr(err)
	}
	return messages, nil
}

// GetMeetingTranscript returns a meeting's messages in replay order.
func (h *History) GetMeetingTranscript(ctx context.Context, meetingID uuid.UUID) ([]*models.Message, error) {
	if _, err := h.store.GetMeeting(ctx, meetingID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMeetingNotFound, meetingID)
		}
		return nil, persistenceErr(err)
	}
	messages, err := h.store.ListMeetingMessages(ctx, meetingID)
	if err != nil {
		return nil, persistenceErr(err)
	}
	return messages, nil
}

// GetMeetingEvents returns a meeting's audit log in append order.
func (h *History) GetMeetingEvents(ctx context.Context, meetingID uuid.UUID) ([]*models.MeetingEvent, error) {
	if _, err := h.store.GetMeeting(ctx, meetingID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrMeetingNotFound, meetingID)
		}
		return nil, persistenceErr(err)
	}
	evts, err := h.store.ListMeetingEvents(ctx, meetingID)
	if err != nil {
		return nil, persistenceErr(err)
	}
	return evts, nil
}

// SearchMessages runs a full-text query over message content, newest
// first.
func (h *History) SearchMessages(ctx context.Context, query string, limit int) ([]*models.Message, error) {
	if strings.TrimSpace(query) == "" {
		return nil, NewValidationError("query", "must not be empty")
	}
	messages, err := h.store.SearchMessages(ctx, query, limit)
	if err != nil {
		return nil, persistenceErr(err)
	}
	return messages, nil
}
