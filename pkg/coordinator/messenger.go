package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/handlers"
	"github.com/parleyhq/parley/pkg/models"
)

// Messenger implements fire-and-forget one-way delivery.
type Messenger struct {
	store    Store
	handlers *handlers.Registry
}

// NewMessenger creates a messenger over the store and handler registry.
func NewMessenger(st Store, registry *handlers.Registry) *Messenger {
	return &Messenger{store: st, handlers: registry}
}

// Send persists one message per recipient and dispatches the one_way
// handler detached for each. Recipients that are not currently the
// locked party of any session additionally get a detached notification
// dispatch. Returns the persisted message ids in recipient order.
//
// A missing one_way handler fails before anything is persisted, so the
// sender gets synchronous feedback.
func (m *Messenger) Send(ctx context.Context, senderExt string, recipientExts []string, body any, metadata models.Document) ([]uuid.UUID, error) {
	if len(recipientExts) == 0 {
		return nil, NewValidationError("recipients", "must not be empty")
	}

	sender, err := resolveAgent(ctx, m.store, senderExt)
	if err != nil {
		return nil, err
	}

	recipients := make([]*models.Agent, 0, len(recipientExts))
	for _, ext := range recipientExts {
		if ext == senderExt {
			return nil, NewValidationError("recipients", "cannot send a message to yourself")
		}
		recipient, err := resolveAgent(ctx, m.store, ext)
		if err != nil {
			return nil, err
		}
		recipients = append(recipients, recipient)
	}

	if !m.handlers.Registered(handlers.KindOneWay) {
		return nil, fmt.Errorf("%w: %s", ErrNoHandlerRegistered, handlers.KindOneWay)
	}

	content := canonicalDocument(body)
	orgExt := organizationExternalID(ctx, m.store, sender)

	ids := make([]uuid.UUID, 0, len(recipients))
	for _, recipient := range recipients {
		recipientID := recipient.ID
		senderID := sender.ID
		persisted, err := m.store.InsertMessage(ctx, &models.Message{
			SenderID:    &senderID,
			RecipientID: &recipientID,
			Type:        models.MessageUserDefined,
			Content:     content,
			Metadata:    metadata,
		}, false)
		if err != nil {
			return ids, persistenceErr(err)
		}
		ids = append(ids, persisted.ID)

		mctx := handlers.MessageContext{
			SenderExternalID:       sender.ExternalID,
			ReceiverExternalID:     recipient.ExternalID,
			OrganizationExternalID: orgExt,
			Kind:                   handlers.KindOneWay,
			MessageID:              persisted.ID,
			Metadata:               metadata,
		}
		m.handlers.InvokeDetached(handlers.KindOneWay, content, mctx)
		m.notifyIfIdle(ctx, recipient, content, mctx)
	}

	slog.Info("One-way message sent",
		"sender_id", sender.ExternalID, "recipients", len(recipients))
	return ids, nil
}

// notifyIfIdle fires the notification handler for a recipient unless it
// is currently the locked party of a session. An agent blocked inside
// its own send already has a wake pending; pushing a notification on
// top would double-signal it.
func (m *Messenger) notifyIfIdle(ctx context.Context, recipient *models.Agent, content models.Document, mctx handlers.MessageContext) {
	locked, err := m.store.IsAgentLocked(ctx, recipient.ID)
	if err != nil {
		slog.Warn("Failed to check recipient lock state, skipping notification",
			"receiver_id", recipient.ExternalID, "error", err)
		return
	}
	if locked {
		return
	}
	mctx.Kind = handlers.KindNotification
	m.handlers.InvokeDetached(handlers.KindNotification, content, mctx)
}

// canonicalDocument normalizes an arbitrary message body into the
// opaque document persisted in the content column. Key/value bodies
// are stored as-is so they round-trip bit-identically; atomic values
// are wrapped as {"data": <stringified>}.
func canonicalDocument(body any) models.Document {
	switch v := body.(type) {
	case nil:
		return models.Document{}
	case models.Document:
		return v
	case map[string]any:
		return models.Document(v)
	default:
		return models.Document{"data": fmt.Sprint(v)}
	}
}
