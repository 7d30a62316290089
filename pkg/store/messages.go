package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
)

const messageColumns = "id, sender_id, recipient_id, session_id, meeting_id, message_type, content, metadata, read_at, created_at"

// InsertMessage persists a message and returns the row with the
// store-assigned creation timestamp. When markRead is set the message
// is born read (used for fast-path replies delivered synchronously).
func (s *Store) InsertMessage(ctx context.Context, msg *models.Message, markRead bool) (*models.Message, error) {
	content, err := marshalDoc(msg.Content)
	if err != nil {
		return nil, err
	}
	metadata, err := marshalDoc(msg.Metadata)
	if err != nil {
		return nil, err
	}

	id := msg.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	var readAt sql.NullTime
	if markRead {
		readAt = sql.NullTime{Time: time.Now(), Valid: true}
	}

	row := s.db.QueryRowContext(ctx,
		`INSERT INTO messages (id, sender_id, recipient_id, session_id, meeting_id, message_type, content, metadata, read_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING `+messageColumns,
		id, nullUUID(msg.SenderID), nullUUID(msg.RecipientID),
		nullUUID(msg.SessionID), nullUUID(msg.MeetingID),
		msg.Type, content, metadata, readAt,
	)
	persisted, err := scanMessageRow(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}
	return persisted, nil
}

// FirstUnreadBetween returns the oldest unread conversation message from
// one agent to another, optionally restricted to one session. Returns
// ErrNotFound when there is none.
func (s *Store) FirstUnreadBetween(ctx context.Context, from, to uuid.UUID, sessionID *uuid.UUID) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE sender_id = $1 AND recipient_id = $2
		   AND session_id IS NOT NULL
		   AND ($3::uuid IS NULL OR session_id = $3)
		   AND read_at IS NULL
		 ORDER BY created_at
		 LIMIT 1`,
		from, to, nullUUID(sessionID),
	)
	msg, err := scanMessageRow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query unread message: %w", err)
	}
	return msg, nil
}

// ListUnreadForRecipient returns all unread messages addressed to an
// agent (one-way and conversation), oldest first.
func (s *Store) ListUnreadForRecipient(ctx context.Context, recipient uuid.UUID) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE recipient_id = $1 AND read_at IS NULL
		 ORDER BY created_at`,
		recipient,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list unread messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// MarkMessageRead stamps read_at on a message if not already read.
func (s *Store) MarkMessageRead(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET read_at = now() WHERE id = $1 AND read_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	return nil
}

// ListSessionMessages returns a session's messages in canonical replay
// order (created_at ascending).
func (s *Store) ListSessionMessages(ctx context.Context, sessionID uuid.UUID) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE session_id = $1
		 ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list session messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListMeetingMessages returns a meeting's messages in canonical replay
// order.
func (s *Store) ListMeetingMessages(ctx context.Context, meetingID uuid.UUID) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE meeting_id = $1
		 ORDER BY created_at`,
		meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list meeting messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListMeetingMessagesSince returns a meeting's messages created at or
// after the given instant, in replay order. Used by wait-for-turn
// callers to observe what was posted while they were parked.
func (s *Store) ListMeetingMessagesSince(ctx context.Context, meetingID uuid.UUID, since time.Time) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE meeting_id = $1 AND created_at >= $2
		 ORDER BY created_at`,
		meetingID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list meeting messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// SearchMessages performs full-text search over message content,
// newest first. Backed by the GIN index on to_tsvector(content).
func (s *Store) SearchMessages(ctx context.Context, query string, limit int) ([]*models.Message, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages
		 WHERE to_tsvector('english', content::text) @@ plainto_tsquery($1)
		 ORDER BY created_at DESC
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(sc rowScanner) (*models.Message, error) {
	var (
		m         models.Message
		sender    uuid.NullUUID
		recipient uuid.NullUUID
		session   uuid.NullUUID
		meeting   uuid.NullUUID
		content   []byte
		metadata  []byte
		readAt    sql.NullTime
	)
	err := sc.Scan(&m.ID, &sender, &recipient, &session, &meeting,
		&m.Type, &content, &metadata, &readAt, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.SenderID = fromNullUUID(sender)
	m.RecipientID = fromNullUUID(recipient)
	m.SessionID = fromNullUUID(session)
	m.MeetingID = fromNullUUID(meeting)
	if readAt.Valid {
		m.ReadAt = &readAt.Time
	}
	if m.Content, err = unmarshalDoc(content); err != nil {
		return nil, err
	}
	if m.Metadata, err = unmarshalDoc(metadata); err != nil {
		return nil, err
	}
	return &m, nil
}

func scanMessageRow(row *sql.Row) (*models.Message, error) {
	return scanMessage(row)
}

func scanMessages(rows *sql.Rows) ([]*models.Message, error) {
	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
