package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
)

// InsertMeetingEvent appends one row to the meeting audit log. Written
// alongside the corresponding state change; consumed read-only by
// analytics.
func (s *Store) InsertMeetingEvent(ctx context.Context, meetingID uuid.UUID, eventType string, agentID *uuid.UUID, data models.Document) error {
	raw, err := marshalDoc(data)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO meeting_events (id, meeting_id, event_type, agent_id, data)
		 VALUES ($1, $2, $3, $4, $5)`,
		uuid.New(), meetingID, eventType, nullUUID(agentID), raw,
	)
	if err != nil {
		return fmt.Errorf("failed to insert meeting event: %w", err)
	}
	return nil
}

// ListMeetingEvents returns the audit log of a meeting in append order.
func (s *Store) ListMeetingEvents(ctx context.Context, meetingID uuid.UUID) ([]*models.MeetingEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, meeting_id, event_type, agent_id, data, created_at
		 FROM meeting_events
		 WHERE meeting_id = $1
		 ORDER BY created_at`,
		meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list meeting events: %w", err)
	}
	defer rows.Close()

	var events []*models.MeetingEvent
	for rows.Next() {
		var (
			e     models.MeetingEvent
			agent uuid.NullUUID
			data  []byte
		)
		if err := rows.Scan(&e.ID, &e.MeetingID, &e.EventType, &agent, &data, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan meeting event: %w", err)
		}
		e.AgentID = fromNullUUID(agent)
		if e.Data, err = unmarshalDoc(data); err != nil {
			return nil, err
		}
		events = append(events, &e)
	}
	return events, rows.Err()
}
