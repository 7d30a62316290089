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

const participantColumns = "id, meeting_id, agent_id, status, join_order, is_locked, joined_at, left_at"

// GetParticipant returns the membership record of an agent in a meeting.
func (s *Store) GetParticipant(ctx context.Context, meetingID, agentID uuid.UUID) (*models.MeetingParticipant, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+participantColumns+`
		 FROM meeting_participants
		 WHERE meeting_id = $1 AND agent_id = $2`,
		meetingID, agentID,
	)
	p, err := scanParticipant(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get participant: %w", err)
	}
	return p, nil
}

// ListParticipants returns all participants of a meeting sorted by
// join_order, the round-robin speaking order.
func (s *Store) ListParticipants(ctx context.Context, meetingID uuid.UUID) ([]*models.MeetingParticipant, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+participantColumns+`
		 FROM meeting_participants
		 WHERE meeting_id = $1
		 ORDER BY join_order`,
		meetingID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	defer rows.Close()

	var participants []*models.MeetingParticipant
	for rows.Next() {
		var (
			p      models.MeetingParticipant
			joined sql.NullTime
			left   sql.NullTime
		)
		if err := rows.Scan(&p.ID, &p.MeetingID, &p.AgentID, &p.Status,
			&p.JoinOrder, &p.IsLocked, &joined, &left); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		if joined.Valid {
			p.JoinedAt = &joined.Time
		}
		if left.Valid {
			p.LeftAt = &left.Time
		}
		participants = append(participants, &p)
	}
	return participants, rows.Err()
}

// SetParticipantStatus updates a participant's attendance status,
// stamping joined_at on the ATTENDING transition and left_at on LEFT.
func (s *Store) SetParticipantStatus(ctx context.Context, participantID uuid.UUID, status models.ParticipantStatus, at time.Time) error {
	var (
		res sql.Result
		err error
	)
	switch status {
	case models.ParticipantAttending:
		res, err = s.db.ExecContext(ctx,
			`UPDATE meeting_participants
			 SET status = $2, joined_at = COALESCE(joined_at, $3)
			 WHERE id = $1`,
			participantID, status, at)
	case models.ParticipantLeft:
		res, err = s.db.ExecContext(ctx,
			`UPDATE meeting_participants
			 SET status = $2, left_at = $3
			 WHERE id = $1`,
			participantID, status, at)
	default:
		res, err = s.db.ExecContext(ctx,
			`UPDATE meeting_participants SET status = $2 WHERE id = $1`,
			participantID, status)
	}
	if err != nil {
		return fmt.Errorf("failed to update participant status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanParticipant(row *sql.Row) (*models.MeetingParticipant, error) {
	var (
		p      models.MeetingParticipant
		joined sql.NullTime
		left   sql.NullTime
	)
	err := row.Scan(&p.ID, &p.MeetingID, &p.AgentID, &p.Status,
		&p.JoinOrder, &p.IsLocked, &joined, &left)
	if err != nil {
		return nil, err
	}
	if joined.Valid {
		p.JoinedAt = &joined.Time
	}
	if left.Valid {
		p.LeftAt = &left.Time
	}
	return &p, nil
}
