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

const meetingColumns = "id, host_id, status, current_speaker_id, turn_duration_seconds, turn_started_at, created_at, started_at, ended_at"

// CreateMeeting persists a meeting in CREATED state together with its
// invited participants (dense join_order starting at 0), in one
// transaction.
func (s *Store) CreateMeeting(ctx context.Context, hostID uuid.UUID, participantIDs []uuid.UUID, turnDuration time.Duration) (*models.Meeting, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var turnSeconds sql.NullInt32
	if turnDuration > 0 {
		turnSeconds = sql.NullInt32{Int32: int32(turnDuration / time.Second), Valid: true}
	}

	row := tx.QueryRowContext(ctx,
		`INSERT INTO meetings (id, host_id, status, turn_duration_seconds)
		 VALUES ($1, $2, 'created', $3)
		 RETURNING `+meetingColumns,
		uuid.New(), hostID, turnSeconds,
	)
	meeting, err := scanMeeting(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create meeting: %w", err)
	}

	for order, agentID := range participantIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO meeting_participants (id, meeting_id, agent_id, status, join_order)
			 VALUES ($1, $2, $3, 'invited', $4)`,
			uuid.New(), meeting.ID, agentID, order,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create participant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit meeting: %w", err)
	}
	return meeting, nil
}

// GetMeeting looks up a meeting by id.
func (s *Store) GetMeeting(ctx context.Context, id uuid.UUID) (*models.Meeting, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+meetingColumns+` FROM meetings WHERE id = $1`, id)
	meeting, err := scanMeeting(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get meeting: %w", err)
	}
	return meeting, nil
}

// StartMeeting transitions a CREATED meeting to ACTIVE with its first
// speaker. Returns ErrNotFound if the meeting is not in CREATED state.
func (s *Store) StartMeeting(ctx context.Context, meetingID, firstSpeaker uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE meetings
		 SET status = 'active', current_speaker_id = $2, turn_started_at = $3, started_at = $3
		 WHERE id = $1 AND status = 'created'`,
		meetingID, firstSpeaker, at,
	)
	if err != nil {
		return fmt.Errorf("failed to start meeting: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMeetingSpeaker updates the current speaker and turn start. Passing
// a nil speaker records "no speaker" (all participants left).
func (s *Store) SetMeetingSpeaker(ctx context.Context, meetingID uuid.UUID, speaker *uuid.UUID, turnStartedAt time.Time) error {
	var started sql.NullTime
	if speaker != nil {
		started = sql.NullTime{Time: turnStartedAt, Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE meetings SET current_speaker_id = $2, turn_started_at = $3 WHERE id = $1`,
		meetingID, nullUUID(speaker), started,
	)
	if err != nil {
		return fmt.Errorf("failed to set meeting speaker: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EndMeeting transitions an ACTIVE or CREATED meeting to ENDED. Returns
// ErrNotFound when the meeting does not exist or is already ended, so a
// double-end is observable.
func (s *Store) EndMeeting(ctx context.Context, meetingID uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE meetings
		 SET status = 'ended', ended_at = $2, current_speaker_id = NULL, turn_started_at = NULL
		 WHERE id = $1 AND status IN ('created', 'ready', 'active')`,
		meetingID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to end meeting: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMeeting(row *sql.Row) (*models.Meeting, error) {
	var (
		m           models.Meeting
		speaker     uuid.NullUUID
		turnSeconds sql.NullInt32
		turnStarted sql.NullTime
		started     sql.NullTime
		ended       sql.NullTime
	)
	err := row.Scan(&m.ID, &m.HostID, &m.Status, &speaker, &turnSeconds,
		&turnStarted, &m.CreatedAt, &started, &ended)
	if err != nil {
		return nil, err
	}
	m.CurrentSpeakerID = fromNullUUID(speaker)
	if turnSeconds.Valid {
		m.TurnDuration = time.Duration(turnSeconds.Int32) * time.Second
	}
	if turnStarted.Valid {
		m.TurnStartedAt = &turnStarted.Time
	}
	if started.Valid {
		m.StartedAt = &started.Time
	}
	if ended.Valid {
		m.EndedAt = &ended.Time
	}
	return &m, nil
}
