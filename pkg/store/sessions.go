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

const sessionColumns = "id, agent_a_id, agent_b_id, status, locked_agent_id, created_at, updated_at, ended_at"

// CreateSession inserts a new ACTIVE session for a canonical agent pair.
// The partial unique index on (agent_a_id, agent_b_id) WHERE active
// guarantees at most one active session per pair; a losing racer gets
// ErrAlreadyExists and should re-read.
func (s *Store) CreateSession(ctx context.Context, agentA, agentB uuid.UUID) (*models.Session, error) {
	a, b := models.CanonicalPair(agentA, agentB)
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO sessions (id, agent_a_id, agent_b_id, status)
		 VALUES ($1, $2, $3, 'active')
		 RETURNING `+sessionColumns,
		uuid.New(), a, b,
	)
	session, err := scanSession(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// GetSession looks up a session by id.
func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return session, nil
}

// GetActiveSessionByPair returns the active session for the canonical
// pair, or ErrNotFound if none exists.
func (s *Store) GetActiveSessionByPair(ctx context.Context, agentA, agentB uuid.UUID) (*models.Session, error) {
	a, b := models.CanonicalPair(agentA, agentB)
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+`
		 FROM sessions
		 WHERE agent_a_id = $1 AND agent_b_id = $2 AND status = 'active'`,
		a, b,
	)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get active session: %w", err)
	}
	return session, nil
}

// SetSessionLockedAgent sets or clears locked_agent_id. Passing nil
// clears it.
func (s *Store) SetSessionLockedAgent(ctx context.Context, sessionID uuid.UUID, agentID *uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET locked_agent_id = $2, updated_at = now() WHERE id = $1`,
		sessionID, nullUUID(agentID),
	)
	if err != nil {
		return fmt.Errorf("failed to update session locked agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// EndSession transitions an active session to ENDED. Returns ErrNotFound
// when the session does not exist or is already ended, so a double-end
// is observable by the caller.
func (s *Store) EndSession(ctx context.Context, sessionID uuid.UUID, endedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET status = 'ended', ended_at = $2, locked_agent_id = NULL, updated_at = now()
		 WHERE id = $1 AND status = 'active'`,
		sessionID, endedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSession(row *sql.Row) (*models.Session, error) {
	var (
		sess   models.Session
		locked uuid.NullUUID
		ended  sql.NullTime
	)
	err := row.Scan(&sess.ID, &sess.AgentAID, &sess.AgentBID, &sess.Status,
		&locked, &sess.CreatedAt, &sess.UpdatedAt, &ended)
	if err != nil {
		return nil, err
	}
	sess.LockedAgentID = fromNullUUID(locked)
	if ended.Valid {
		sess.EndedAt = &ended.Time
	}
	return &sess, nil
}
