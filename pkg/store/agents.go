package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
)

const agentColumns = "id, external_id, organization_id, name, created_at, updated_at"

// CreateAgent persists a new agent under an organization.
func (s *Store) CreateAgent(ctx context.Context, orgID uuid.UUID, externalID, name string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO agents (id, external_id, organization_id, name)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+agentColumns,
		uuid.New(), externalID, orgID, name,
	)
	agent, err := scanAgent(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}
	return agent, nil
}

// GetAgentByExternalID looks up an agent by its external id.
func (s *Store) GetAgentByExternalID(ctx context.Context, externalID string) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE external_id = $1`,
		externalID,
	)
	agent, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

// GetAgent looks up an agent by id.
func (s *Store) GetAgent(ctx context.Context, id uuid.UUID) (*models.Agent, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1`,
		id,
	)
	agent, err := scanAgent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

// ListAgents returns all agents of an organization ordered by external id.
func (s *Store) ListAgents(ctx context.Context, orgID uuid.UUID) ([]*models.Agent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE organization_id = $1 ORDER BY external_id`,
		orgID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*models.Agent
	for rows.Next() {
		var a models.Agent
		if err := rows.Scan(&a.ID, &a.ExternalID, &a.OrganizationID, &a.Name, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

// DeleteAgent removes an agent; owned sessions and messages cascade.
func (s *Store) DeleteAgent(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// IsAgentLocked reports whether the agent currently holds the locked
// side of any active session. Used by the notification push predicate:
// an agent blocked inside its own send must not be double-signalled.
func (s *Store) IsAgentLocked(ctx context.Context, agentID uuid.UUID) (bool, error) {
	var locked bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM sessions WHERE locked_agent_id = $1 AND status = 'active'
		 )`,
		agentID,
	).Scan(&locked)
	if err != nil {
		return false, fmt.Errorf("failed to check agent lock state: %w", err)
	}
	return locked, nil
}

func scanAgent(row *sql.Row) (*models.Agent, error) {
	var a models.Agent
	err := row.Scan(&a.ID, &a.ExternalID, &a.OrganizationID, &a.Name, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
