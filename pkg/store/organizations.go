package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/parleyhq/parley/pkg/models"
)

const organizationColumns = "id, external_id, name, created_at, updated_at"

// CreateOrganization persists a new organization.
func (s *Store) CreateOrganization(ctx context.Context, externalID, name string) (*models.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO organizations (id, external_id, name)
		 VALUES ($1, $2, $3)
		 RETURNING `+organizationColumns,
		uuid.New(), externalID, name,
	)
	org, err := scanOrganization(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}
	return org, nil
}

// GetOrganizationByExternalID looks up an organization by its external id.
func (s *Store) GetOrganizationByExternalID(ctx context.Context, externalID string) (*models.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE external_id = $1`,
		externalID,
	)
	org, err := scanOrganization(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// GetOrganization looks up an organization by id.
func (s *Store) GetOrganization(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE id = $1`,
		id,
	)
	org, err := scanOrganization(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// DeleteOrganization removes an organization; agents, sessions, and
// messages cascade.
func (s *Store) DeleteOrganization(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanOrganization(row *sql.Row) (*models.Organization, error) {
	var org models.Organization
	err := row.Scan(&org.ID, &org.ExternalID, &org.Name, &org.CreatedAt, &org.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &org, nil
}
