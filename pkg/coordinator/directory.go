package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/parleyhq/parley/pkg/models"
	"github.com/parleyhq/parley/pkg/store"
)

// Directory manages organization and agent registration and resolves
// external ids for the other subsystems.
type Directory struct {
	store Store
}

// NewDirectory creates a directory over the store.
func NewDirectory(st Store) *Directory {
	return &Directory{store: st}
}

// RegisterOrganization creates an organization under a caller-chosen
// external id.
func (d *Directory) RegisterOrganization(ctx context.Context, externalID, name string) (*models.Organization, error) {
	if err := validateExternalID("organization_id", externalID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = externalID
	}

	org, err := d.store.CreateOrganization(ctx, externalID, name)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, NewValidationError("organization_id", fmt.Sprintf("organization '%s' already exists", externalID))
		}
		return nil, persistenceErr(err)
	}

	slog.Info("Organization registered", "organization_id", externalID)
	return org, nil
}

// RegisterAgent creates an agent within an existing organization.
func (d *Directory) RegisterAgent(ctx context.Context, orgExternalID, externalID, name string) (*models.Agent, error) {
	if err := validateExternalID("agent_id", externalID); err != nil {
		return nil, err
	}
	if strings.TrimSpace(name) == "" {
		name = externalID
	}

	org, err := d.store.GetOrganizationByExternalID(ctx, orgExternalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrganizationNotFound, orgExternalID)
		}
		return nil, persistenceErr(err)
	}

	agent, err := d.store.CreateAgent(ctx, org.ID, externalID, name)
	if err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, NewValidationError("agent_id", fmt.Sprintf("agent '%s' already exists", externalID))
		}
		return nil, persistenceErr(err)
	}

	slog.Info("Agent registered", "agent_id", externalID, "organization_id", orgExternalID)
	return agent, nil
}

// GetOrganization resolves an organization by external id.
func (d *Directory) GetOrganization(ctx context.Context, externalID string) (*models.Organization, error) {
	org, err := d.store.GetOrganizationByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrOrganizationNotFound, externalID)
		}
		return nil, persistenceErr(err)
	}
	return org, nil
}

// GetAgent resolves an agent by external id.
func (d *Directory) GetAgent(ctx context.Context, externalID string) (*models.Agent, error) {
	return resolveAgent(ctx, d.store, externalID)
}

// ListAgents returns all agents of an organization.
func (d *Directory) ListAgents(ctx context.Context, orgExternalID string) ([]*models.Agent, error) {
	org, err := d.GetOrganization(ctx, orgExternalID)
	if err != nil {
		return nil, err
	}
	agents, err := d.store.ListAgents(ctx, org.ID)
	if err != nil {
		return nil, persistenceErr(err)
	}
	return agents, nil
}

// DeleteOrganization removes an organization and everything it owns.
func (d *Directory) DeleteOrganization(ctx context.Context, externalID string) error {
	org, err := d.GetOrganization(ctx, externalID)
	if err != nil {
		return err
	}
	if err := d.store.DeleteOrganization(ctx, org.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrOrganizationNotFound, externalID)
		}
		return persistenceErr(err)
	}
	slog.Info("Organization deleted", "organization_id", externalID)
	return nil
}

// DeleteAgent removes an agent and everything it owns.
func (d *Directory) DeleteAgent(ctx context.Context, externalID string) error {
	agent, err := resolveAgent(ctx, d.store, externalID)
	if err != nil {
		return err
	}
	if err := d.store.DeleteAgent(ctx, agent.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAgentNotFound, externalID)
		}
		return persistenceErr(err)
	}
	slog.Info("Agent deleted", "agent_id", externalID)
	return nil
}

// resolveAgent maps an external id to its agent row, shared by every
// subsystem entry point.
func resolveAgent(ctx context.Context, st Store, externalID string) (*models.Agent, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, NewValidationError("agent_id", "must not be empty")
	}
	agent, err := st.GetAgentByExternalID(ctx, externalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, externalID)
		}
		return nil, persistenceErr(err)
	}
	return agent, nil
}

// organizationExternalID resolves the external id of the organization an
// agent belongs to, for MessageContext construction.
func organizationExternalID(ctx context.Context, st Store, agent *models.Agent) string {
	org, err := st.GetOrganization(ctx, agent.OrganizationID)
	if err != nil {
		slog.Warn("Failed to resolve organization for message context",
			"agent_id", agent.ExternalID, "error", err)
		return ""
	}
	return org.ExternalID
}

func validateExternalID(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return NewValidationError(field, "must not be empty")
	}
	if len(value) > 255 {
		return NewValidationError(field, "must be at most 255 characters")
	}
	return nil
}
