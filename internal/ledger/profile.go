package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/finpilot/orchestrator/internal/domain"
	"github.com/finpilot/orchestrator/internal/guard"
	"github.com/finpilot/orchestrator/internal/store"
)

// ProfileRegistry is the append-only agent profile store.
type ProfileRegistry struct {
	store      store.Store
	guard      *guard.Guard
	maxRetries int
}

// NewProfileRegistry creates a profile registry.
func NewProfileRegistry(st store.Store, g *guard.Guard, maxRetries int) *ProfileRegistry {
	return &ProfileRegistry{store: st, guard: g, maxRetries: maxRetries}
}

// Register appends an agent profile.
func (r *ProfileRegistry) Register(ctx context.Context, projectID, name string, role domain.AgentRole, configuration map[string]string) (*domain.AgentProfile, error) {
	if err := r.guard.Authorize(ctx, domain.OpAppend, domain.FamilyAgentProfile); err != nil {
		return nil, err
	}

	profile := &domain.AgentProfile{
		AgentID:       "agent_" + uuid.New().String()[:8],
		ProjectID:     projectID,
		Name:          name,
		Role:          role,
		Configuration: configuration,
		CreatedAt:     domain.Now(),
	}

	err := appendWithRetry(ctx, r.maxRetries, func() error {
		return r.store.CreateAgentProfile(ctx, profile)
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// Get retrieves a profile by agent id.
func (r *ProfileRegistry) Get(ctx context.Context, agentID string) (*domain.AgentProfile, error) {
	if err := r.guard.Authorize(ctx, domain.OpRead, domain.FamilyAgentProfile); err != nil {
		return nil, err
	}
	profile, err := r.store.GetAgentProfile(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get agent profile: %w", err)
	}
	if profile == nil {
		return nil, fmt.Errorf("agent %s: %w", agentID, domain.ErrProfileNotFound)
	}
	return profile, nil
}

// ForRole returns the project's profile for a role, creating it on first
// use.
func (r *ProfileRegistry) ForRole(ctx context.Context, projectID string, role domain.AgentRole) (*domain.AgentProfile, error) {
	profiles, err := r.List(ctx, projectID)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		if profiles[i].Role == role {
			return &profiles[i], nil
		}
	}
	return r.Register(ctx, projectID, string(role)+" agent", role, nil)
}

// List returns a project's profiles in registration order.
func (r *ProfileRegistry) List(ctx context.Context, projectID string) ([]domain.AgentProfile, error) {
	if err := r.guard.Authorize(ctx, domain.OpRead, domain.FamilyAgentProfile); err != nil {
		return nil, err
	}
	return r.store.ListAgentProfiles(ctx, projectID)
}

// Update is the mutation entry point, rejected by the guard.
func (r *ProfileRegistry) Update(ctx context.Context, agentID string) error {
	return r.guard.Authorize(ctx, domain.OpMutate, domain.FamilyAgentProfile)
}

// Delete is the deletion entry point, rejected by the guard.
func (r *ProfileRegistry) Delete(ctx context.Context, agentID string) error {
	return r.guard.Authorize(ctx, domain.OpMutate, domain.FamilyAgentProfile)
}
