// Package guard enforces the append-only boundary for audited record
// families. Every ledger entry point authorizes through it before touching
// storage, so no code path can mutate or delete an audited record.
package guard

import (
	"context"
	"fmt"

	"github.com/finpilot/orchestrator/internal/domain"
	"github.com/finpilot/orchestrator/policy"
)

// Guard authorizes record operations against the record-access policy.
type Guard struct {
	engine *policy.Engine
}

// New creates a guard backed by the given policy engine.
func New(engine *policy.Engine) *Guard {
	return &Guard{engine: engine}
}

// Authorize allows reads and appends and rejects everything else with an
// ImmutableRecordError carrying the family name.
func (g *Guard) Authorize(ctx context.Context, op domain.Operation, family domain.RecordFamily) error {
	decision, err := g.engine.Evaluate(ctx, map[string]interface{}{
		"operation": string(op),
		"family":    string(family),
	})
	if err != nil {
		return fmt.Errorf("failed to authorize %s on %s: %w", op, family, err)
	}
	if decision != "allow" {
		return &domain.ImmutableRecordError{Family: family}
	}
	return nil
}
