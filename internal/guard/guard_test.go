package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/finpilot/orchestrator/internal/domain"
	"github.com/finpilot/orchestrator/policy"
)

func newTestGuard(t *testing.T) *Guard {
	t.Helper()
	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	return New(engine)
}

func TestAuthorizeReadAndAppend(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	families := []domain.RecordFamily{
		domain.FamilyAgentProfile,
		domain.FamilyMemoryEntry,
		domain.FamilyComplianceEvent,
		domain.FamilyPaymentRequest,
	}
	for _, family := range families {
		assert.NoError(t, g.Authorize(ctx, domain.OpRead, family))
		assert.NoError(t, g.Authorize(ctx, domain.OpAppend, family))
	}
}

func TestAuthorizeRejectsMutation(t *testing.T) {
	g := newTestGuard(t)
	ctx := context.Background()

	err := g.Authorize(ctx, domain.OpMutate, domain.FamilyComplianceEvent)
	assert.Error(t, err)
	assert.True(t, domain.IsImmutableViolation(err))
	assert.Equal(t, "ComplianceEvent is append-only; mutations and deletions are not permitted.", err.Error())
}

func TestAuthorizeRejectsUnknownFamily(t *testing.T) {
	g := newTestGuard(t)

	err := g.Authorize(context.Background(), domain.OpAppend, domain.RecordFamily("ShadowLedger"))
	assert.Error(t, err)
	assert.True(t, domain.IsImmutableViolation(err))
}
