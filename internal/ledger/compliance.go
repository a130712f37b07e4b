package ledger

import (
	"context"
	"fmt"

	"github.com/finpilot/orchestrator/internal/domain"
	"github.com/finpilot/orchestrator/internal/guard"
	"github.com/finpilot/orchestrator/internal/store"
)

// ComplianceLedger is the append-only record of compliance determinations.
type ComplianceLedger struct {
	store      store.Store
	guard      *guard.Guard
	maxRetries int
}

// NewComplianceLedger creates a compliance ledger.
func NewComplianceLedger(st store.Store, g *guard.Guard, maxRetries int) *ComplianceLedger {
	return &ComplianceLedger{store: st, guard: g, maxRetries: maxRetries}
}

// EventInput carries the caller-supplied fields of a new compliance event.
type EventInput struct {
	ProjectID string
	AgentID   string
	RunID     string
	EventType string
	Outcome   domain.ComplianceOutcome
	RiskScore float64
	Details   map[string]string
}

// CreateEvent appends a compliance event. A risk score outside [0.0, 1.0]
// is a validation failure and is never written.
func (l *ComplianceLedger) CreateEvent(ctx context.Context, in EventInput) (*domain.ComplianceEvent, error) {
	if in.RiskScore < 0.0 || in.RiskScore > 1.0 {
		return nil, fmt.Errorf("risk score %v: %w", in.RiskScore, domain.ErrInvalidRiskScore)
	}

	if err := l.guard.Authorize(ctx, domain.OpAppend, domain.FamilyComplianceEvent); err != nil {
		return nil, err
	}

	event := &domain.ComplianceEvent{
		EventID:   domain.NewEventID(),
		ProjectID: in.ProjectID,
		RunID:     in.RunID,
		AgentID:   in.AgentID,
		EventType: in.EventType,
		Outcome:   in.Outcome,
		RiskScore: in.RiskScore,
		Details:   in.Details,
		Timestamp: domain.Now(),
	}

	err := appendWithRetry(ctx, l.maxRetries, func() error {
		return l.store.CreateComplianceEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// ListEvents returns a run's compliance events in chronological order.
func (l *ComplianceLedger) ListEvents(ctx context.Context, runID string) ([]domain.ComplianceEvent, error) {
	if err := l.guard.Authorize(ctx, domain.OpRead, domain.FamilyComplianceEvent); err != nil {
		return nil, err
	}
	return l.store.ListComplianceEvents(ctx, runID)
}

// PassEvent returns the run's earliest PASS event, or nil if none exists.
func (l *ComplianceLedger) PassEvent(ctx context.Context, runID string) (*domain.ComplianceEvent, error) {
	events, err := l.ListEvents(ctx, runID)
	if err != nil {
		return nil, err
	}
	for i := range events {
		if events[i].Outcome == domain.OutcomePass {
			return &events[i], nil
		}
	}
	return nil, nil
}

// HasPass reports whether a PASS event exists for the run.
func (l *ComplianceLedger) HasPass(ctx context.Context, runID string) (bool, error) {
	event, err := l.PassEvent(ctx, runID)
	if err != nil {
		return false, err
	}
	return event != nil, nil
}

// Update is the mutation entry point, rejected by the guard.
func (l *ComplianceLedger) Update(ctx context.Context, eventID string) error {
	return l.guard.Authorize(ctx, domain.OpMutate, domain.FamilyComplianceEvent)
}

// Delete is the deletion entry point, rejected by the guard.
func (l *ComplianceLedger) Delete(ctx context.Context, eventID string) error {
	return l.guard.Authorize(ctx, domain.OpMutate, domain.FamilyComplianceEvent)
}
