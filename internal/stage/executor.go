// Package stage executes single pipeline stages against a decision
// strategy. Execution has no side effects; persistence belongs to the
// orchestrator.
package stage

import (
	"context"
	"fmt"

	"github.com/finpilot/orchestrator/internal/domain"
)

// Decider produces one stage's output from its input context.
type Decider interface {
	Decide(ctx context.Context, stage domain.Stage, input map[string]any) (*domain.StageOutput, error)
}

// Executor runs one stage through the configured decider and enforces the
// stage contracts.
type Executor struct {
	decider Decider
}

// NewExecutor creates a stage executor.
func NewExecutor(decider Decider) *Executor {
	return &Executor{decider: decider}
}

// Execute runs a stage. The transaction stage requires a PASS compliance
// status in its input; anything else is rejected without producing an
// artifact and is not retryable.
func (e *Executor) Execute(ctx context.Context, s domain.Stage, input map[string]any) (*domain.StageOutput, error) {
	if s == domain.StageTransaction {
		status, _ := input["compliance_status"].(string)
		if status != string(domain.OutcomePass) {
			return nil, fmt.Errorf("transaction stage requires compliance status PASS, got %q: %w",
				status, domain.ErrComplianceRejected)
		}
	}

	out, err := e.decider.Decide(ctx, s, input)
	if err != nil {
		return nil, fmt.Errorf("stage %s failed: %w", s, err)
	}

	out.Stage = s
	if out.Timestamp.IsZero() {
		out.Timestamp = domain.Now()
	}
	if s == domain.StageCompliance {
		normalizeCompliance(out.Output)
	}
	return out, nil
}

// normalizeCompliance recomputes the fields derived from risk_score so the
// thresholds hold regardless of what the backend produced.
func normalizeCompliance(output map[string]any) {
	score, ok := floatField(output, "risk_score")
	if !ok {
		return
	}
	output["risk_level"] = string(domain.RiskLevelFor(score))
	output["compliance_status"] = string(domain.ComplianceStatusFor(score))
}

func floatField(m map[string]any, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
