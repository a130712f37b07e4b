package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/finpilot/orchestrator/internal/adapter/llm"
	"github.com/finpilot/orchestrator/internal/domain"
)

// Timeouts holds the per-stage decision-call deadlines.
type Timeouts struct {
	Analyst     time.Duration
	Compliance  time.Duration
	Transaction time.Duration
}

// BackendDecider asks the decision backend for stage outputs and falls back
// to a wrapped decider (normally SimulatedDecider) on any backend failure:
// timeout, malformed output, or exhausted retries. The fallback wraps by
// composition, so backend degradation never hard-fails a stage.
type BackendDecider struct {
	client   llm.DecisionClient
	fallback Decider
	timeouts Timeouts
}

// NewBackendDecider creates a backend decider with the given fallback.
func NewBackendDecider(client llm.DecisionClient, fallback Decider, timeouts Timeouts) *BackendDecider {
	return &BackendDecider{client: client, fallback: fallback, timeouts: timeouts}
}

// Ensure BackendDecider implements Decider.
var _ Decider = (*BackendDecider)(nil)

// Decide calls the backend and validates its output, degrading to the
// fallback when anything goes wrong.
func (d *BackendDecider) Decide(ctx context.Context, s domain.Stage, input map[string]any) (*domain.StageOutput, error) {
	prompt := buildPrompt(s, input)
	schema := schemaFor(s)

	result, err := d.client.GenerateStructured(ctx, prompt, schema, d.timeout(s))
	if err != nil {
		log.Printf("WARN: decision backend failed for stage %s, using simulated output: %v", s, err)
		return d.fallback.Decide(ctx, s, input)
	}

	var output map[string]any
	if err := json.Unmarshal(result.Parsed, &output); err != nil {
		log.Printf("WARN: decision backend returned malformed output for stage %s: %v", s, err)
		return d.fallback.Decide(ctx, s, input)
	}
	if err := validateOutput(s, output); err != nil {
		log.Printf("WARN: decision backend output for stage %s rejected: %v", s, err)
		return d.fallback.Decide(ctx, s, input)
	}

	return &domain.StageOutput{
		Output:          output,
		Timestamp:       domain.Now(),
		DecisionModel:   result.Model,
		DecisionLatency: result.LatencyMs,
	}, nil
}

func (d *BackendDecider) timeout(s domain.Stage) time.Duration {
	switch s {
	case domain.StageAnalyst:
		return d.timeouts.Analyst
	case domain.StageCompliance:
		return d.timeouts.Compliance
	default:
		return d.timeouts.Transaction
	}
}

func buildPrompt(s domain.Stage, input map[string]any) string {
	context, _ := json.Marshal(input)
	switch s {
	case domain.StageAnalyst:
		return fmt.Sprintf("You are a market analyst for an autonomous trading agent. "+
			"Analyze the requested market and respond with structured findings.\nInput: %s", context)
	case domain.StageCompliance:
		return fmt.Sprintf("You are a compliance officer. Screen the proposed activity for AML, KYC "+
			"and sanctions exposure and assign a risk score between 0.0 and 1.0.\nAnalyst findings: %s", context)
	default:
		return fmt.Sprintf("You are a transaction agent. Prepare an x402 payment request "+
			"for the approved activity.\nPrior stage outputs: %s", context)
	}
}

func schemaFor(s domain.Stage) map[string]interface{} {
	switch s {
	case domain.StageAnalyst:
		return map[string]interface{}{
			"title": "analyst_output",
			"type":  "object",
			"properties": map[string]interface{}{
				"query":          map[string]interface{}{"type": "string"},
				"data_sources":   map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
				"market_data":    map[string]interface{}{"type": "object"},
				"quality_score":  map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
				"recommendation": map[string]interface{}{"type": "string"},
			},
			"required": []string{"query", "data_sources", "market_data", "quality_score", "recommendation"},
		}
	case domain.StageCompliance:
		return map[string]interface{}{
			"title": "compliance_output",
			"type":  "object",
			"properties": map[string]interface{}{
				"aml_check":           map[string]interface{}{"type": "string"},
				"kyc_check":           map[string]interface{}{"type": "string"},
				"sanctions_screening": map[string]interface{}{"type": "string"},
				"risk_score":          map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
				"justification":       map[string]interface{}{"type": "string"},
			},
			"required": []string{"aml_check", "kyc_check", "sanctions_screening", "risk_score", "justification"},
		}
	default:
		return map[string]interface{}{
			"title": "transaction_output",
			"type":  "object",
			"properties": map[string]interface{}{
				"transaction_type": map[string]interface{}{"type": "string"},
				"amount":           map[string]interface{}{"type": "string"},
				"currency":         map[string]interface{}{"type": "string"},
			},
			"required": []string{"transaction_type", "amount", "currency"},
		}
	}
}

func validateOutput(s domain.Stage, output map[string]any) error {
	switch s {
	case domain.StageAnalyst:
		score, ok := floatField(output, "quality_score")
		if !ok || score < 0 || score > 1 {
			return fmt.Errorf("quality_score missing or out of range")
		}
	case domain.StageCompliance:
		score, ok := floatField(output, "risk_score")
		if !ok || score < 0 || score > 1 {
			return fmt.Errorf("risk_score missing or out of range")
		}
	case domain.StageTransaction:
		if _, ok := output["transaction_type"].(string); !ok {
			return fmt.Errorf("transaction_type missing")
		}
	}
	return nil
}
