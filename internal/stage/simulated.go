package stage

import (
	"context"
	"fmt"

	"github.com/finpilot/orchestrator/internal/domain"
)

// SimulatedDecider produces deterministic stage outputs without calling any
// backend. It serves as the fallback when the decision backend degrades and
// as the whole strategy in mock mode.
type SimulatedDecider struct {
	// QualityScore is reported by the analyst stage.
	QualityScore float64
	// RiskScore drives the compliance determination. Tests raise it past
	// the threshold to force a FAIL.
	RiskScore float64
}

// NewSimulatedDecider returns a decider with the canonical simulated
// values.
func NewSimulatedDecider() *SimulatedDecider {
	return &SimulatedDecider{
		QualityScore: 0.95,
		RiskScore:    0.15,
	}
}

// Ensure SimulatedDecider implements Decider.
var _ Decider = (*SimulatedDecider)(nil)

// Decide returns the canonical simulated output for the stage.
func (d *SimulatedDecider) Decide(ctx context.Context, s domain.Stage, input map[string]any) (*domain.StageOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var output map[string]any
	switch s {
	case domain.StageAnalyst:
		query, _ := input["query"].(string)
		if query == "" {
			query = "market analysis"
		}
		output = map[string]any{
			"query":        query,
			"data_sources": []any{"market_feed", "order_books", "news_wire"},
			"market_data": map[string]any{
				"trend":      "stable",
				"volatility": "low",
				"volume_24h": "normal",
			},
			"quality_score":  d.QualityScore,
			"recommendation": "proceed with standard position sizing",
		}
	case domain.StageCompliance:
		output = map[string]any{
			"aml_check":           "clear",
			"kyc_check":           "verified",
			"sanctions_screening": "clear",
			"risk_score":          d.RiskScore,
			"risk_level":          string(domain.RiskLevelFor(d.RiskScore)),
			"compliance_status":   string(domain.ComplianceStatusFor(d.RiskScore)),
			"justification":       "all screenings clear, counterparty verified",
		}
	case domain.StageTransaction:
		output = map[string]any{
			"transaction_type": "x402_payment",
			"amount":           "10.00",
			"currency":         "USDC",
			"network":          "base-sepolia",
			"settlement":       "prepared",
		}
	default:
		return nil, fmt.Errorf("unknown stage %q", s)
	}

	return &domain.StageOutput{
		Output:    output,
		Timestamp: domain.Now(),
		Simulated: true,
	}, nil
}
