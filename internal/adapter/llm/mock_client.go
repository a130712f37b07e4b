package llm

import (
	"context"
	"fmt"
	"time"
)

// MockClient is a deterministic implementation of DecisionClient for
// mock mode and tests. Responses are keyed by the schema title; the seeded
// defaults mirror the simulated stage outputs.
type MockClient struct {
	// Responses maps schema titles to canned JSON documents.
	Responses map[string]string
	// Err, when set, makes every call fail. Used to exercise fallback.
	Err error
	// Latency is reported in results without sleeping.
	Latency time.Duration
}

// NewMockClient creates a mock client seeded with the default stage
// responses.
func NewMockClient() *MockClient {
	return &MockClient{
		Responses: map[string]string{
			"analyst_output": `{
				"query": "market analysis",
				"data_sources": ["market_feed", "order_books", "news_wire"],
				"market_data": {"trend": "stable", "volatility": "low", "volume_24h": "normal"},
				"quality_score": 0.95,
				"recommendation": "proceed with standard position sizing"
			}`,
			"compliance_output": `{
				"aml_check": "clear",
				"kyc_check": "verified",
				"sanctions_screening": "clear",
				"risk_score": 0.15,
				"justification": "all screenings clear, counterparty verified"
			}`,
			"transaction_output": `{
				"transaction_type": "x402_payment",
				"amount": "10.00",
				"currency": "USDC",
				"network": "base-sepolia",
				"settlement": "prepared"
			}`,
		},
		Latency: 5 * time.Millisecond,
	}
}

// Ensure MockClient implements DecisionClient interface.
var _ DecisionClient = (*MockClient)(nil)

// GenerateStructured returns the canned response for the schema title.
func (m *MockClient) GenerateStructured(ctx context.Context, prompt string, schema map[string]interface{}, timeout time.Duration) (*StructuredResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	title, _ := schema["title"].(string)
	resp, ok := m.Responses[title]
	if !ok {
		return nil, fmt.Errorf("no mock response for schema %q", title)
	}

	return &StructuredResult{
		Parsed:    []byte(resp),
		Model:     "mock-decision-model",
		LatencyMs: m.Latency.Milliseconds(),
	}, nil
}
