// Package llm provides an abstraction for the decision-backend client.
package llm

import (
	"context"
	"time"
)

// StructuredResult is the parsed output of one structured generation call.
type StructuredResult struct {
	Parsed    []byte `json:"parsed"`
	Model     string `json:"model"`
	LatencyMs int64  `json:"latency_ms"`
}

// DecisionClient defines the interface for the decision backend.
type DecisionClient interface {
	// GenerateStructured sends a prompt and a JSON schema and returns the
	// backend's parsed object conforming to the schema.
	GenerateStructured(ctx context.Context, prompt string, schema map[string]interface{}, timeout time.Duration) (*StructuredResult, error)
}

// Ensure Client implements DecisionClient interface.
var _ DecisionClient = (*Client)(nil)
