// Package policy evaluates record-access policy with OPA.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.record_policy.decision"),
		rego.Module("record_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate checks the record-access policy.
// Input is a map with keys: operation, family.
// Returns the decision string ("allow" or "deny").
func (e *Engine) Evaluate(ctx context.Context, input interface{}) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		// The policy document defines a default; an empty result means the
		// module is broken, so deny.
		return "deny", nil
	}

	val := results[0].Expressions[0].Value
	if s, ok := val.(string); ok {
		return s, nil
	}
	return "deny", nil
}

// DefaultPolicy declares the append-only record families. Mutation and
// deletion are denied uniformly across projects; reads and appends are
// allowed. The families are logical identifiers supplied by the caller,
// never storage paths.
const DefaultPolicy = `
package record_policy

import rego.v1

default decision := "deny"

append_only_families := {"AgentProfile", "MemoryEntry", "ComplianceEvent", "PaymentRequest"}

decision := "allow" if {
	input.family in append_only_families
	input.operation == "read"
}

decision := "allow" if {
	input.family in append_only_families
	input.operation == "append"
}
`
