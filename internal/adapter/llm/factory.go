package llm

import "log"

const (
	// ModeMock selects the deterministic mock backend.
	ModeMock = "MOCK"
)

// NewDecisionClient creates a decision client for the configured mode.
// Mode MOCK returns the deterministic MockClient; anything else returns a
// real HTTP client.
func NewDecisionClient(mode, baseURL, apiKey, model string, maxRetries int) DecisionClient {
	if mode == ModeMock {
		log.Println("mode=MOCK detected, using mock decision client")
		return NewMockClient()
	}
	return NewClient(baseURL, apiKey, model, maxRetries)
}
