// Package config provides configuration for the orchestrator.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the orchestrator configuration, loaded from environment
// variables.
type Config struct {
	// Server settings
	HTTPPort int `env:"HTTP_PORT" envDefault:"8080"`

	// Database
	DatabaseURL string `env:"DATABASE_URL" envDefault:"file:orchestrator.db?cache=shared&mode=rwc"`

	// Decision backend
	DecisionBackendURL string `env:"DECISION_BACKEND_URL" envDefault:"http://localhost:4000"`
	DecisionAPIKey     string `env:"DECISION_API_KEY"`
	DecisionModel      string `env:"DECISION_MODEL" envDefault:"gpt-4o-mini"`

	// Vector backend
	VectorBackendURL string `env:"VECTOR_BACKEND_URL" envDefault:"http://localhost:8200"`

	// Mode selects deterministic mock backends when set to MOCK.
	Mode string `env:"FINPILOT_MODE"`

	// Per-stage decision timeouts
	AnalystTimeout     time.Duration `env:"ANALYST_TIMEOUT" envDefault:"30s"`
	ComplianceTimeout  time.Duration `env:"COMPLIANCE_TIMEOUT" envDefault:"20s"`
	TransactionTimeout time.Duration `env:"TRANSACTION_TIMEOUT" envDefault:"45s"`

	// Retry bounds
	DecisionMaxRetries int `env:"DECISION_MAX_RETRIES" envDefault:"3"`
	StorageMaxRetries  int `env:"STORAGE_MAX_RETRIES" envDefault:"3"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	return cfg, nil
}
