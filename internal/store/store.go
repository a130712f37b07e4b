// Package store defines the generic row-store interface and its SQLite
// implementation. The surface for audited families is deliberately
// create/get/list only; there is no update or delete path for them.
package store

import (
	"context"
	"encoding/json"

	"github.com/finpilot/orchestrator/internal/domain"
)

// MemoryFilter narrows a memory entry listing. Zero values are ignored.
type MemoryFilter struct {
	ProjectID  string
	RunID      string
	AgentID    string
	Namespace  string
	MemoryType string
	MemoryIDs  []string
}

// Page controls listing pagination and direction. Default order is
// newest-first; replay asks for oldest-first.
type Page struct {
	Limit     int
	Offset    int
	Ascending bool
}

// Store is the persistence interface shared by all ledgers.
type Store interface {
	// Run operations. Runs are orchestrator-owned state, not an audited
	// family; status moves forward until a terminal value.
	CreateRun(ctx context.Context, run *domain.Run) error
	GetRun(ctx context.Context, runID string) (*domain.Run, error)
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus, errData json.RawMessage) error
	ListRuns(ctx context.Context, projectID string) ([]domain.Run, error)

	// Agent profile operations (append-only).
	CreateAgentProfile(ctx context.Context, profile *domain.AgentProfile) error
	GetAgentProfile(ctx context.Context, agentID string) (*domain.AgentProfile, error)
	ListAgentProfiles(ctx context.Context, projectID string) ([]domain.AgentProfile, error)

	// Memory entry operations (append-only).
	CreateMemoryEntry(ctx context.Context, entry *domain.MemoryEntry) error
	GetMemoryEntry(ctx context.Context, memoryID string) (*domain.MemoryEntry, error)
	ListMemoryEntries(ctx context.Context, filter MemoryFilter, page Page) ([]domain.MemoryEntry, int, error)

	// Compliance event operations (append-only).
	CreateComplianceEvent(ctx context.Context, event *domain.ComplianceEvent) error
	ListComplianceEvents(ctx context.Context, runID string) ([]domain.ComplianceEvent, error)

	// Payment request operations (append-only snapshots).
	CreatePaymentRequest(ctx context.Context, request *domain.PaymentRequest) error
	GetPaymentRequest(ctx context.Context, requestID string) (*domain.PaymentRequest, error)
	ListPaymentRequests(ctx context.Context, runID string) ([]domain.PaymentRequest, error)

	// Lifecycle
	Close() error
}
