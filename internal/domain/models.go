package domain

import (
	"encoding/json"
	"time"
)

// Run represents one execution of the three-stage pipeline.
type Run struct {
	RunID       string            `json:"run_id"`
	ProjectID   string            `json:"project_id"`
	AgentID     string            `json:"agent_id"`
	Status      RunStatus         `json:"status"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
}

// AgentProfile is the append-only registration of a pipeline agent.
type AgentProfile struct {
	AgentID       string            `json:"agent_id"`
	ProjectID     string            `json:"project_id"`
	Name          string            `json:"name"`
	Role          AgentRole         `json:"role"`
	Configuration map[string]string `json:"configuration,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	Seq           int64             `json:"-"`
}

// MemoryEntry is one append-only record of what an agent observed or
// decided.
type MemoryEntry struct {
	MemoryID   string            `json:"memory_id"`
	ProjectID  string            `json:"project_id"`
	RunID      string            `json:"run_id"`
	AgentID    string            `json:"agent_id"`
	TaskID     string            `json:"task_id,omitempty"`
	MemoryType string            `json:"memory_type"`
	Content    string            `json:"content"`
	Namespace  string            `json:"namespace"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Seq        int64             `json:"-"`
}

// ComplianceEvent is one append-only compliance determination.
type ComplianceEvent struct {
	EventID   string            `json:"event_id"`
	ProjectID string            `json:"project_id"`
	RunID     string            `json:"run_id"`
	AgentID   string            `json:"agent_id"`
	EventType string            `json:"event_type"`
	Outcome   ComplianceOutcome `json:"outcome"`
	RiskScore float64           `json:"risk_score"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Seq       int64             `json:"-"`
}

// PaymentRequest is one immutable snapshot of a signed transaction request.
// Status changes append a new snapshot; "current" is the latest one.
type PaymentRequest struct {
	RequestID           string            `json:"request_id"`
	ProjectID           string            `json:"project_id"`
	RunID               string            `json:"run_id"`
	AgentID             string            `json:"agent_id"`
	TaskID              string            `json:"task_id"`
	RequestType         string            `json:"request_type"`
	Amount              string            `json:"amount,omitempty"`
	Currency            string            `json:"currency,omitempty"`
	Status              PaymentStatus     `json:"status"`
	RequestPayload      map[string]any    `json:"request_payload,omitempty"`
	ResponsePayload     map[string]any    `json:"response_payload,omitempty"`
	LinkedMemoryIDs     []string          `json:"linked_memory_ids,omitempty"`
	LinkedComplianceIDs []string          `json:"linked_compliance_ids,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	Timestamp           time.Time         `json:"timestamp"`
	Seq                 int64             `json:"-"`
}

// StageOutput is the result of executing one pipeline stage, with its
// execution envelope.
type StageOutput struct {
	Stage           Stage          `json:"stage"`
	Output          map[string]any `json:"output"`
	Timestamp       time.Time      `json:"timestamp"`
	DecisionModel   string         `json:"decision_model,omitempty"`
	DecisionLatency int64          `json:"decision_latency_ms,omitempty"`
	Simulated       bool           `json:"simulated"`
}

// RunResult is the composite outcome of one kickoff.
type RunResult struct {
	Status            RunStatus    `json:"status"`
	RunID             string       `json:"run_id"`
	ProjectID         string       `json:"project_id"`
	RequestID         string       `json:"request_id,omitempty"`
	AnalystOutput     *StageOutput `json:"analyst_output,omitempty"`
	ComplianceOutput  *StageOutput `json:"compliance_output,omitempty"`
	TransactionOutput *StageOutput `json:"transaction_output,omitempty"`
	MemoryIDs         []string     `json:"memory_ids"`
	ComplianceEventID string       `json:"compliance_event_id,omitempty"`
	Error             string       `json:"error,omitempty"`
}

// ReplayValidation is the consistency report attached to a replay bundle.
// A failed check never aborts the replay; it only flips a flag.
type ReplayValidation struct {
	AllRecordsPresent          bool           `json:"all_records_present"`
	ChronologicalOrderVerified bool           `json:"chronological_order_verified"`
	AgentProfileFound          bool           `json:"agent_profile_found"`
	Counts                     map[string]int `json:"counts"`
	Issues                     []string       `json:"issues"`
}

// ReplayRecord is one timestamped ledger record in the merged timeline.
type ReplayRecord struct {
	Family    RecordFamily `json:"family"`
	RecordID  string       `json:"record_id"`
	Timestamp time.Time    `json:"timestamp"`
	Record    any          `json:"record"`
}

// ReplayBundle is the full reconstructed history of a run, built from the
// ledgers alone.
type ReplayBundle struct {
	Run              *Run              `json:"run"`
	AgentProfile     *AgentProfile     `json:"agent_profile,omitempty"`
	MemoryEntries    []MemoryEntry     `json:"memory_entries"`
	ComplianceEvents []ComplianceEvent `json:"compliance_events"`
	PaymentRequests  []PaymentRequest  `json:"payment_requests"`
	Timeline         []ReplayRecord    `json:"timeline"`
	Validation       ReplayValidation  `json:"validation"`
}
