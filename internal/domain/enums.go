// Package domain defines the core domain models for the orchestrator.
package domain

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "PENDING"
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
)

// AgentRole identifies which pipeline stage an agent profile serves.
type AgentRole string

const (
	RoleAnalyst     AgentRole = "analyst"
	RoleCompliance  AgentRole = "compliance"
	RoleTransaction AgentRole = "transaction"
)

// Stage identifies one step of the fixed three-stage pipeline.
type Stage string

const (
	StageAnalyst     Stage = "analyst"
	StageCompliance  Stage = "compliance"
	StageTransaction Stage = "transaction"
)

// ComplianceOutcome is the determination recorded in a compliance event.
type ComplianceOutcome string

const (
	OutcomePass    ComplianceOutcome = "PASS"
	OutcomeFail    ComplianceOutcome = "FAIL"
	OutcomeClear   ComplianceOutcome = "CLEAR"
	OutcomeFlagged ComplianceOutcome = "FLAGGED"
)

// PaymentStatus is the lifecycle status of a payment request snapshot.
// Transitions are forward-only: PENDING -> COMPLETED | FAILED.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "PENDING"
	PaymentStatusCompleted PaymentStatus = "COMPLETED"
	PaymentStatusFailed    PaymentStatus = "FAILED"
)

// RecordFamily is the logical family of an audited record. Immutability
// enforcement is keyed on these values, never on storage paths.
type RecordFamily string

const (
	FamilyAgentProfile    RecordFamily = "AgentProfile"
	FamilyMemoryEntry     RecordFamily = "MemoryEntry"
	FamilyComplianceEvent RecordFamily = "ComplianceEvent"
	FamilyPaymentRequest  RecordFamily = "PaymentRequest"
)

// Operation is the kind of access requested against a record family.
type Operation string

const (
	OpRead   Operation = "read"
	OpAppend Operation = "append"
	OpMutate Operation = "mutate"
)

// RiskLevel buckets a risk score for reporting.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskLevelFor buckets a risk score: low below 0.3, medium below 0.7, high
// otherwise.
func RiskLevelFor(score float64) RiskLevel {
	switch {
	case score < 0.3:
		return RiskLow
	case score < 0.7:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// ComplianceStatusFor maps a risk score to PASS/FAIL. The PASS side of the
// threshold is exclusive: exactly 0.5 fails.
func ComplianceStatusFor(score float64) ComplianceOutcome {
	if score < 0.5 {
		return OutcomePass
	}
	return OutcomeFail
}
