package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/finpilot/orchestrator/internal/domain"
	"github.com/finpilot/orchestrator/internal/ledger"
)

// Kickoff runs the full analyst -> compliance -> transaction pipeline for a
// project. Each stage's writes are durably committed before the next stage
// starts; stage failures abort the run, mark it FAILED and retain every
// record written so far, so replay sees partial runs exactly as they
// happened. The returned RunResult always reflects how far the run
// progressed, alongside the top-level error if any.
func (s *Service) Kickoff(ctx context.Context, projectID string, input map[string]any) (*domain.RunResult, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project_id is required")
	}
	if input == nil {
		input = map[string]any{}
	}

	runID := ""
	if v, ok := input["run_id"].(string); ok && strings.HasPrefix(v, domain.RunIDPrefix) {
		runID = v
	}
	if runID == "" {
		runID = domain.NewRunID()
	}

	analyst, err := s.profiles.ForRole(ctx, projectID, domain.RoleAnalyst)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve analyst profile: %w", err)
	}
	complianceAgent, err := s.profiles.ForRole(ctx, projectID, domain.RoleCompliance)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve compliance profile: %w", err)
	}
	transactionAgent, err := s.profiles.ForRole(ctx, projectID, domain.RoleTransaction)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve transaction profile: %w", err)
	}

	run := &domain.Run{
		RunID:     runID,
		ProjectID: projectID,
		AgentID:   analyst.AgentID,
		Status:    domain.RunStatusPending,
		StartedAt: domain.Now(),
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	if err := s.store.UpdateRunStatus(ctx, runID, domain.RunStatusRunning, nil); err != nil {
		log.Printf("ERROR: failed to mark run %s running: %v", runID, err)
	}

	// Register the cancellation checkpoint for this run.
	runCtx, cancel := context.WithCancel(context.Background())
	handle := &cancelHandle{cancel: cancel}
	s.cancels.Store(runID, handle)
	defer func() {
		cancel()
		s.cancels.Delete(runID)
	}()

	result := &domain.RunResult{
		Status:    domain.RunStatusRunning,
		RunID:     runID,
		ProjectID: projectID,
		MemoryIDs: []string{},
	}

	// Stage 1: market analysis.
	analystOut, err := s.executor.Execute(ctx, domain.StageAnalyst, input)
	if err != nil {
		return s.failRun(ctx, result, "analyst_failed", err)
	}
	result.AnalystOutput = analystOut

	analystMem, err := s.storeStageMemory(ctx, projectID, runID, analyst.AgentID, "market_analysis", analystOut)
	if err != nil {
		return s.failRun(ctx, result, "storage_failed", err)
	}
	result.MemoryIDs = append(result.MemoryIDs, analystMem.MemoryID)

	if err := s.checkpoint(ctx, runCtx, handle); err != nil {
		return s.failRun(ctx, result, "cancelled", err)
	}

	// Stage 2: compliance check, with the analyst context.
	complianceInput := map[string]any{
		"query":          input["query"],
		"analyst_output": analystOut.Output,
	}
	complianceOut, err := s.executor.Execute(ctx, domain.StageCompliance, complianceInput)
	if err != nil {
		return s.failRun(ctx, result, "compliance_failed", err)
	}
	result.ComplianceOutput = complianceOut

	complianceMem, err := s.storeStageMemory(ctx, projectID, runID, complianceAgent.AgentID, "compliance_check", complianceOut)
	if err != nil {
		return s.failRun(ctx, result, "storage_failed", err)
	}
	result.MemoryIDs = append(result.MemoryIDs, complianceMem.MemoryID)

	riskScore, _ := complianceOut.Output["risk_score"].(float64)
	status, _ := complianceOut.Output["compliance_status"].(string)
	outcome := domain.OutcomeFail
	if status == string(domain.OutcomePass) {
		outcome = domain.OutcomePass
	}
	event, err := s.compliance.CreateEvent(ctx, ledger.EventInput{
		ProjectID: projectID,
		AgentID:   complianceAgent.AgentID,
		RunID:     runID,
		EventType: "transaction_compliance_review",
		Outcome:   outcome,
		RiskScore: riskScore,
		Details: map[string]string{
			"compliance_status": status,
			"risk_level":        fmt.Sprint(complianceOut.Output["risk_level"]),
		},
	})
	if err != nil {
		return s.failRun(ctx, result, "storage_failed", err)
	}
	result.ComplianceEventID = event.EventID

	// Gate: no transaction stage, and no payment artifact, unless
	// compliance passed.
	if outcome != domain.OutcomePass {
		return s.failRun(ctx, result, "compliance_check_failed",
			fmt.Errorf("run %s: %w", runID, domain.ErrComplianceCheckFailed))
	}

	if err := s.checkpoint(ctx, runCtx, handle); err != nil {
		return s.failRun(ctx, result, "cancelled", err)
	}

	// Stage 3: transaction execution, with both prior outputs.
	transactionInput := map[string]any{
		"query":             input["query"],
		"analyst_output":    analystOut.Output,
		"compliance_output": complianceOut.Output,
		"compliance_status": status,
	}
	transactionOut, err := s.executor.Execute(ctx, domain.StageTransaction, transactionInput)
	if err != nil {
		return s.failRun(ctx, result, "transaction_failed", err)
	}
	result.TransactionOutput = transactionOut

	amount, _ := transactionOut.Output["amount"].(string)
	currency, _ := transactionOut.Output["currency"].(string)
	requestType, _ := transactionOut.Output["transaction_type"].(string)
	request, err := s.payments.CreateRequest(ctx, ledger.RequestInput{
		ProjectID:           projectID,
		AgentID:             transactionAgent.AgentID,
		RunID:               runID,
		TaskID:              "transaction_execution",
		RequestType:         requestType,
		Amount:              amount,
		Currency:            currency,
		RequestPayload:      transactionOut.Output,
		LinkedMemoryIDs:     []string{analystMem.MemoryID, complianceMem.MemoryID},
		LinkedComplianceIDs: []string{event.EventID},
	})
	if err != nil {
		return s.failRun(ctx, result, "payment_rejected", err)
	}
	result.RequestID = request.RequestID

	transactionMem, err := s.storeStageMemory(ctx, projectID, runID, transactionAgent.AgentID, "transaction_execution", transactionOut)
	if err != nil {
		return s.failRun(ctx, result, "storage_failed", err)
	}
	result.MemoryIDs = append(result.MemoryIDs, transactionMem.MemoryID)

	if err := s.store.UpdateRunStatus(ctx, runID, domain.RunStatusCompleted, nil); err != nil {
		log.Printf("ERROR: failed to mark run %s completed: %v", runID, err)
	}
	result.Status = domain.RunStatusCompleted
	return result, nil
}

// storeStageMemory persists one stage's output as a memory entry.
func (s *Service) storeStageMemory(ctx context.Context, projectID, runID, agentID, memoryType string, out *domain.StageOutput) (*domain.MemoryEntry, error) {
	content, err := json.Marshal(out.Output)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stage output: %w", err)
	}
	metadata := map[string]string{
		"stage":     string(out.Stage),
		"simulated": fmt.Sprint(out.Simulated),
	}
	if out.DecisionModel != "" {
		metadata["decision_model"] = out.DecisionModel
	}
	return s.memory.Store(ctx, ledger.StoreInput{
		ProjectID:  projectID,
		AgentID:    agentID,
		RunID:      runID,
		TaskID:     memoryType,
		MemoryType: memoryType,
		Content:    string(content),
		Metadata:   metadata,
	})
}

// checkpoint is the cooperative cancellation point between stages. A run is
// never interrupted mid-stage.
func (s *Service) checkpoint(ctx context.Context, runCtx context.Context, handle *cancelHandle) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: caller context done: %v", domain.ErrRunCancelled, err)
	}
	if err := runCtx.Err(); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrRunCancelled, handle.tripReason())
	}
	return nil
}

// failRun marks the run FAILED, preserving everything already written, and
// returns the partial result with the top-level error.
func (s *Service) failRun(ctx context.Context, result *domain.RunResult, code string, cause error) (*domain.RunResult, error) {
	errData, _ := json.Marshal(map[string]string{"code": code, "message": cause.Error()})
	if err := s.store.UpdateRunStatus(ctx, result.RunID, domain.RunStatusFailed, errData); err != nil {
		log.Printf("ERROR: failed to mark run %s failed: %v", result.RunID, err)
	}
	result.Status = domain.RunStatusFailed
	result.Error = cause.Error()
	return result, cause
}

// GetRun retrieves a run.
func (s *Service) GetRun(ctx context.Context, runID string) (*domain.Run, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	if run == nil {
		return nil, fmt.Errorf("run %s: %w", runID, domain.ErrRunNotFound)
	}
	return run, nil
}

// ListRuns lists a project's runs, newest first.
func (s *Service) ListRuns(ctx context.Context, projectID string) ([]domain.Run, error) {
	return s.store.ListRuns(ctx, projectID)
}

// CancelRun requests cancellation of a run. An in-flight run stops at its
// next inter-stage checkpoint; committed stages stay committed. A run with
// no in-flight kickoff is marked FAILED directly unless already terminal.
func (s *Service) CancelRun(ctx context.Context, runID, reason string) error {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == domain.RunStatusCompleted || run.Status == domain.RunStatusFailed {
		return nil
	}

	if reason == "" {
		reason = "cancelled"
	}

	if h, ok := s.cancels.Load(runID); ok {
		h.(*cancelHandle).trip(reason)
		return nil
	}

	errData, _ := json.Marshal(map[string]string{"code": "cancelled", "message": reason})
	if err := s.store.UpdateRunStatus(ctx, runID, domain.RunStatusFailed, errData); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		// Lost the race with the kickoff goroutine; the run is terminal.
		log.Printf("WARN: cancel of run %s raced its completion: %v", runID, err)
	}
	return nil
}
