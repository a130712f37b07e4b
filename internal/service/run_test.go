package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finpilot/orchestrator/internal/adapter/vector"
	"github.com/finpilot/orchestrator/internal/config"
	"github.com/finpilot/orchestrator/internal/domain"
	"github.com/finpilot/orchestrator/internal/guard"
	"github.com/finpilot/orchestrator/internal/ledger"
	"github.com/finpilot/orchestrator/internal/stage"
	"github.com/finpilot/orchestrator/internal/store"
	"github.com/finpilot/orchestrator/policy"
)

func newService(t *testing.T, decider stage.Decider) (*Service, store.Store) {
	t.Helper()

	st, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	engine, err := policy.NewEngine(context.Background(), policy.DefaultPolicy)
	require.NoError(t, err)
	g := guard.New(engine)

	memory := ledger.NewMemoryStore(st, g, vector.NewMockClient(), 3)
	compliance := ledger.NewComplianceLedger(st, g, 3)
	payments := ledger.NewPaymentLedger(st, g, compliance, 3)
	profiles := ledger.NewProfileRegistry(st, g, 3)

	svc := New(st, memory, compliance, payments, profiles, stage.NewExecutor(decider), &config.Config{})
	return svc, st
}

func TestKickoffHappyPath(t *testing.T) {
	svc, st := newService(t, stage.NewSimulatedDecider())
	ctx := context.Background()

	result, err := svc.Kickoff(ctx, "proj_1", map[string]any{"query": "BTC/USD"})
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, result.Status)
	assert.Len(t, result.MemoryIDs, 3)
	assert.NotEmpty(t, result.ComplianceEventID)
	assert.NotEmpty(t, result.RequestID)

	run, err := svc.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)

	// Analyst memory carries the stage output verbatim.
	entries, _, err := st.ListMemoryEntries(ctx, store.MemoryFilter{RunID: result.RunID}, store.Page{Limit: 10, Ascending: true})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "market_analysis", entries[0].MemoryType)
	var analystContent map[string]any
	require.NoError(t, json.Unmarshal([]byte(entries[0].Content), &analystContent))
	assert.Equal(t, 0.95, analystContent["quality_score"])
	assert.Equal(t, "compliance_check", entries[1].MemoryType)
	assert.Equal(t, "transaction_execution", entries[2].MemoryType)

	events, err := st.ListComplianceEvents(ctx, result.RunID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.OutcomePass, events[0].Outcome)
	assert.Equal(t, 0.15, events[0].RiskScore)

	requests, err := st.ListPaymentRequests(ctx, result.RunID)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, domain.PaymentStatusPending, requests[0].Status)
	assert.Equal(t, "10.00", requests[0].Amount)
	assert.Equal(t, "USDC", requests[0].Currency)
	assert.Len(t, requests[0].LinkedMemoryIDs, 2)
	assert.Len(t, requests[0].LinkedComplianceIDs, 1)
	assert.Equal(t, []string{events[0].EventID}, requests[0].LinkedComplianceIDs)
}

func TestKickoffComplianceFailure(t *testing.T) {
	svc, st := newService(t, &stage.SimulatedDecider{QualityScore: 0.95, RiskScore: 0.9})
	ctx := context.Background()

	result, err := svc.Kickoff(ctx, "proj_1", map[string]any{"query": "BTC/USD"})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrComplianceCheckFailed)
	require.NotNil(t, result)
	assert.Equal(t, domain.RunStatusFailed, result.Status)
	assert.Empty(t, result.RequestID)
	assert.Nil(t, result.TransactionOutput)

	// Partial records survive the failure: two memories, one FAIL event,
	// no payment artifact at all.
	entries, total, err := st.ListMemoryEntries(ctx, store.MemoryFilter{RunID: result.RunID}, store.Page{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Len(t, entries, 2)

	events, err := st.ListComplianceEvents(ctx, result.RunID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.OutcomeFail, events[0].Outcome)

	requests, err := st.ListPaymentRequests(ctx, result.RunID)
	require.NoError(t, err)
	assert.Empty(t, requests)

	run, err := svc.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Contains(t, string(run.Error), "compliance_check_failed")
}

func TestKickoffHonorsProvidedRunID(t *testing.T) {
	svc, _ := newService(t, stage.NewSimulatedDecider())

	result, err := svc.Kickoff(context.Background(), "proj_1", map[string]any{"run_id": "run_deadbeef00000001"})
	require.NoError(t, err)
	assert.Equal(t, "run_deadbeef00000001", result.RunID)
}

func TestKickoffRequiresProject(t *testing.T) {
	svc, _ := newService(t, stage.NewSimulatedDecider())

	_, err := svc.Kickoff(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestCancelRunUnknown(t *testing.T) {
	svc, _ := newService(t, stage.NewSimulatedDecider())

	err := svc.CancelRun(context.Background(), "run_missing", "operator request")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

// holdingDecider blocks the analyst stage until released so a test can act
// while the kickoff is in flight.
type holdingDecider struct {
	inner   stage.Decider
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newHoldingDecider() *holdingDecider {
	return &holdingDecider{
		inner:   stage.NewSimulatedDecider(),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (d *holdingDecider) Decide(ctx context.Context, s domain.Stage, input map[string]any) (*domain.StageOutput, error) {
	if s == domain.StageAnalyst {
		d.once.Do(func() { close(d.started) })
		<-d.release
	}
	return d.inner.Decide(ctx, s, input)
}

func TestCancelInFlightRunStopsAtCheckpoint(t *testing.T) {
	decider := newHoldingDecider()
	svc, st := newService(t, decider)
	ctx := context.Background()
	runID := "run_cafe000000000001"

	var (
		result *domain.RunResult
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		result, runErr = svc.Kickoff(ctx, "proj_1", map[string]any{"run_id": runID, "query": "BTC/USD"})
	}()

	// Cancel lands mid-stage; the stage itself runs to completion and the
	// run stops at the checkpoint after it.
	<-decider.started
	require.NoError(t, svc.CancelRun(ctx, runID, "operator request"))
	close(decider.release)
	<-done

	require.Error(t, runErr)
	assert.ErrorIs(t, runErr, domain.ErrRunCancelled)
	require.NotNil(t, result)
	assert.Equal(t, domain.RunStatusFailed, result.Status)

	// The committed analyst stage survives; nothing downstream was written.
	assert.Len(t, result.MemoryIDs, 1)
	entries, total, err := st.ListMemoryEntries(ctx, store.MemoryFilter{RunID: runID}, store.Page{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "market_analysis", entries[0].MemoryType)

	events, err := st.ListComplianceEvents(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, events)
	requests, err := st.ListPaymentRequests(ctx, runID)
	require.NoError(t, err)
	assert.Empty(t, requests)

	run, err := svc.GetRun(ctx, runID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, run.Status)
	assert.Contains(t, string(run.Error), "operator request")
}

func TestCancelCompletedRunIsNoOp(t *testing.T) {
	svc, _ := newService(t, stage.NewSimulatedDecider())
	ctx := context.Background()

	result, err := svc.Kickoff(ctx, "proj_1", map[string]any{"query": "BTC/USD"})
	require.NoError(t, err)

	require.NoError(t, svc.CancelRun(ctx, result.RunID, "too late"))

	run, err := svc.GetRun(ctx, result.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
}

func TestCancelPendingRunMarksFailed(t *testing.T) {
	svc, st := newService(t, stage.NewSimulatedDecider())
	ctx := context.Background()

	run := &domain.Run{
		RunID:     domain.NewRunID(),
		ProjectID: "proj_1",
		AgentID:   "agent_00000001",
		Status:    domain.RunStatusPending,
		StartedAt: domain.Now(),
	}
	require.NoError(t, st.CreateRun(ctx, run))

	require.NoError(t, svc.CancelRun(ctx, run.RunID, "operator request"))

	got, err := svc.GetRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.Contains(t, string(got.Error), "operator request")
}

func TestRunsShareProfilesPerProject(t *testing.T) {
	svc, st := newService(t, stage.NewSimulatedDecider())
	ctx := context.Background()

	first, err := svc.Kickoff(ctx, "proj_1", map[string]any{"query": "BTC/USD"})
	require.NoError(t, err)
	second, err := svc.Kickoff(ctx, "proj_1", map[string]any{"query": "ETH/USD"})
	require.NoError(t, err)
	assert.NotEqual(t, first.RunID, second.RunID)

	profiles, err := st.ListAgentProfiles(ctx, "proj_1")
	require.NoError(t, err)
	assert.Len(t, profiles, 3)

	runs, err := svc.ListRuns(ctx, "proj_1")
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}
