package store

import (
	"context"
	"testing"
	"time"

	"github.com/finpilot/orchestrator/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteStoreRunLifecycle(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	run := &domain.Run{
		RunID:     "run_1",
		ProjectID: "p1",
		AgentID:   "agent_a",
		Status:    domain.RunStatusPending,
		StartedAt: domain.Now(),
	}
	if err := store.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	if err := store.UpdateRunStatus(ctx, "run_1", domain.RunStatusRunning, nil); err != nil {
		t.Fatalf("UpdateRunStatus failed: %v", err)
	}

	if err := store.UpdateRunStatus(ctx, "run_1", domain.RunStatusFailed, []byte(`{"code":"boom"}`)); err != nil {
		t.Fatalf("UpdateRunStatus to FAILED failed: %v", err)
	}

	got, err := store.GetRun(ctx, "run_1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got == nil || got.Status != domain.RunStatusFailed {
		t.Fatalf("unexpected run: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at on terminal run")
	}

	// A terminal run is never rewritten.
	if err := store.UpdateRunStatus(ctx, "run_1", domain.RunStatusCompleted, nil); err == nil {
		t.Fatal("expected error updating a terminal run")
	}
}

func TestSQLiteStoreGetRunMissing(t *testing.T) {
	store := newTestStore(t)
	run, err := store.GetRun(context.Background(), "run_missing")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run != nil {
		t.Fatalf("expected nil run, got %+v", run)
	}
}

func TestSQLiteStoreMemoryFiltersAndPagination(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := domain.Now()
	entries := []domain.MemoryEntry{
		{MemoryID: "mem_1", ProjectID: "p1", RunID: "run_1", AgentID: "a1", MemoryType: "analysis", Content: "first", Namespace: "default", Timestamp: base},
		{MemoryID: "mem_2", ProjectID: "p1", RunID: "run_1", AgentID: "a1", MemoryType: "analysis", Content: "second", Namespace: "default", Timestamp: base.Add(time.Millisecond)},
		{MemoryID: "mem_3", ProjectID: "p1", RunID: "run_2", AgentID: "a2", MemoryType: "check", Content: "other run", Namespace: "default", Timestamp: base.Add(2 * time.Millisecond)},
		{MemoryID: "mem_4", ProjectID: "p1", RunID: "run_1", AgentID: "a1", MemoryType: "analysis", Content: "isolated", Namespace: "alt", Timestamp: base.Add(3 * time.Millisecond)},
	}
	for i := range entries {
		if err := store.CreateMemoryEntry(ctx, &entries[i]); err != nil {
			t.Fatalf("CreateMemoryEntry failed: %v", err)
		}
	}

	// Namespace is a hard partition.
	got, total, err := store.ListMemoryEntries(ctx, MemoryFilter{ProjectID: "p1", Namespace: "default"}, Page{})
	if err != nil {
		t.Fatalf("ListMemoryEntries failed: %v", err)
	}
	if total != 3 || len(got) != 3 {
		t.Fatalf("expected 3 default-namespace entries, got %d (total %d)", len(got), total)
	}
	for _, e := range got {
		if e.Namespace != "default" {
			t.Fatalf("namespace leak: %+v", e)
		}
	}

	// Default order is newest-first.
	if got[0].MemoryID != "mem_3" {
		t.Fatalf("expected newest first, got %s", got[0].MemoryID)
	}

	// Replay asks for oldest-first.
	asc, _, err := store.ListMemoryEntries(ctx, MemoryFilter{RunID: "run_1", Namespace: "default"}, Page{Ascending: true})
	if err != nil {
		t.Fatalf("ListMemoryEntries asc failed: %v", err)
	}
	if len(asc) != 2 || asc[0].MemoryID != "mem_1" || asc[1].MemoryID != "mem_2" {
		t.Fatalf("unexpected ascending order: %+v", asc)
	}

	// Pagination keeps the total.
	page, total, err := store.ListMemoryEntries(ctx, MemoryFilter{ProjectID: "p1", Namespace: "default"}, Page{Limit: 2})
	if err != nil {
		t.Fatalf("ListMemoryEntries paged failed: %v", err)
	}
	if len(page) != 2 || total != 3 {
		t.Fatalf("expected page of 2 with total 3, got %d/%d", len(page), total)
	}

	// ID-set filter used by search hydration.
	byID, _, err := store.ListMemoryEntries(ctx, MemoryFilter{Namespace: "default", MemoryIDs: []string{"mem_2", "mem_4"}}, Page{})
	if err != nil {
		t.Fatalf("ListMemoryEntries by ids failed: %v", err)
	}
	if len(byID) != 1 || byID[0].MemoryID != "mem_2" {
		t.Fatalf("expected only mem_2 (mem_4 is another namespace), got %+v", byID)
	}
}

func TestSQLiteStoreMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	entry := &domain.MemoryEntry{
		MemoryID:   "mem_rt",
		ProjectID:  "p1",
		RunID:      "run_1",
		AgentID:    "a1",
		TaskID:     "t1",
		MemoryType: "analysis",
		Content:    `{"quality_score":0.95}`,
		Namespace:  "default",
		Metadata:   map[string]string{"stage": "analyst"},
		Timestamp:  domain.Now(),
	}
	if err := store.CreateMemoryEntry(ctx, entry); err != nil {
		t.Fatalf("CreateMemoryEntry failed: %v", err)
	}

	got, err := store.GetMemoryEntry(ctx, "mem_rt")
	if err != nil {
		t.Fatalf("GetMemoryEntry failed: %v", err)
	}
	if got.Content != entry.Content || got.Namespace != entry.Namespace || got.TaskID != entry.TaskID {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Metadata["stage"] != "analyst" {
		t.Fatalf("metadata mismatch: %+v", got.Metadata)
	}
	if !got.Timestamp.Equal(entry.Timestamp) {
		t.Fatalf("timestamp mismatch: %v != %v", got.Timestamp, entry.Timestamp)
	}
}

func TestSQLiteStoreDuplicateInsertConflicts(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	entry := &domain.MemoryEntry{
		MemoryID: "mem_dup", ProjectID: "p1", RunID: "run_1", AgentID: "a1",
		MemoryType: "analysis", Content: "x", Namespace: "default", Timestamp: domain.Now(),
	}
	if err := store.CreateMemoryEntry(ctx, entry); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	err := store.CreateMemoryEntry(ctx, entry)
	if err == nil {
		t.Fatal("expected conflict on duplicate id")
	}
	if !IsConflict(err) {
		t.Fatalf("expected conflict error, got: %v", err)
	}
}

func TestSQLiteStoreComplianceEventsChronological(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := domain.Now()
	for i, id := range []string{"evt_b", "evt_a"} {
		ev := &domain.ComplianceEvent{
			EventID: id, ProjectID: "p1", RunID: "run_1", AgentID: "a1",
			EventType: "review", Outcome: domain.OutcomePass, RiskScore: 0.1,
			Timestamp: base.Add(time.Duration(1-i) * time.Millisecond),
		}
		if err := store.CreateComplianceEvent(ctx, ev); err != nil {
			t.Fatalf("CreateComplianceEvent failed: %v", err)
		}
	}

	events, err := store.ListComplianceEvents(ctx, "run_1")
	if err != nil {
		t.Fatalf("ListComplianceEvents failed: %v", err)
	}
	if len(events) != 2 || events[0].EventID != "evt_a" || events[1].EventID != "evt_b" {
		t.Fatalf("expected chronological order, got %+v", events)
	}
}

func TestSQLiteStorePaymentSnapshots(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	base := domain.Now()
	pending := &domain.PaymentRequest{
		RequestID: "x402_req_1", ProjectID: "p1", RunID: "run_1", AgentID: "a1",
		TaskID: "t1", RequestType: "x402_payment", Amount: "10.00", Currency: "USDC",
		Status:          domain.PaymentStatusPending,
		LinkedMemoryIDs: []string{"mem_1", "mem_2"}, LinkedComplianceIDs: []string{"evt_1"},
		Timestamp: base,
	}
	if err := store.CreatePaymentRequest(ctx, pending); err != nil {
		t.Fatalf("CreatePaymentRequest failed: %v", err)
	}

	completed := *pending
	completed.Status = domain.PaymentStatusCompleted
	completed.Timestamp = base.Add(time.Millisecond)
	if err := store.CreatePaymentRequest(ctx, &completed); err != nil {
		t.Fatalf("snapshot insert failed: %v", err)
	}

	// Current status is the latest snapshot.
	got, err := store.GetPaymentRequest(ctx, "x402_req_1")
	if err != nil {
		t.Fatalf("GetPaymentRequest failed: %v", err)
	}
	if got.Status != domain.PaymentStatusCompleted {
		t.Fatalf("expected latest snapshot, got %s", got.Status)
	}
	if len(got.LinkedMemoryIDs) != 2 || len(got.LinkedComplianceIDs) != 1 {
		t.Fatalf("linked ids lost in round trip: %+v", got)
	}

	all, err := store.ListPaymentRequests(ctx, "run_1")
	if err != nil {
		t.Fatalf("ListPaymentRequests failed: %v", err)
	}
	if len(all) != 2 || all[0].Status != domain.PaymentStatusPending {
		t.Fatalf("expected both snapshots chronologically, got %+v", all)
	}
}
