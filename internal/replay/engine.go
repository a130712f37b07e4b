// Package replay reconstructs a run's full ordered history from the audit
// ledgers alone, without consulting the orchestrator. Validation problems
// are reported in the bundle, never raised, so replay stays usable for
// diagnosing broken runs.
package replay

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/finpilot/orchestrator/internal/domain"
	"github.com/finpilot/orchestrator/internal/ledger"
	"github.com/finpilot/orchestrator/internal/store"
)

// familyRank fixes the tie-break order for records sharing a timestamp:
// memory before compliance event before payment request.
var familyRank = map[domain.RecordFamily]int{
	domain.FamilyMemoryEntry:     0,
	domain.FamilyComplianceEvent: 1,
	domain.FamilyPaymentRequest:  2,
}

// Engine rebuilds run timelines from ledger data.
type Engine struct {
	store      store.Store
	memory     *ledger.MemoryStore
	compliance *ledger.ComplianceLedger
	payments   *ledger.PaymentLedger
	profiles   *ledger.ProfileRegistry
}

// NewEngine creates a replay engine over the given ledgers.
func NewEngine(st store.Store, memory *ledger.MemoryStore, compliance *ledger.ComplianceLedger,
	payments *ledger.PaymentLedger, profiles *ledger.ProfileRegistry) *Engine {
	return &Engine{store: st, memory: memory, compliance: compliance, payments: payments, profiles: profiles}
}

// GetReplay reconstructs the run's history. Repeated calls against
// unchanged ledgers return identical bundles, ordering included.
func (e *Engine) GetReplay(ctx context.Context, projectID, runID string) (*domain.ReplayBundle, error) {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if run == nil || run.ProjectID != projectID {
		return nil, fmt.Errorf("run %s in project %s: %w", runID, projectID, domain.ErrRunNotFound)
	}

	bundle := &domain.ReplayBundle{
		Run: run,
		Validation: domain.ReplayValidation{
			AllRecordsPresent:          true,
			ChronologicalOrderVerified: true,
			Counts:                     map[string]int{},
			Issues:                     []string{},
		},
	}

	profile, err := e.profiles.Get(ctx, run.AgentID)
	switch {
	case err == nil:
		bundle.AgentProfile = profile
		bundle.Validation.AgentProfileFound = true
	case errors.Is(err, domain.ErrProfileNotFound):
		// A missing profile degrades the validation report, never the replay.
		bundle.Validation.Issues = append(bundle.Validation.Issues,
			fmt.Sprintf("agent profile %s not found", run.AgentID))
	default:
		return nil, fmt.Errorf("failed to load agent profile: %w", err)
	}

	memories, _, err := e.memory.List(ctx, store.MemoryFilter{RunID: runID}, store.Page{Ascending: true})
	if err != nil {
		return nil, fmt.Errorf("failed to load memory entries: %w", err)
	}
	events, err := e.compliance.ListEvents(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load compliance events: %w", err)
	}
	requests, err := e.payments.ListRequests(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment requests: %w", err)
	}

	bundle.MemoryEntries = memories
	bundle.ComplianceEvents = events
	bundle.PaymentRequests = requests
	bundle.Validation.Counts["memory_entries"] = len(memories)
	bundle.Validation.Counts["compliance_events"] = len(events)
	bundle.Validation.Counts["payment_requests"] = len(requests)

	bundle.Timeline = merge(memories, events, requests)
	e.validate(bundle)
	return bundle, nil
}

// merge builds the single ordered timeline: stable sort by timestamp, then
// family rank, then original write sequence.
func merge(memories []domain.MemoryEntry, events []domain.ComplianceEvent, requests []domain.PaymentRequest) []domain.ReplayRecord {
	type keyed struct {
		rec domain.ReplayRecord
		seq int64
	}
	records := make([]keyed, 0, len(memories)+len(events)+len(requests))

	for i := range memories {
		m := memories[i]
		records = append(records, keyed{
			rec: domain.ReplayRecord{Family: domain.FamilyMemoryEntry, RecordID: m.MemoryID, Timestamp: m.Timestamp, Record: m},
			seq: m.Seq,
		})
	}
	for i := range events {
		ev := events[i]
		records = append(records, keyed{
			rec: domain.ReplayRecord{Family: domain.FamilyComplianceEvent, RecordID: ev.EventID, Timestamp: ev.Timestamp, Record: ev},
			seq: ev.Seq,
		})
	}
	for i := range requests {
		r := requests[i]
		records = append(records, keyed{
			rec: domain.ReplayRecord{Family: domain.FamilyPaymentRequest, RecordID: r.RequestID, Timestamp: r.Timestamp, Record: r},
			seq: r.Seq,
		})
	}

	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.rec.Timestamp.Equal(b.rec.Timestamp) {
			return a.rec.Timestamp.Before(b.rec.Timestamp)
		}
		if familyRank[a.rec.Family] != familyRank[b.rec.Family] {
			return familyRank[a.rec.Family] < familyRank[b.rec.Family]
		}
		return a.seq < b.seq
	})

	timeline := make([]domain.ReplayRecord, len(records))
	for i, k := range records {
		timeline[i] = k.rec
	}
	return timeline
}

// validate checks internal consistency and flags problems without failing.
func (e *Engine) validate(bundle *domain.ReplayBundle) {
	v := &bundle.Validation

	for i := 1; i < len(bundle.Timeline); i++ {
		if bundle.Timeline[i].Timestamp.Before(bundle.Timeline[i-1].Timestamp) {
			v.ChronologicalOrderVerified = false
			v.Issues = append(v.Issues, fmt.Sprintf("timeline out of order at position %d", i))
			break
		}
	}

	memoryIDs := make(map[string]bool, len(bundle.MemoryEntries))
	for _, m := range bundle.MemoryEntries {
		memoryIDs[m.MemoryID] = true
		if m.RunID != bundle.Run.RunID {
			v.AllRecordsPresent = false
			v.Issues = append(v.Issues, fmt.Sprintf("memory %s belongs to run %s", m.MemoryID, m.RunID))
		}
	}
	eventIDs := make(map[string]bool, len(bundle.ComplianceEvents))
	var passAt *domain.ComplianceEvent
	for i := range bundle.ComplianceEvents {
		ev := bundle.ComplianceEvents[i]
		eventIDs[ev.EventID] = true
		if ev.Outcome == domain.OutcomePass && passAt == nil {
			passAt = &bundle.ComplianceEvents[i]
		}
	}

	for _, r := range bundle.PaymentRequests {
		if passAt == nil {
			v.AllRecordsPresent = false
			v.Issues = append(v.Issues, fmt.Sprintf("payment %s exists without a PASS compliance event", r.RequestID))
		} else if r.Timestamp.Before(passAt.Timestamp) {
			v.ChronologicalOrderVerified = false
			v.Issues = append(v.Issues, fmt.Sprintf("payment %s precedes its PASS compliance event", r.RequestID))
		}
		for _, id := range r.LinkedMemoryIDs {
			if !memoryIDs[id] {
				v.AllRecordsPresent = false
				v.Issues = append(v.Issues, fmt.Sprintf("payment %s links missing memory %s", r.RequestID, id))
			}
		}
		for _, id := range r.LinkedComplianceIDs {
			if !eventIDs[id] {
				v.AllRecordsPresent = false
				v.Issues = append(v.Issues, fmt.Sprintf("payment %s links missing compliance event %s", r.RequestID, id))
			}
		}
	}
}
