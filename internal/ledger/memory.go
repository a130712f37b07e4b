package ledger

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/finpilot/orchestrator/internal/adapter/vector"
	"github.com/finpilot/orchestrator/internal/domain"
	"github.com/finpilot/orchestrator/internal/guard"
	"github.com/finpilot/orchestrator/internal/store"
)

// DefaultNamespace is used when the caller does not scope the entry.
const DefaultNamespace = "default"

// MemoryStore is the namespaced append-only record of what agents observed
// and decided.
type MemoryStore struct {
	store      store.Store
	guard      *guard.Guard
	search     vector.SearchClient
	maxRetries int
}

// NewMemoryStore creates a memory store.
func NewMemoryStore(st store.Store, g *guard.Guard, search vector.SearchClient, maxRetries int) *MemoryStore {
	return &MemoryStore{store: st, guard: g, search: search, maxRetries: maxRetries}
}

// StoreInput carries the caller-supplied fields of a new memory entry.
type StoreInput struct {
	ProjectID  string
	AgentID    string
	RunID      string
	TaskID     string
	MemoryType string
	Content    string
	Namespace  string
	Metadata   map[string]string
}

// Store appends a memory entry, generating its id and timestamp. The entry
// is indexed with the vector backend best-effort; indexing failure never
// fails the write.
func (m *MemoryStore) Store(ctx context.Context, in StoreInput) (*domain.MemoryEntry, error) {
	namespace := in.Namespace
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if strings.ContainsAny(namespace, " \t\n") {
		return nil, fmt.Errorf("namespace %q: %w", namespace, domain.ErrInvalidNamespace)
	}

	if err := m.guard.Authorize(ctx, domain.OpAppend, domain.FamilyMemoryEntry); err != nil {
		return nil, err
	}

	entry := &domain.MemoryEntry{
		MemoryID:   domain.NewMemoryID(),
		ProjectID:  in.ProjectID,
		RunID:      in.RunID,
		AgentID:    in.AgentID,
		TaskID:     in.TaskID,
		MemoryType: in.MemoryType,
		Content:    in.Content,
		Namespace:  namespace,
		Metadata:   in.Metadata,
		Timestamp:  domain.Now(),
	}

	err := appendWithRetry(ctx, m.maxRetries, func() error {
		return m.store.CreateMemoryEntry(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	if m.search != nil {
		if err := m.search.Index(ctx, entry.MemoryID, namespace, entry.Content, entry.Metadata); err != nil {
			log.Printf("WARN: failed to index memory %s: %v", entry.MemoryID, err)
		}
	}

	return entry, nil
}

// Get retrieves a memory entry by id.
func (m *MemoryStore) Get(ctx context.Context, memoryID string) (*domain.MemoryEntry, error) {
	if err := m.guard.Authorize(ctx, domain.OpRead, domain.FamilyMemoryEntry); err != nil {
		return nil, err
	}
	entry, err := m.store.GetMemoryEntry(ctx, memoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory entry: %w", err)
	}
	if entry == nil {
		return nil, fmt.Errorf("memory %s: %w", memoryID, domain.ErrMemoryNotFound)
	}
	return entry, nil
}

// List returns entries matching the filter with the total count. Default
// order is newest-first; replay asks for oldest-first via page.Ascending.
func (m *MemoryStore) List(ctx context.Context, filter store.MemoryFilter, page store.Page) ([]domain.MemoryEntry, int, error) {
	if err := m.guard.Authorize(ctx, domain.OpRead, domain.FamilyMemoryEntry); err != nil {
		return nil, 0, err
	}
	return m.store.ListMemoryEntries(ctx, filter, page)
}

// Search delegates similarity ranking to the vector backend, then hydrates
// full entries from storage. The namespace is a hard partition: the
// hydration query is itself namespace-scoped, so a stale or misbehaving
// backend can never leak another namespace's entries.
func (m *MemoryStore) Search(ctx context.Context, projectID, query, namespace string, topK int) ([]domain.MemoryEntry, error) {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := m.guard.Authorize(ctx, domain.OpRead, domain.FamilyMemoryEntry); err != nil {
		return nil, err
	}
	if m.search == nil {
		return nil, fmt.Errorf("vector backend not configured")
	}

	hits, err := m.search.EmbedAndSearch(ctx, query, namespace, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.MemoryID)
	}
	entries, _, err := m.store.ListMemoryEntries(ctx, store.MemoryFilter{
		ProjectID: projectID,
		Namespace: namespace,
		MemoryIDs: ids,
	}, store.Page{})
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate search results: %w", err)
	}

	byID := make(map[string]domain.MemoryEntry, len(entries))
	for _, e := range entries {
		byID[e.MemoryID] = e
	}

	// Preserve the backend's ranking.
	ranked := make([]domain.MemoryEntry, 0, len(hits))
	for _, h := range hits {
		if e, ok := byID[h.MemoryID]; ok {
			ranked = append(ranked, e)
		}
	}
	return ranked, nil
}

// Update is the mutation entry point. The guard rejects it before any
// business logic runs.
func (m *MemoryStore) Update(ctx context.Context, memoryID string) error {
	return m.guard.Authorize(ctx, domain.OpMutate, domain.FamilyMemoryEntry)
}

// Delete is the deletion entry point. The guard rejects it before any
// business logic runs.
func (m *MemoryStore) Delete(ctx context.Context, memoryID string) error {
	return m.guard.Authorize(ctx, domain.OpMutate, domain.FamilyMemoryEntry)
}
