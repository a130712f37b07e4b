package vector

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MockClient is an in-memory deterministic implementation of SearchClient.
// Similarity is naive token overlap, which is stable across calls.
type MockClient struct {
	mu   sync.RWMutex
	docs map[string][]doc // keyed by namespace
}

type doc struct {
	memoryID string
	content  string
	metadata map[string]string
}

// NewMockClient creates a new mock vector client.
func NewMockClient() *MockClient {
	return &MockClient{docs: make(map[string][]doc)}
}

// Ensure MockClient implements SearchClient interface.
var _ SearchClient = (*MockClient)(nil)

// Index stores the document in memory.
func (m *MockClient) Index(ctx context.Context, memoryID, namespace, content string, metadata map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[namespace] = append(m.docs[namespace], doc{memoryID: memoryID, content: content, metadata: metadata})
	return nil
}

// EmbedAndSearch ranks namespace documents by token overlap with the query.
func (m *MockClient) EmbedAndSearch(ctx context.Context, query, namespace string, topK int) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	queryTokens := tokenize(query)
	var hits []Hit
	for _, d := range m.docs[namespace] {
		score := overlap(queryTokens, tokenize(d.content))
		if score > 0 {
			hits = append(hits, Hit{MemoryID: d.memoryID, Similarity: score, Metadata: d.metadata})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].MemoryID < hits[j].MemoryID
	})

	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, t := range strings.Fields(strings.ToLower(s)) {
		tokens[strings.Trim(t, ".,;:!?\"'()")] = true
	}
	return tokens
}

func overlap(a, b map[string]bool) float64 {
	if len(a) == 0 {
		return 0
	}
	matched := 0
	for t := range a {
		if b[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(a))
}
