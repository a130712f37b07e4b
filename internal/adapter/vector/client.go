// Package vector provides the client for the embedding/vector-similarity
// backend. Similarity computation lives in the backend; callers own
// namespace filtering and metadata hydration.
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Hit is one ranked search result.
type Hit struct {
	MemoryID   string            `json:"memory_id"`
	Similarity float64           `json:"similarity"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// SearchClient defines the interface for the vector backend.
type SearchClient interface {
	// Index registers a document for later similarity search.
	Index(ctx context.Context, memoryID, namespace, content string, metadata map[string]string) error

	// EmbedAndSearch embeds the query and returns ranked hits scoped to the
	// namespace.
	EmbedAndSearch(ctx context.Context, query, namespace string, topK int) ([]Hit, error)
}

// Client talks to the vector backend over JSON HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Ensure Client implements SearchClient interface.
var _ SearchClient = (*Client)(nil)

// NewClient creates a new vector backend client.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type indexRequest struct {
	MemoryID  string            `json:"memory_id"`
	Namespace string            `json:"namespace"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

type searchRequest struct {
	Query     string `json:"query"`
	Namespace string `json:"namespace"`
	TopK      int    `json:"top_k"`
}

type searchResponse struct {
	Hits []Hit `json:"hits"`
}

// Index registers a document with the backend.
func (c *Client) Index(ctx context.Context, memoryID, namespace, content string, metadata map[string]string) error {
	req := indexRequest{MemoryID: memoryID, Namespace: namespace, Content: content, Metadata: metadata}
	return c.post(ctx, "/v1/index", req, nil)
}

// EmbedAndSearch runs a similarity search scoped to the namespace.
func (c *Client) EmbedAndSearch(ctx context.Context, query, namespace string, topK int) ([]Hit, error) {
	req := searchRequest{Query: query, Namespace: namespace, TopK: topK}
	var resp searchResponse
	if err := c.post(ctx, "/v1/search", req, &resp); err != nil {
		return nil, err
	}
	return resp.Hits, nil
}

func (c *Client) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call vector backend: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("vector backend error (%d): %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}
	return nil
}
