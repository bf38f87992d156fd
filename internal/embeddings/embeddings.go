// Package embeddings provides the embedding-provider client used by
// semantic menu search, with an in-process TTL cache so repeated queries
// ("pizza", "بيتزا") don't re-embed on every turn.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Embedder turns text into a semantic vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

const (
	defaultCacheTTL = 15 * time.Minute
	embedPath       = "/v1/embeddings"
)

// Config configures the HTTP embedding client.
type Config struct {
	BaseURL  string
	APIKey   string
	Model    string
	CacheTTL time.Duration // 0 = 15 minutes.
}

// Client calls an OpenAI-compatible embeddings endpoint and caches results
// by normalized input text.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

type cacheEntry struct {
	vector  []float32
	expires time.Time
}

// Option configures the embedding client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates an embedding client.
func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaultCacheTTL
	}
	c := &Client{
		config:     cfg,
		httpClient: http.DefaultClient,
		logger:     logger,
		cache:      make(map[string]cacheEntry),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Embed returns the semantic vector for the given text, serving repeated
// queries from cache within the TTL.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	key := normalize(text)
	if key == "" {
		return nil, fmt.Errorf("empty embedding input")
	}

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok && c.now().Before(entry.expires) {
		vec := entry.vector
		c.mu.Unlock()
		return vec, nil
	}
	c.mu.Unlock()

	vec, err := c.fetch(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{vector: vec, expires: c.now().Add(c.config.CacheTTL)}
	c.mu.Unlock()

	return vec, nil
}

func (c *Client) fetch(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(apiRequest{Model: c.config.Model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+embedPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embedding API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var apiResp apiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if len(apiResp.Data) == 0 || len(apiResp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding API returned no vector")
	}

	c.logger.DebugContext(ctx, "embedding fetched",
		slog.String("model", c.config.Model),
		slog.Int("dims", len(apiResp.Data[0].Embedding)),
	)

	return apiResp.Data[0].Embedding, nil
}

// Sweep drops expired cache entries. Called by the maintenance scheduler.
func (c *Client) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.cache {
		if !now.Before(entry.expires) {
			delete(c.cache, key)
			removed++
		}
	}
	return removed
}

func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(s))), " ")
}

// Cosine returns the cosine similarity of two vectors, or 0 when the
// dimensions mismatch or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// --- wire types (unexported) ---

type apiRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type apiResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}
