// Package embedclient talks to an OpenAI-compatible embeddings endpoint and
// maintains a persisted, content-addressed cache of previously computed
// vectors so unchanged chunks never cost another API call.
package embedclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gcorroto/semantic-codebase-index/internal/codeerr"
)

// DefaultBatchSize is the largest number of items sent in a single
// embeddings request.
const DefaultBatchSize = 100

// InterBatchDelay is the minimum pause between consecutive batch calls.
const InterBatchDelay = 100 * time.Millisecond

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	BatchSize  int
	CachePath  string
	HTTPClient *http.Client
}

// Client embeds text against an OpenAI-compatible endpoint.
type Client struct {
	cfg    Config
	http   *http.Client
	cache  *Cache
	breaker *codeerr.CircuitBreaker
}

type apiRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type apiDatum struct {
	Embedding []float32 `json:"embedding"`
}

type apiUsage struct {
	PromptTokens int `json:"prompt_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

type apiResponse struct {
	Data  []apiDatum `json:"data"`
	Usage apiUsage   `json:"usage"`
}

// New constructs a Client, loading the persisted cache from cfg.CachePath.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, codeerr.Config("EMBEDDING_API_KEY is required", nil)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}

	cache, err := LoadCache(cfg.CachePath)
	if err != nil {
		return nil, err
	}

	return &Client{
		cfg:     cfg,
		http:    cfg.HTTPClient,
		cache:   cache,
		breaker: codeerr.NewCircuitBreaker("embeddings", 5, 30*time.Second),
	}, nil
}

// Embed returns the embedding vector for a single query string. It bypasses
// the cache and batching entirely, per the embed(query) contract.
func (c *Client) Embed(ctx context.Context, query string) ([]float32, error) {
	vectors, _, err := c.call(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds items in batches of at most cfg.BatchSize, pausing
// InterBatchDelay between API calls, consulting and updating the persisted
// cache, and flushing it at the end when opts.AutoSave is set.
//
// A batch call either fully succeeds or fully fails: there is no per-item
// retry, and a failing batch aborts the whole call without rolling back
// cache writes from batches that already succeeded.
func (c *Client) EmbedBatch(ctx context.Context, items []Item, opts BatchOptions) ([]Result, error) {
	results := make([]Result, len(items))

	for start := 0; start < len(items); start += c.cfg.BatchSize {
		end := start + c.cfg.BatchSize
		if end > len(items) {
			end = len(items)
		}
		batch := items[start:end]

		if err := c.embedOneBatch(ctx, batch, results[start:end]); err != nil {
			return nil, err
		}

		if end < len(items) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(InterBatchDelay):
			}
		}
	}

	if opts.AutoSave {
		if err := c.cache.Flush(); err != nil {
			return nil, err
		}
	}

	return results, nil
}

// SaveCache flushes any pending cache writes to disk.
func (c *Client) SaveCache() error {
	return c.cache.Flush()
}

func (c *Client) embedOneBatch(ctx context.Context, batch []Item, out []Result) error {
	misses := make([]Item, 0, len(batch))
	missIdx := make([]int, 0, len(batch))

	for i, item := range batch {
		if vec, ok := c.cache.Get(item.ChunkID, item.ContentHash, c.cfg.Model); ok {
			out[i] = Result{ChunkID: item.ChunkID, Vector: vec, Model: c.cfg.Model, Tokens: 0, Cached: true}
			continue
		}
		misses = append(misses, item)
		missIdx = append(missIdx, i)
	}

	if len(misses) == 0 {
		return nil
	}

	inputs := make([]string, len(misses))
	for i, item := range misses {
		inputs[i] = item.Content
	}

	vectors, tokens, err := c.call(ctx, inputs)
	if err != nil {
		return err
	}

	perItemTokens := 0
	if len(misses) > 0 {
		perItemTokens = tokens / len(misses)
	}

	for i, item := range misses {
		out[missIdx[i]] = Result{ChunkID: item.ChunkID, Vector: vectors[i], Model: c.cfg.Model, Tokens: perItemTokens}
		c.cache.Put(item.ChunkID, CacheEntry{
			ContentHash: item.ContentHash,
			Vector:      vectors[i],
			Model:       c.cfg.Model,
			SavedAt:     time.Now(),
		})
	}

	return nil
}

// call performs one HTTP request with the embedding client's retry policy
// (3 attempts, 1s/2s/4s backoff on 429/5xx) behind the circuit breaker.
func (c *Client) call(ctx context.Context, inputs []string) ([][]float32, int, error) {
	type callResult struct {
		vectors [][]float32
		tokens  int
	}

	var result callResult
	err := c.breaker.Execute(func() error {
		r, err := codeerr.RetryWithResult(ctx, codeerr.EmbeddingRetryConfig(), isRetryableHTTPError, func() (callResult, error) {
			vectors, tokens, err := c.doCall(ctx, inputs)
			return callResult{vectors, tokens}, err
		})
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return result.vectors, result.tokens, nil
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("embeddings request failed with status %d: %s", e.status, e.body)
}

// isRetryableHTTPError decides retry eligibility from the codeerr.Kind
// doCall classified the failure as: RateLimit and TransientRemote (429 and
// 5xx) retry, everything else aborts immediately.
func isRetryableHTTPError(err error) bool {
	return codeerr.IsRetryable(err)
}

func (c *Client) doCall(ctx context.Context, inputs []string) ([][]float32, int, error) {
	reqBody := apiRequest{Model: c.cfg.Model, Input: inputs, Dimensions: c.cfg.Dimensions}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, 0, codeerr.Embedding("marshal embeddings request", err)
	}

	url := c.cfg.BaseURL + "/embeddings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, codeerr.Embedding("build embeddings request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, codeerr.TransientRemote("embeddings request", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		statusErr := &httpStatusError{status: resp.StatusCode, body: string(respBody)}
		if resp.StatusCode == http.StatusTooManyRequests {
			return nil, 0, codeerr.RateLimit(statusErr.Error(), statusErr)
		}
		if resp.StatusCode >= 500 {
			return nil, 0, codeerr.TransientRemote(statusErr.Error(), statusErr)
		}
		return nil, 0, codeerr.Embedding(statusErr.Error(), statusErr)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, 0, codeerr.Embedding("decode embeddings response", err)
	}
	if len(apiResp.Data) != len(inputs) {
		return nil, 0, codeerr.Embedding(fmt.Sprintf("expected %d embeddings, got %d", len(inputs), len(apiResp.Data)), nil)
	}

	vectors := make([][]float32, len(apiResp.Data))
	for i, d := range apiResp.Data {
		vectors[i] = d.Embedding
	}
	return vectors, apiResp.Usage.TotalTokens, nil
}

// ContentHash computes the content-address used as the cache key's
// companion field: a renamed chunk with identical content still hits.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
