package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/engramhq/engram/internal/llm"
)

// RemoteConfig configures an HTTP-backed embedding provider (e.g. an
// OpenAI-compatible embeddings endpoint).
type RemoteConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int

	// RequestsPerSecond bounds outbound call rate; Burst allows short
	// spikes above that steady rate.
	RequestsPerSecond float64
	Burst             int

	HTTPClient *http.Client
}

// RemoteEmbedder calls an HTTP embeddings endpoint, guarded by a rate
// limiter and a circuit breaker so a struggling upstream degrades the
// enrichment pipeline instead of cascading failures through it.
type RemoteEmbedder struct {
	cfg     RemoteConfig
	client  *http.Client
	limiter *rate.Limiter
	breaker *llm.CircuitBreaker
}

// NewRemoteEmbedder constructs a RemoteEmbedder from cfg, applying sane
// defaults for any zero-valued fields.
func NewRemoteEmbedder(cfg RemoteConfig) *RemoteEmbedder {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1536
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 5
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &RemoteEmbedder{
		cfg:     cfg,
		client:  cfg.HTTPClient,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: llm.NewCircuitBreaker(),
	}
}

func (r *RemoteEmbedder) Dimensions() int   { return r.cfg.Dimensions }
func (r *RemoteEmbedder) ModelName() string { return r.cfg.Model }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// Embed embeds a single text by delegating to EmbedBatch.
func (r *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := r.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch sends all texts to the remote endpoint in one request, rate
// limited and circuit-broken. A tripped breaker or limiter wait-cancel
// surfaces immediately without hitting the network.
func (r *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit wait: %w", err)
	}

	result, err := r.breaker.Execute(ctx, func() (interface{}, error) {
		return r.doRequest(ctx, texts)
	})
	if err != nil {
		return nil, err
	}
	return result.([][]float32), nil
}

func (r *RemoteEmbedder) doRequest(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embedRequest{Model: r.cfg.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed endpoint returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}

	out := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

var _ Embedder = (*RemoteEmbedder)(nil)
