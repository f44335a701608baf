// Package embed generates payload vectors for similarity search. Embedding is
// best-effort: every caller must tolerate ErrDisabled and transient failures,
// since memory durability never waits on an embedding server.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrDisabled is returned by the none provider. Callers treat it as "store
// without a vector", not as a failure.
var ErrDisabled = errors.New("embedding disabled")

// Embedder converts text into a fixed-length vector.
type Embedder interface {
	// Embed returns the vector for text. The vector length equals
	// Dimensions() on success.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the expected vector length.
	Dimensions() int
}

// Disabled is the none provider: every Embed call returns ErrDisabled.
type Disabled struct{}

func (Disabled) Embed(context.Context, string) ([]float32, error) { return nil, ErrDisabled }
func (Disabled) Dimensions() int                                  { return 0 }

// Ollama calls a local Ollama server's /api/embeddings endpoint.
type Ollama struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

// NewOllama builds an Ollama embedder. timeout bounds each HTTP call.
func NewOllama(baseURL, model string, dims int, timeout time.Duration) *Ollama {
	return &Ollama{
		baseURL: baseURL,
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: timeout},
	}
}

func (o *Ollama) Dimensions() int { return o.dims }

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed requests a vector from the server, retrying once on transient
// failure. A vector whose length disagrees with the configured dimensions is
// an error; storing mixed-dimension vectors would poison cosine search.
func (o *Ollama) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
		}
		vec, err := o.embedOnce(ctx, text)
		if err == nil {
			return vec, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func (o *Ollama) embedOnce(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(ollamaRequest{Model: o.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call embedding server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding server returned %d: %s", resp.StatusCode, snippet)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(out.Embedding) == 0 {
		return nil, errors.New("embedding server returned empty vector")
	}
	if o.dims > 0 && len(out.Embedding) != o.dims {
		return nil, fmt.Errorf("embedding has %d dimensions, want %d", len(out.Embedding), o.dims)
	}
	return out.Embedding, nil
}
