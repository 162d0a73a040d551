// Package embedding provides text embedding providers and the
// content-addressed cache that fronts them.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"sahayak/internal/domain"
)

// classifyStatus maps an HTTP status to retryability: 5xx and 429 are
// transient, everything else in the 4xx range is the caller's fault.
func classifyStatus(status int) bool {
	return status >= 500 || status == http.StatusTooManyRequests
}

// --- OpenAI-compatible provider ---

// OpenAIEmbedder calls any OpenAI-compatible embeddings endpoint.
type OpenAIEmbedder struct {
	apiBase string
	apiKey  string
	model   string
	dims    int
	client  *http.Client
	logger  *slog.Logger
}

// OpenAIEmbedderConfig configures an OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	APIBase string
	APIKey  string
	Model   string
	Dims    int
	Client  *http.Client
	Logger  *slog.Logger
}

func NewOpenAIEmbedder(cfg OpenAIEmbedderConfig) *OpenAIEmbedder {
	if cfg.APIBase == "" {
		cfg.APIBase = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.Dims <= 0 {
		cfg.Dims = 1536
	}
	if cfg.Client == nil {
		cfg.Client = http.DefaultClient
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OpenAIEmbedder{
		apiBase: cfg.APIBase,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		dims:    cfg.Dims,
		client:  cfg.Client,
		logger:  cfg.Logger,
	}
}

type openaiEmbedRequest struct {
	Input string `json:"input"`
	Model string `json:"model"`
}

type openaiEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(openaiEmbedRequest{Input: text, Model: e.model})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiBase+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, &domain.ProviderError{Provider: "openai-embed", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Provider: "openai-embed", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, &domain.ProviderError{
			Provider:  "openai-embed",
			Status:    resp.StatusCode,
			Retryable: classifyStatus(resp.StatusCode),
			Err:       fmt.Errorf("%s", string(b)),
		}
	}

	var result openaiEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &domain.ProviderError{Provider: "openai-embed", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(result.Data) == 0 {
		return nil, &domain.ProviderError{Provider: "openai-embed", Err: fmt.Errorf("no embedding returned")}
	}
	return result.Data[0].Embedding, nil
}

func (e *OpenAIEmbedder) Dims() int { return e.dims }

// --- Ollama provider ---

// OllamaEmbedder uses a local Ollama instance for embeddings.
type OllamaEmbedder struct {
	apiBase string
	model   string
	dims    int
	client  *http.Client
}

// NewOllamaEmbedder creates an embedder against Ollama's embeddings API.
// Known models: nomic-embed-text (768 dims), all-minilm (384 dims).
func NewOllamaEmbedder(apiBase, model string, client *http.Client) *OllamaEmbedder {
	if apiBase == "" {
		apiBase = "http://localhost:11434"
	}
	if model == "" {
		model = "nomic-embed-text"
	}
	dims := 768
	if model == "all-minilm" {
		dims = 384
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &OllamaEmbedder{apiBase: apiBase, model: model, dims: dims, client: client}
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	body, _ := json.Marshal(ollamaEmbedRequest{Model: e.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiBase+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, &domain.ProviderError{Provider: "ollama-embed", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &domain.ProviderError{Provider: "ollama-embed", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, &domain.ProviderError{
			Provider:  "ollama-embed",
			Status:    resp.StatusCode,
			Retryable: classifyStatus(resp.StatusCode),
			Err:       fmt.Errorf("%s", string(b)),
		}
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &domain.ProviderError{Provider: "ollama-embed", Err: fmt.Errorf("decode response: %w", err)}
	}
	return result.Embedding, nil
}

func (e *OllamaEmbedder) Dims() int { return e.dims }
