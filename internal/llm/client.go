// Package llm provides LLM generation via the Ollama API and the prompt
// assembly used by the conversation pipeline.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// SamplingConfig holds the generation options applied to every request.
type SamplingConfig struct {
	Temperature float32
	MaxTokens   int // response length cap, kept short for voice output
	ContextSize int // model context window
}

// DefaultSampling returns options tuned for short spoken responses.
func DefaultSampling() SamplingConfig {
	return SamplingConfig{
		Temperature: 0.7,
		MaxTokens:   150,
		ContextSize: 1024,
	}
}

// Client is an Ollama API client that generates completions for raw,
// marker-templated prompts. It holds no conversation state; history belongs
// to the session orchestrator.
type Client struct {
	client   *api.Client
	model    string
	sampling SamplingConfig
	verbose  bool
}

// Config holds LLM client configuration.
type Config struct {
	Host     string
	Model    string
	Sampling SamplingConfig
	Verbose  bool
}

// NewClient creates a new Ollama client with optimized connection pooling.
// The HTTP client is configured for low-latency repeated requests to local LLM.
func NewClient(cfg *Config) (*Client, error) {
	host := strings.TrimSuffix(cfg.Host, "/")
	parsedURL, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid host URL: %w", err)
	}

	// Configure connection pooling to reduce latency on repeated requests
	httpClient := &http.Client{
		Timeout: 60 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DisableCompression:  false,
		},
	}

	sampling := cfg.Sampling
	if sampling.MaxTokens <= 0 {
		sampling = DefaultSampling()
	}

	return &Client{
		client:   api.NewClient(parsedURL, httpClient),
		model:    cfg.Model,
		sampling: sampling,
		verbose:  cfg.Verbose,
	}, nil
}

// Generate runs one completion for the given raw prompt. Raw mode bypasses
// the server-side chat template so the role-delimited prompt built by
// [PromptBuilder] reaches the model verbatim.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	stream := false
	var response api.GenerateResponse
	err := c.client.Generate(ctx, &api.GenerateRequest{
		Model:  c.model,
		Prompt: prompt,
		Raw:    true,
		Stream: &stream,
		Options: map[string]any{
			"temperature": c.sampling.Temperature,
			"num_predict": c.sampling.MaxTokens,
			"num_ctx":     c.sampling.ContextSize,
		},
	}, func(resp api.GenerateResponse) error {
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("generate request failed: %w", err)
	}
	return response.Response, nil
}

// HealthCheck verifies the Ollama server is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	// Use the Heartbeat method to check connectivity
	if err := c.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("cannot reach Ollama: %w", err)
	}
	return nil
}
