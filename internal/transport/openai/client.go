// Package openai talks to a local inference runtime (Ollama, llama.cpp,
// vLLM) through its OpenAI-compatible API.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/atelier-labs/corpusd/internal/domain"
	"github.com/atelier-labs/corpusd/internal/metrics"
)

// Compile-time checks.
var (
	_ domain.Embedder  = (*Client)(nil)
	_ domain.Generator = (*Client)(nil)
)

// Client provides embeddings and completions from one inference host.
type Client struct {
	api        *openai.Client
	embedModel openai.EmbeddingModel
	dimensions int
	timeout    time.Duration
	logger     *zap.Logger
}

// Config holds inference host settings.
type Config struct {
	APIKey          string
	BaseURL         string
	EmbedModel      string
	EmbedDimensions int
	RequestTimeout  time.Duration
	Logger          *zap.Logger
}

// NewClient creates a client for an OpenAI-compatible endpoint.
func NewClient(cfg *Config) *Client {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL

	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &Client{
		api:        openai.NewClientWithConfig(clientCfg),
		embedModel: openai.EmbeddingModel(cfg.EmbedModel),
		dimensions: cfg.EmbedDimensions,
		timeout:    cfg.RequestTimeout,
		logger:     log,
	}
}

// ModelID implements domain.Embedder.
func (c *Client) ModelID() string { return string(c.embedModel) }

// Dimensions implements domain.Embedder.
func (c *Client) Dimensions() int { return c.dimensions }

// Embed returns the vector for one text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch returns vectors for texts in input order.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input:          texts,
		Model:          c.embedModel,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}

	start := time.Now()
	resp, err := c.api.CreateEmbeddings(ctx, req)
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, parseAPIError("embedding", err, domain.ErrEmbeddingUnavailable)
	}

	if len(resp.Data) != len(texts) {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: got %d embeddings for %d inputs",
			domain.ErrEmbeddingUnavailable, len(resp.Data), len(texts))
	}

	metrics.EmbeddingRequests.WithLabelValues("ok").Inc()
	metrics.EmbeddingDuration.Observe(time.Since(start).Seconds())

	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Complete returns a full completion in one shot.
func (c *Client) Complete(ctx context.Context, prompt string, profile domain.ModelProfile) (string, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, c.chatRequest(prompt, profile, false))
	if err != nil {
		return "", c.generationError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty completion response", domain.ErrModelUnavailable)
	}
	return resp.Choices[0].Message.Content, nil
}

// Stream pushes completion tokens to onToken as they arrive. A non-nil
// error from onToken stops the stream and is returned as is.
func (c *Client) Stream(ctx context.Context, prompt string, profile domain.ModelProfile, onToken func(string) error) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	stream, err := c.api.CreateChatCompletionStream(ctx, c.chatRequest(prompt, profile, true))
	if err != nil {
		return c.generationError(err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return c.generationError(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		token := resp.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		if err := onToken(token); err != nil {
			return err
		}
	}
}

func (c *Client) chatRequest(prompt string, profile domain.ModelProfile, stream bool) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model: profile.ModelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   profile.MaxTokens,
		Temperature: profile.Temperature,
		Stream:      stream,
	}
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// generationError maps transport failures onto the generation error
// taxonomy: client cancellation, deadline, everything else the model.
func (c *Client) generationError(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", domain.ErrAborted, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrGenerationTimeout, err)
	default:
		c.logger.Warn("inference API error", zap.Error(err))
		return parseAPIError("completion", err, domain.ErrModelUnavailable)
	}
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (c *Client) HealthCheck(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// parseAPIError extracts a human-readable error from the API response,
// wrapped with the given sentinel for status mapping.
func parseAPIError(op string, err error, wrap error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return fmt.Errorf("%s API error %d: %s: %w", op, reqErr.HTTPStatusCode, detail, wrap)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s API error %d: %s: %w", op, apiErr.HTTPStatusCode, apiErr.Message, wrap)
	}

	return fmt.Errorf("%s request failed: %v: %w", op, err, wrap)
}

// extractDetail extracts the "detail" field from a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
