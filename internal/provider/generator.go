package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/studyforge/material-pipeline/internal/pipeline"
)

// OpenAIGenerator calls an OpenAI-compatible chat-completions endpoint.
// Rate-limit and server errors come back as retryable pipeline errors so
// the retry policy can tell them apart from malformed output.
type OpenAIGenerator struct {
	client   *resty.Client
	model    string
	endpoint string
}

// GeneratorConfig holds configuration for the generation provider.
type GeneratorConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

func NewOpenAIGenerator(cfg *GeneratorConfig) *OpenAIGenerator {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &OpenAIGenerator{
		client:   client,
		model:    cfg.Model,
		endpoint: baseURL + "/chat/completions",
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Generate sends one prompt and returns the raw completion text.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	req := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	}

	var result chatResponse
	resp, err := g.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post(g.endpoint)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &pipeline.TransientError{Err: fmt.Errorf("provider request failed: %w", err)}
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests:
		return "", &pipeline.RateLimitError{Message: resp.Status()}
	case resp.StatusCode() >= http.StatusInternalServerError:
		return "", &pipeline.TransientError{Err: fmt.Errorf("provider returned %s", resp.Status())}
	case resp.StatusCode() != http.StatusOK:
		return "", &pipeline.ValidationError{Reason: fmt.Sprintf("provider returned %s", resp.Status())}
	}

	if result.Error != nil {
		return "", &pipeline.ValidationError{Reason: fmt.Sprintf("provider error: %s", result.Error.Message)}
	}
	if len(result.Choices) == 0 {
		return "", &pipeline.ValidationError{Reason: "provider returned no choices"}
	}

	return result.Choices[0].Message.Content, nil
}
