package openai_provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/macroscope-ai/macroscope/config"
)

const defaultBaseURL = "https://api.openai.com/v1"

// client implements the provider contract against OpenAI's chat API.
type client struct {
	cfg        config.LLMConfig
	httpClient *http.Client
}

// New creates an OpenAI client. BaseURL from the config overrides the
// public endpoint, which test servers rely on.
func New(cfg config.LLMConfig) *client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate generates text using the configured model.
func (c *client) Generate(ctx context.Context, prompt string, model string) (string, error) {
	resp, _, _, err := c.GenerateWithTokens(ctx, prompt, model)
	return resp, err
}

// GenerateWithTokens generates text and returns token usage.
func (c *client) GenerateWithTokens(ctx context.Context, prompt string, model string) (string, int64, int64, error) {
	if c.cfg.APIKey == "" {
		return "", 0, 0, fmt.Errorf("OpenAI API key not configured")
	}
	if model == "" {
		return "", 0, 0, fmt.Errorf("model not specified")
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return "", 0, 0, fmt.Errorf("marshal: %w", err)
	}

	baseURL := c.cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, "POST", baseURL+"/chat/completions", bytes.NewBuffer(body))
	if err != nil {
		return "", 0, 0, fmt.Errorf("request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, 0, fmt.Errorf("do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", 0, 0, fmt.Errorf("OpenAI status %d: %s", resp.StatusCode, string(b))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", 0, 0, fmt.Errorf("decode: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("no choices")
	}
	return out.Choices[0].Message.Content, int64(out.Usage.PromptTokens), int64(out.Usage.CompletionTokens), nil
}

// CalculateCost calculates the cost for a given number of tokens.
func (c *client) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	pricing, ok := c.cfg.Models[model]
	if !ok {
		return 0.0
	}
	inputCost := float64(inputTokens) / 1000.0 * pricing.CostPer1KInput
	outputCost := float64(outputTokens) / 1000.0 * pricing.CostPer1KOutput
	return inputCost + outputCost
}
