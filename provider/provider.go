package provider

import (
	"context"
	"errors"
	"os"

	"github.com/macroscope-ai/macroscope/config"
	openai_provider "github.com/macroscope-ai/macroscope/provider/openai"
)

// Client represents different LLM providers
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
)

// Provider is the interface every LLM implementation must satisfy. The
// pipeline makes at most two calls per question: the router's intent
// classifier and the supervisor's synthesis call.
type Provider interface {
	// Generate generates text using the LLM
	Generate(ctx context.Context, prompt string, model string) (string, error)

	// GenerateWithTokens generates text and returns prompt/completion token usage
	GenerateWithTokens(ctx context.Context, prompt string, model string) (string, int64, int64, error)

	// CalculateCost converts token usage to dollars for the configured model
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}

// NewProvider creates an LLM client from configuration.
func NewProvider(client Client, cfg config.LLMConfig) (Provider, error) {
	switch client {
	case OpenAI:
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if cfg.APIKey == "" {
			return nil, errors.New("OPENAI_API_KEY not set")
		}
		return openai_provider.New(cfg), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
