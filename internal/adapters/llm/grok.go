package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/actuallyrizzn/puppet-engine/internal/adapters/config"
	"github.com/actuallyrizzn/puppet-engine/pkg/logger"
)

// GrokProvider implements Provider over the xAI API, which speaks the
// OpenAI chat-completion wire format.
type GrokProvider struct {
	client *openai.Client
	model  string
}

// NewGrokProvider creates new Grok provider
func NewGrokProvider(cfg *config.GrokConfig) *GrokProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.Endpoint

	return &GrokProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

func (g *GrokProvider) Name() string {
	return "grok"
}

// Generate produces a completion for prompt + instruction
func (g *GrokProvider) Generate(ctx context.Context, prompt, instruction string, params Params) (string, error) {
	start := time.Now()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: instruction},
		},
		Temperature: float32(params.Temperature),
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("grok completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("grok returned no choices")
	}

	content := resp.Choices[0].Message.Content

	logger.Debug("grok response",
		zap.Duration("latency", time.Since(start)),
		zap.Int("chars", len(content)),
	)

	return content, nil
}

// Embed is unsupported; similarity search degrades to lexical ranking
func (g *GrokProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrNoEmbeddings
}

// Healthcheck verifies the provider is reachable
func (g *GrokProvider) Healthcheck(ctx context.Context) error {
	_, err := g.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("grok healthcheck failed: %w", err)
	}
	return nil
}
