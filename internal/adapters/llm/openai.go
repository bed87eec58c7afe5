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

// OpenAIProvider implements Provider over the OpenAI API
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates new OpenAI provider
func NewOpenAIProvider(cfg *config.OpenAIConfig) *OpenAIProvider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.Organization != "" {
		clientCfg.OrgID = cfg.Organization
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  cfg.Model,
	}
}

func (o *OpenAIProvider) Name() string {
	return "openai"
}

// Generate produces a completion for prompt + instruction
func (o *OpenAIProvider) Generate(ctx context.Context, prompt, instruction string, params Params) (string, error) {
	start := time.Now()

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: instruction},
		},
		Temperature: float32(params.Temperature),
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("openai completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	content := resp.Choices[0].Message.Content

	logger.Debug("openai response",
		zap.Duration("latency", time.Since(start)),
		zap.Int("chars", len(content)),
	)

	return content, nil
}

// Embed produces an embedding vector for text
func (o *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.SmallEmbedding3,
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embedding failed: %w", err)
	}

	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai returned no embedding data")
	}

	return resp.Data[0].Embedding, nil
}

// Healthcheck verifies the provider is reachable
func (o *OpenAIProvider) Healthcheck(ctx context.Context) error {
	_, err := o.client.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("openai healthcheck failed: %w", err)
	}
	return nil
}
