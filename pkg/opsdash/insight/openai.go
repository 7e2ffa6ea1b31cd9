package insight

import (
	"context"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// OpenAIConfig configures an OpenAI-compatible chat completion backend.
type OpenAIConfig struct {
	APIKey string

	// BaseURL overrides the API root, e.g. a local vLLM or LM Studio server.
	BaseURL string

	Model string
}

// OpenAIClient calls the chat completions API through go-openai.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient returns a client; the default model is gpt-4o-mini.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(c), model: cfg.Model}
}

// Name implements Chatter.
func (o *OpenAIClient) Name() string { return ProviderOpenAI }

// Chat implements Chatter.
func (o *OpenAIClient) Chat(ctx context.Context, system, user string) (string, error) {
	ctx, span := tracer.Start(ctx, "OpenAIClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	var msgs []openai.ChatCompletionMessage
	if system != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: user})

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: msgs,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 401 {
			return "", fmt.Errorf("%w: %s", ErrUnavailable, apiErr.Message)
		}
		return "", fmt.Errorf("insight: openai call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("insight: openai returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
