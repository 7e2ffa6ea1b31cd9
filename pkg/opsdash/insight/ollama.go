package insight

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("opsdash.insight")

// OllamaConfig configures the native Ollama chat client.
type OllamaConfig struct {
	BaseURL string
	Model   string
}

// OllamaClient calls Ollama's /api/chat endpoint without streaming.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

// NewOllamaClient returns a client; defaults are http://localhost:11434 and
// deepseek-r1:1.5b.
func NewOllamaClient(cfg OllamaConfig, timeout time.Duration) *OllamaClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "deepseek-r1:1.5b"
	}
	return &OllamaClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		model:      cfg.Model,
	}
}

// Name implements Chatter.
func (o *OllamaClient) Name() string { return ProviderOllama }

// Chat implements Chatter.
func (o *OllamaClient) Chat(ctx context.Context, system, user string) (string, error) {
	ctx, span := tracer.Start(ctx, "OllamaClient.Chat")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", o.model))

	var msgs []ollamaMessage
	if system != "" {
		msgs = append(msgs, ollamaMessage{Role: "system", Content: system})
	}
	msgs = append(msgs, ollamaMessage{Role: "user", Content: user})

	body, err := json.Marshal(ollamaChatRequest{Model: o.model, Messages: msgs, Stream: false})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("insight: marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("insight: build ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("insight: ollama call: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("insight: read ollama response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("insight: ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		if resp.StatusCode == http.StatusNotFound {
			// Model not pulled.
			err = fmt.Errorf("%w: model %q not found", ErrUnavailable, o.model)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	var out ollamaChatResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("insight: decode ollama response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("insight: ollama: %s", out.Error)
	}
	return strings.TrimSpace(out.Message.Content), nil
}
