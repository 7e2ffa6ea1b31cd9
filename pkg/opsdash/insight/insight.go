// Package insight produces the short annotation appended to every status
// update, and answers free-form prompts for advisor modules.
//
// Two strategies implement Generator. Random picks a canned phrase and never
// fails. Delegated forwards a prompt to an external chat service (Ollama or an
// OpenAI-compatible endpoint) and degrades to a fixed fallback string on any
// failure. No error ever leaves this package.
package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vpbank/opsdash/models"
	"github.com/vpbank/opsdash/pkg/opsdash/observability"
)

// Fallback answers of delegated strategies.
const (
	Unavailable = "AI unavailable."
	ErrorText   = "AI error occurred."
)

// Vocabulary is the phrase set of the Random strategy.
var Vocabulary = []string{"Stable", "Monitor", "Action Required"}

// ErrUnavailable marks a chat backend that is not configured or unreachable.
var ErrUnavailable = errors.New("insight: service unavailable")

// Generator produces annotations. Implementations are safe for concurrent use
// and always return a non-empty string.
type Generator interface {
	// Insight annotates the current state of a module.
	Insight(ctx context.Context, module string, state models.ModuleState) string

	// Ask answers a free-form prompt with an optional system instruction.
	Ask(ctx context.Context, system, prompt string) string
}

// Provider names accepted by Config.Provider.
const (
	ProviderRandom = "random"
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
)

// Config selects and configures a strategy.
type Config struct {
	Provider string

	// Timeout bounds one delegated call. Zero means 30s.
	Timeout time.Duration

	Ollama OllamaConfig
	OpenAI OpenAIConfig
}

// New builds the Generator named by cfg.Provider. An empty provider selects
// Random.
func New(cfg Config, logger *slog.Logger, metrics *observability.Metrics) (Generator, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	switch cfg.Provider {
	case "", ProviderRandom:
		return NewRandom(metrics), nil
	case ProviderOllama:
		return NewDelegated(NewOllamaClient(cfg.Ollama, cfg.Timeout), cfg.Timeout, logger, metrics), nil
	case ProviderOpenAI:
		var chat Chatter = NewOpenAIClient(cfg.OpenAI)
		if cfg.OpenAI.APIKey == "" && cfg.OpenAI.BaseURL == "" {
			logger.Warn("insight: openai provider selected without api key or base url")
			chat = unavailableChatter{name: ProviderOpenAI}
		}
		return NewDelegated(chat, cfg.Timeout, logger, metrics), nil
	default:
		return nil, fmt.Errorf("insight: unknown provider %q", cfg.Provider)
	}
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }
