package insight

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/vpbank/opsdash/models"
	"github.com/vpbank/opsdash/pkg/opsdash/observability"
)

// maxAnswerRunes caps an answer so a verbose model cannot flood a stream line.
const maxAnswerRunes = 240

// thinkBlock matches the reasoning preamble emitted by reasoning models.
var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Chatter is one chat completion backend.
type Chatter interface {
	Name() string
	Chat(ctx context.Context, system, user string) (string, error)
}

// Delegated forwards prompts to a Chatter. Each call is bounded by timeout and
// never retried.
type Delegated struct {
	chat    Chatter
	timeout time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewDelegated wraps chat.
func NewDelegated(chat Chatter, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Delegated {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Delegated{chat: chat, timeout: timeout, logger: logger, metrics: metrics}
}

// Insight asks the backend for a one-line annotation of state.
func (d *Delegated) Insight(ctx context.Context, module string, state models.ModuleState) string {
	prompt := fmt.Sprintf(
		"Module: %s\nStatus: %s\nDetails: %s\nReply with one short operational insight.",
		module, state.Status, state.Details,
	)
	answer := d.Ask(ctx, "You are an IT operations assistant.", prompt)
	if answer == Unavailable || answer == ErrorText {
		return answer
	}
	return "AI: " + answer
}

// Ask returns the backend's answer, Unavailable, or ErrorText.
func (d *Delegated) Ask(ctx context.Context, system, prompt string) string {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	out, err := d.chat.Chat(ctx, system, prompt)
	if err != nil {
		if isUnavailable(err) {
			d.metrics.InsightRequest(d.chat.Name(), "unavailable")
			d.logger.Debug("insight: backend unavailable", "backend", d.chat.Name(), "error", err.Error())
			return Unavailable
		}
		d.metrics.InsightRequest(d.chat.Name(), "error")
		d.logger.Warn("insight: backend error", "backend", d.chat.Name(), "error", err.Error())
		return ErrorText
	}

	out = clean(out)
	if out == "" {
		d.metrics.InsightRequest(d.chat.Name(), "empty")
		return ErrorText
	}
	d.metrics.InsightRequest(d.chat.Name(), "ok")
	return out
}

// clean strips reasoning blocks, collapses whitespace onto one line and
// truncates.
func clean(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxAnswerRunes {
		s = string(r[:maxAnswerRunes-1]) + "…"
	}
	return s
}

func isUnavailable(err error) bool {
	if errors.Is(err, ErrUnavailable) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// unavailableChatter stands in for a backend that is not configured.
type unavailableChatter struct{ name string }

func (u unavailableChatter) Name() string { return u.name }

func (u unavailableChatter) Chat(context.Context, string, string) (string, error) {
	return "", ErrUnavailable
}
