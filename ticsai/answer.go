package ticsai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lmittmann/tint"
)

// CompletionOutcomeKind classifies the result of a completion call.
type CompletionOutcomeKind string

const (
	CompletionSuccess           CompletionOutcomeKind = "success"
	CompletionRemoteError       CompletionOutcomeKind = "remote_error"
	CompletionMalformedResponse CompletionOutcomeKind = "malformed_response"
)

// CompletionOutcome is the settled result of one completion call. Remote
// failures and malformed responses are outcomes, not errors escaping the
// pipeline; the raw error detail is logged but never shown to the user.
type CompletionOutcome struct {
	Kind CompletionOutcomeKind
	Text string
}

// completeFunc is the injected "complete(prompt) -> text" capability.
// Gemini.Complete satisfies it in production.
type completeFunc func(ctx context.Context, prompt string) (string, error)

// buildPrompt concatenates the fixed persona context with the user query.
func buildPrompt(persona string, query string) string {
	return fmt.Sprintf("%s\n\nUser question: %s", persona, query)
}

// answerQuery turns an admitted, non-empty query into a CompletionOutcome.
// It never returns an error: every failure mode maps to an outcome kind the
// caller translates into a user-safe reply.
func answerQuery(
	ctx context.Context,
	persona string,
	query string,
	complete completeFunc,
) CompletionOutcome {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}

	text, err := complete(ctx, buildPrompt(persona, query))
	switch {
	case err == nil:
		return CompletionOutcome{
			Kind: CompletionSuccess,
			Text: strings.TrimSpace(text),
		}
	case errors.Is(err, ErrGeminiMalformedResponse):
		logger.ErrorContext(ctx, "completion response malformed", tint.Err(err))
		return CompletionOutcome{Kind: CompletionMalformedResponse}
	default:
		logger.ErrorContext(ctx, "completion call failed", tint.Err(err))
		return CompletionOutcome{Kind: CompletionRemoteError}
	}
}

// replyText maps a CompletionOutcome to the user-visible reply. Error
// outcomes get distinct but equally generic fallback copy; internal error
// detail never reaches the chat.
func (t *TICSAI) replyText(outcome CompletionOutcome) string {
	switch outcome.Kind {
	case CompletionSuccess:
		return t.config.Telegram.ReplyPrefix + outcome.Text
	case CompletionMalformedResponse:
		return t.config.Telegram.ReplyPrefix + t.config.Gemini.MalformedResponseMessage
	default:
		return t.config.Telegram.ReplyPrefix + t.config.Gemini.RemoteErrorMessage
	}
}
