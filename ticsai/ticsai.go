package ticsai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/lmittmann/tint"
)

// unhandledErrorMessage is the best-effort apology sent when a recovered
// panic surfaces from per-message handling.
const unhandledErrorMessage = "😅 Something went wrong on my end. Please try again!"

var structValidator = newStructValidator()

func newStructValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}

// TICSAI is the bot: admission gate, rate limiter, Gemini client and
// Telegram delivery, wired together by Run.
type TICSAI struct {
	config   *Config
	logger   *slog.Logger
	telegram *Telegram
	gemini   *Gemini
	limiter  *RateLimiter
	gate     *AdmissionGate

	metricMessagesHandled atomic.Int64
}

// New creates and initializes a new TICSAI instance.
//
// This validates the configuration, sets up logging, authenticates the
// Telegram session (resolving the bot's identity), and constructs the rate
// limiter, admission gate and Gemini client. Initialization failure is the
// only fatal error class; per-message failures after Run never crash the
// process.
func New(config *Config) (*TICSAI, error) {
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	t := &TICSAI{config: config}

	t.logger = slog.New(newLogHandler(config.LogLevel))
	slog.SetDefault(t.logger)

	if err := t.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var errs []error

	telegram, err := newTelegram(config.Telegram, config.HTTPClient)
	if err != nil {
		errs = append(errs, err)
	} else {
		t.telegram = telegram
	}

	t.gemini = newGemini(config.Gemini, config.HTTPClient)
	t.limiter = NewRateLimiter(config.RateLimit, t.logger)

	if t.telegram != nil {
		t.gate = NewAdmissionGate(
			t.telegram.Identity(),
			config.Telegram.Aliases,
			t.limiter,
		)
	}

	return t, errors.Join(errs...)
}

func (t *TICSAI) ValidateConfig() error {
	return structValidator.Struct(t.config)
}

// Run starts the rate-limit sweep and the update loop, dispatching each
// update to its own goroutine. It blocks until ctx is canceled, then stops
// polling and waits (up to the configured shutdown timeout) for in-flight
// messages to settle.
func (t *TICSAI) Run(ctx context.Context) error {
	t.logger.InfoContext(
		ctx,
		"starting",
		"version", Version,
		"bot", t.telegram.Identity().Handle,
		"config", t.config,
	)

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go t.limiter.Run(sweepCtx)

	updates := t.telegram.updates()
	wg := &sync.WaitGroup{}

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("shutting down, stopping update polling")
			t.telegram.session.StopReceivingUpdates()
			waitTimeout(wg, t.config.ShutdownTimeout)
			t.logger.Info(
				"stopped",
				"messages_handled", t.metricMessagesHandled.Load(),
			)
			return nil
		case update, ok := <-updates:
			if !ok {
				return errors.New("telegram update channel closed")
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				t.handleUpdate(ctx, update)
			}()
		}
	}
}

// waitTimeout waits on wg, giving up after d.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(d):
	}
}

// handleUpdate routes a single update. Panics are recovered here so a
// per-message failure can never take down the process; a best-effort
// apology is sent to the originating chat if one is known.
func (t *TICSAI) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return
	}

	logger := t.logger.With(
		slog.Group(
			"message",
			"chat_id", msg.Chat.ID,
			"message_id", msg.MessageID,
		),
	)
	ctx = WithLogger(ctx, logger)

	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(
				ctx,
				"panic handling message",
				tint.Err(fmt.Errorf("%v", r)),
			)
			if err := t.telegram.sendMessage(
				msg.Chat.ID, unhandledErrorMessage,
			); err != nil {
				logger.ErrorContext(ctx, "error sending apology", tint.Err(err))
			}
		}
	}()

	t.metricMessagesHandled.Add(1)

	switch {
	case t.botWasAdded(msg):
		t.handleAddedToGroup(ctx, msg)
	case msg.IsCommand() || strings.HasPrefix(msg.Text, "/"):
		t.handleCommand(ctx, msg)
	default:
		t.handleMessage(ctx, msg)
	}
}

// botWasAdded reports whether this update announces the bot joining a chat.
func (t *TICSAI) botWasAdded(msg *tgbotapi.Message) bool {
	for _, member := range msg.NewChatMembers {
		if member.ID == t.telegram.Identity().ID {
			return true
		}
	}
	return false
}

// handleAddedToGroup sends the one-time informational broadcast when the
// bot is added to a group. Not gated by admission.
func (t *TICSAI) handleAddedToGroup(ctx context.Context, msg *tgbotapi.Message) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = t.logger
	}
	logger.InfoContext(ctx, "added to group", "title", msg.Chat.Title)
	if err := t.telegram.sendMessage(
		msg.Chat.ID, t.config.Telegram.GroupJoinMessage,
	); err != nil {
		logger.ErrorContext(ctx, "error sending group join message", tint.Err(err))
	}
}

// handleCommand handles bot commands, which bypass the admission gate
// entirely. /start and /help get the intro message; anything else is
// ignored (it may belong to another bot in the chat).
func (t *TICSAI) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = t.logger
	}

	switch msg.Command() {
	case "start", "help":
		if err := t.telegram.sendReply(
			msg.Chat.ID, msg.MessageID, t.config.Telegram.EmptyQueryMessage,
		); err != nil {
			logger.ErrorContext(ctx, "error sending command reply", tint.Err(err))
		}
	default:
		logger.DebugContext(ctx, "ignoring command", "command", msg.Command())
	}
}

// handleMessage runs one message through the admission gate and, when
// admitted with a query, the completion pipeline. Every path here degrades
// to a reply or a silent no-op.
func (t *TICSAI) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = t.logger
	}

	decision := t.gate.ShouldRespond(incomingMessageFromTelegram(msg))

	switch decision.Reason {
	case ReasonNotDirected:
		logger.DebugContext(ctx, "message not directed at bot, ignoring")
		return
	case ReasonRateLimited:
		logger.InfoContext(
			ctx,
			"user rate limited",
			"sender_id", senderID(msg),
		)
		t.deliver(ctx, msg, t.config.Telegram.RateLimitMessage)
		return
	case ReasonEmptyQuery:
		logger.InfoContext(ctx, "mentioned with no question")
		t.deliver(ctx, msg, t.config.Telegram.EmptyQueryMessage)
		return
	}

	logger.InfoContext(
		ctx,
		"answering query",
		"sender_id", senderID(msg),
		"query_len", len(decision.Query),
	)

	t.telegram.sendTyping(msg.Chat.ID)

	outcome := answerQuery(
		ctx,
		t.config.Persona,
		decision.Query,
		t.gemini.Complete,
	)
	t.deliver(ctx, msg, t.replyText(outcome))
}

// deliver sends a reply and logs (but does not propagate) delivery
// failures; sendReply has already absorbed throttle conditions.
func (t *TICSAI) deliver(ctx context.Context, msg *tgbotapi.Message, text string) {
	if err := t.telegram.sendReply(msg.Chat.ID, msg.MessageID, text); err != nil {
		logger, ok := ContextLogger(ctx)
		if logger == nil || !ok {
			logger = t.logger
		}
		logger.ErrorContext(ctx, "error delivering reply", tint.Err(err))
	}
}

func senderID(msg *tgbotapi.Message) int64 {
	if msg.From == nil {
		return 0
	}
	return msg.From.ID
}
