package ticsai

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/lmittmann/tint"
)

// fallbackReactionEmoji is the lightweight acknowledgement sent when a
// text reply is refused by a platform-side throttle.
const fallbackReactionEmoji = "👍"

// throttleMarkers are textual signals of a platform-side throttle, checked
// against the lowercased error message when no structured 429 is available.
var throttleMarkers = []string{
	"too many requests",
	"retry after",
	"slow mode",
}

// TelegramSessionHandler is the subset of the telegram-bot-api client the
// bot uses. Tests substitute a mock; *tgbotapi.BotAPI satisfies it.
type TelegramSessionHandler interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Telegram handles outbound delivery to the chat platform: replies, typing
// hints, the group-join broadcast, and the throttle-fallback reaction.
type Telegram struct {
	session  TelegramSessionHandler
	config   *TelegramConfig
	logger   *slog.Logger
	identity BotIdentity

	metricRepliesSent      atomic.Int64
	metricRepliesThrottled atomic.Int64
}

// newTelegram authenticates against the Telegram API and resolves the
// bot's own identity. An authentication failure here is fatal to startup.
func newTelegram(config *TelegramConfig, httpClient *http.Client) (*Telegram, error) {
	t := &Telegram{
		config: config,
		logger: slog.New(
			newLogHandler(config.LogLevel),
		).With(loggerNameKey, "telegram"),
	}

	if err := tgbotapi.SetLogger(
		newBotAPILogger(newLogHandler(config.BotAPILogLevel), config.BotAPILogLevel),
	); err != nil {
		return nil, fmt.Errorf("error setting telegram logger: %w", err)
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	bot, err := tgbotapi.NewBotAPIWithClient(
		config.Token,
		tgbotapi.APIEndpoint,
		httpClient,
	)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram session: %w", err)
	}
	t.session = bot

	handle := bot.Self.UserName
	if handle == "" {
		handle = config.Handle
	}
	t.identity = BotIdentity{ID: bot.Self.ID, Handle: handle}
	return t, nil
}

// Identity returns the bot identity resolved at startup.
func (t *Telegram) Identity() BotIdentity {
	return t.identity
}

// updates opens the long-polling update channel.
func (t *Telegram) updates() tgbotapi.UpdatesChannel {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(t.config.PollTimeout.Seconds())
	return t.session.GetUpdatesChan(u)
}

// sendReply sends text as a reply to the given message, with Markdown
// formatting. If delivery is refused by a platform throttle, it falls back
// to a reaction on the original message; if that also fails, the failure
// is suppressed. Any other delivery failure propagates.
func (t *Telegram) sendReply(chatID int64, messageID int, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = messageID
	msg.ParseMode = tgbotapi.ModeMarkdown

	_, err := t.session.Send(msg)
	if err == nil {
		t.metricRepliesSent.Add(1)
		return nil
	}
	if !isThrottleError(err) {
		return fmt.Errorf("error sending reply: %w", err)
	}

	t.metricRepliesThrottled.Add(1)
	t.logger.Warn(
		"reply throttled by telegram, falling back to reaction",
		"chat_id", chatID,
		tint.Err(err),
	)
	if reactErr := t.react(chatID, messageID, fallbackReactionEmoji); reactErr != nil {
		t.logger.Warn(
			"fallback reaction also failed, giving up on this reply",
			"chat_id", chatID,
			tint.Err(reactErr),
		)
	}
	return nil
}

// react sets an emoji reaction on a message. The v5 library predates
// setMessageReaction, so this goes through a raw API request.
func (t *Telegram) react(chatID int64, messageID int, emoji string) error {
	params := tgbotapi.Params{}
	params.AddNonZero64("chat_id", chatID)
	params.AddNonZero("message_id", messageID)
	if err := params.AddInterface(
		"reaction",
		[]map[string]string{{"type": "emoji", "emoji": emoji}},
	); err != nil {
		return err
	}
	_, err := t.session.MakeRequest("setMessageReaction", params)
	return err
}

// sendTyping sends a typing chat-action hint. Best-effort; failures are
// logged at debug and otherwise ignored.
func (t *Telegram) sendTyping(chatID int64) {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	if _, err := t.session.Request(action); err != nil {
		t.logger.Debug(
			"error sending typing action",
			"chat_id", chatID,
			tint.Err(err),
		)
	}
}

// sendMessage sends a plain (non-reply) message to a chat.
func (t *Telegram) sendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.session.Send(msg); err != nil {
		return fmt.Errorf("error sending message: %w", err)
	}
	t.metricRepliesSent.Add(1)
	return nil
}

// isThrottleError reports whether a delivery error looks like a
// platform-side throttle: an HTTP 429, a retry-after hint, or a textual
// marker such as "too many requests" or "slow mode".
func isThrottleError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests {
			return true
		}
		if apiErr.RetryAfter > 0 {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range throttleMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// incomingMessageFromTelegram converts a Telegram message into the
// admission gate's view of it.
func incomingMessageFromTelegram(m *tgbotapi.Message) IncomingMessage {
	msg := IncomingMessage{Text: m.Text}

	if m.From != nil {
		msg.SenderID = m.From.ID
	}

	if m.Chat != nil && m.Chat.IsPrivate() {
		msg.ChatKind = ChatKindDirect
	} else {
		msg.ChatKind = ChatKindGroup
	}

	for _, entity := range m.Entities {
		span := MentionSpan{Offset: entity.Offset, Length: entity.Length}
		switch entity.Type {
		case string(MentionKindMention):
			span.Kind = MentionKindMention
		case string(MentionKindTextMention):
			span.Kind = MentionKindTextMention
			if entity.User != nil {
				span.UserID = entity.User.ID
			}
		default:
			continue
		}
		msg.Mentions = append(msg.Mentions, span)
	}

	if m.ReplyToMessage != nil && m.ReplyToMessage.From != nil {
		msg.RepliedToSenderID = m.ReplyToMessage.From.ID
	}
	return msg
}
