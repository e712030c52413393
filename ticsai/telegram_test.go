package ticsai

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockSessionHandler records outbound calls and returns scripted results.
type mockSessionHandler struct {
	sendErr        error
	makeRequestErr error

	sent         []tgbotapi.Chattable
	requested    []tgbotapi.Chattable
	madeRequests []string

	updatesCh chan tgbotapi.Update
	mu        sync.Mutex
}

func (m *mockSessionHandler) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, c)
	return tgbotapi.Message{}, m.sendErr
}

func (m *mockSessionHandler) Request(c tgbotapi.Chattable) (
	*tgbotapi.APIResponse,
	error,
) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requested = append(m.requested, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockSessionHandler) MakeRequest(
	endpoint string,
	_ tgbotapi.Params,
) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.madeRequests = append(m.madeRequests, endpoint)
	if m.makeRequestErr != nil {
		return nil, m.makeRequestErr
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockSessionHandler) GetUpdatesChan(
	_ tgbotapi.UpdateConfig,
) tgbotapi.UpdatesChannel {
	if m.updatesCh == nil {
		m.updatesCh = make(chan tgbotapi.Update)
	}
	return m.updatesCh
}

func (m *mockSessionHandler) StopReceivingUpdates() {}

func (m *mockSessionHandler) sentMessages(t testing.TB) []tgbotapi.MessageConfig {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()

	msgs := make([]tgbotapi.MessageConfig, 0, len(m.sent))
	for _, c := range m.sent {
		msg, ok := c.(tgbotapi.MessageConfig)
		require.True(t, ok, "unexpected chattable type %T", c)
		msgs = append(msgs, msg)
	}
	return msgs
}

func newTestTelegram(session TelegramSessionHandler) *Telegram {
	return &Telegram{
		session:  session,
		config:   DefaultConfig().Telegram,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		identity: testIdentity,
	}
}

func TestSendReply(t *testing.T) {
	t.Parallel()
	session := &mockSessionHandler{}
	tg := newTestTelegram(session)

	require.NoError(t, tg.sendReply(99, 12, "hello"))

	msgs := session.sentMessages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(99), msgs[0].ChatID)
	assert.Equal(t, 12, msgs[0].ReplyToMessageID)
	assert.Equal(t, "hello", msgs[0].Text)
	assert.Equal(t, tgbotapi.ModeMarkdown, msgs[0].ParseMode)
	assert.Empty(t, session.madeRequests)
}

func TestSendReplyThrottledFallsBackToReaction(t *testing.T) {
	t.Parallel()
	session := &mockSessionHandler{
		sendErr: &tgbotapi.Error{Code: 429, Message: "Too Many Requests"},
	}
	tg := newTestTelegram(session)

	// throttled sends are absorbed: reaction attempted, no error returned
	require.NoError(t, tg.sendReply(99, 12, "hello"))
	require.Len(t, session.madeRequests, 1)
	assert.Equal(t, "setMessageReaction", session.madeRequests[0])
}

func TestSendReplyThrottledReactionAlsoFails(t *testing.T) {
	t.Parallel()
	session := &mockSessionHandler{
		sendErr:        &tgbotapi.Error{Code: 429, Message: "Too Many Requests"},
		makeRequestErr: errors.New("reactions not allowed in this chat"),
	}
	tg := newTestTelegram(session)

	// both the reply and the fallback fail: suppressed, nothing escapes
	assert.NoError(t, tg.sendReply(99, 12, "hello"))
}

func TestSendReplyOtherErrorPropagates(t *testing.T) {
	t.Parallel()
	session := &mockSessionHandler{
		sendErr: &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"},
	}
	tg := newTestTelegram(session)

	err := tg.sendReply(99, 12, "hello")
	require.Error(t, err)
	// no reaction fallback for non-throttle failures
	assert.Empty(t, session.madeRequests)
}

func TestIsThrottleError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{
			name: "api 429",
			err:  &tgbotapi.Error{Code: 429, Message: "Too Many Requests"},
			want: true,
		},
		{
			name: "retry-after hint",
			err: &tgbotapi.Error{
				Code:               400,
				Message:            "flood control",
				ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 5},
			},
			want: true,
		},
		{
			name: "textual too many requests",
			err:  errors.New("telegram: Too Many Requests: retry later"),
			want: true,
		},
		{
			name: "slow mode marker",
			err:  errors.New("Slow mode is enabled in this chat"),
			want: true,
		},
		{
			name: "retry after marker",
			err:  errors.New("rejected, retry after 30s"),
			want: true,
		},
		{
			name: "unrelated error",
			err:  errors.New("chat not found"),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isThrottleError(tt.err))
		})
	}
}

func TestSendTypingBestEffort(t *testing.T) {
	t.Parallel()
	session := &mockSessionHandler{}
	tg := newTestTelegram(session)

	tg.sendTyping(99)
	require.Len(t, session.requested, 1)
	action, ok := session.requested[0].(tgbotapi.ChatActionConfig)
	require.True(t, ok)
	assert.Equal(t, tgbotapi.ChatTyping, action.Action)
}

func TestIncomingMessageFromTelegram(t *testing.T) {
	t.Parallel()

	msg := &tgbotapi.Message{
		MessageID: 5,
		Text:      "@TICSAIBot what is X?",
		From:      &tgbotapi.User{ID: 123},
		Chat:      &tgbotapi.Chat{ID: 99, Type: "supergroup"},
		Entities: []tgbotapi.MessageEntity{
			{Type: "mention", Offset: 0, Length: 10},
			{Type: "bold", Offset: 11, Length: 4},
			{
				Type:   "text_mention",
				Offset: 16,
				Length: 2,
				User:   &tgbotapi.User{ID: 42},
			},
		},
		ReplyToMessage: &tgbotapi.Message{From: &tgbotapi.User{ID: 77}},
	}

	im := incomingMessageFromTelegram(msg)
	assert.Equal(t, "@TICSAIBot what is X?", im.Text)
	assert.Equal(t, int64(123), im.SenderID)
	assert.Equal(t, ChatKindGroup, im.ChatKind)
	assert.Equal(t, int64(77), im.RepliedToSenderID)

	// the bold entity is not a mention and must be dropped
	require.Len(t, im.Mentions, 2)
	assert.Equal(t, MentionKindMention, im.Mentions[0].Kind)
	assert.Equal(t, MentionKindTextMention, im.Mentions[1].Kind)
	assert.Equal(t, int64(42), im.Mentions[1].UserID)
}

func TestIncomingMessageFromTelegramPrivateChat(t *testing.T) {
	t.Parallel()

	msg := &tgbotapi.Message{
		Text: "hello",
		From: &tgbotapi.User{ID: 123},
		Chat: &tgbotapi.Chat{ID: 123, Type: "private"},
	}
	assert.Equal(t, ChatKindDirect, incomingMessageFromTelegram(msg).ChatKind)
}
