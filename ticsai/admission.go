package ticsai

import (
	"strings"
	"unicode/utf16"
)

// ChatKind distinguishes one-to-one chats from group chats. Telegram's
// "group" and "supergroup" types both map to ChatKindGroup.
type ChatKind string

const (
	ChatKindDirect ChatKind = "direct"
	ChatKindGroup  ChatKind = "group"
)

// MentionKind is the type of a structured mention entity.
type MentionKind string

const (
	// MentionKindMention is a plain @username mention; the span delimits
	// the literal "@username" text.
	MentionKindMention MentionKind = "mention"

	// MentionKindTextMention is a mention of a user without a username;
	// the mentioned user's identity is attached to the span.
	MentionKindTextMention MentionKind = "text_mention"
)

// MentionSpan is a structured mention entity attached to a message.
// Offset and Length are in UTF-16 code units, per the Telegram API.
type MentionSpan struct {
	Offset int
	Length int
	Kind   MentionKind
	UserID int64
}

// IncomingMessage is the admission gate's view of one inbound message.
// It's constructed once per update and never mutated.
type IncomingMessage struct {
	Text              string
	SenderID          int64
	ChatKind          ChatKind
	Mentions          []MentionSpan
	RepliedToSenderID int64
}

// AdmissionReason classifies the outcome of an admission decision.
type AdmissionReason string

const (
	// ReasonNotDirected means the message wasn't addressed to the bot.
	// This is the only silent outcome; no reply is sent.
	ReasonNotDirected AdmissionReason = "not_directed"

	// ReasonRateLimited means the sender exceeded the per-user rate limit.
	ReasonRateLimited AdmissionReason = "rate_limited"

	// ReasonEmptyQuery means the bot was addressed but no question text
	// remained after stripping the mention. The caller must prompt for
	// input and must not make a completion call.
	ReasonEmptyQuery AdmissionReason = "empty_query"

	// ReasonOK means the message was admitted with a non-empty query.
	ReasonOK AdmissionReason = "ok"
)

// AdmissionDecision is the result of AdmissionGate.ShouldRespond.
type AdmissionDecision struct {
	Admitted bool
	Reason   AdmissionReason
	Query    string
}

// BotIdentity is the bot's own identity, resolved once at startup and
// passed into every component that needs it.
type BotIdentity struct {
	ID     int64
	Handle string
}

// directedPredicate reports whether a single addressing signal considers
// the message directed at the bot.
type directedPredicate func(msg IncomingMessage) bool

// AdmissionGate decides, per inbound message, whether the bot must respond,
// and gates that decision behind the per-user rate limiter.
type AdmissionGate struct {
	identity   BotIdentity
	aliases    []string
	limiter    *RateLimiter
	predicates []directedPredicate
}

// NewAdmissionGate creates an AdmissionGate for the given bot identity.
// Aliases are matched case-insensitively as substrings anywhere in the
// message text; this is a deliberately imprecise fallback for clients and
// inputs that don't produce structured mention entities, and can false-match
// unrelated text containing an alias.
func NewAdmissionGate(
	identity BotIdentity,
	aliases []string,
	limiter *RateLimiter,
) *AdmissionGate {
	lowered := make([]string, 0, len(aliases)+1)
	lowered = append(lowered, strings.ToLower(identity.Handle))
	for _, alias := range aliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		if alias != "" {
			lowered = append(lowered, alias)
		}
	}

	g := &AdmissionGate{
		identity: identity,
		aliases:  lowered,
		limiter:  limiter,
	}

	// Evaluated as a short-circuiting disjunction: any predicate passing
	// means the message is directed at the bot. The structured-entity and
	// reply-chain checks are the reliable signals; the substring fallback
	// trades precision for recall.
	g.predicates = []directedPredicate{
		g.directChat,
		g.mentionEntity,
		g.replyToBot,
		g.aliasSubstring,
	}
	return g
}

// ShouldRespond decides whether the bot must respond to msg, consuming a
// rate-limit slot for directed messages and extracting the effective
// query text for admitted ones.
func (g *AdmissionGate) ShouldRespond(msg IncomingMessage) AdmissionDecision {
	if msg.Text == "" {
		return AdmissionDecision{Reason: ReasonNotDirected}
	}

	directed := false
	for _, directedBy := range g.predicates {
		if directedBy(msg) {
			directed = true
			break
		}
	}
	if !directed {
		return AdmissionDecision{Reason: ReasonNotDirected}
	}

	if !g.limiter.CheckAndConsume(msg.SenderID) {
		return AdmissionDecision{Reason: ReasonRateLimited}
	}

	query := g.extractQuery(msg)
	if query == "" {
		return AdmissionDecision{Admitted: true, Reason: ReasonEmptyQuery}
	}
	return AdmissionDecision{Admitted: true, Reason: ReasonOK, Query: query}
}

// directChat: one-to-one chats are always directed, no mention required.
func (*AdmissionGate) directChat(msg IncomingMessage) bool {
	return msg.ChatKind == ChatKindDirect
}

// mentionEntity matches a structured @mention of the bot's handle, or a
// text_mention whose attached identity is the bot.
func (g *AdmissionGate) mentionEntity(msg IncomingMessage) bool {
	for _, span := range msg.Mentions {
		switch span.Kind {
		case MentionKindMention:
			mention := spanText(msg.Text, span.Offset, span.Length)
			mention = strings.TrimPrefix(mention, "@")
			if strings.EqualFold(mention, g.identity.Handle) {
				return true
			}
		case MentionKindTextMention:
			if span.UserID == g.identity.ID {
				return true
			}
		}
	}
	return false
}

// replyToBot matches replies to one of the bot's own messages.
func (g *AdmissionGate) replyToBot(msg IncomingMessage) bool {
	return msg.RepliedToSenderID != 0 && msg.RepliedToSenderID == g.identity.ID
}

// aliasSubstring matches the handle or any configured alias appearing
// anywhere in the text, case-insensitively.
func (g *AdmissionGate) aliasSubstring(msg IncomingMessage) bool {
	text := strings.ToLower(msg.Text)
	for _, alias := range g.aliases {
		if strings.Contains(text, alias) {
			return true
		}
	}
	return false
}

// extractQuery removes the first literal @handle occurrence from the text,
// strips any leading stray @word token, and trims whitespace. Direct-chat
// messages are used as-is; there is nothing to strip.
func (g *AdmissionGate) extractQuery(msg IncomingMessage) string {
	if msg.ChatKind == ChatKindDirect {
		return msg.Text
	}

	text := removeFirstFold(msg.Text, "@"+g.identity.Handle)
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "@") {
		if _, rest, found := strings.Cut(text, " "); found {
			text = rest
		} else {
			text = ""
		}
	}
	return strings.TrimSpace(text)
}

// removeFirstFold removes the first case-insensitive occurrence of needle
// from s.
func removeFirstFold(s, needle string) string {
	idx := strings.Index(strings.ToLower(s), strings.ToLower(needle))
	if idx < 0 {
		return s
	}
	return s[:idx] + s[idx+len(needle):]
}

// spanText returns the substring delimited by a UTF-16 offset and length,
// as used by Telegram message entities.
func spanText(s string, offset int, length int) string {
	encoded := utf16.Encode([]rune(s))
	if offset < 0 || offset >= len(encoded) {
		return ""
	}
	end := offset + length
	if end > len(encoded) {
		end = len(encoded)
	}
	return string(utf16.Decode(encoded[offset:end]))
}
