//nolint:lll // struct tags can't be split
package ticsai

import (
	"log/slog"
	"net/http"
	"time"
)

const (
	EnvvarSetEnvPrefix = "TICSAI_ENV_PREFIX"
	DefaultEnvPrefix   = "TICSAI"

	DefaultLogLevel         = slog.LevelInfo
	DefaultTelegramLogLevel = slog.LevelWarn
	DefaultBotAPILogLevel   = slog.LevelWarn
	DefaultGeminiLogLevel   = slog.LevelInfo

	DefaultRateLimitMaxRequests = 2
	DefaultRateLimitWindow      = 30 * time.Second

	DefaultTelegramHandle      = "TICSAIBot"
	DefaultTelegramPollTimeout = 30 * time.Second

	DefaultGeminiBaseURL         = "https://generativelanguage.googleapis.com/v1beta"
	DefaultGeminiModel           = "gemini-1.5-flash"
	DefaultGeminiRequestTimeout  = 30 * time.Second
	DefaultGeminiTemperature     = 0.7
	DefaultGeminiTopP            = 0.9
	DefaultGeminiTopK            = 40
	DefaultGeminiMaxOutputTokens = 500
	DefaultGeminiSafetyThreshold = "BLOCK_MEDIUM_AND_ABOVE"

	DefaultShutdownTimeout = 30 * time.Second

	DefaultReplyPrefix = "🤖 *TICS AI:*\n\n"

	DefaultRateLimitMessage = "⏱️ Please wait a moment before asking another question!"

	DefaultEmptyQueryMessage = "👋 Hi! Ask me anything about Qubetics! For example: \"What makes Qubetics unique?\""

	DefaultRemoteErrorMessage = "⚠️ I'm having trouble connecting to my knowledge base. Please try again in a moment!"

	DefaultMalformedResponseMessage = "💭 I'm thinking hard about that question! Please try rephrasing or ask me something else about Qubetics."

	DefaultGroupJoinMessage = "👋 Hi everyone! I'm TICS AI. Mention me with a question about Qubetics and I'll do my best to answer!"

	DefaultPersona = "You are TICS AI, a friendly and knowledgeable assistant for the Qubetics community. " +
		"Answer questions about Qubetics, its blockchain, its TICS token, and the wider web3 ecosystem. " +
		"Keep answers concise, accurate and enthusiastic. If a question is unrelated to Qubetics or crypto, " +
		"politely steer the conversation back to Qubetics."
)

// DefaultTelegramAliases are the name/brand variants matched as a fallback
// when a message doesn't carry a structured @mention of the bot.
var DefaultTelegramAliases = []string{"ticsaibot", "tics ai"}

// Config is the top-level bot configuration, normally populated from the
// environment (see the cmd package).
type Config struct {
	// Telegram configures the Telegram bot itself
	Telegram *TelegramConfig `yaml:"telegram" mapstructure:"telegram" json:"telegram"`

	// Gemini configures the Gemini completion API integration
	Gemini *GeminiConfig `yaml:"gemini" mapstructure:"gemini" json:"gemini"`

	// RateLimit bounds per-user request admission
	RateLimit *RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit" json:"rate_limit"`

	// Persona is the fixed context block prepended to every user query
	Persona string `yaml:"persona" mapstructure:"persona" json:"persona" binding:"required"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// ShutdownTimeout is the time to allow for in-flight messages to settle
	// after the run context is canceled
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// TelegramConfig configures the Telegram bot: credentials, identity, and the
// user-facing reply copy.
//
//nolint:lll // can't break tags
type TelegramConfig struct {
	// Telegram bot token (from @BotFather)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required"`

	// Handle is the bot's username, without the leading '@'
	Handle string `yaml:"handle" mapstructure:"handle" json:"handle" binding:"required"`

	// Aliases are additional strings treated as mentions of the bot when they
	// appear anywhere in a message (case-insensitive). This is a deliberately
	// imprecise fallback for clients that don't produce mention entities.
	Aliases []string `yaml:"aliases" mapstructure:"aliases" json:"aliases"`

	// PollTimeout is the long-poll timeout for the getUpdates loop
	PollTimeout time.Duration `yaml:"poll_timeout" mapstructure:"poll_timeout" json:"poll_timeout" binding:"min=1s"`

	// Base telegram logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the telegram-bot-api library's logger
	BotAPILogLevel *slog.LevelVar `yaml:"botapi_log_level" mapstructure:"botapi_log_level" json:"botapi_log_level"`

	// ReplyPrefix is prepended to every successful answer
	ReplyPrefix string `yaml:"reply_prefix" mapstructure:"reply_prefix" json:"reply_prefix"`

	// RateLimitMessage is sent when a user exceeds the rate limit
	RateLimitMessage string `yaml:"rate_limit_message" mapstructure:"rate_limit_message" json:"rate_limit_message"`

	// EmptyQueryMessage is sent when the bot is mentioned with no question
	EmptyQueryMessage string `yaml:"empty_query_message" mapstructure:"empty_query_message" json:"empty_query_message"`

	// GroupJoinMessage is broadcast once when the bot is added to a group
	GroupJoinMessage string `yaml:"group_join_message" mapstructure:"group_join_message" json:"group_join_message"`
}

// GeminiConfig configures Gemini API integration and generation parameters.
//
//nolint:lll // can't break tags
type GeminiConfig struct {
	// Gemini API key
	APIKey string `yaml:"api_key" mapstructure:"api_key" json:"api_key" log:"[redacted]" binding:"required"`

	// BaseURL is the API root (override for testing)
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required,url"`

	// Model is the Gemini model name used for completions
	Model string `yaml:"model" mapstructure:"model" json:"model" binding:"required"`

	// RequestTimeout bounds a single completion call. A timeout surfaces to
	// the user the same way as any other remote failure.
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout" json:"request_timeout" binding:"min=1s"`

	// Temperature controls generation randomness
	Temperature float64 `yaml:"temperature" mapstructure:"temperature" json:"temperature" binding:"gte=0,lte=2"`

	// TopP is the nucleus-sampling threshold
	TopP float64 `yaml:"top_p" mapstructure:"top_p" json:"top_p" binding:"gte=0,lte=1"`

	// TopK limits sampling to the K most likely tokens
	TopK int `yaml:"top_k" mapstructure:"top_k" json:"top_k" binding:"gte=0"`

	// MaxOutputTokens caps the completion length
	MaxOutputTokens int `yaml:"max_output_tokens" mapstructure:"max_output_tokens" json:"max_output_tokens" binding:"gt=0"`

	// SafetyThreshold is applied to every harm category
	SafetyThreshold string `yaml:"safety_threshold" mapstructure:"safety_threshold" json:"safety_threshold"`

	// RemoteErrorMessage is sent when the completion call fails
	RemoteErrorMessage string `yaml:"remote_error_message" mapstructure:"remote_error_message" json:"remote_error_message"`

	// MalformedResponseMessage is sent when the API returns an unexpected shape
	MalformedResponseMessage string `yaml:"malformed_response_message" mapstructure:"malformed_response_message" json:"malformed_response_message"`

	// Gemini base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// RateLimitConfig bounds each user to MaxRequests per Window. The window is
// fixed, not sliding: it resets on the first request after expiry.
type RateLimitConfig struct {
	// MaxRequests is the number of admitted requests per user per window
	MaxRequests int `yaml:"max_requests" mapstructure:"max_requests" json:"max_requests" binding:"gte=1"`

	// Window is the duration of the fixed rate-limit window. The background
	// sweep that evicts stale entries runs at this same period.
	Window time.Duration `yaml:"window" mapstructure:"window" json:"window" binding:"min=1s"`
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	telegramLogLevel := &slog.LevelVar{}
	botAPILogLevel := &slog.LevelVar{}
	geminiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	telegramLogLevel.Set(DefaultTelegramLogLevel)
	botAPILogLevel.Set(DefaultBotAPILogLevel)
	geminiLogLevel.Set(DefaultGeminiLogLevel)

	aliases := make([]string, len(DefaultTelegramAliases))
	copy(aliases, DefaultTelegramAliases)

	return &Config{
		LogLevel:        mainLogLevel,
		Persona:         DefaultPersona,
		ShutdownTimeout: DefaultShutdownTimeout,
		Telegram: &TelegramConfig{
			Handle:            DefaultTelegramHandle,
			Aliases:           aliases,
			PollTimeout:       DefaultTelegramPollTimeout,
			LogLevel:          telegramLogLevel,
			BotAPILogLevel:    botAPILogLevel,
			ReplyPrefix:       DefaultReplyPrefix,
			RateLimitMessage:  DefaultRateLimitMessage,
			EmptyQueryMessage: DefaultEmptyQueryMessage,
			GroupJoinMessage:  DefaultGroupJoinMessage,
		},
		Gemini: &GeminiConfig{
			BaseURL:                  DefaultGeminiBaseURL,
			Model:                    DefaultGeminiModel,
			RequestTimeout:           DefaultGeminiRequestTimeout,
			Temperature:              DefaultGeminiTemperature,
			TopP:                     DefaultGeminiTopP,
			TopK:                     DefaultGeminiTopK,
			MaxOutputTokens:          DefaultGeminiMaxOutputTokens,
			SafetyThreshold:          DefaultGeminiSafetyThreshold,
			RemoteErrorMessage:       DefaultRemoteErrorMessage,
			MalformedResponseMessage: DefaultMalformedResponseMessage,
			LogLevel:                 geminiLogLevel,
		},
		RateLimit: &RateLimitConfig{
			MaxRequests: DefaultRateLimitMaxRequests,
			Window:      DefaultRateLimitWindow,
		},
	}
}
