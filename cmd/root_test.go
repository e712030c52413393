package cmd

import (
	"log/slog"
	"reflect"
	"testing"
	"time"

	"github.com/DavidNingthou/TICSAI/ticsai"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogLevel(t *testing.T) {
	for _, lvl := range []slog.Level{
		slog.LevelDebug,
		slog.LevelInfo,
		slog.LevelWarn,
		slog.LevelError,
	} {
		got, err := getLogLevel(lvl.String())
		require.NoError(t, err)
		assert.Equal(t, lvl, got)
	}

	_, err := getLogLevel("LOUD")
	assert.Error(t, err)
}

func TestLevelToStringHookFunc(t *testing.T) {
	hook := LevelToStringHookFunc()

	rv, err := hook(
		reflect.TypeOf(""),
		reflect.TypeOf(&slog.LevelVar{}),
		"DEBUG",
	)
	require.NoError(t, err)
	lvl, ok := rv.(*slog.LevelVar)
	require.True(t, ok)
	assert.Equal(t, slog.LevelDebug, lvl.Level())

	// non-level targets pass through untouched
	rv, err = hook(reflect.TypeOf(""), reflect.TypeOf(""), "DEBUG")
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", rv)

	_, err = hook(
		reflect.TypeOf(""),
		reflect.TypeOf(&slog.LevelVar{}),
		"LOUD",
	)
	assert.Error(t, err)
}

func TestConfigFromEnv(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("TICSAI_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("TICSAI_TELEGRAM_HANDLE", "MyTICSBot")
	t.Setenv("TICSAI_TELEGRAM_ALIASES", "mybot,my bot")
	t.Setenv("TICSAI_GEMINI_API_KEY", "gemini-key")
	t.Setenv("TICSAI_GEMINI_MODEL", "gemini-1.5-pro")
	t.Setenv("TICSAI_RATE_LIMIT_MAX_REQUESTS", "5")
	t.Setenv("TICSAI_RATE_LIMIT_WINDOW", "1m")
	t.Setenv("TICSAI_LOG_LEVEL", "DEBUG")

	initConfig()

	config := ticsai.DefaultConfig()
	require.NoError(
		t, viper.Unmarshal(
			config,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToSliceHookFunc(","),
					LevelToStringHookFunc(),
				),
			),
		),
	)

	assert.Equal(t, "123:abc", config.Telegram.Token)
	assert.Equal(t, "MyTICSBot", config.Telegram.Handle)
	assert.Equal(t, []string{"mybot", "my bot"}, config.Telegram.Aliases)
	assert.Equal(t, "gemini-key", config.Gemini.APIKey)
	assert.Equal(t, "gemini-1.5-pro", config.Gemini.Model)
	assert.Equal(t, 5, config.RateLimit.MaxRequests)
	assert.Equal(t, time.Minute, config.RateLimit.Window)
	assert.Equal(t, slog.LevelDebug, config.LogLevel.Level())
}

func TestConfigDefaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	initConfig()

	config := ticsai.DefaultConfig()
	require.NoError(
		t, viper.Unmarshal(
			config,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToSliceHookFunc(","),
					LevelToStringHookFunc(),
				),
			),
		),
	)

	assert.Equal(t, ticsai.DefaultTelegramHandle, config.Telegram.Handle)
	assert.Equal(t, ticsai.DefaultGeminiModel, config.Gemini.Model)
	assert.Equal(
		t, ticsai.DefaultRateLimitMaxRequests, config.RateLimit.MaxRequests,
	)
	assert.Equal(t, ticsai.DefaultRateLimitWindow, config.RateLimit.Window)
	assert.Equal(t, ticsai.DefaultPersona, config.Persona)
}
