package cmd

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"

	"github.com/DavidNingthou/TICSAI/ticsai"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfg     = ticsai.DefaultConfig()
	envFile string
)

var rootCmd = &cobra.Command{
	Use: "ticsai [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					mapstructure.StringToSliceHookFunc(","),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes log level strings into *slog.LevelVar.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initConfig() {
	if envFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", envFile)
		if err := godotenv.Load(envFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("log_level", ticsai.DefaultLogLevel.String())
	viper.SetDefault("shutdown_timeout", ticsai.DefaultShutdownTimeout)
	viper.SetDefault("persona", ticsai.DefaultPersona)

	// Telegram config
	viper.SetDefault("telegram.token", "")
	viper.SetDefault("telegram.handle", ticsai.DefaultTelegramHandle)
	viper.SetDefault("telegram.aliases", ticsai.DefaultTelegramAliases)
	viper.SetDefault("telegram.poll_timeout", ticsai.DefaultTelegramPollTimeout)
	viper.SetDefault(
		"telegram.log_level",
		ticsai.DefaultTelegramLogLevel.String(),
	)
	viper.SetDefault(
		"telegram.botapi_log_level",
		ticsai.DefaultBotAPILogLevel.String(),
	)
	viper.SetDefault("telegram.reply_prefix", ticsai.DefaultReplyPrefix)
	viper.SetDefault(
		"telegram.rate_limit_message",
		ticsai.DefaultRateLimitMessage,
	)
	viper.SetDefault(
		"telegram.empty_query_message",
		ticsai.DefaultEmptyQueryMessage,
	)
	viper.SetDefault(
		"telegram.group_join_message",
		ticsai.DefaultGroupJoinMessage,
	)

	// Gemini config
	viper.SetDefault("gemini.api_key", "")
	viper.SetDefault("gemini.base_url", ticsai.DefaultGeminiBaseURL)
	viper.SetDefault("gemini.model", ticsai.DefaultGeminiModel)
	viper.SetDefault(
		"gemini.request_timeout",
		ticsai.DefaultGeminiRequestTimeout,
	)
	viper.SetDefault("gemini.temperature", ticsai.DefaultGeminiTemperature)
	viper.SetDefault("gemini.top_p", ticsai.DefaultGeminiTopP)
	viper.SetDefault("gemini.top_k", ticsai.DefaultGeminiTopK)
	viper.SetDefault(
		"gemini.max_output_tokens",
		ticsai.DefaultGeminiMaxOutputTokens,
	)
	viper.SetDefault(
		"gemini.safety_threshold",
		ticsai.DefaultGeminiSafetyThreshold,
	)
	viper.SetDefault(
		"gemini.remote_error_message",
		ticsai.DefaultRemoteErrorMessage,
	)
	viper.SetDefault(
		"gemini.malformed_response_message",
		ticsai.DefaultMalformedResponseMessage,
	)
	viper.SetDefault("gemini.log_level", ticsai.DefaultGeminiLogLevel.String())

	// Rate limit config
	viper.SetDefault(
		"rate_limit.max_requests",
		ticsai.DefaultRateLimitMaxRequests,
	)
	viper.SetDefault("rate_limit.window", ticsai.DefaultRateLimitWindow)

	envPrefix := os.Getenv(ticsai.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = ticsai.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	for _, key := range []string{
		"log_level",
		"telegram.log_level",
		"telegram.botapi_log_level",
		"gemini.log_level",
	} {
		logLevelVar, err := levelStringToLevelVar(viper.GetString(key))
		if err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
		viper.Set(key, logLevelVar)
	}
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&envFile,
		"env-file",
		"",
		"Env file to load before reading configuration",
	)
}
