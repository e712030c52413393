package ticsai

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/lmittmann/tint"
)

const loggerNameKey = "logger"

const loggerContextKey contextKey = "logger"

type contextKey string

var defaultLogWriter io.Writer = os.Stdout

// newLogHandler creates a tint handler writing to the default log writer,
// using the given (runtime-adjustable) level.
func newLogHandler(level *slog.LevelVar) slog.Handler {
	return tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     level,
			AddSource: true,
		},
	)
}

// WithLogger returns a new context with the given logger added.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	var ctxLogger *slog.Logger
	if logger == nil {
		ctxLogger = slog.Default()
	} else {
		ctxLogger = logger
	}
	return context.WithValue(ctx, loggerContextKey, ctxLogger)
}

// ContextLogger returns a logger from the given context if one
// is present, and a boolean indicating whether a logger was found.
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return logger, ok
}

// botAPILogger adapts slog onto the telegram-bot-api library's BotLogger
// interface, so the library's internal logging lands in the same place
// (and at a configurable level) as everything else.
type botAPILogger struct {
	logger *slog.Logger
	level  *slog.LevelVar
}

func newBotAPILogger(handler slog.Handler, level *slog.LevelVar) *botAPILogger {
	return &botAPILogger{
		logger: slog.New(handler).With(loggerNameKey, "botapi"),
		level:  level,
	}
}

func (b *botAPILogger) Println(v ...any) {
	b.logger.LogAttrs(
		context.Background(),
		b.level.Level(),
		strings.TrimSuffix(fmt.Sprintln(v...), "\n"),
	)
}

func (b *botAPILogger) Printf(format string, v ...any) {
	b.logger.LogAttrs(
		context.Background(),
		b.level.Level(),
		strings.ReplaceAll(fmt.Sprintf(format, v...), "\n", ""),
	)
}

// structToSlogValue converts a struct to a slog.Value, using the struct's
// JSON tag as the key for each field, if set.
// If the `log` tag is set, the value specified will override the
// field's actual value. Ex: `log:"[redacted]"` will cause "[redacted]" to
// be shown as the field's value.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	var groupAttrs []slog.Attr

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		jsonTag, _, _ := strings.Cut(field.Tag.Get("json"), ",")

		if jsonTag == "" {
			jsonTag = field.Name
		}

		fv := val.Field(i)
		if !fv.CanInterface() {
			continue
		}

		logTag := field.Tag.Get("log")
		if logTag != "" {
			groupAttrs = append(
				groupAttrs,
				slog.Attr{Key: jsonTag, Value: slog.StringValue(logTag)},
			)
			continue
		}

		// skip values that are nil or empty
		skip := false
		switch fv.Kind() {
		case reflect.Ptr:
			if fv.IsNil() {
				skip = true
			}
		case reflect.Map, reflect.Slice:
			if fv.IsNil() || fv.Len() == 0 {
				skip = true
			}
		case reflect.String:
			if fv.String() == "" {
				skip = true
			}
		}

		if skip {
			continue
		}

		groupAttrs = append(
			groupAttrs,
			slog.Attr{Key: jsonTag, Value: structToSlogValue(fv.Interface())},
		)
	}

	return slog.GroupValue(groupAttrs...)
}
