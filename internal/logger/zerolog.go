package logger

import (
	"errors"
	"io"
	"os"
	"time"

	apperrors "tableware-inspector/internal/errors"

	"github.com/rs/zerolog"
)

// ZerologAdapter implements Logger on zerolog. Every entry carries the
// service name and the emitting component.
type ZerologAdapter struct {
	logger zerolog.Logger
}

func NewZerolog(writer io.Writer, level zerolog.Level, service string) *ZerologAdapter {
	ctx := zerolog.New(writer).
		Level(level).
		With().
		Timestamp()
	if service != "" {
		ctx = ctx.Str("service", service)
	}

	return &ZerologAdapter{logger: ctx.Logger()}
}

func NewConsoleLogger(level zerolog.Level, service string) *ZerologAdapter {
	consoleWriter := zerolog.ConsoleWriter{
		Out:           os.Stdout,
		TimeFormat:    time.TimeOnly,
		FieldsExclude: []string{"service"},
	}
	return NewZerolog(consoleWriter, level, service)
}

// NewJSONLogger writes one JSON object per line to stdout.
func NewJSONLogger(level zerolog.Level, service string) *ZerologAdapter {
	return NewZerolog(os.Stdout, level, service)
}

// With returns a child logger that adds fields to every entry.
func (z *ZerologAdapter) With(fields map[string]interface{}) *ZerologAdapter {
	return &ZerologAdapter{logger: z.logger.With().Fields(fields).Logger()}
}

func (z *ZerologAdapter) Info(component, message string, fields map[string]interface{}) {
	emit(z.logger.Info(), component, message, fields)
}

// Error logs err under its AppError message and type when it carries one.
func (z *ZerologAdapter) Error(component string, err error, fields map[string]interface{}) {
	event := z.logger.Error().Err(err)
	message := "operation failed"

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		event = event.Str("error_type", string(appErr.Type))
		message = appErr.Message
	}
	emit(event, component, message, fields)
}

func (z *ZerologAdapter) Warning(component, message string, fields map[string]interface{}) {
	emit(z.logger.Warn(), component, message, fields)
}

func (z *ZerologAdapter) Debug(component, message string, fields map[string]interface{}) {
	emit(z.logger.Debug(), component, message, fields)
}

func emit(event *zerolog.Event, component, message string, fields map[string]interface{}) {
	event = event.Str("component", component)
	if len(fields) > 0 {
		event = event.Fields(fields)
	}
	event.Msg(message)
}
