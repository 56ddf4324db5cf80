package aspect

import (
	"context"
	"log/slog"
)

// LoggingAdvice logs every stage of an intercepted call
type LoggingAdvice struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLoggingAdvice creates a logging advice writing at info level
func NewLoggingAdvice(logger *slog.Logger) *LoggingAdvice {
	if logger == nil {
		logger = slog.Default()
	}

	return &LoggingAdvice{logger: logger, level: slog.LevelInfo}
}

// WithLevel sets the level used for the non-failure stages
func (l *LoggingAdvice) WithLevel(level slog.Level) *LoggingAdvice {
	l.level = level
	return l
}

// Bindings implements Advisor
func (l *LoggingAdvice) Bindings() []Binding {
	return []Binding{
		Before("logging", l.before),
		After("logging", l.after),
		OnSuccess("logging", l.returned),
		OnFailure("logging", l.thrown),
	}
}

func (l *LoggingAdvice) before(ctx context.Context, inv *Invocation) error {
	l.logger.Log(ctx, l.level, "[Before Calling]",
		"operation", inv.Site().Path(),
		"invocationId", inv.ID(),
		"args", inv.Site().ArgTypes(),
	)
	return nil
}

func (l *LoggingAdvice) after(ctx context.Context, inv *Invocation) error {
	l.logger.Log(ctx, l.level, "[After Calling]",
		"operation", inv.Site().Path(),
		"invocationId", inv.ID(),
		"duration", inv.Elapsed(),
	)
	return nil
}

func (l *LoggingAdvice) returned(ctx context.Context, inv *Invocation, result any) {
	l.logger.Log(ctx, l.level, "[After Returning]",
		"operation", inv.Site().Path(),
		"invocationId", inv.ID(),
		"result", result,
	)
}

func (l *LoggingAdvice) thrown(ctx context.Context, inv *Invocation, cause error) {
	l.logger.ErrorContext(ctx, "[After Throwing]",
		"operation", inv.Site().Path(),
		"invocationId", inv.ID(),
		"error", cause,
	)
}
