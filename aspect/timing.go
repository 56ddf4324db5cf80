package aspect

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"
)

// TimingSecondsKey is the invocation value holding the measured duration in seconds
const TimingSecondsKey = "timing.seconds"

// MetricsCollector defines the interface for collecting invocation metrics
type MetricsCollector interface {
	IncrementCallCount(operation string)
	RecordDuration(operation string, duration time.Duration)
	IncrementErrorCount(operation string, errorType string)
}

// TimingAdvice measures the segment it wraps
type TimingAdvice struct {
	logger    *slog.Logger
	collector MetricsCollector
}

// NewTimingAdvice creates a timing advice; collector may be nil
func NewTimingAdvice(logger *slog.Logger, collector MetricsCollector) *TimingAdvice {
	if logger == nil {
		logger = slog.Default()
	}

	return &TimingAdvice{logger: logger, collector: collector}
}

// Bindings implements Advisor
func (t *TimingAdvice) Bindings() []Binding {
	return []Binding{Around("timing", t.around)}
}

func (t *TimingAdvice) around(ctx context.Context, inv *Invocation, proceed Proceed) (any, error) {
	site := inv.Site()
	operation := site.Path()
	if t.collector != nil {
		t.collector.IncrementCallCount(operation)
	}

	start := time.Now()
	result, err := proceed(ctx)
	elapsed := time.Since(start)

	inv.Set(TimingSecondsKey, elapsed.Seconds())
	t.logger.InfoContext(ctx, site.Method+" took "+formatSeconds(elapsed)+" secs",
		"operation", operation,
		"invocationId", inv.ID(),
		"duration", elapsed,
	)

	if t.collector != nil {
		t.collector.RecordDuration(operation, elapsed)
		if err != nil {
			t.collector.IncrementErrorCount(operation, errorType(err))
		}
	}
	return result, err
}

func formatSeconds(d time.Duration) string {
	return strconv.FormatFloat(d.Seconds(), 'f', 3, 64)
}

// errorType buckets a failure for metrics
func errorType(err error) string {
	var panicErr *PanicError
	switch {
	case errors.As(err, &panicErr):
		return "panic"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case IsAdviceError(err):
		return "advice"
	default:
		return "error"
	}
}
