// Package logger is the process-wide slog logger plus the counters served
// on the metrics endpoint.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync/atomic"

	"github.com/caarlos0/env/v11"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Type alias for slog.Level for easier usage
type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug // -4
	LevelInfo    = slog.LevelInfo  // 0
	LevelWarning = slog.LevelWarn  // 4
	LevelError   = slog.LevelError // 8
	LevelFatal   = slog.Level(12)  // 12
)

var (
	Logger          *slog.Logger
	errorSampleRate atomic.Int32
	programLevel    = new(slog.LevelVar)
	shutdownFunc    func(context.Context) error // set while OTEL export is active
)

// Counters exposed on the metrics endpoint. They are incremented regardless
// of log sampling.
var (
	TotalErrors   atomic.Int64
	TotalWarnings atomic.Int64

	Total5xxErrors atomic.Int64
	Total4xxErrors atomic.Int64

	ExecutionsSucceeded   atomic.Int64
	ExecutionsFailed      atomic.Int64
	ExecutionsSkipped     atomic.Int64
	ActionFailures        atomic.Int64
	EventsDropped         atomic.Int64
	SchedulerRuns         atomic.Int64
	SchedulerTicksSkipped atomic.Int64
	NotificationsCreated  atomic.Int64
	PushesUndelivered     atomic.Int64
)

// Settings select the log sink. They are read from the environment so that
// packages logging before main runs already see them.
type Settings struct {
	Level  string `env:"LOG_LEVEL" envDefault:"INFO"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`

	// SampleRate keeps 1 in SampleRate warnings and errors. The default of 1
	// keeps all, so action failures are never dropped unless asked for.
	SampleRate int `env:"ERROR_SAMPLE_RATE" envDefault:"1"`

	OTELEnabled bool   `env:"OTEL_ENABLED"`
	ServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"caseflow"`
}

func init() {
	settings, err := env.ParseAs[Settings]()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log settings, using defaults: %v\n", err)
		settings = Settings{Level: "INFO", Format: "json", SampleRate: 1, ServiceName: "caseflow"}
	}
	if err := Setup(settings); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup OTEL logging, falling back to %s: %v\n", settings.Format, err)
	}
}

// Setup replaces the process logger. An OTEL failure leaves the local
// handler installed and is returned.
func Setup(s Settings) error {
	level, err := ParseLevel(s.Level)
	if err != nil {
		level = LevelInfo
	}
	programLevel.Set(level)
	SetSampleRate(s.SampleRate)

	if s.OTELEnabled {
		shutdown, err := setupOTELLogging(context.Background(), s.ServiceName)
		if err == nil {
			shutdownFunc = shutdown
			return nil
		}
		setupLocalLogging(s.Format)
		return err
	}

	setupLocalLogging(s.Format)
	return nil
}

// setupLocalLogging writes to stdout, as JSON unless format is "text"
func setupLocalLogging(format string) {
	opts := &slog.HandlerOptions{Level: programLevel}

	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

// setupOTELLogging exports records over OTLP/gRPC
func setupOTELLogging(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	Logger = slog.New(&levelHandler{
		level:   programLevel,
		handler: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)),
	})
	slog.SetDefault(Logger)

	return provider.Shutdown, nil
}

// levelHandler wraps a handler to filter by level
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// Shutdown flushes the OTEL exporter. It is a no-op for JSON logging.
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

// SetLevel sets the minimum log level for the logger
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

// GetLevel returns the current minimum log level
func GetLevel() slog.Level {
	return programLevel.Level()
}

// ParseLevel converts a string level name to slog.Level
func ParseLevel(levelStr string) (slog.Level, error) {
	switch strings.ToUpper(levelStr) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s (defaulting to INFO)", levelStr)
	}
}

// shouldSample returns true for 1 out of every errorSampleRate calls
func shouldSample() bool {
	rate := errorSampleRate.Load()
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

// SetSampleRate overrides ERROR_SAMPLE_RATE
func SetSampleRate(rate int) {
	if rate < 1 {
		rate = 1
	}
	errorSampleRate.Store(int32(rate))
}

// Trace logs a trace-level message (never sampled)
func Trace(msg string, args ...any) {
	Logger.Log(context.Background(), LevelTrace, msg, args...)
}

// Debug logs a debug-level message (never sampled)
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Info logs an info-level message (never sampled)
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn logs a warning-level message with sampling. The warning counter is
// always incremented.
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error logs an error-level message with sampling. The error counter is
// always incremented.
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs a fatal-level message and exits
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	if shutdownFunc != nil {
		_ = shutdownFunc(context.Background())
	}
	os.Exit(1)
}

// ErrorHttp5xx counts an HTTP 5xx response
func ErrorHttp5xx() {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
}

// WarnHttp4xx counts an HTTP 4xx response
func WarnHttp4xx() {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)
}

// Snapshot returns the current value of every counter keyed by name.
func Snapshot() map[string]int64 {
	return map[string]int64{
		"errors":                  TotalErrors.Load(),
		"warnings":                TotalWarnings.Load(),
		"http_5xx":                Total5xxErrors.Load(),
		"http_4xx":                Total4xxErrors.Load(),
		"executions_succeeded":    ExecutionsSucceeded.Load(),
		"executions_failed":       ExecutionsFailed.Load(),
		"executions_skipped":      ExecutionsSkipped.Load(),
		"action_failures":         ActionFailures.Load(),
		"events_dropped":          EventsDropped.Load(),
		"scheduler_runs":          SchedulerRuns.Load(),
		"scheduler_ticks_skipped": SchedulerTicksSkipped.Load(),
		"notifications_created":   NotificationsCreated.Load(),
		"pushes_undelivered":      PushesUndelivered.Load(),
	}
}
