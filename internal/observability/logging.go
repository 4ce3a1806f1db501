package observability

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pitabwire/drill/internal/config"
	"github.com/pitabwire/drill/model"
)

type loggerKey struct{}

// NewLogger builds the service's JSON logger on stdout. An unknown level
// falls back to info.
//
// Rejected actions and advances log at warn, storage faults at error,
// commits and sweeps at info, replays and reference lookups at debug.
func NewLogger(cfg config.ObservabilityConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	zc.OutputPaths = []string{"stdout"}
	zc.EncoderConfig.TimeKey = "timestamp"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
	zc.InitialFields = map[string]any{"service": "drill"}
	return zc.Build()
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// LoggerFrom returns the logger stored in ctx, or fallback.
func LoggerFrom(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*zap.Logger); ok && l != nil {
		return l
	}
	return fallback
}

// ScopeFields identifies a team, and its outline when known, in log entries.
func ScopeFields(scope model.TeamScope) []zap.Field {
	fields := []zap.Field{
		zap.String("access_id", scope.AccessID),
		zap.Int("team_no", scope.TeamNo),
	}
	if scope.OutlineID != "" {
		fields = append(fields, zap.String("outline_id", scope.OutlineID))
	}
	return fields
}

// RequestLogger tags the context's logger with the session's team, outline
// and correlation ids. The actor token is never logged.
func RequestLogger(ctx context.Context, fallback *zap.Logger) *zap.Logger {
	logger := LoggerFrom(ctx, fallback)
	rctx := model.RequestContextFrom(ctx)
	if rctx == nil {
		return logger
	}

	fields := ScopeFields(model.TeamScope{Team: rctx.Team(), OutlineID: rctx.OutlineID})
	fields = append(fields, zap.String("correlation_id", rctx.CorrelationID))
	if rctx.TraceID != "" {
		fields = append(fields, zap.String("trace_id", rctx.TraceID))
	}
	return logger.With(fields...)
}
