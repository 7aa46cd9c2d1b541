package logger

import (
	"context"
	"log/slog"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// slogBridge routes slog records into a zap logger so packages logging via
// log/slog share the configured cores. Attrs added through WithAttrs are
// converted eagerly; open groups become dotted key prefixes.
type slogBridge struct {
	zl     *zap.Logger
	prefix string
}

func newSlogBridge(zl *zap.Logger) slog.Handler {
	if zl == nil {
		zl = zap.NewNop()
	}
	return &slogBridge{zl: zl}
}

func zapLevel(level slog.Level) zapcore.Level {
	switch {
	case level < slog.LevelInfo:
		return LevelDebug
	case level < slog.LevelWarn:
		return LevelInfo
	case level < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}

func (b *slogBridge) Enabled(_ context.Context, level slog.Level) bool {
	return b.zl.Core().Enabled(zapLevel(level))
}

func (b *slogBridge) Handle(_ context.Context, record slog.Record) error {
	ce := b.zl.Check(zapLevel(record.Level), record.Message)
	if ce == nil {
		return nil
	}
	fields := make([]zap.Field, 0, record.NumAttrs())
	record.Attrs(func(attr slog.Attr) bool {
		fields = b.appendField(fields, b.prefix, attr)
		return true
	})
	ce.Write(fields...)
	return nil
}

func (b *slogBridge) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return b
	}
	fields := make([]zap.Field, 0, len(attrs))
	for _, attr := range attrs {
		fields = b.appendField(fields, b.prefix, attr)
	}
	return &slogBridge{zl: b.zl.With(fields...), prefix: b.prefix}
}

func (b *slogBridge) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return b
	}
	return &slogBridge{zl: b.zl, prefix: b.prefix + name + "."}
}

// appendField flattens one attr into zap fields. Groups recurse with a
// longer prefix instead of nesting objects, keeping keys greppable.
func (b *slogBridge) appendField(fields []zap.Field, prefix string, attr slog.Attr) []zap.Field {
	value := attr.Value.Resolve()
	if value.Kind() == slog.KindGroup {
		inner := prefix
		if attr.Key != "" {
			inner = prefix + attr.Key + "."
		}
		for _, nested := range value.Group() {
			fields = b.appendField(fields, inner, nested)
		}
		return fields
	}

	key := prefix + attr.Key
	switch value.Kind() {
	case slog.KindBool:
		return append(fields, zap.Bool(key, value.Bool()))
	case slog.KindInt64:
		return append(fields, zap.Int64(key, value.Int64()))
	case slog.KindUint64:
		return append(fields, zap.Uint64(key, value.Uint64()))
	case slog.KindFloat64:
		return append(fields, zap.Float64(key, value.Float64()))
	case slog.KindDuration:
		return append(fields, zap.Duration(key, value.Duration()))
	case slog.KindTime:
		return append(fields, zap.Time(key, value.Time()))
	case slog.KindString:
		return append(fields, zap.String(key, value.String()))
	case slog.KindAny:
		return append(fields, zap.Any(key, value.Any()))
	default:
		return append(fields, zap.String(key, value.String()))
	}
}
