package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a new logger. level is one of debug, info, warn, error or off;
// format is json or console. Hooks fire for every entry at or above the
// configured level.
func New(level, format string, hooks ...func(zapcore.Entry) error) (*zap.Logger, error) {
	if strings.EqualFold(level, "off") {
		return zap.NewNop(), nil
	}

	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return nil, fmt.Errorf("unknown log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	switch strings.ToLower(format) {
	case "", "json":
		cfg.Encoding = "json"
	case "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	var opts []zap.Option
	if len(hooks) > 0 {
		opts = append(opts, zap.Hooks(hooks...))
	}
	return cfg.Build(opts...)
}
