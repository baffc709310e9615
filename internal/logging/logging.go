// Package logging builds the service's zap logger.
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mlehotskylf-org/securegate/internal/csp"
)

// ParseLevel maps a LOG_LEVEL value to a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel, nil
	case "", "info":
		return zapcore.InfoLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
}

// New returns a JSON logger in production and a console logger in
// development, writing to stdout.
func New(level string, profile csp.Profile) (*zap.Logger, error) {
	return NewWithSink(level, profile, zapcore.AddSync(os.Stdout))
}

// NewWithSink is New with an explicit destination.
func NewWithSink(level string, profile csp.Profile, sink zapcore.WriteSyncer) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var encoder zapcore.Encoder
	opts := []zap.Option{zap.AddCaller()}
	if profile == csp.ProfileDevelopment {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeDuration = zapcore.StringDurationEncoder
		encoder = zapcore.NewConsoleEncoder(cfg)
		opts = append(opts, zap.Development())
	} else {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "ts"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncodeDuration = zapcore.MillisDurationEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}

	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(lvl))
	return zap.New(core, opts...).With(zap.String("profile", string(profile))), nil
}
