package observability

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// CLILogger is used by commands; ServerLogger by the HTTP surface. Both are
// no-op loggers until initialized so packages can log unconditionally.
var (
	CLILogger    = zap.NewNop()
	ServerLogger = zap.NewNop()
)

// NewLogger builds a zap logger writing to stderr. Profile STRUCTURED emits
// JSON lines; CONSOLE emits human-readable output.
func NewLogger(level, profile string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch strings.ToUpper(strings.TrimSpace(profile)) {
	case "", "STRUCTURED":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	case "CONSOLE":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	default:
		return nil, fmt.Errorf("invalid log profile %q", profile)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.DisableStacktrace = lvl > zapcore.DebugLevel

	return cfg.Build()
}

// InitCLILogger replaces CLILogger.
func InitCLILogger(service, level, profile string) error {
	logger, err := NewLogger(level, profile)
	if err != nil {
		return err
	}
	CLILogger = logger.With(zap.String("service", service))
	return nil
}

// InitServerLogger replaces ServerLogger.
func InitServerLogger(service, level, profile string) error {
	logger, err := NewLogger(level, profile)
	if err != nil {
		return err
	}
	ServerLogger = logger.With(zap.String("service", service), zap.String("component", "http"))
	return nil
}

// Sync flushes both loggers, ignoring the EINVAL stderr returns on some
// platforms.
func Sync() {
	_ = CLILogger.Sync()
	_ = ServerLogger.Sync()
}
