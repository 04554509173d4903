package config

import (
	"fmt"
	"os"
	"strings"

	zaplogfmt "github.com/jsternberg/zap-logfmt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerName prefixes every logger in the process.
const LoggerName = "enclosure"

var logFormats = []string{"console", "json", "logfmt"}

// LoggingConfig selects the log encoder and level.
type LoggingConfig struct {
	Format string `yaml:"logFormat" env:"LOG_FORMAT" env-default:"console"`
	Level  string `yaml:"logLevel" env:"LOG_LEVEL" env-default:"info"`
}

// ValidateLogging normalises and checks cfg.
func ValidateLogging(cfg *LoggingConfig) error {
	cfg.Format = strings.ToLower(cfg.Format)
	known := false
	for _, f := range logFormats {
		known = known || f == cfg.Format
	}
	if !known {
		return fmt.Errorf("logFormat must be one of %s, got '%s'", strings.Join(logFormats, ", "), cfg.Format)
	}

	cfg.Level = strings.ToLower(cfg.Level)
	if _, err := parseLevel(cfg.Level); err != nil {
		return err
	}
	return nil
}

func parseLevel(s string) (zapcore.Level, error) {
	level, err := zapcore.ParseLevel(s)
	if err != nil || level > zapcore.ErrorLevel {
		return level, fmt.Errorf("logLevel must be one of: debug, info, warn, error, got '%s'", s)
	}
	return level, nil
}

// NewLogger builds the process logger on stderr. Entries are named
// LoggerName and carry bootID when it is set.
func NewLogger(cfg *LoggingConfig, bootID string) (*zap.Logger, error) {
	return newLogger(cfg, bootID, zapcore.Lock(os.Stderr))
}

func newLogger(cfg *LoggingConfig, bootID string, out zapcore.WriteSyncer) (*zap.Logger, error) {
	level, err := parseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, err
	}

	enc := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	var encoder zapcore.Encoder
	switch strings.ToLower(cfg.Format) {
	case "json":
		encoder = zapcore.NewJSONEncoder(enc)
	case "logfmt":
		encoder = zaplogfmt.NewEncoder(enc)
	default:
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		encoder = zapcore.NewConsoleEncoder(enc)
	}

	logger := zap.New(zapcore.NewCore(encoder, out, level),
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	).Named(LoggerName)
	if bootID != "" {
		logger = logger.With(zap.String("boot_id", bootID))
	}
	return logger, nil
}
