package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"footprint/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New creates a zap.Logger configured based on the given options.
func New(opts config.LogConfig) (*zap.Logger, error) {
	// Parse log level
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(opts.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	// Determine encoding format
	encoding := "json"
	if opts.Environment == "dev" || opts.Format == "console" {
		encoding = "console"
	}
	// Get encoder config based on format
	encoderCfg := encoderConfig(encoding)

	// Compose output cores, stdout first
	cores := []zapcore.Core{
		zapcore.NewCore(newEncoder(encoding, encoderCfg), zapcore.Lock(os.Stdout), lvl),
	}

	// Optional file output with rotation via lumberjack, always JSON
	if opts.OutputFile != "" {
		// Create parent directory if it doesn't exist
		if err := os.MkdirAll(filepath.Dir(opts.OutputFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		fileWriter := zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.OutputFile,
			MaxSize:    50,   // max file size (MB) before rotation
			MaxBackups: 5,    // max number of old log files to keep
			MaxAge:     7,    // max age (days) to retain a log file
			Compress:   true, // compress rotated files
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig("json")), fileWriter, lvl))
	}

	// Combine all cores and build the logger with caller and stacktrace options
	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	// Tag every entry with the deployment environment
	if opts.Environment != "" {
		logger = logger.With(zap.String("env", opts.Environment))
	}
	return logger, nil
}

// newEncoder picks the stdout encoder for the format.
func newEncoder(format string, cfg zapcore.EncoderConfig) zapcore.Encoder {
	if format == "console" {
		return zapcore.NewConsoleEncoder(cfg)
	}
	return zapcore.NewJSONEncoder(cfg)
}

// encoderConfig returns a zapcore.EncoderConfig based on log format.
func encoderConfig(format string) zapcore.EncoderConfig {
	if format == "console" {
		return zap.NewDevelopmentEncoderConfig()
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}
