// Package logging builds the zap loggers used by the commands.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the log encoding.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Environment variables read by FromEnv.
const (
	EnvLogLevel  = "LBCPP_LOG_LEVEL"
	EnvLogFormat = "LBCPP_LOG_FORMAT"
)

// ParseLevel converts a level name to a zap level. Unknown names yield Info.
func ParseLevel(level string) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(level)))); err != nil {
		return zapcore.InfoLevel
	}
	return l
}

// New creates a logger writing to stderr with the given level and format.
// JSON output uses the production encoder, console output the development one.
func New(level string, format Format) *zap.Logger {
	var encoderConfig zapcore.EncoderConfig
	var encoder zapcore.Encoder
	switch Format(strings.ToLower(string(format))) {
	case FormatJSON:
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.NewAtomicLevelAt(ParseLevel(level)))
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

// FromEnv creates a logger from LBCPP_LOG_LEVEL and LBCPP_LOG_FORMAT,
// defaulting to info level console output.
func FromEnv() *zap.Logger {
	return New(getEnv(EnvLogLevel, "info"), Format(getEnv(EnvLogFormat, string(FormatConsole))))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
