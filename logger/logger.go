package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/go-playground/validator/v10"
)

var defaultLogger = slog.Default()

// LogLevel represents log levels
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Config holds logger configuration
type Config struct {
	Level  LogLevel `toml:"level" validate:"required,oneof=debug info warn error"`
	Format string   `toml:"format" validate:"required,oneof=text json"`
}

// DefaultConfig is used when the configuration file has no [logging] table
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: "text"}
}

// Validate validates the logger configuration
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	return validate.Struct(c)
}

func (c *Config) slogLevel() slog.Level {
	switch c.Level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// New builds a logger writing to w without touching the global one
func New(config Config, w io.Writer) (*slog.Logger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{
		Level: config.slogLevel(),
	}

	var handler slog.Handler
	switch config.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), nil
}

// Init initializes the global logger with the given configuration.
// An invalid configuration is reported and the defaults are used instead.
func Init(config Config) {
	l, err := New(config, os.Stdout)
	if err != nil {
		slog.Error("Invalid logger configuration", "error", err)
		l, _ = New(DefaultConfig(), os.Stdout)
	}
	defaultLogger = l
	slog.SetDefault(defaultLogger)
}

func Debug(msg string, args ...any) {
	defaultLogger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	defaultLogger.Info(msg, args...)
}

func Warn(msg string, args ...any) {
	defaultLogger.Warn(msg, args...)
}

func Error(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
}

// Fatal logs an error and exits the program
func Fatal(msg string, args ...any) {
	defaultLogger.Error(msg, args...)
	os.Exit(1)
}

// Service creates a logger with service context
func Service(service string) *slog.Logger {
	return defaultLogger.With("service", service)
}
