package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

var (
	// Logger is the global logger instance
	Logger zerolog.Logger
)

// Level represents log level
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// zerologLevels maps Synap's own Level strings onto zerolog's, so Init never
// needs to hand-roll the switch zerolog already resolves internally.
var zerologLevels = map[Level]zerolog.Level{
	DebugLevel: zerolog.DebugLevel,
	InfoLevel:  zerolog.InfoLevel,
	WarnLevel:  zerolog.WarnLevel,
	ErrorLevel: zerolog.ErrorLevel,
}

// Init rebuilds the global Logger from cfg. An unrecognized or empty Level
// falls back to InfoLevel; a nil Output falls back to os.Stdout.
func Init(cfg Config) {
	level, ok := zerologLevels[cfg.Level]
	if !ok {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}
	Logger = zerolog.New(sink(cfg.JSONOutput, output)).With().Timestamp().Logger()
}

// sink picks the raw writer for JSON output or wraps it in zerolog's
// human-readable console formatter.
func sink(jsonOutput bool, out io.Writer) io.Writer {
	if jsonOutput {
		return out
	}
	return zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
}

// WithComponent creates a child logger tagged with the owning subsystem
// (shard, queue, plog, group, pubsub, txn, script, sink, engine, ...).
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithKey creates a child logger tagged with the key an operation addressed.
func WithKey(component, key string) zerolog.Logger {
	return Logger.With().Str("component", component).Str("key", key).Logger()
}

func init() {
	// Default so packages that log before an explicit Init (tests, cmd helpers)
	// still produce readable output instead of the zerolog zero-value no-op.
	Init(Config{Level: InfoLevel, JSONOutput: false, Output: os.Stderr})
}

// Helper functions for common logging patterns
func Info(msg string) {
	Logger.Info().Msg(msg)
}

func Debug(msg string) {
	Logger.Debug().Msg(msg)
}

func Warn(msg string) {
	Logger.Warn().Msg(msg)
}

func Error(msg string) {
	Logger.Error().Msg(msg)
}

func Errorf(format string, err error) {
	Logger.Error().Err(err).Msg(format)
}

func Fatal(msg string) {
	Logger.Fatal().Msg(msg)
}
