// Package sysutil holds process bootstrap helpers: global log level and
// log sink configuration.
package sysutil

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/tbourn/study-assistant/internal/config"
)

// SetLogLevel configures the global zerolog level based on a string value.
// Supported values (case-insensitive): debug, info, warn, error, fatal, panic.
func SetLogLevel(lvl string) {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info", "":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn", "warning":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "fatal":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "panic":
		zerolog.SetGlobalLevel(zerolog.PanicLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// LogWriter builds the sink for the global logger: stdout (pretty console
// when pretty is set) and, when file.Path is non-empty, a size-rotated file.
// The returned closer releases the file; it is a no-op without one.
func LogWriter(stdout io.Writer, pretty bool, file config.LogFileConfig) (io.Writer, io.Closer) {
	var console io.Writer = stdout
	if pretty {
		console = zerolog.ConsoleWriter{Out: stdout, TimeFormat: time.RFC3339}
	}
	if strings.TrimSpace(file.Path) == "" {
		return console, nopCloser{}
	}
	rot := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   true,
	}
	return zerolog.MultiLevelWriter(console, rot), rot
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// SetupLogger installs the global zerolog logger from configuration and
// returns a closer for any file sink.
func SetupLogger(cfg config.Config) io.Closer {
	SetLogLevel(cfg.LogLevel)
	zerolog.TimeFieldFormat = time.RFC3339Nano
	w, closer := LogWriter(os.Stdout, cfg.LogPretty, cfg.LogFile)
	log.Logger = zerolog.New(w).With().Timestamp().Str("env", cfg.Env).Logger()
	return closer
}

// FirstNonEmpty returns the first non-blank string from a variadic list.
// If all values are blank, it returns "".
func FirstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
