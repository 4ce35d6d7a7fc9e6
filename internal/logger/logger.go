// Package logger configures the process-wide log handler and hands out
// named loggers. Components receive their logger from the caller.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cenkalti/log"
)

const timeFormat = "2006-01-02 15:04:05"

var handler log.Handler

func init() {
	SetHandler(log.NewFileHandler(os.Stderr))
	SetLevel(log.INFO)
}

// SetHandler changes the global logging handler.
func SetHandler(h log.Handler) {
	handler = h
	handler.SetFormatter(logFormatter{})
}

// SetLevel sets the logging level on the global handler.
func SetLevel(l log.Level) {
	handler.SetLevel(l)
}

// ParseLevel converts a level name such as "debug" or "error" to a log.Level.
func ParseLevel(s string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DEBUG, nil
	case "info", "":
		return log.INFO, nil
	case "notice":
		return log.NOTICE, nil
	case "warning", "warn":
		return log.WARNING, nil
	case "error":
		return log.ERROR, nil
	case "critical":
		return log.CRITICAL, nil
	}
	return log.INFO, fmt.Errorf("unknown log level: %q", s)
}

// Logger is for logging messages from inside of the program in various logging levels.
type Logger log.Logger

// New returns a new Logger with a name.
// Log messages are prefixed with this name by the default Handler.
func New(name string) Logger {
	logger := log.NewLogger(name)
	logger.SetLevel(log.DEBUG) // forward all messages to handler
	logger.SetHandler(handler)
	return logger
}

type logFormatter struct{}

// Format outputs a message like "2014-02-28 18:15:57 INFO     [download] downloader.go:249 Downloading a.raw to PXD1/a.raw"
func (f logFormatter) Format(rec *log.Record) string {
	return fmt.Sprintf("%s %-8s [%s] %s %s",
		rec.Time.Format(timeFormat),
		rec.Level,
		rec.LoggerName,
		filepath.Base(rec.Filename)+":"+strconv.Itoa(rec.Line),
		rec.Message)
}
