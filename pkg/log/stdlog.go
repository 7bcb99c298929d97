package log

import (
	stdlog "log"
	"strings"
)

// stdLogWriter adapts a Logger to io.Writer for stdlib log redirection.
type stdLogWriter struct {
	logger Logger
}

func (w stdLogWriter) Write(p []byte) (int, error) {
	msg := strings.TrimRight(string(p), "\n")
	w.logger.Infof("%s", msg)
	return len(p), nil
}

// RedirectStdLog routes the stdlib default logger (used by Pebble and other
// vendored code) through the provided Logger.
func RedirectStdLog(logger Logger) {
	stdlog.SetFlags(0)
	stdlog.SetOutput(stdLogWriter{logger: logger})
}

// ToStdLogger returns a *log.Logger backed by the provided Logger, for
// libraries that only accept the stdlib type.
func ToStdLogger(logger Logger) *stdlog.Logger {
	return stdlog.New(stdLogWriter{logger: logger}, "", 0)
}
