package testenv

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/embedpop/embedpop/pkg/logger"
)

var _ logger.Logger = (*TestLogger)(nil)

// TestLogger is a logger.Logger that prints message index (starting from 0)
// level, and message content, without the timestamp.
// This allows test log output to be deterministic.
type TestLogger struct {
	mu                  sync.Mutex
	out                 io.Writer
	index               int
	ignoreErrorPrefixes []string // prefixes of error messages to ignore
	ignoreDebug         bool     // whether to ignore DEBUG level messages
}

// TestLoggerOption is a function that configures a TestLogger
type TestLoggerOption func(*TestLogger)

// WithOutput sets where lines are written. Stdout by default.
func WithOutput(w io.Writer) TestLoggerOption {
	return func(l *TestLogger) {
		l.out = w
	}
}

// WithIgnoreErrorPrefixes sets prefixes for error messages that should be ignored
func WithIgnoreErrorPrefixes(prefixes ...string) TestLoggerOption {
	return func(l *TestLogger) {
		l.ignoreErrorPrefixes = append(l.ignoreErrorPrefixes, prefixes...)
	}
}

// WithIgnoreDebug configures the logger to ignore DEBUG level messages
func WithIgnoreDebug() TestLoggerOption {
	return func(l *TestLogger) {
		l.ignoreDebug = true
	}
}

func NewTestLogger(opts ...TestLoggerOption) *TestLogger {
	l := &TestLogger{out: os.Stdout}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *TestLogger) Error(msg string, args ...any) {
	for _, prefix := range l.ignoreErrorPrefixes {
		if strings.HasPrefix(msg, prefix) {
			return
		}
	}
	l.print("ERROR", msg, args)
}

func (l *TestLogger) Warn(msg string, args ...any) {
	l.print("WARN", msg, args)
}

func (l *TestLogger) Info(msg string, args ...any) {
	l.print("INFO", msg, args)
}

func (l *TestLogger) Debug(msg string, args ...any) {
	if l.ignoreDebug {
		return
	}
	l.print("DEBUG", msg, args)
}

func (l *TestLogger) print(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()

	attrs := argsToString(args)
	if attrs != "" {
		fmt.Fprintf(l.out, "[%d] %s: %s %s\n", l.index, level, msg, attrs)
	} else {
		fmt.Fprintf(l.out, "[%d] %s: %s\n", l.index, level, msg)
	}
	l.index++
}

func argsToString(args []any) string {
	var sb strings.Builder
	for i := 0; i < len(args); i += 2 {
		if i > 0 {
			sb.WriteString(", ")
		}
		if i+1 == len(args) {
			// dangling value without a key
			fmt.Fprintf(&sb, "!BADKEY=%v", args[i])
			break
		}
		fmt.Fprintf(&sb, "%v=%v", args[i], args[i+1])
	}
	return sb.String()
}
