// Package logger provides the structured logger used across embedpop.
//
// The default implementation writes JSON lines through zerolog.
// Anything satisfying Logger can be plugged in through embedpop.WithLogger.
package logger

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

const (
	permission = 0664
)

// Logger is the logging surface used by the mapper, the stores and the connection.
// args are alternating key/value pairs.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

type LogBuild struct {
	writer io.Writer
	path   string
	level  zerolog.Level
}

type LogData struct {
	LogFile *os.File
	Logger  zerolog.Logger
}

var _ Logger = (*LogData)(nil)

func New() *LogBuild {
	return &LogBuild{level: zerolog.InfoLevel}
}

func (build *LogBuild) FromPath(path string) *LogBuild {
	build.path = path
	return build
}

func (build *LogBuild) FromBuffer(w io.Writer) *LogBuild {
	build.writer = w
	return build
}

func (build *LogBuild) WithLevel(level zerolog.Level) *LogBuild {
	build.level = level
	return build
}

// Debug lowers the level so that store and transaction traces are written.
func (build *LogBuild) Debug(enabled bool) *LogBuild {
	if enabled {
		build.level = zerolog.DebugLevel
	}
	return build
}

func (build *LogBuild) Make() (logData *LogData, err error) {
	logData = new(LogData)
	var writer io.Writer = os.Stdout
	if build.writer != nil {
		writer = build.writer
	}
	if build.path != "" {
		logData.LogFile, err = os.OpenFile(build.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, permission)
		if err != nil {
			return nil, err
		}
		writer = zerolog.SyncWriter(logData.LogFile)
	}
	logData.Logger = zerolog.New(writer).Level(build.level).With().Timestamp().Logger()
	return logData, nil
}

// Nop returns a logger that discards everything.
func Nop() *LogData {
	return &LogData{Logger: zerolog.Nop()}
}

func (l *LogData) Error(msg string, args ...any) {
	l.write(l.Logger.Error(), msg, args)
}

func (l *LogData) Warn(msg string, args ...any) {
	l.write(l.Logger.Warn(), msg, args)
}

func (l *LogData) Info(msg string, args ...any) {
	l.write(l.Logger.Info(), msg, args)
}

func (l *LogData) Debug(msg string, args ...any) {
	l.write(l.Logger.Debug(), msg, args)
}

// Close releases the log file opened by FromPath, if any.
func (l *LogData) Close() error {
	if l.LogFile == nil {
		return nil
	}
	return l.LogFile.Close()
}

func (l *LogData) write(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	if len(args)%2 == 1 {
		args = append(args, "!MISSING")
	}
	ev.Fields(args).Msg(msg)
}
