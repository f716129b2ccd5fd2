package logger

import (
	"fmt"
	"log"
	"os"
	"sync/atomic"
)

// Level controls which messages are emitted.
type Level int32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

var (
	current atomic.Int32
	std     = log.New(os.Stderr, "", log.LstdFlags)
)

func init() {
	current.Store(int32(LevelInfo))
}

// SetLevel sets the minimum emitted level.
func SetLevel(l Level) {
	current.Store(int32(l))
}

func enabled(l Level) bool {
	return int32(l) >= current.Load()
}

func emit(l Level, tag, format string, args ...any) {
	if !enabled(l) {
		return
	}
	std.Output(3, tag+" "+fmt.Sprintf(format, args...))
}

// Tracef logs at trace level.
func Tracef(format string, args ...any) { emit(LevelTrace, "TRC", format, args...) }

// Debugf logs at debug level.
func Debugf(format string, args ...any) { emit(LevelDebug, "DBG", format, args...) }

// Infof logs at info level.
func Infof(format string, args ...any) { emit(LevelInfo, "INF", format, args...) }

// Warnf logs at warn level.
func Warnf(format string, args ...any) { emit(LevelWarn, "WRN", format, args...) }

// Errorf logs at error level.
func Errorf(format string, args ...any) { emit(LevelError, "ERR", format, args...) }
