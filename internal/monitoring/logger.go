package monitoring

import (
	"log"
	"sync/atomic"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Level filters Debugf, Infof and Warnf.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
)

var level atomic.Int32

func init() {
	level.Store(int32(LevelInfo))
}

// SetLevel sets the minimum level that reaches Logf.
func SetLevel(l Level) {
	level.Store(int32(l))
}

// CurrentLevel returns the active level.
func CurrentLevel() Level {
	return Level(level.Load())
}

// Debugf logs at debug level (grab-by-grab detail).
func Debugf(format string, v ...interface{}) {
	if CurrentLevel() <= LevelDebug {
		Logf(format, v...)
	}
}

// Infof logs lifecycle transitions and session summaries.
func Infof(format string, v ...interface{}) {
	if CurrentLevel() <= LevelInfo {
		Logf(format, v...)
	}
}

// Warnf logs with the "Warning: " prefix used across the repo.
func Warnf(format string, v ...interface{}) {
	Logf("Warning: "+format, v...)
}
