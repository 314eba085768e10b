// Package telemetry carries the fleet's ambient observability stack:
// leveled, component-tagged logging built on the standard log package, so a
// fleet coordinator can tell "[manager]" and "[robot-3]" lines apart, plus
// the Prometheus metrics that the observer package serves.
package telemetry

import (
	"fmt"
	"io"
	"log"
)

// Level is a logging severity, ordered least to most severe.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger wraps the standard library's *log.Logger with a severity floor and
// a component tag (e.g. "manager", "robot-3"), printed as a bracketed
// prefix.
type Logger struct {
	component string
	min       Level
	out       *log.Logger
}

// New returns a Logger tagged with component, writing to w (or os.Stderr's
// default logger destination if w is nil), filtering anything below min.
func New(component string, min Level, w io.Writer) *Logger {
	var out *log.Logger
	if w != nil {
		out = log.New(w, "", log.LstdFlags)
	} else {
		out = log.Default()
	}
	return &Logger{component: component, min: min, out: out}
}

// With returns a child Logger tagged with a sub-component, e.g.
// managerLogger.With("tick-barrier").
func (l *Logger) With(sub string) *Logger {
	return &Logger{component: l.component + "." + sub, min: l.min, out: l.out}
}

func (l *Logger) log(level Level, format string, args ...any) {
	if level < l.min {
		return
	}
	msg := fmt.Sprintf(format, args...)
	l.out.Printf("[%s] %s: %s", l.component, level, msg)
}

// Debugf logs at LevelDebug.
func (l *Logger) Debugf(format string, args ...any) { l.log(LevelDebug, format, args...) }

// Infof logs at LevelInfo.
func (l *Logger) Infof(format string, args ...any) { l.log(LevelInfo, format, args...) }

// Warnf logs at LevelWarn.
func (l *Logger) Warnf(format string, args ...any) { l.log(LevelWarn, format, args...) }

// Errorf logs at LevelError.
func (l *Logger) Errorf(format string, args ...any) { l.log(LevelError, format, args...) }

// Std returns the stdlib *log.Logger this Logger wraps, for code (like
// robot_manager.Manager) that predates this package and takes a bare
// *log.Logger. Messages through it bypass level filtering and the
// component prefix.
func (l *Logger) Std() *log.Logger { return l.out }
