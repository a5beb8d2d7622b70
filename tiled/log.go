package tiled

import (
	"strings"
	"time"
)

type ModeFlag uint

const (
	DebugMode ModeFlag = iota
	InfoMode
	WarningMode
	ErrorMode
	CriticalMode
	SilentMode
)

func (m ModeFlag) String() string {
	switch m {
	case DebugMode:
		return "DEBUG"
	case InfoMode:
		return "INFO"
	case WarningMode:
		return "WARNING"
	case ErrorMode:
		return "ERROR"
	case CriticalMode:
		return "CRITICAL"
	default:
		return "SILENT"
	}
}

// ParseLogMode maps a level name like "warning" to its ModeFlag.
func ParseLogMode(s string) (ModeFlag, bool) {
	for m := DebugMode; m <= SilentMode; m++ {
		if strings.EqualFold(s, m.String()) {
			return m, true
		}
	}
	return InfoMode, false
}

var (
	// Verbose turns on debug messages whatever the mode.
	Verbose bool

	// mode is the minimum severity that will be logged by this process.
	mode = InfoMode
)

// Logger provides a way for the application to log messages at different severities.
type Logger interface {
	// Debugf formats its arguments analogous to fmt.Printf and records the text as a log
	// message at Debug level.
	Debugf(format string, args ...interface{})

	// Infof is like Debugf, but at Info level.
	Infof(format string, args ...interface{})

	// Warningf is like Debugf, but at Warning level.
	Warningf(format string, args ...interface{})

	// Errorf is like Debugf, but at Error level.
	Errorf(format string, args ...interface{})

	// Criticalf is like Debugf, but at Critical level.
	Criticalf(format string, args ...interface{})

	// Shutdown makes sure logs are closed.
	Shutdown()
}

// SetLogMode sets the severity required for a log message to be printed.
// SetLogMode(tiled.WarningMode) keeps Warningf, Errorf and Criticalf output;
// SilentMode turns off all logging.
func SetLogMode(newMode ModeFlag) {
	mode = newMode
}

func enabled(m ModeFlag) bool {
	return mode <= m || (m == DebugMode && Verbose)
}

func logAt(l Logger, m ModeFlag, format string, args []interface{}) {
	if !enabled(m) {
		return
	}
	switch m {
	case DebugMode:
		l.Debugf(format, args...)
	case InfoMode:
		l.Infof(format, args...)
	case WarningMode:
		l.Warningf(format, args...)
	case ErrorMode:
		l.Errorf(format, args...)
	case CriticalMode:
		l.Criticalf(format, args...)
	}
}

func Debugf(format string, args ...interface{}) { logAt(logger, DebugMode, format, args) }
func Infof(format string, args ...interface{}) { logAt(logger, InfoMode, format, args) }
func Warningf(format string, args ...interface{}) { logAt(logger, WarningMode, format, args) }
func Errorf(format string, args ...interface{}) { logAt(logger, ErrorMode, format, args) }
func Criticalf(format string, args ...interface{}) { logAt(logger, CriticalMode, format, args) }

// Shutdown closes any log file.
func Shutdown() {
	logger.Shutdown()
}

// TimeLog appends the time elapsed since NewTimeLog to each message:
//
//	timedLog := tiled.NewTimeLog()
//	...
//	timedLog.Debugf("extracted tile %s", key)  // "extracted tile abc.jpg: 12ms"
type TimeLog struct {
	logger Logger
	start  time.Time
}

func NewTimeLog() TimeLog {
	return TimeLog{logger, time.Now()}
}

func (t TimeLog) logf(m ModeFlag, format string, args []interface{}) {
	if !enabled(m) {
		return
	}
	logAt(t.logger, m, format+": %s\n", append(args, time.Since(t.start)))
}

func (t TimeLog) Debugf(format string, args ...interface{}) { t.logf(DebugMode, format, args) }
func (t TimeLog) Infof(format string, args ...interface{}) { t.logf(InfoMode, format, args) }
func (t TimeLog) Warningf(format string, args ...interface{}) { t.logf(WarningMode, format, args) }
func (t TimeLog) Errorf(format string, args ...interface{}) { t.logf(ErrorMode, format, args) }
func (t TimeLog) Criticalf(format string, args ...interface{}) { t.logf(CriticalMode, format, args) }
