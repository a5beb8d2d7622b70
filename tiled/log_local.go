package tiled

import (
	"log"

	"github.com/natefinch/lumberjack"
)

// stdLogger writes through the standard log package, optionally into a rotating file.
type stdLogger struct {
	file *lumberjack.Logger
}

var logger Logger = stdLogger{}

// LogConfig specifies where log messages go.  An empty Logfile sends
// messages to the standard logger.
type LogConfig struct {
	Logfile    string
	Level      string
	MaxSize    int  `toml:"max_log_size"`    // megabytes
	MaxAge     int  `toml:"max_log_age"`     // days
	MaxBackups int  `toml:"max_log_backups"` // 0 keeps all
	Compress   bool `toml:"compress_logs"`
}

// SetLogger applies the configured level and, if a log file is given, routes all
// messages into it with size and age based rotation.
func (c *LogConfig) SetLogger() {
	if c == nil {
		return
	}
	if c.Level != "" {
		if m, ok := ParseLogMode(c.Level); ok {
			SetLogMode(m)
		} else {
			Warningf("Unknown log level %q, keeping %s\n", c.Level, mode)
		}
	}
	if c.Logfile == "" {
		Infof("No log file specified; logging to stderr.\n")
		return
	}
	l := &lumberjack.Logger{
		Filename:   c.Logfile,
		MaxSize:    c.MaxSize,
		MaxAge:     c.MaxAge,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
	}
	log.SetOutput(l)
	logger = stdLogger{l}
	Infof("Logging to %s\n", c.Logfile)
}

func (s stdLogger) emit(m ModeFlag, format string, args []interface{}) {
	log.Printf(" "+m.String()+" "+format, args...)
}

func (s stdLogger) Debugf(format string, args ...interface{}) { s.emit(DebugMode, format, args) }
func (s stdLogger) Infof(format string, args ...interface{}) { s.emit(InfoMode, format, args) }
func (s stdLogger) Warningf(format string, args ...interface{}) { s.emit(WarningMode, format, args) }
func (s stdLogger) Errorf(format string, args ...interface{}) { s.emit(ErrorMode, format, args) }
func (s stdLogger) Criticalf(format string, args ...interface{}) { s.emit(CriticalMode, format, args) }

func (s stdLogger) Shutdown() {
	if s.file != nil {
		log.Printf("Closing log file %s\n", s.file.Filename)
		s.file.Close()
	}
}
