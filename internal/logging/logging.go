package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DevMode indicates if development logging is enabled
var DevMode = os.Getenv("DEV_MODE") == "1"

// Options configures the process-wide logger.
type Options struct {
	Path       string // empty logs to stderr
	Level      string
	JSON       bool
	MaxSizeMB  int
	MaxBackups int
}

// Setup points the global logrus logger at a rotating file (or stderr).
// The returned closer flushes and closes the file and is safe to call when
// no file was opened.
func Setup(opts Options) (io.Closer, error) {
	if opts.JSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true, DisableColors: opts.Path != ""})
	}
	SetLogLevel(opts.Level)
	if DevMode {
		log.SetLevel(log.DebugLevel)
	}

	if strings.TrimSpace(opts.Path) == "" {
		log.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, err
	}
	size := opts.MaxSizeMB
	if size <= 0 {
		size = 10
	}
	backups := opts.MaxBackups
	if backups <= 0 {
		backups = 3
	}
	rotator := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    size,
		MaxBackups: backups,
		Compress:   true,
	}
	log.SetOutput(rotator)
	return rotator, nil
}

// SetLogLevel maps a user-facing level name onto logrus levels.
func SetLogLevel(level string) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "verbose":
		log.SetLevel(log.DebugLevel)
	case "warn", "warning":
		log.SetLevel(log.WarnLevel)
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "quiet", "silent":
		log.SetLevel(log.FatalLevel)
	default:
		log.SetLevel(log.InfoLevel)
	}
}

// Component returns a logger entry tagged with the component name.
func Component(name string) *log.Entry {
	return log.WithField("component", name)
}

// DevLog logs only when DEV_MODE=1 or the debug level is active
func DevLog(format string, args ...interface{}) {
	if DevMode || log.IsLevelEnabled(log.DebugLevel) {
		log.Debugf("[DEV] "+format, args...)
	}
}

// UserLog logs important user-facing information
func UserLog(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// ErrorLog logs errors (always visible)
func ErrorLog(format string, args ...interface{}) {
	log.Errorf(format, args...)
}
