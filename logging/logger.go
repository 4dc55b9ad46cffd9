package logging

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/grovetools/tabsd/config"
	"github.com/grovetools/tabsd/pkg/paths"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var (
	loggers   = make(map[string]*logrus.Entry)
	closers   []io.Closer
	loggersMu sync.Mutex

	// explicit is set by Configure when the daemon was started with --config.
	explicit *Config
)

// Configure makes subsequently created loggers use the logging section of cfg
// instead of the default config file. Existing loggers have their level and
// caller reporting updated in place.
func Configure(cfg *config.Config) error {
	var logCfg Config
	if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
		return err
	}

	loggersMu.Lock()
	defer loggersMu.Unlock()

	explicit = &logCfg
	level := resolveLevel(logCfg)
	for _, entry := range loggers {
		entry.Logger.SetLevel(level)
		entry.Logger.SetReportCaller(reportCaller(logCfg))
	}
	return nil
}

// Reset drops every cached logger and closes their log files.
func Reset() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for _, c := range closers {
		c.Close()
	}
	closers = nil
	loggers = make(map[string]*logrus.Entry)
	explicit = nil
}

// NewLogger creates and returns a pre-configured logger for a specific component.
// It uses a singleton pattern per component to avoid re-initializing.
func NewLogger(component string) *logrus.Entry {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	if logger, exists := loggers[component]; exists {
		return logger
	}

	logCfg := loadConfig()
	logger := logrus.New()
	logger.SetLevel(resolveLevel(logCfg))
	logger.SetReportCaller(reportCaller(logCfg))

	// Configure Formatter
	switch logCfg.Format.Preset {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
	case "simple":
		logger.SetFormatter(&TextFormatter{Config: FormatConfig{
			DisableTimestamp: true,
			DisableComponent: true,
		}})
	default:
		logger.SetFormatter(&TextFormatter{Config: logCfg.Format})
	}

	var writers []io.Writer

	// Configure File Sink
	switch {
	case logCfg.File.Disabled:
	case logCfg.File.Path != "":
		path := expandPath(logCfg.File.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			logger.Warnf("Failed to create log directory %s: %v", filepath.Dir(path), err)
		} else if file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err != nil {
			logger.Warnf("Failed to open log file %s: %v", path, err)
		} else {
			writers = append(writers, file)
			closers = append(closers, file)
		}
	default:
		if dir := paths.LogDir(); dir != "" {
			w := newDailyWriter(dir, component)
			writers = append(writers, w)
			closers = append(closers, w)
		}
	}

	// Determine if we should write structured logs to stderr
	shouldLogToStderr := false
	stderrMode := "auto"
	if logCfg.Format.StructuredToStderr != "" {
		stderrMode = logCfg.Format.StructuredToStderr
	}

	switch stderrMode {
	case "always":
		shouldLogToStderr = true
	case "never":
		shouldLogToStderr = false
	case "auto":
		// Interactive CLI use stays quiet unless debugging; the daemon and
		// anything piped or under a supervisor logs to stderr.
		isDebug := logger.GetLevel() >= logrus.DebugLevel
		isInteractive := isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd())
		if isDebug || !isInteractive {
			shouldLogToStderr = true
		}
	}

	if shouldLogToStderr {
		writers = append(writers, GetGlobalOutput())
	}

	switch len(writers) {
	case 0:
		logger.SetOutput(io.Discard)
	case 1:
		logger.SetOutput(writers[0])
	default:
		logger.SetOutput(io.MultiWriter(writers...))
	}

	entry := logger.WithField("component", component)
	loggers[component] = entry
	return entry
}

// LogFile returns today's default log file of a component.
func LogFile(component string) string {
	return newDailyWriter(paths.LogDir(), component).Path()
}

// loadConfig must be called with loggersMu held.
func loadConfig() Config {
	if explicit != nil {
		return *explicit
	}

	var logCfg Config
	cfg, _, err := config.LoadDefault()
	if err == nil {
		// Use UnmarshalExtension to safely decode the logging part
		if err := cfg.UnmarshalExtension("logging", &logCfg); err != nil {
			logrus.Warnf("Failed to parse 'logging' config: %v", err)
		}
	}
	return logCfg
}

func resolveLevel(logCfg Config) logrus.Level {
	levelStr := "info"
	if env := os.Getenv("TABSD_LOG_LEVEL"); env != "" {
		levelStr = env
	} else if logCfg.Level != "" {
		levelStr = logCfg.Level
	}
	level, err := logrus.ParseLevel(levelStr)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func reportCaller(logCfg Config) bool {
	return os.Getenv("TABSD_LOG_CALLER") == "true" || logCfg.ReportCaller
}

// expandPath expands tilde in file paths
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
