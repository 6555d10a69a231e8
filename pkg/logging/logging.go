// pkg/logging/logging.go - timestamped session logging for pkgdeploy
//
// Every run gets its own YYYY-MM-DD-HHMMss directory under the configured log
// path. Messages go to the console, to install.log in the traditional
// "[time] LEVEL message key=value" layout, to events.jsonl as one JSON
// document per entry, and to pkgdeploy.yaml as a YAML stream.

package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/windowsadmins/pkgdeploy/pkg/config"
	"github.com/windowsadmins/pkgdeploy/pkg/version"
	"gopkg.in/yaml.v3"
)

// LogLevel represents the severity of the log message.
type LogLevel int

const (
	LevelError LogLevel = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

// String returns the string representation of the LogLevel.
func (ll LogLevel) String() string {
	switch ll {
	case LevelError:
		return "ERROR"
	case LevelWarn:
		return "WARN"
	case LevelInfo:
		return "INFO"
	case LevelDebug:
		return "DEBUG"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel maps a configuration string onto a LogLevel. Unknown values yield LevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "ERROR":
		return LevelError
	case "WARN", "WARNING":
		return LevelWarn
	case "DEBUG":
		return LevelDebug
	default:
		return LevelInfo
	}
}

// LogEntry is one structured log record as written to events.jsonl and the YAML stream.
type LogEntry struct {
	Time       int64                  `json:"time" yaml:"time"`
	Timestamp  string                 `json:"timestamp" yaml:"timestamp"`
	Level      string                 `json:"level" yaml:"level"`
	Message    string                 `json:"message" yaml:"message"`
	Component  string                 `json:"component" yaml:"component"`
	PID        int64                  `json:"pid" yaml:"pid"`
	Hostname   string                 `json:"hostname" yaml:"hostname"`
	Version    string                 `json:"version" yaml:"version"`
	SessionID  string                 `json:"session_id" yaml:"session_id"`
	Properties map[string]interface{} `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// LoggerConfig holds configuration for the session logger
type LoggerConfig struct {
	BaseDir       string   // Base logging directory
	SessionID     string   // Unique session identifier
	Component     string   // Component/module name
	Level         LogLevel // Most verbose level written
	RetainRuns    int      // Session directories kept after cleanup, 0 keeps all
	EnableJSON    bool
	EnableYAML    bool
	EnableConsole bool
	Console       io.Writer // Defaults to os.Stdout
}

// Logger writes log entries to the session directory and, optionally, the console.
type Logger struct {
	mu       sync.Mutex
	logger   *log.Logger
	logLevel LogLevel
	logFile  *os.File
	jsonFile *os.File
	yamlFile *os.File
	config   LoggerConfig
	logDir   string
	hostname string
	version  string
}

var (
	instance *Logger
	once     sync.Once
)

// Init initializes the singleton Logger from the pkgdeploy configuration.
// It must be called before any logging functions are used.
func Init(cfg *config.Configuration) error {
	return InitWithConfig(LoggerConfig{
		BaseDir:       cfg.LogPath,
		SessionID:     generateSessionID(time.Now()),
		Component:     "pkgdeploy",
		Level:         ParseLevel(cfg.LogLevel),
		RetainRuns:    cfg.LogRetentionRuns,
		EnableJSON:    true,
		EnableYAML:    true,
		EnableConsole: true,
	})
}

// InitWithConfig initializes the singleton Logger with an explicit
// LoggerConfig. Only the first call takes effect.
func InitWithConfig(logCfg LoggerConfig) error {
	var initErr error
	once.Do(func() {
		instance, initErr = newLoggerWithConfig(logCfg)
	})
	return initErr
}

func generateSessionID(now time.Time) string {
	return fmt.Sprintf("pkgdeploy-%d-%s", now.Unix(), now.Format("2006-01-02-150405"))
}

func createTimestampedLogDir(baseDir string, sessionStart time.Time) (string, error) {
	logDir := filepath.Join(baseDir, sessionStart.Format("2006-01-02-150405"))
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create timestamped log directory %s: %w", logDir, err)
	}
	return logDir, nil
}

func newLoggerWithConfig(cfg LoggerConfig) (*Logger, error) {
	sessionStart := time.Now()

	if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base log directory: %w", err)
	}
	logDir, err := createTimestampedLogDir(cfg.BaseDir, sessionStart)
	if err != nil {
		return nil, err
	}
	if cfg.SessionID == "" {
		cfg.SessionID = generateSessionID(sessionStart)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	l := &Logger{
		config:   cfg,
		logLevel: cfg.Level,
		logDir:   logDir,
		hostname: hostname,
		version:  version.Version().Version,
	}
	if err := l.initializeLogFiles(); err != nil {
		l.close()
		return nil, err
	}

	if cfg.EnableConsole {
		console := cfg.Console
		if console == nil {
			enableColors()
			console = os.Stdout
		}
		l.logger = log.New(io.MultiWriter(console, l.logFile), "", 0)
	} else {
		l.logger = log.New(l.logFile, "", 0)
	}

	l.performCleanup()
	return l, nil
}

func (l *Logger) initializeLogFiles() error {
	var err error

	l.logFile, err = os.OpenFile(filepath.Join(l.logDir, "install.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open main log file: %w", err)
	}
	if l.config.EnableJSON {
		l.jsonFile, err = os.OpenFile(filepath.Join(l.logDir, "events.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open JSON log file: %w", err)
		}
	}
	if l.config.EnableYAML {
		l.yamlFile, err = os.OpenFile(filepath.Join(l.logDir, "pkgdeploy.yaml"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open YAML log file: %w", err)
		}
	}
	return nil
}

// performCleanup removes the oldest session directories beyond RetainRuns.
func (l *Logger) performCleanup() {
	if l.config.RetainRuns <= 0 {
		return
	}
	entries, err := os.ReadDir(l.config.BaseDir)
	if err != nil {
		return
	}

	var logDirs []string
	for _, entry := range entries {
		// YYYY-MM-DD-HHMMss
		if entry.IsDir() && len(entry.Name()) == 17 && strings.Count(entry.Name(), "-") == 3 {
			logDirs = append(logDirs, entry.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(logDirs)))

	for i := l.config.RetainRuns; i < len(logDirs); i++ {
		if filepath.Join(l.config.BaseDir, logDirs[i]) == l.logDir {
			continue
		}
		os.RemoveAll(filepath.Join(l.config.BaseDir, logDirs[i])) // best effort
	}
}

func (l *Logger) createLogEntry(level LogLevel, message string, properties map[string]interface{}) LogEntry {
	now := time.Now()
	return LogEntry{
		Time:       now.Unix(),
		Timestamp:  now.Format(time.RFC3339),
		Level:      level.String(),
		Message:    message,
		Component:  l.config.Component,
		PID:        int64(os.Getpid()),
		Hostname:   l.hostname,
		Version:    l.version,
		SessionID:  l.config.SessionID,
		Properties: properties,
	}
}

// logMessage is the core logging method that writes to all configured outputs
func (l *Logger) logMessage(level LogLevel, message string, keyValues ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logger == nil || level > l.logLevel {
		return
	}

	var properties map[string]interface{}
	if len(keyValues) > 1 {
		properties = make(map[string]interface{}, len(keyValues)/2)
		for i := 0; i+1 < len(keyValues); i += 2 {
			properties[fmt.Sprintf("%v", keyValues[i])] = jsonSafe(keyValues[i+1])
		}
	}

	entry := l.createLogEntry(level, message, properties)
	l.writeMainLog(entry, keyValues)
	if l.jsonFile != nil {
		l.writeJSONLog(entry)
	}
	if l.yamlFile != nil {
		l.writeYAMLLog(entry)
	}
	l.syncFiles()
}

// jsonSafe turns errors into their message so they survive JSON encoding.
func jsonSafe(v interface{}) interface{} {
	if err, ok := v.(error); ok && err != nil {
		return err.Error()
	}
	return v
}

// writeMainLog writes to install.log in the traditional format
func (l *Logger) writeMainLog(entry LogEntry, keyValues []interface{}) {
	ts := time.Unix(entry.Time, 0).Format("2006-01-02 15:04:05")
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %-5s %s", ts, entry.Level, entry.Message)

	pairs := len(keyValues) / 2
	for i := 0; i+1 < len(keyValues); i += 2 {
		if pairs > 4 {
			fmt.Fprintf(&b, "\n        %v: %v", keyValues[i], keyValues[i+1])
		} else {
			fmt.Fprintf(&b, " %v=%v", keyValues[i], keyValues[i+1])
		}
	}

	line := b.String()
	if entry.Level == "ERROR" {
		line = "\n----------------------------------------\n" + line
	}
	l.logger.Println(line)
}

func (l *Logger) writeJSONLog(entry LogEntry) {
	if data, err := json.Marshal(entry); err == nil {
		l.jsonFile.Write(append(data, '\n'))
	}
}

func (l *Logger) writeYAMLLog(entry LogEntry) {
	if data, err := yaml.Marshal(entry); err == nil {
		l.yamlFile.WriteString("---\n" + string(data))
	}
}

func (l *Logger) syncFiles() {
	for _, f := range []*os.File{l.logFile, l.jsonFile, l.yamlFile} {
		if f != nil {
			f.Sync()
		}
	}
}

func (l *Logger) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range []**os.File{&l.logFile, &l.jsonFile, &l.yamlFile} {
		if *f != nil {
			if err := (*f).Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to close log file: %v\n", err)
			}
			*f = nil
		}
	}
	l.logger = nil
}

// CloseLogger closes all log files if they're open.
func CloseLogger() {
	if instance == nil {
		return
	}
	instance.close()
}

// CurrentLogDir returns the current timestamped log directory, or "" before Init.
func CurrentLogDir() string {
	if instance == nil {
		return ""
	}
	return instance.logDir
}

// SessionID returns the identifier written into every structured entry.
func SessionID() string {
	if instance == nil {
		return ""
	}
	return instance.config.SessionID
}

// Info logs informational messages.
func Info(message string, keyValues ...interface{}) {
	logAt(LevelInfo, message, keyValues)
}

// Debug logs debug messages.
func Debug(message string, keyValues ...interface{}) {
	logAt(LevelDebug, message, keyValues)
}

// Warn logs warning messages.
func Warn(message string, keyValues ...interface{}) {
	logAt(LevelWarn, message, keyValues)
}

// Error logs error messages.
func Error(message string, keyValues ...interface{}) {
	logAt(LevelError, message, keyValues)
}

func logAt(level LogLevel, message string, keyValues []interface{}) {
	if instance == nil {
		// Library callers (and tests) may run without a session; stay quiet below WARN.
		if level <= LevelWarn {
			fmt.Fprintf(os.Stderr, "%s %s %v\n", level.String(), message, keyValues)
		}
		return
	}
	instance.logMessage(level, message, keyValues...)
}
