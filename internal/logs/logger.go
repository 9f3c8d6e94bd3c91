package logs

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

type Level string

const (
	INFO  Level = "INFO"
	WARN  Level = "WARN"
	ERROR Level = "ERROR"
	DEBUG Level = "DEBUG"
)

// levelPriority defines the priority of each log level
// higher value = more severe
var levelPriority = map[Level]int{
	DEBUG: 1,
	INFO:  2,
	WARN:  3,
	ERROR: 4,
}

var logrusLevels = map[Level]logrus.Level{
	DEBUG: logrus.DebugLevel,
	INFO:  logrus.InfoLevel,
	WARN:  logrus.WarnLevel,
	ERROR: logrus.ErrorLevel,
}

// ParseLevel maps a case-insensitive level name to a Level.
func ParseLevel(s string) (Level, error) {
	lvl := Level(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := levelPriority[lvl]; !ok {
		return "", fmt.Errorf("unknown log level %q", s)
	}
	return lvl, nil
}

type Entry struct {
	TimeStamp time.Time     `json:"timestamp"`
	Level     Level         `json:"level"`
	Message   string        `json:"message"`
	Fields    logrus.Fields `json:"fields,omitempty"`
}

// Logger keeps the most recent entries in memory for the health analyzer and
// mirrors every accepted entry to an optional logrus sink.
type Logger struct {
	mu      sync.Mutex
	entries []Entry
	maxSize int
	level   Level
	sink    *logrus.Logger
	fields  logrus.Fields
	parent  *Logger
}

// level: minimum log level to record (e.g., INFO, WARN, ERROR, DEBUG)
//
// maxSize: maximum number of log entries kept in memory
func NewLogger(maxSize int, level Level) *Logger {
	return &Logger{
		entries: make([]Entry, 0, maxSize),
		maxSize: maxSize,
		level:   level,
	}
}

// SetOutput attaches a logrus logger that receives every recorded entry.
func (l *Logger) SetOutput(sink *logrus.Logger) {
	root := l.root()
	root.mu.Lock()
	defer root.mu.Unlock()
	root.sink = sink
}

// WithFields returns a child logger sharing the same buffer and sink whose
// entries carry the given fields.
func (l *Logger) WithFields(fields logrus.Fields) *Logger {
	merged := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{level: l.level, fields: merged, parent: l.root()}
}

func (l *Logger) root() *Logger {
	if l.parent != nil {
		return l.parent
	}
	return l
}

// log is the internal logging function
// it applies level filtering and ring buffer behavior
func (l *Logger) log(level Level, msg string) {
	// filter logs below the current level
	if levelPriority[level] < levelPriority[l.level] {
		return
	}

	root := l.root()
	root.mu.Lock()
	if root.maxSize > 0 {
		if len(root.entries) >= root.maxSize {
			// remove oldest entry (ring behavior)
			root.entries = root.entries[1:]
		}
		root.entries = append(root.entries, Entry{
			TimeStamp: time.Now(),
			Level:     level,
			Message:   msg,
			Fields:    l.fields,
		})
	}
	sink := root.sink
	root.mu.Unlock()

	if sink != nil {
		sink.WithFields(l.fields).Log(logrusLevels[level], msg)
	}
}

func (l *Logger) Debug(msg string) {
	l.log(DEBUG, msg)
}

func (l *Logger) Info(msg string) {
	l.log(INFO, msg)
}

func (l *Logger) Warn(msg string) {
	l.log(WARN, msg)
}

func (l *Logger) Error(msg string) {
	l.log(ERROR, msg)
}

func (l *Logger) Debugf(format string, args ...any) {
	l.log(DEBUG, fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(INFO, fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(WARN, fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(ERROR, fmt.Sprintf(format, args...))
}

func (l *Logger) GetLast(n int) []Entry {
	root := l.root()
	root.mu.Lock()
	defer root.mu.Unlock()

	if n > len(root.entries) {
		out := make([]Entry, len(root.entries))
		copy(out, root.entries)
		return out
	}

	start := len(root.entries) - n
	out := make([]Entry, n)
	copy(out, root.entries[start:])
	return out
}

// NewSink builds the logrus logger used by the binary.
func NewSink(level Level) *logrus.Logger {
	sink := logrus.New()
	sink.SetFormatter(&logrus.TextFormatter{TimestampFormat: "2006-01-02 15:04:05", FullTimestamp: true})
	sink.SetLevel(logrusLevels[level])
	return sink
}
