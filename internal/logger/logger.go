package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = map[Level]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
	FatalLevel: "FATAL",
}

var levelColors = map[Level]*color.Color{
	DebugLevel: color.New(color.FgHiBlack),
	InfoLevel:  color.New(color.FgGreen),
	WarnLevel:  color.New(color.FgYellow),
	ErrorLevel: color.New(color.FgRed),
	FatalLevel: color.New(color.FgRed, color.Bold),
}

var categoryColor = color.New(color.FgCyan, color.Bold)

// Logger writes category-tagged log lines to the console (colored) and
// optionally to a log file (plain).
type Logger struct {
	mu    sync.Mutex
	level Level
	file  *os.File
}

// NewLogger builds a logger from LOG_LEVEL and LOG_FILE environment
// variables. An unset or unwritable LOG_FILE disables the file sink.
func NewLogger() *Logger {
	l := &Logger{level: parseLevel(os.Getenv("LOG_LEVEL"))}

	if path := os.Getenv("LOG_FILE"); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			l.file = f
		}
	}
	return l
}

func parseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return DebugLevel
	case "WARN", "WARNING":
		return WarnLevel
	case "ERROR":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func (l *Logger) log(level Level, category, msg string) {
	if level < l.level {
		return
	}

	ts := time.Now().Format("2006-01-02 15:04:05.000")
	name := levelNames[level]

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprintf(os.Stdout, "%s %s %s %s\n",
		ts,
		levelColors[level].Sprintf("%-5s", name),
		categoryColor.Sprintf("[%s]", category),
		msg)

	if l.file != nil {
		fmt.Fprintf(l.file, "%s %-5s [%s] %s\n", ts, name, category, msg)
	}
}

func (l *Logger) Debug(category, msg string) { l.log(DebugLevel, category, msg) }
func (l *Logger) Info(category, msg string)  { l.log(InfoLevel, category, msg) }
func (l *Logger) Warn(category, msg string)  { l.log(WarnLevel, category, msg) }
func (l *Logger) Error(category, msg string) { l.log(ErrorLevel, category, msg) }

func (l *Logger) Fatal(category, msg string) {
	l.log(FatalLevel, category, msg)
	l.Close()
	os.Exit(1)
}

// Structured helpers for the common subsystems.

func (l *Logger) LogProcess(stage, msg string) {
	l.Info(stage, msg)
}

func (l *Logger) LogAPI(method, path, status, duration string) {
	l.Info("API", fmt.Sprintf("%s %s - %s (%s)", method, path, status, duration))
}

func (l *Logger) LogDatabase(op, table, msg string) {
	l.Debug("DATABASE", fmt.Sprintf("[%s:%s] %s", op, table, msg))
}

func (l *Logger) LogKafka(op, topic, msg string) {
	l.Info("KAFKA", fmt.Sprintf("[%s:%s] %s", op, topic, msg))
}

func (l *Logger) LogPayment(op, id, msg string) {
	l.Info("PAYMENT", fmt.Sprintf("[%s:%s] %s", op, id, msg))
}

func (l *Logger) LogWebhook(provider, msg string) {
	l.Info("WEBHOOK", fmt.Sprintf("[%s] %s", provider, msg))
}

func (l *Logger) LogSecurity(event, msg string) {
	l.Warn("SECURITY", fmt.Sprintf("[%s] %s", event, msg))
}
