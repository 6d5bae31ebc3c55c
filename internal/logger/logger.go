package logger

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"fyne.io/fyne/v2/data/binding"
)

// LogLevel defines the severity of the log
type LogLevel int

const (
	LevelInfo LogLevel = iota
	LevelWarn
	LevelError
	LevelDebug
)

func (l LogLevel) String() string {
	switch l {
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelDebug:
		return "DEBUG"
	default:
		return "INFO"
	}
}

// maxUILines caps the lines kept in the UI binding.
const maxUILines = 100

// Logger is what the control core logs through.
type Logger interface {
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	Debug(format string, args ...interface{})
}

// AppLogger handles application logging to UI and console
type AppLogger struct {
	dataBinding binding.StringList // nil in headless mode
	out         io.Writer
	debugOut    io.Writer
	debug       atomic.Bool
	mu          sync.Mutex
}

// NewAppLogger creates a logger that appends to a fyne list binding
func NewAppLogger(data binding.StringList) *AppLogger {
	l := &AppLogger{
		dataBinding: data,
		debugOut:    os.Stdout,
	}
	l.debug.Store(true)
	return l
}

// NewConsoleLogger creates a logger writing every line to w
func NewConsoleLogger(w io.Writer) *AppLogger {
	l := &AppLogger{
		out:      w,
		debugOut: w,
	}
	return l
}

// SetDebug toggles Debug output
func (l *AppLogger) SetDebug(on bool) {
	l.debug.Store(on)
}

// Info logs an informational message
func (l *AppLogger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Warn logs a warning
func (l *AppLogger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Error logs an error message
func (l *AppLogger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Debug logs a debug message to stdout only (to keep UI clean)
func (l *AppLogger) Debug(format string, args ...interface{}) {
	if !l.debug.Load() {
		return
	}
	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("15:04:05")
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.debugOut, "[DEBUG] [%s] %s\n", timestamp, msg)
}

// log handles the formatting and appending
func (l *AppLogger) log(level LogLevel, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	timestamp := time.Now().Format("15:04:05")
	formattedMsg := fmt.Sprintf("[%s] %s: %s", timestamp, level, msg)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.out != nil {
		fmt.Fprintln(l.out, formattedMsg)
	}
	if l.dataBinding == nil {
		return
	}

	l.dataBinding.Append(formattedMsg)

	// Keep log size manageable
	list, _ := l.dataBinding.Get()
	if len(list) > maxUILines {
		l.dataBinding.Set(list[len(list)-maxUILines:])
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Info(string, ...interface{})  {}
func (Nop) Warn(string, ...interface{})  {}
func (Nop) Error(string, ...interface{}) {}
func (Nop) Debug(string, ...interface{}) {}
