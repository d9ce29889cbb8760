package sync

import (
	"fmt"
	"io"
	gosync "sync"
)

// Logger writes user-facing progress lines. Debugf output only
// appears when verbose is set. Safe for use by concurrent workers.
type Logger struct {
	mu      gosync.Mutex
	out     io.Writer
	verbose bool
}

// NewLogger returns a Logger writing to out. A nil out discards.
func NewLogger(out io.Writer, verbose bool) *Logger {
	if out == nil {
		out = io.Discard
	}
	return &Logger{out: out, verbose: verbose}
}

// Infof prints a line unconditionally.
func (l *Logger) Infof(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, format+"\n", args...)
}

// Debugf prints a line prefixed with [verbose] when verbose is set.
func (l *Logger) Debugf(format string, args ...any) {
	if !l.verbose {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.out, "[verbose] "+format+"\n", args...)
}
