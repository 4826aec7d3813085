package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// LegacyLogger prints plain "[LEVEL] msg key=value" lines.
// Selected with SFTPMIRROR_USE_LEGACY_LOGGER=true.
type LegacyLogger struct {
	mu        sync.RWMutex
	level     Level
	out       io.Writer
	fields    []any
	sanitizer *Sanitizer
}

// NewLegacyLogger writes to out, or stderr when out is nil
func NewLegacyLogger(out io.Writer) *LegacyLogger {
	if out == nil {
		out = os.Stderr
	}
	return &LegacyLogger{level: LevelInfo, out: out, sanitizer: NewSanitizer()}
}

// SetLevel changes the minimum level
func (l *LegacyLogger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *LegacyLogger) log(level Level, msg string, args []any) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if level < l.level {
		return
	}

	all := l.sanitizer.SanitizeArgs(append(append([]any{}, l.fields...), args...))
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(level.String()), l.sanitizer.Sanitize(msg))
	for i := 0; i+1 < len(all); i += 2 {
		fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
	}
	b.WriteByte('\n')
	_, _ = io.WriteString(l.out, b.String())
}

func (l *LegacyLogger) Debug(msg string, args ...any) { l.log(LevelDebug, msg, args) }
func (l *LegacyLogger) Info(msg string, args ...any)  { l.log(LevelInfo, msg, args) }
func (l *LegacyLogger) Warn(msg string, args ...any)  { l.log(LevelWarn, msg, args) }
func (l *LegacyLogger) Error(msg string, args ...any) { l.log(LevelError, msg, args) }

// With returns a child carrying extra fields
func (l *LegacyLogger) With(args ...any) Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return &LegacyLogger{
		level:     l.level,
		out:       l.out,
		fields:    append(append([]any{}, l.fields...), args...),
		sanitizer: l.sanitizer,
	}
}

func (l *LegacyLogger) Sync() error     { return nil }
func (l *LegacyLogger) Shutdown() error { return nil }
