package log

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// logControlCharReplacer escapes control characters that can be used for log injection (CWE-117).
// Newlines, carriage returns, and tabs in log messages can forge fake log entries,
// mislead incident response, or inject false audit trail entries.
var logControlCharReplacer = strings.NewReplacer(
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

// sanitizeLogString escapes control characters in a single string value.
func sanitizeLogString(s string) string {
	return logControlCharReplacer.Replace(s)
}

// StdLogger is the standard-library (log) implementation of Logger.
//
// Entries are rendered as "[level] group: message key=value ...". All string
// values pass through sanitization to prevent log injection (CWE-117).
type StdLogger struct {
	level  Level
	groups []string
	fields []Field
}

// NewStdLogger creates a StdLogger that writes through the standard log
// package at the given verbosity ceiling.
func NewStdLogger(level Level) *StdLogger {
	return &StdLogger{level: level}
}

// Log renders and emits a single entry when level is enabled.
func (l *StdLogger) Log(_ context.Context, level Level, msg string, fields ...Field) {
	if !l.Enabled(level) {
		return
	}

	log.Print(l.render(level, msg, fields))
}

// With returns a copy of the logger carrying the additional fields.
//
//nolint:ireturn
func (l *StdLogger) With(fields ...Field) Logger {
	if l == nil {
		return NewNop()
	}

	next := l.clone()
	next.fields = append(next.fields, fields...)

	return next
}

// WithGroup returns a copy of the logger with name appended to the group
// path. An empty name returns the receiver unchanged.
//
//nolint:ireturn
func (l *StdLogger) WithGroup(name string) Logger {
	if l == nil {
		return NewNop()
	}

	if name == "" {
		return l
	}

	next := l.clone()
	next.groups = append(next.groups, name)

	return next
}

// Enabled reports whether entries at level would be emitted.
func (l *StdLogger) Enabled(level Level) bool {
	return l != nil && level <= l.level
}

// Sync is a no-op for the standard log package.
func (l *StdLogger) Sync(_ context.Context) error { return nil }

func (l *StdLogger) clone() *StdLogger {
	next := &StdLogger{
		level:  l.level,
		groups: make([]string, len(l.groups)),
		fields: make([]Field, len(l.fields)),
	}
	copy(next.groups, l.groups)
	copy(next.fields, l.fields)

	return next
}

func (l *StdLogger) render(level Level, msg string, fields []Field) string {
	var b strings.Builder

	b.WriteString("[" + level.String() + "] ")

	if len(l.groups) > 0 {
		b.WriteString(strings.Join(l.groups, ".") + ": ")
	}

	b.WriteString(sanitizeLogString(msg))

	for _, f := range l.fields {
		writeField(&b, f)
	}

	for _, f := range fields {
		writeField(&b, f)
	}

	return b.String()
}

func writeField(b *strings.Builder, f Field) {
	b.WriteString(" ")
	b.WriteString(f.Key)
	b.WriteString("=")

	if s, ok := f.Value.(string); ok {
		b.WriteString(sanitizeLogString(s))
		return
	}

	fmt.Fprintf(b, "%v", f.Value)
}
