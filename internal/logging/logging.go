// Package logging wraps the standard library's log.Logger with a
// "[component] message key=val ..." line shape: a small
// structured-enough convention without pulling in a logging library.
package logging

import (
	"fmt"
	"log"
	"os"
	"strings"
)

// Logger prefixes every line with a component tag.
type Logger struct {
	component string
	std       *log.Logger
}

// New returns a Logger tagging every line with component.
func New(component string) *Logger {
	return &Logger{component: component, std: log.New(os.Stderr, "", log.LstdFlags)}
}

// Info logs msg followed by key=val pairs built from kv (alternating
// key, value). An odd-length kv drops its trailing key silently rather
// than panicking — logging must never crash the caller.
func (l *Logger) Info(msg string, kv ...any) {
	l.std.Println(l.format(msg, kv))
}

// Error logs msg at error level, same key=val convention.
func (l *Logger) Error(msg string, kv ...any) {
	l.std.Println(l.format("ERROR: "+msg, kv))
}

func (l *Logger) format(msg string, kv []any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", l.component, msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	return b.String()
}
