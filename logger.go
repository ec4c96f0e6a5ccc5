package weave

import "log"

// Logger is the injectable logging seam used throughout the connector.
// Internal call sites never call a logging package directly; they log
// through this interface (only DefaultLogger uses the standard log
// package), which wraps a small interface and a default
// implementation around the concern the same way Stats does (see
// stats.go).
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// DefaultLogger implements Logger on top of the standard log package.
// Debug messages are suppressed unless Verbose is set.
type DefaultLogger struct {
	Verbose bool
}

// NewDefaultLogger returns a DefaultLogger with debug output disabled.
func NewDefaultLogger() *DefaultLogger { return &DefaultLogger{} }

func (l *DefaultLogger) Debugf(format string, args ...any) {
	if l.Verbose {
		log.Printf("[weave] DEBUG "+format, args...)
	}
}

func (l *DefaultLogger) Infof(format string, args ...any) {
	log.Printf("[weave] INFO "+format, args...)
}

func (l *DefaultLogger) Warnf(format string, args ...any) {
	log.Printf("[weave] WARN "+format, args...)
}

func (l *DefaultLogger) Errorf(format string, args ...any) {
	log.Printf("[weave] ERROR "+format, args...)
}

// nopLogger discards everything; used when the caller passes a nil
// Logger via WithLogger so internal call sites never need a nil check.
type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}

// DumpSink is an injectable diagnostic sink for payloads that fail to
// MessagePack-decode, replacing the reference client's process-wide
// fail-file global with something a caller can scope however
// they like (a file, a metrics counter, /dev/null).
type DumpSink interface {
	Dump(payload []byte)
}

type nopDumpSink struct{}

func (nopDumpSink) Dump([]byte) {}
