package log

import "time"

// MultiLogger copies each event to several sinks, typically a trace file
// and the debug log. Nested MultiLoggers are flattened and NoopLoggers
// dropped, so every sink sees an event once.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger returns a logger writing to each of loggers. Nil entries
// are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		m.add(l)
	}
	return m
}

// Combine returns nil when no loggers are given, the logger itself when
// there is one and a MultiLogger otherwise.
func Combine(loggers ...Logger) Logger {
	m := NewMultiLogger(loggers...)
	switch len(m.sinks) {
	case 0:
		return nil
	case 1:
		return m.sinks[0]
	}
	return m
}

func (m *MultiLogger) add(l Logger) {
	switch l := l.(type) {
	case nil, NoopLogger, *NoopLogger:
	case *MultiLogger:
		if l != nil {
			for _, s := range l.sinks {
				m.add(s)
			}
		}
	default:
		m.sinks = append(m.sinks, l)
	}
}

// Len returns the number of sinks.
func (m *MultiLogger) Len() int { return len(m.sinks) }

// Log stamps the event once so that all sinks record the same time.
func (m *MultiLogger) Log(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, s := range m.sinks {
		s.Log(event)
	}
}

var _ Logger = (*MultiLogger)(nil)
