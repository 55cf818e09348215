package log

import "time"

// Logger receives protocol trace events.
type Logger interface {
	// Log records an event. Implementations must be safe for concurrent use
	// and return quickly.
	Log(event Event)
}

// NoopLogger discards all events. Its zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}

// Emit stamps event with the current time if it has none and passes it to
// l. A nil l discards the event.
func Emit(l Logger, event Event) {
	if l == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	l.Log(event)
}

// ScanLogger stamps a scan run ID on events that carry none.
type ScanLogger struct {
	next   Logger
	scanID string
}

// WithScanID returns a logger tagging events for next with scanID.
func WithScanID(next Logger, scanID string) *ScanLogger {
	return &ScanLogger{next: next, scanID: scanID}
}

// Log tags the event and passes it on.
func (s *ScanLogger) Log(event Event) {
	if event.ScanID == "" {
		event.ScanID = s.scanID
	}
	Emit(s.next, event)
}

var _ Logger = (*ScanLogger)(nil)
