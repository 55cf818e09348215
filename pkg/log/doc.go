// Package log records a machine-readable trace of remote device traffic.
//
// It is separate from operational logging (slog): a trace holds every frame,
// decoded message and state change seen by a connector or server, so a run
// can be replayed and inspected after the fact.
//
// # Basic Usage
//
//	// Console, at debug level.
//	trace := log.NewSlogAdapter(slog.Default())
//
//	// Binary file for later analysis with scan-log.
//	file, _ := log.NewFileLogger("/var/log/scan/run.mlog")
//
//	// Both.
//	trace = log.NewMultiLogger(trace, file)
//
// # Event Types
//
// Events are captured at three layers:
//   - Transport: frame sizes and bytes (FrameEvent)
//   - Wire: decoded messages (MessageEvent)
//   - Device: device and connection state changes (StateChangeEvent)
//
// Errors from any layer have their own event type.
//
// # File Format
//
// Trace files are a stream of CBOR encoded events with the .mlog extension.
package log
