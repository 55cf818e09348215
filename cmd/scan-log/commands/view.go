// Package commands implements the scan-log CLI commands.
package commands

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/opengda/scanning-go/pkg/log"
)

// timeFormat is used for every timestamp the commands print.
const timeFormat = "2006-01-02T15:04:05.000000Z"

// ViewFilter selects the events shown by view.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	Device    string
}

func (f ViewFilter) filter() log.Filter {
	return log.Filter{
		Layer:     f.Layer,
		Direction: f.Direction,
		Category:  f.Category,
		Device:    f.Device,
	}
}

// eventType labels the payload of event.
func eventType(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.Message != nil:
		return event.Message.Type.String()
	case event.StateChange != nil:
		return "State"
	case event.Error != nil:
		return "Error"
	}
	return "Unknown"
}

// formatEvent writes a human-readable representation of event to w.
func formatEvent(w io.Writer, event log.Event) {
	ts := event.Timestamp.UTC().Format(timeFormat)
	fmt.Fprintf(w, "%s [conn:%s] %-3s %s %s", ts, shortenConnID(event.ConnectionID),
		event.Direction, event.Layer, eventType(event))
	if event.Device != "" {
		fmt.Fprintf(w, " (%s)", event.Device)
	}
	fmt.Fprintln(w)

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.Message != nil:
		formatMessageDetails(w, event.Message)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}
	fmt.Fprintln(w)
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatMessageDetails(w io.Writer, msg *log.MessageEvent) {
	fmt.Fprintf(w, "  ID: %d\n", msg.ID)
	if msg.Endpoint != "" {
		fmt.Fprintf(w, "  Endpoint: %s\n", msg.Endpoint)
	}
	if msg.Method != "" {
		fmt.Fprintf(w, "  Method: %s\n", msg.Method)
	}
	if msg.Seq != 0 {
		fmt.Fprintf(w, "  Seq: %d\n", msg.Seq)
	}
	if msg.RoundTrip != nil {
		fmt.Fprintf(w, "  Round trip: %s\n", formatDuration(*msg.RoundTrip))
	}
	if msg.Payload != nil {
		if data, err := json.Marshal(msg.Payload); err == nil {
			fmt.Fprintf(w, "  Payload: %s\n", data)
		} else {
			fmt.Fprintf(w, "  Payload: %v\n", msg.Payload)
		}
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity)
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer)
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%.3fus", float64(d.Nanoseconds())/1000)
	}
	if d < time.Second {
		return fmt.Sprintf("%.3fms", float64(d.Microseconds())/1000)
	}
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// ParseLayer parses transport, wire or device.
func ParseLayer(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "transport":
		return log.LayerTransport, nil
	case "wire":
		return log.LayerWire, nil
	case "device":
		return log.LayerDevice, nil
	}
	return 0, fmt.Errorf("invalid layer: %s (must be transport, wire or device)", s)
}

// ParseDirection parses in or out.
func ParseDirection(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	}
	return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
}

// ParseCategory parses message, state or error.
func ParseCategory(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "message":
		return log.CategoryMessage, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	}
	return 0, fmt.Errorf("invalid category: %s (must be message, state or error)", s)
}

// eachEvent calls fn for every event of the trace at path that f matches.
func eachEvent(path string, f log.Filter, fn func(log.Event) error) error {
	reader, err := log.NewFilteredReader(path, f)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if err := fn(event); err != nil {
			return err
		}
	}
}

// RunView prints the matching events of the trace at path.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	return eachEvent(path, filter.filter(), func(event log.Event) error {
		formatEvent(output, event)
		return nil
	})
}
