package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/opengda/scanning-go/pkg/wire"
)

func logJSON(t *testing.T, ev Event) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	NewSlogAdapter(logger).Log(ev)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("parse %q: %v", buf.String(), err)
	}
	return entry
}

func TestSlogAdapterMessage(t *testing.T) {
	rtt := 2 * time.Millisecond
	entry := logJSON(t, Event{
		ConnectionID: "c1", Direction: DirectionOut, Layer: LayerWire, Device: "zebra",
		Message: &MessageEvent{Type: wire.TypeCall, ID: 12, Method: "run", RoundTrip: &rtt},
	})

	want := map[string]any{
		"msg":       "protocol",
		"level":     "DEBUG",
		"direction": "OUT",
		"layer":     "WIRE",
		"conn_id":   "c1",
		"device":    "zebra",
		"msg_type":  "CALL",
		"msg_id":    float64(12),
		"method":    "run",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s: got %v, want %v", k, entry[k], v)
		}
	}
	if _, ok := entry["endpoint"]; ok {
		t.Error("empty endpoint logged")
	}
}

func TestSlogAdapterStateChangeAndError(t *testing.T) {
	entry := logJSON(t, Event{
		Layer: LayerDevice, Category: CategoryState,
		StateChange: &StateChangeEvent{Entity: StateEntityDevice, OldState: "RUNNING", NewState: "FAULT", Reason: "motor stalled"},
	})
	if entry["entity"] != "DEVICE" || entry["new_state"] != "FAULT" || entry["reason"] != "motor stalled" {
		t.Errorf("state change entry: %v", entry)
	}

	entry = logJSON(t, Event{
		Category: CategoryError,
		Error:    &ErrorEventData{Layer: LayerTransport, Message: "connection reset", Context: "read"},
	})
	if entry["error_layer"] != "TRANSPORT" || entry["error_context"] != "read" {
		t.Errorf("error entry: %v", entry)
	}
}

func TestSlogAdapterNilLogger(t *testing.T) {
	if NewSlogAdapter(nil).logger == nil {
		t.Error("nil logger not replaced with default")
	}
}
