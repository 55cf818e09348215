package log

import (
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opengda/scanning-go/pkg/wire"
)

func writeTrace(t *testing.T, events []Event) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trace.mlog")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	for _, e := range events {
		logger.Log(e)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return path
}

func TestFileLoggerRoundTrip(t *testing.T) {
	rtt := 3 * time.Millisecond
	ts := time.Date(2026, 5, 4, 10, 30, 0, 123456789, time.UTC)
	events := []Event{
		{
			Timestamp: ts, ConnectionID: "c1", Direction: DirectionOut, Layer: LayerWire,
			Category: CategoryMessage, Device: "zebra",
			Message: &MessageEvent{Type: wire.TypeCall, ID: 7, Method: "configure",
				Payload: map[string]any{"exposure": 0.1}},
		},
		{
			Timestamp: ts.Add(rtt), ConnectionID: "c1", Direction: DirectionIn, Layer: LayerWire,
			Category: CategoryMessage, Device: "zebra",
			Message: &MessageEvent{Type: wire.TypeReturn, ID: 7, RoundTrip: &rtt},
		},
		{
			Timestamp: ts, Layer: LayerDevice, Category: CategoryState, Device: "zebra",
			StateChange: &StateChangeEvent{Entity: StateEntityDevice, OldState: "CONFIGURING", NewState: "ARMED"},
		},
	}
	path := writeTrace(t, events)

	r, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer r.Close()

	got, err := r.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d events, want 3", len(got))
	}
	if !got[0].Timestamp.Equal(ts) {
		t.Errorf("timestamp lost precision: %v", got[0].Timestamp)
	}
	args, ok := got[0].Message.Payload.(map[string]any)
	if !ok || args["exposure"] != 0.1 {
		t.Errorf("payload = %#v", got[0].Message.Payload)
	}
	if got[1].Message.RoundTrip == nil || *got[1].Message.RoundTrip != rtt {
		t.Errorf("round trip = %v", got[1].Message.RoundTrip)
	}
	if got[2].StateChange.NewState != "ARMED" {
		t.Errorf("state change = %+v", got[2].StateChange)
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := writeTrace(t, []Event{{ConnectionID: "first"}})

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	logger.Log(Event{ConnectionID: "second"})
	logger.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, _ := r.All()
	if len(got) != 2 || got[1].ConnectionID != "second" {
		t.Errorf("got %+v", got)
	}
}

func TestFileLoggerCloseTwiceAndLogAfterClose(t *testing.T) {
	logger, err := NewFileLogger(filepath.Join(t.TempDir(), "x.mlog"))
	if err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	logger.Log(Event{})
	if logger.Dropped() != 0 {
		t.Errorf("Dropped = %d", logger.Dropped())
	}
}

func TestFileLoggerConcurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "concurrent.mlog")
	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				logger.Log(Event{Message: &MessageEvent{Type: wire.TypeUpdate, ID: int64(i)}})
			}
		}()
	}
	wg.Wait()
	logger.Close()

	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	got, err := r.All()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 200 {
		t.Errorf("got %d events, want 200", len(got))
	}
}

func TestReaderEmptyFile(t *testing.T) {
	path := writeTrace(t, nil)
	r, err := NewReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if _, err := r.Next(); err != io.EOF {
		t.Errorf("got %v, want io.EOF", err)
	}
}
