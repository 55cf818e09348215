package commands

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/opengda/scanning-go/pkg/log"
)

// RunExport writes the trace at path as JSON lines or CSV to output, or to
// stdout when output is empty.
func RunExport(path, format, output string) error {
	var export func(string, io.Writer) error
	switch format {
	case "jsonl":
		export = exportJSONL
	case "csv":
		export = exportCSV
	default:
		return fmt.Errorf("unknown format: %s (supported: jsonl, csv)", format)
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return export(path, w)
}

func exportJSONL(path string, w io.Writer) error {
	encoder := json.NewEncoder(w)
	return eachEvent(path, log.Filter{}, func(event log.Event) error {
		if err := encoder.Encode(event); err != nil {
			return fmt.Errorf("failed to encode event: %w", err)
		}
		return nil
	})
}

var csvHeader = []string{
	"timestamp", "connection_id", "direction", "layer", "category", "role",
	"device", "scan_id", "type", "id", "endpoint", "method", "round_trip_us",
}

func exportCSV(path string, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	err := eachEvent(path, log.Filter{}, func(event log.Event) error {
		var id, endpoint, method, rtt string
		if m := event.Message; m != nil {
			id = strconv.FormatInt(m.ID, 10)
			endpoint, method = m.Endpoint, m.Method
			if m.RoundTrip != nil {
				rtt = strconv.FormatInt(m.RoundTrip.Microseconds(), 10)
			}
		}
		row := []string{
			event.Timestamp.UTC().Format(timeFormat),
			event.ConnectionID,
			event.Direction.String(),
			event.Layer.String(),
			event.Category.String(),
			event.LocalRole.String(),
			event.Device,
			event.ScanID,
			eventType(event),
			id,
			endpoint,
			method,
			rtt,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
		return nil
	})
	cw.Flush()
	if err != nil {
		return err
	}
	return cw.Error()
}
