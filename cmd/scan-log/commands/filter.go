package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/opengda/scanning-go/pkg/log"
)

// FilterOptions are the criteria of the filter command. Empty fields match
// everything.
type FilterOptions struct {
	Output    string
	ConnID    string
	Device    string
	ScanID    string
	TimeStart string
	TimeEnd   string
	Layer     string
	Direction string
	Category  string
}

func (o FilterOptions) filter() (log.Filter, error) {
	f := log.Filter{
		ConnectionID: o.ConnID,
		Device:       o.Device,
		ScanID:       o.ScanID,
	}
	if o.TimeStart != "" {
		t, err := time.Parse(time.RFC3339, o.TimeStart)
		if err != nil {
			return f, fmt.Errorf("invalid time-start format: %w", err)
		}
		f.TimeStart = &t
	}
	if o.TimeEnd != "" {
		t, err := time.Parse(time.RFC3339, o.TimeEnd)
		if err != nil {
			return f, fmt.Errorf("invalid time-end format: %w", err)
		}
		f.TimeEnd = &t
	}
	if o.Layer != "" {
		l, err := ParseLayer(o.Layer)
		if err != nil {
			return f, err
		}
		f.Layer = &l
	}
	if o.Direction != "" {
		d, err := ParseDirection(o.Direction)
		if err != nil {
			return f, err
		}
		f.Direction = &d
	}
	if o.Category != "" {
		c, err := ParseCategory(o.Category)
		if err != nil {
			return f, err
		}
		f.Category = &c
	}
	return f, nil
}

// RunFilter copies the matching events of the trace at path to a new
// trace file and reports how many were written to w.
func RunFilter(path string, opts FilterOptions, w io.Writer) error {
	f, err := opts.filter()
	if err != nil {
		return err
	}

	out, err := log.NewFileLogger(opts.Output)
	if err != nil {
		return fmt.Errorf("failed to create output logger: %w", err)
	}

	count := 0
	err = eachEvent(path, f, func(event log.Event) error {
		out.Log(event)
		count++
		return nil
	})
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if n := out.Dropped(); n > 0 {
		return fmt.Errorf("%d events could not be written to %s", n, opts.Output)
	}
	fmt.Fprintf(w, "Filtered %d events to %s\n", count, opts.Output)
	return nil
}
