package commands

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/opengda/scanning-go/pkg/log"
)

// Stats aggregates a trace file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	Connections       map[string]*ConnectionStats
	Calls             map[string]*CallStats
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// ConnectionStats describes one connection.
type ConnectionStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
	Device    string
	Role      log.Role
}

// CallStats holds the round trips of the replies to one method, or to get
// and subscribe requests keyed by their type.
type CallStats struct {
	Count int
	Total time.Duration
	Max   time.Duration
}

// Mean returns the mean round trip.
func (c *CallStats) Mean() time.Duration {
	if c.Count == 0 {
		return 0
	}
	return c.Total / time.Duration(c.Count)
}

// Collect reads the trace at path into Stats.
func Collect(path string) (*Stats, error) {
	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		Connections:       make(map[string]*ConnectionStats),
		Calls:             make(map[string]*CallStats),
	}
	// Request method by connection and id, to label replies.
	methods := make(map[string]map[int64]string)

	err := eachEvent(path, log.Filter{}, func(event log.Event) error {
		stats.TotalEvents++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByCategory[event.Category]++
		stats.EventsByDirection[event.Direction]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		if event.ConnectionID != "" {
			conn, ok := stats.Connections[event.ConnectionID]
			if !ok {
				conn = &ConnectionStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp, Role: event.LocalRole}
				stats.Connections[event.ConnectionID] = conn
			}
			conn.Events++
			if event.Timestamp.After(conn.LastSeen) {
				conn.LastSeen = event.Timestamp
			}
			if conn.Device == "" {
				conn.Device = event.Device
			}
		}

		if m := event.Message; m != nil {
			ids := methods[event.ConnectionID]
			if ids == nil {
				ids = make(map[int64]string)
				methods[event.ConnectionID] = ids
			}
			switch {
			case m.Type.IsRequest():
				name := m.Method
				if name == "" {
					name = m.Type.String()
				}
				ids[m.ID] = name
			case m.RoundTrip != nil:
				name := ids[m.ID]
				if name == "" {
					name = "unknown"
				}
				cs := stats.Calls[name]
				if cs == nil {
					cs = &CallStats{}
					stats.Calls[name] = cs
				}
				cs.Count++
				cs.Total += *m.RoundTrip
				cs.Max = max(cs.Max, *m.RoundTrip)
			}
		}

		if event.Error != nil {
			stats.Errors++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// RunStats prints the statistics of the trace at path.
func RunStats(path string, w io.Writer) error {
	stats, err := Collect(path)
	if err != nil {
		return err
	}
	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Scan Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Millisecond))
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerDevice} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryMessage, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}

	if len(stats.Calls) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Round Trips:")
		names := make([]string, 0, len(stats.Calls))
		for name := range stats.Calls {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			cs := stats.Calls[name]
			fmt.Fprintf(w, "  %-12s %d calls, mean %s, max %s\n",
				name+":", cs.Count, formatDuration(cs.Mean()), formatDuration(cs.Max))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Connections: %d\n", len(stats.Connections))
	ids := make([]string, 0, len(stats.Connections))
	for id := range stats.Connections {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		return stats.Connections[a].FirstSeen.Compare(stats.Connections[b].FirstSeen)
	})
	for _, id := range ids {
		cs := stats.Connections[id]
		duration := cs.LastSeen.Sub(cs.FirstSeen).Round(time.Millisecond)
		fmt.Fprintf(w, "  [%s] %s, %d events, duration %s\n", shortenConnID(id), cs.Role, cs.Events, duration)
		if cs.Device != "" {
			fmt.Fprintf(w, "           Device: %s\n", cs.Device)
		}
	}

	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
