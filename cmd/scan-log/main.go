// Command scan-log views and analyses protocol trace files.
//
// Trace files are written by scan-run and scan-server when started with
// -protocol-log.
//
// Usage:
//
//	scan-log <command> [flags] <file.log>
//
// Commands:
//
//	view     View a trace in human-readable form
//	export   Export a trace to JSON lines or CSV
//	filter   Write the matching events to a new trace
//	stats    Show statistics and call round trips
//
// Examples:
//
//	# View only the messages received
//	scan-log view -layer wire -direction in scan.log
//
//	# Export to CSV
//	scan-log export -format csv -o scan.csv scan.log
//
//	# Keep one connection
//	scan-log filter -conn-id 3f2a9c1e -o conn.log scan.log
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/opengda/scanning-go/cmd/scan-log/commands"
)

const usage = `scan-log - Scan Protocol Trace Analyzer

Usage:
  scan-log <command> [flags] <file.log>

Commands:
  view     View a trace in human-readable form
  export   Export a trace to JSON lines or CSV
  filter   Write the matching events to a new trace
  stats    Show statistics and call round trips

Use "scan-log <command> -help" for more information about a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "view":
		err = runView(args)
	case "export":
		err = runExport(args)
	case "filter":
		err = runFilter(args)
	case "stats":
		err = runStats(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newFlagSet returns a flag set whose usage names the command.
func newFlagSet(name, summary string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "scan-log %s - %s\n\nUsage:\n  scan-log %s [flags] <file.log>\n\nFlags:\n", name, summary, name)
		fs.PrintDefaults()
	}
	return fs
}

// tracePath parses args and returns the single trace file argument.
func tracePath(fs *flag.FlagSet, args []string) string {
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: log file path required")
		fs.Usage()
		os.Exit(1)
	}
	return fs.Arg(0)
}

func runView(args []string) error {
	fs := newFlagSet("view", "View a trace in human-readable form")
	layer := fs.String("layer", "", "Filter by layer (transport, wire, device)")
	direction := fs.String("direction", "", "Filter by direction (in, out)")
	category := fs.String("category", "", "Filter by category (message, state, error)")
	dev := fs.String("device", "", "Filter by device name")
	path := tracePath(fs, args)

	filter := commands.ViewFilter{Device: *dev}
	if *layer != "" {
		l, err := commands.ParseLayer(*layer)
		if err != nil {
			return err
		}
		filter.Layer = &l
	}
	if *direction != "" {
		d, err := commands.ParseDirection(*direction)
		if err != nil {
			return err
		}
		filter.Direction = &d
	}
	if *category != "" {
		c, err := commands.ParseCategory(*category)
		if err != nil {
			return err
		}
		filter.Category = &c
	}
	return commands.RunView(path, filter, os.Stdout)
}

func runExport(args []string) error {
	fs := newFlagSet("export", "Export a trace to JSON lines or CSV")
	format := fs.String("format", "jsonl", "Output format (jsonl, csv)")
	output := fs.String("o", "", "Output file (default: stdout)")
	path := tracePath(fs, args)

	return commands.RunExport(path, *format, *output)
}

func runFilter(args []string) error {
	fs := newFlagSet("filter", "Write the matching events to a new trace")
	var opts commands.FilterOptions
	fs.StringVar(&opts.Output, "o", "", "Output file (required)")
	fs.StringVar(&opts.ConnID, "conn-id", "", "Filter by connection ID")
	fs.StringVar(&opts.Device, "device", "", "Filter by device name")
	fs.StringVar(&opts.ScanID, "scan-id", "", "Filter by scan run ID")
	fs.StringVar(&opts.TimeStart, "time-start", "", "Filter by start time (RFC3339)")
	fs.StringVar(&opts.TimeEnd, "time-end", "", "Filter by end time (RFC3339)")
	fs.StringVar(&opts.Layer, "layer", "", "Filter by layer (transport, wire, device)")
	fs.StringVar(&opts.Direction, "direction", "", "Filter by direction (in, out)")
	fs.StringVar(&opts.Category, "category", "", "Filter by category (message, state, error)")
	path := tracePath(fs, args)

	if opts.Output == "" {
		fmt.Fprintln(os.Stderr, "Error: output file (-o) required")
		fs.Usage()
		os.Exit(1)
	}
	return commands.RunFilter(path, opts, os.Stdout)
}

func runStats(args []string) error {
	fs := newFlagSet("stats", "Show statistics and call round trips")
	path := tracePath(fs, args)
	return commands.RunStats(path, os.Stdout)
}
