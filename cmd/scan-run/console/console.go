// Package console provides the interactive terminal of scan-run.
package console

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"

	"github.com/opengda/scanning-go/pkg/device"
)

// commandTimeout bounds each command sent to the scan.
const commandTimeout = 30 * time.Second

// Target is the scan the console steers.
type Target interface {
	Name() string
	State() device.State
	Health() string
	CompletedSteps() int
	TotalSteps() int
	Axes() []string

	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Seek(ctx context.Context, step int) error
	Abort(ctx context.Context) error
}

// Console reads commands from the terminal.
type Console struct {
	rl  *readline.Instance
	out io.Writer
}

// New creates a console with its prompt.
func New() (*Console, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "scan> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("pause"),
			readline.PcItem("resume"),
			readline.PcItem("seek"),
			readline.PcItem("abort"),
			readline.PcItem("status"),
			readline.PcItem("help"),
			readline.PcItem("quit"),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create readline: %w", err)
	}
	return &Console{rl: rl, out: rl.Stdout()}, nil
}

// Stdout returns a writer that does not disturb the prompt.
func (c *Console) Stdout() io.Writer { return c.out }

// Stderr is Stdout for diagnostics.
func (c *Console) Stderr() io.Writer { return c.rl.Stderr() }

// Run reads commands until ctx is done, the user quits or input ends.
// Quitting calls cancel, which aborts the scan.
func (c *Console) Run(ctx context.Context, t Target, cancel context.CancelFunc) {
	defer c.rl.Close()
	go func() {
		<-ctx.Done()
		c.rl.Close()
	}()

	c.printHelp()
	for {
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			if ctx.Err() == nil {
				fmt.Fprintln(c.out, "Exiting...")
				cancel()
			}
			return
		}

		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		if quit := c.Execute(ctx, t, parts[0], parts[1:]); quit {
			fmt.Fprintln(c.out, "Aborting scan...")
			cancel()
			return
		}
	}
}

// Execute runs one command and reports whether the user asked to quit.
func (c *Console) Execute(ctx context.Context, t Target, cmd string, args []string) bool {
	out := c.out
	cctx, done := context.WithTimeout(ctx, commandTimeout)
	defer done()

	switch strings.ToLower(cmd) {
	case "help", "?":
		c.printHelp()

	case "status", "s":
		Status(out, t)

	case "pause", "p":
		report(out, "pause", t.Pause(cctx))

	case "resume", "r":
		report(out, "resume", t.Resume(cctx))

	case "seek":
		if len(args) != 1 {
			fmt.Fprintln(out, "Usage: seek <step>")
			return false
		}
		step, err := strconv.Atoi(args[0])
		if err != nil {
			fmt.Fprintf(out, "Invalid step: %v\n", err)
			return false
		}
		report(out, "seek", t.Seek(cctx, step))

	case "abort":
		report(out, "abort", t.Abort(cctx))

	case "quit", "exit", "q":
		return true

	default:
		fmt.Fprintf(out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func report(w io.Writer, op string, err error) {
	if err != nil {
		fmt.Fprintf(w, "%s failed: %v\n", op, err)
		return
	}
	fmt.Fprintf(w, "%s: OK\n", op)
}

// Status prints the state and progress of t.
func Status(w io.Writer, t Target) {
	done, total := t.CompletedSteps(), t.TotalSteps()
	pct := 0.0
	if total > 0 {
		pct = 100 * float64(done) / float64(total)
	}
	fmt.Fprintf(w, "Scan:     %s\n", t.Name())
	fmt.Fprintf(w, "State:    %s\n", t.State())
	fmt.Fprintf(w, "Health:   %s\n", t.Health())
	fmt.Fprintf(w, "Axes:     %s\n", strings.Join(t.Axes(), ", "))
	fmt.Fprintf(w, "Progress: %d/%d (%.1f%%)\n", done, total, pct)
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Scan Commands:
    status          - Show state and progress
    pause           - Pause after the current point
    resume          - Resume a paused scan
    seek <step>     - Continue a paused scan from step
    abort           - Abort the scan
    help            - Show this help
    quit            - Abort and exit`)
}
