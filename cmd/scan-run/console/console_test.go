package console

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/opengda/scanning-go/pkg/device"
)

type fakeTarget struct {
	state device.State
	done  int
	calls []string
	err   error
	seek  int
}

func (f *fakeTarget) Name() string        { return "grid" }
func (f *fakeTarget) State() device.State { return f.state }
func (f *fakeTarget) Health() string      { return "OK" }
func (f *fakeTarget) CompletedSteps() int { return f.done }
func (f *fakeTarget) TotalSteps() int     { return 8 }
func (f *fakeTarget) Axes() []string      { return []string{"y", "x"} }

func (f *fakeTarget) Pause(context.Context) error {
	f.calls = append(f.calls, "pause")
	return f.err
}

func (f *fakeTarget) Resume(context.Context) error {
	f.calls = append(f.calls, "resume")
	return f.err
}

func (f *fakeTarget) Seek(_ context.Context, step int) error {
	f.calls = append(f.calls, "seek")
	f.seek = step
	return f.err
}

func (f *fakeTarget) Abort(context.Context) error {
	f.calls = append(f.calls, "abort")
	return f.err
}

func TestStatus(t *testing.T) {
	var buf bytes.Buffer
	Status(&buf, &fakeTarget{state: device.StatePaused, done: 2})

	out := buf.String()
	assert.Contains(t, out, "PAUSED")
	assert.Contains(t, out, "2/8 (25.0%)")
	assert.Contains(t, out, "y, x")
}

func TestExecute(t *testing.T) {
	var buf bytes.Buffer
	c := &Console{out: &buf}
	target := &fakeTarget{state: device.StateRunning}
	ctx := context.Background()

	assert.False(t, c.Execute(ctx, target, "pause", nil))
	assert.False(t, c.Execute(ctx, target, "SEEK", []string{"5"}))
	assert.False(t, c.Execute(ctx, target, "r", nil))
	assert.False(t, c.Execute(ctx, target, "abort", nil))
	assert.Equal(t, []string{"pause", "seek", "resume", "abort"}, target.calls)
	assert.Equal(t, 5, target.seek)

	buf.Reset()
	assert.False(t, c.Execute(ctx, target, "seek", []string{"five"}))
	assert.Contains(t, buf.String(), "Invalid step")
	assert.False(t, c.Execute(ctx, target, "seek", nil))
	assert.Contains(t, buf.String(), "Usage: seek")
	assert.False(t, c.Execute(ctx, target, "jump", nil))
	assert.Contains(t, buf.String(), "Unknown command: jump")

	assert.True(t, c.Execute(ctx, target, "quit", nil))
	assert.Len(t, target.calls, 4)
}

func TestExecuteReportsFailure(t *testing.T) {
	var buf bytes.Buffer
	c := &Console{out: &buf}
	target := &fakeTarget{err: device.ErrIllegalState}

	c.Execute(context.Background(), target, "resume", nil)
	assert.Contains(t, buf.String(), "resume failed")
}
