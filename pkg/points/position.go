package points

import (
	"strconv"
	"strings"
)

// Axis is one named coordinate of a position.
type Axis struct {
	// Name of the scannable driven along this axis.
	Name string

	// Index of Value within the sweep of this axis.
	Index int

	// Value is the demanded position.
	Value float64
}

// Position is a single point of a scan.
// Positions are not modified once handed out by an iterator; the derive
// methods (Compound, WithStep, Flatten) return copies.
type Position struct {
	// StepIndex is the scan-wide step counter.
	StepIndex int

	axes []Axis
	dims [][]string
}

// NewPosition creates a position from dimensions given outer first.
// Each dimension lists the axes that move together. Axis names must be
// unique; a repeated name is ignored.
func NewPosition(dims ...[]Axis) *Position {
	p := &Position{}
	for _, dim := range dims {
		names := make([]string, 0, len(dim))
		for _, a := range dim {
			if p.find(a.Name) >= 0 {
				continue
			}
			p.axes = append(p.axes, a)
			names = append(names, a.Name)
		}
		if len(names) > 0 {
			p.dims = append(p.dims, names)
		}
	}
	return p
}

// NewPoint creates a one dimensional position on a single axis.
func NewPoint(name string, index int, value float64) *Position {
	return NewPosition([]Axis{{Name: name, Index: index, Value: value}})
}

func (p *Position) find(name string) int {
	for i := range p.axes {
		if p.axes[i].Name == name {
			return i
		}
	}
	return -1
}

// Len returns the number of axes.
func (p *Position) Len() int {
	return len(p.axes)
}

// Names returns the axis names in scan order.
func (p *Position) Names() []string {
	names := make([]string, len(p.axes))
	for i, a := range p.axes {
		names[i] = a.Name
	}
	return names
}

// Axes returns a copy of the axes in scan order.
func (p *Position) Axes() []Axis {
	return append([]Axis(nil), p.axes...)
}

// Value returns the value demanded for the named axis.
func (p *Position) Value(name string) (float64, bool) {
	i := p.find(name)
	if i < 0 {
		return 0, false
	}
	return p.axes[i].Value, true
}

// Index returns the index of the named axis within its sweep.
func (p *Position) Index(name string) (int, bool) {
	i := p.find(name)
	if i < 0 {
		return 0, false
	}
	return p.axes[i].Index, true
}

// Values returns the axis values keyed by name.
func (p *Position) Values() map[string]float64 {
	values := make(map[string]float64, len(p.axes))
	for _, a := range p.axes {
		values[a.Name] = a.Value
	}
	return values
}

// Rank returns the number of dimensions.
func (p *Position) Rank() int {
	return len(p.dims)
}

// DimensionNames returns the axis names grouped by dimension, outer first.
func (p *Position) DimensionNames() [][]string {
	dims := make([][]string, len(p.dims))
	for i, d := range p.dims {
		dims[i] = append([]string(nil), d...)
	}
	return dims
}

// DimensionIndex returns the index of dimension d, which is the index of the
// first axis in that dimension. It returns -1 if d is out of range.
func (p *Position) DimensionIndex(d int) int {
	if d < 0 || d >= len(p.dims) {
		return -1
	}
	idx, _ := p.Index(p.dims[d][0])
	return idx
}

// Compound returns a new position with the receiver's dimensions outermost
// followed by those of inner. Axes of inner already present are dropped.
// The step index is taken from the receiver.
func (p *Position) Compound(inner *Position) *Position {
	out := p.clone()
	if inner == nil {
		return out
	}
	for _, dim := range inner.dims {
		names := make([]string, 0, len(dim))
		for _, name := range dim {
			if out.find(name) >= 0 {
				continue
			}
			out.axes = append(out.axes, inner.axes[inner.find(name)])
			names = append(names, name)
		}
		if len(names) > 0 {
			out.dims = append(out.dims, names)
		}
	}
	return out
}

// WithStep returns a copy of the position with the given step index.
func (p *Position) WithStep(step int) *Position {
	out := p.clone()
	out.StepIndex = step
	return out
}

// Flatten returns a copy with all axes in one dimension, every axis carrying
// index and the step index set to index.
func (p *Position) Flatten(index int) *Position {
	out := &Position{StepIndex: index, axes: p.Axes()}
	for i := range out.axes {
		out.axes[i].Index = index
	}
	if len(out.axes) > 0 {
		out.dims = [][]string{p.Names()}
	}
	return out
}

// Equal reports whether both positions carry the same axes, values, indices
// and step index.
func (p *Position) Equal(o *Position) bool {
	if p == nil || o == nil {
		return p == o
	}
	if p.StepIndex != o.StepIndex || len(p.axes) != len(o.axes) {
		return false
	}
	for i := range p.axes {
		if p.axes[i] != o.axes[i] {
			return false
		}
	}
	return true
}

func (p *Position) clone() *Position {
	return &Position{
		StepIndex: p.StepIndex,
		axes:      p.Axes(),
		dims:      p.DimensionNames(),
	}
}

// String formats the position as "x=1.5(0), y=2(3) step=7".
func (p *Position) String() string {
	var b strings.Builder
	for i, a := range p.axes {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(a.Name)
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(a.Value, 'g', -1, 64))
		b.WriteByte('(')
		b.WriteString(strconv.Itoa(a.Index))
		b.WriteByte(')')
	}
	if len(p.axes) > 0 {
		b.WriteByte(' ')
	}
	b.WriteString("step=")
	b.WriteString(strconv.Itoa(p.StepIndex))
	return b.String()
}
