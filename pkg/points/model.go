package points

import (
	"math"
	"time"
)

// Model is a declarative scan path. The set of models is closed; use the
// types of this package.
type Model interface {
	// Kind names the model type, e.g. "step" or "grid".
	Kind() string

	// Validate reports a structurally invalid model as a *ValidationError.
	Validate() error

	// Axes lists the scannable names the model drives, outer first.
	Axes() []string

	iterator() (Iterator, error)
}

// boundaryTolerance is the fraction of a step within which two values count
// as the same point, and the slack added before flooring a point count.
const boundaryTolerance = 0.01

// Step sweeps one axis from Start to Stop in increments of Step.
// Stop is included when it lies on the grid of steps.
type Step struct {
	Name  string
	Start float64
	Stop  float64
	Step  float64
}

func (m Step) Kind() string        { return "step" }
func (m Step) Axes() []string      { return []string{m.Name} }
func (m Step) value(i int) float64 { return m.Start + float64(i)*m.Step }

func (m Step) Validate() error {
	if m.Name == "" {
		return invalid(m.Kind(), "name", "must be set")
	}
	div := (m.Stop - m.Start) / m.Step
	if math.IsNaN(div) || math.IsInf(div, 0) {
		return invalid(m.Kind(), "step", "must be nonzero")
	}
	if div < 0 {
		return invalid(m.Kind(), "step", "has the wrong direction for start and stop")
	}
	return nil
}

// Size returns the number of points of a valid model.
func (m Step) Size() int {
	return int(math.Floor((m.Stop-m.Start)/m.Step + 1 + boundaryTolerance))
}

func (m Step) iterator() (Iterator, error) {
	return &axisIterator{name: m.Name, n: m.Size(), at: m.value}, nil
}

// MultiStep concatenates several step ranges on the same axis. When a range
// starts on the point the previous one ended on, the repeated point is
// scanned once.
type MultiStep struct {
	Name  string
	Steps []Step
}

func (m MultiStep) Kind() string   { return "multiStep" }
func (m MultiStep) Axes() []string { return []string{m.Name} }

func (m MultiStep) Validate() error {
	if m.Name == "" {
		return invalid(m.Kind(), "name", "must be set")
	}
	if len(m.Steps) == 0 {
		return invalid(m.Kind(), "steps", "must not be empty")
	}
	for _, s := range m.Steps {
		s.Name = m.Name
		if err := s.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (m MultiStep) values() []float64 {
	var out []float64
	for _, s := range m.Steps {
		for i := 0; i < s.Size(); i++ {
			v := s.value(i)
			if i == 0 && len(out) > 0 && math.Abs(v-out[len(out)-1]) < math.Abs(s.Step)*boundaryTolerance {
				continue
			}
			out = append(out, v)
		}
	}
	return out
}

func (m MultiStep) iterator() (Iterator, error) {
	return valuesIterator(m.Name, m.values()), nil
}

// Array scans one axis through an explicit list of values.
type Array struct {
	Name   string
	Values []float64
}

func (m Array) Kind() string   { return "array" }
func (m Array) Axes() []string { return []string{m.Name} }

func (m Array) Validate() error {
	if m.Name == "" {
		return invalid(m.Kind(), "name", "must be set")
	}
	if len(m.Values) == 0 {
		return invalid(m.Kind(), "values", "must not be empty")
	}
	for _, v := range m.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return invalid(m.Kind(), "values", "must be finite")
		}
	}
	return nil
}

func (m Array) iterator() (Iterator, error) {
	return valuesIterator(m.Name, append([]float64(nil), m.Values...)), nil
}

func valuesIterator(name string, values []float64) *axisIterator {
	return &axisIterator{
		name: name,
		n:    len(values),
		at:   func(i int) float64 { return values[i] },
	}
}

// Line places Points equally spaced values from Start to Stop inclusive.
// A single point sits in the middle of the line.
type Line struct {
	Name   string
	Start  float64
	Stop   float64
	Points int
}

func (m Line) Kind() string   { return "line" }
func (m Line) Axes() []string { return []string{m.Name} }

func (m Line) Validate() error {
	if m.Name == "" {
		return invalid(m.Kind(), "name", "must be set")
	}
	if m.Points < 1 {
		return invalid(m.Kind(), "points", "must be at least 1")
	}
	return nil
}

func (m Line) value(i int) float64 {
	if m.Points == 1 {
		return (m.Start + m.Stop) / 2
	}
	return m.Start + float64(i)*(m.Stop-m.Start)/float64(m.Points-1)
}

func (m Line) iterator() (Iterator, error) {
	return &axisIterator{name: m.Name, n: m.Points, at: m.value}, nil
}

// Repeat scans the same value Count times, waiting Sleep between points.
type Repeat struct {
	Name  string
	Value float64
	Count int
	Sleep time.Duration
}

func (m Repeat) Kind() string   { return "repeat" }
func (m Repeat) Axes() []string { return []string{m.Name} }

func (m Repeat) Validate() error {
	if m.Name == "" {
		return invalid(m.Kind(), "name", "must be set")
	}
	if m.Count < 1 {
		return invalid(m.Kind(), "count", "must be at least 1")
	}
	if m.Sleep < 0 {
		return invalid(m.Kind(), "sleep", "must not be negative")
	}
	return nil
}

func (m Repeat) iterator() (Iterator, error) {
	return &axisIterator{
		name:  m.Name,
		n:     m.Count,
		at:    func(int) float64 { return m.Value },
		sleep: m.Sleep,
	}, nil
}

// Static produces Size positions without moving any axis.
type Static struct {
	Size int
}

func (m Static) Kind() string   { return "static" }
func (m Static) Axes() []string { return nil }

func (m Static) Validate() error {
	if m.Size < 1 {
		return invalid(m.Kind(), "size", "must be at least 1")
	}
	return nil
}

func (m Static) iterator() (Iterator, error) {
	return &staticIterator{size: m.Size}, nil
}
