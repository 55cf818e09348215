package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opengda/scanning-go/pkg/points"
)

// Scan is the part of a scan file sent to a controller: the path and the
// devices to involve. It encodes with its yaml names on every format.
type Scan struct {
	Name    string       `yaml:"name" json:"name"`
	Path    []ModelSpec  `yaml:"scan" json:"scan"`
	Regions []RegionSpec `yaml:"regions,omitempty" json:"regions,omitempty"`

	// Detectors are triggered at every point; empty means all detectors.
	Detectors []string `yaml:"detectors,omitempty" json:"detectors,omitempty"`

	// Monitors are read alongside the scan.
	Monitors []string `yaml:"monitors,omitempty" json:"monitors,omitempty"`
}

// ModelSpec is one path model. Type selects which fields apply.
type ModelSpec struct {
	Type string `yaml:"type" json:"type"`

	// One dimensional models.
	Name   string        `yaml:"name,omitempty" json:"name,omitempty"`
	Start  float64       `yaml:"start,omitempty" json:"start,omitempty"`
	Stop   float64       `yaml:"stop,omitempty" json:"stop,omitempty"`
	Step   float64       `yaml:"step,omitempty" json:"step,omitempty"`
	Steps  []ModelSpec   `yaml:"steps,omitempty" json:"steps,omitempty"`
	Values []float64     `yaml:"values,omitempty" json:"values,omitempty"`
	Points int           `yaml:"points,omitempty" json:"points,omitempty"`
	Value  float64       `yaml:"value,omitempty" json:"value,omitempty"`
	Count  int           `yaml:"count,omitempty" json:"count,omitempty"`
	Sleep  time.Duration `yaml:"sleep,omitempty" json:"sleep,omitempty"`
	Size   int           `yaml:"size,omitempty" json:"size,omitempty"`

	// Two dimensional models.
	Fast       string   `yaml:"fast,omitempty" json:"fast,omitempty"`
	Slow       string   `yaml:"slow,omitempty" json:"slow,omitempty"`
	Box        *BoxSpec `yaml:"box,omitempty" json:"box,omitempty"`
	FastPoints int      `yaml:"fastPoints,omitempty" json:"fastPoints,omitempty"`
	SlowPoints int      `yaml:"slowPoints,omitempty" json:"slowPoints,omitempty"`
	FastStep   float64  `yaml:"fastStep,omitempty" json:"fastStep,omitempty"`
	SlowStep   float64  `yaml:"slowStep,omitempty" json:"slowStep,omitempty"`
	Snake      bool     `yaml:"snake,omitempty" json:"snake,omitempty"`
	Scale      float64  `yaml:"scale,omitempty" json:"scale,omitempty"`
	A          float64  `yaml:"a,omitempty" json:"a,omitempty"`
	B          float64  `yaml:"b,omitempty" json:"b,omitempty"`
	Delta      float64  `yaml:"delta,omitempty" json:"delta,omitempty"`
	ThetaStep  float64  `yaml:"thetaStep,omitempty" json:"thetaStep,omitempty"`
}

// BoxSpec is the bounding box of a two dimensional model.
type BoxSpec struct {
	FastStart  float64 `yaml:"fastStart" json:"fastStart"`
	SlowStart  float64 `yaml:"slowStart" json:"slowStart"`
	FastLength float64 `yaml:"fastLength" json:"fastLength"`
	SlowLength float64 `yaml:"slowLength" json:"slowLength"`
}

func (b *BoxSpec) box() *points.BoundingBox {
	if b == nil {
		return nil
	}
	return &points.BoundingBox{
		FastStart:  b.FastStart,
		SlowStart:  b.SlowStart,
		FastLength: b.FastLength,
		SlowLength: b.SlowLength,
	}
}

// Build returns the path model the spec describes. The model is not
// validated.
func (m ModelSpec) Build() (points.Model, error) {
	switch strings.ToLower(m.Type) {
	case "step":
		return m.step(), nil
	case "multistep":
		ms := points.MultiStep{Name: m.Name}
		for i, s := range m.Steps {
			if s.Type != "" && !strings.EqualFold(s.Type, "step") {
				return nil, fmt.Errorf("steps[%d]: type %q in a multistep", i, s.Type)
			}
			if s.Name == "" {
				s.Name = m.Name
			}
			ms.Steps = append(ms.Steps, s.step())
		}
		return ms, nil
	case "array":
		return points.Array{Name: m.Name, Values: m.Values}, nil
	case "line":
		return points.Line{Name: m.Name, Start: m.Start, Stop: m.Stop, Points: m.Points}, nil
	case "repeat":
		return points.Repeat{Name: m.Name, Value: m.Value, Count: m.Count, Sleep: m.Sleep}, nil
	case "static":
		return points.Static{Size: m.Size}, nil
	case "grid":
		return points.Grid{
			Fast: m.Fast, Slow: m.Slow, Box: m.Box.box(),
			FastPoints: m.FastPoints, SlowPoints: m.SlowPoints, Snake: m.Snake,
		}, nil
	case "raster":
		return points.Raster{
			Fast: m.Fast, Slow: m.Slow, Box: m.Box.box(),
			FastStep: m.FastStep, SlowStep: m.SlowStep, Snake: m.Snake,
		}, nil
	case "spiral":
		return points.Spiral{Fast: m.Fast, Slow: m.Slow, Box: m.Box.box(), Scale: m.Scale}, nil
	case "lissajous":
		return points.Lissajous{
			Fast: m.Fast, Slow: m.Slow, Box: m.Box.box(),
			A: m.A, B: m.B, Delta: m.Delta, ThetaStep: m.ThetaStep, Points: m.Points,
		}, nil
	case "":
		return nil, errors.New("model type must be set")
	}
	return nil, fmt.Errorf("unknown model type %q", m.Type)
}

func (m ModelSpec) step() points.Step {
	return points.Step{Name: m.Name, Start: m.Start, Stop: m.Stop, Step: m.Step}
}

// RegionSpec is one region filter. Axes default to x and y; X and Y are
// the centre of circles and ellipses and the corner of rectangles.
type RegionSpec struct {
	Type string   `yaml:"type" json:"type"`
	Axes []string `yaml:"axes,omitempty" json:"axes,omitempty"`

	X        float64      `yaml:"x,omitempty" json:"x,omitempty"`
	Y        float64      `yaml:"y,omitempty" json:"y,omitempty"`
	Width    float64      `yaml:"width,omitempty" json:"width,omitempty"`
	Height   float64      `yaml:"height,omitempty" json:"height,omitempty"`
	Radius   float64      `yaml:"radius,omitempty" json:"radius,omitempty"`
	SemiX    float64      `yaml:"semiX,omitempty" json:"semiX,omitempty"`
	SemiY    float64      `yaml:"semiY,omitempty" json:"semiY,omitempty"`
	Vertices [][2]float64 `yaml:"vertices,omitempty" json:"vertices,omitempty"`

	// Range regions.
	Axis string  `yaml:"axis,omitempty" json:"axis,omitempty"`
	Min  float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max  float64 `yaml:"max,omitempty" json:"max,omitempty"`
}

// Build returns the region the spec describes.
func (r RegionSpec) Build() (points.Region, error) {
	kind := strings.ToLower(r.Type)
	if kind == "range" {
		if r.Axis == "" {
			return nil, errors.New("range region needs an axis")
		}
		if r.Max < r.Min {
			return nil, fmt.Errorf("range region on %q has max %v below min %v", r.Axis, r.Max, r.Min)
		}
		return points.Range{Axis: r.Axis, Min: r.Min, Max: r.Max}, nil
	}

	x, y := "x", "y"
	switch len(r.Axes) {
	case 0:
	case 2:
		x, y = r.Axes[0], r.Axes[1]
	default:
		return nil, fmt.Errorf("%s region needs two axes, got %d", r.Type, len(r.Axes))
	}

	switch kind {
	case "rectangle":
		return points.Rectangle{X: x, Y: y, XStart: r.X, YStart: r.Y, XLength: r.Width, YLength: r.Height}, nil
	case "circle":
		if r.Radius <= 0 {
			return nil, errors.New("circle region needs a positive radius")
		}
		return points.Circle{X: x, Y: y, CentreX: r.X, CentreY: r.Y, Radius: r.Radius}, nil
	case "ellipse":
		return points.Ellipse{X: x, Y: y, CentreX: r.X, CentreY: r.Y, SemiX: r.SemiX, SemiY: r.SemiY}, nil
	case "polygon":
		if len(r.Vertices) < 3 {
			return nil, errors.New("polygon region needs at least three vertices")
		}
		return points.Polygon{X: x, Y: y, Vertices: r.Vertices}, nil
	case "":
		return nil, errors.New("region type must be set")
	}
	return nil, fmt.Errorf("unknown region type %q", r.Type)
}

// Model builds the path. Several models, or any regions, nest in a
// Compound with the first model outermost.
func (s *Scan) Model() (points.Model, error) {
	if len(s.Path) == 0 {
		return nil, fmt.Errorf("%w: scan has no path models", ErrInvalid)
	}
	models := make([]points.Model, 0, len(s.Path))
	for i, spec := range s.Path {
		m, err := spec.Build()
		if err != nil {
			return nil, fmt.Errorf("%w: scan[%d]: %w", ErrInvalid, i, err)
		}
		models = append(models, m)
	}
	regions := make([]points.Region, 0, len(s.Regions))
	for i, spec := range s.Regions {
		r, err := spec.Build()
		if err != nil {
			return nil, fmt.Errorf("%w: regions[%d]: %w", ErrInvalid, i, err)
		}
		regions = append(regions, r)
	}
	if len(models) == 1 && len(regions) == 0 {
		return models[0], nil
	}
	return points.Compound{Models: models, Regions: regions}, nil
}

// Generator builds and validates the path.
func (s *Scan) Generator(logger *slog.Logger) (*points.Generator, error) {
	m, err := s.Model()
	if err != nil {
		return nil, err
	}
	g := points.New(m)
	g.SetLogger(logger)
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return g, nil
}

// Validate checks that the scan is named and its path is valid.
func (s *Scan) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: name must be set", ErrInvalid)
	}
	_, err := s.Generator(nil)
	return err
}
