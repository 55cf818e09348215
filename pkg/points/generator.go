package points

import (
	"log/slog"
	"sync"
)

// Generator turns a path model into positions.
//
// Validation runs before every Iterator, Size and Shape call. The shape is
// cached until the model is replaced. Generator is safe for concurrent use;
// the iterators it returns are not.
type Generator struct {
	mu      sync.Mutex
	model   Model
	regions []Region

	// Shape cache, valid while gen matches shapeGen.
	gen      uint64
	shapeGen uint64
	shape    []int

	logger *slog.Logger
}

// New creates a generator for model. Regions, if any, filter the whole
// model; a point is kept when any region contains it.
func New(model Model, regions ...Region) *Generator {
	return &Generator{
		model:   model,
		regions: regions,
		gen:     1,
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger used to report degraded shape inference.
func (g *Generator) SetLogger(logger *slog.Logger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	g.logger = logger
}

// Model returns the current model.
func (g *Generator) Model() Model {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.model
}

// SetModel replaces the model and drops the cached shape.
func (g *Generator) SetModel(model Model) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.model = model
	g.gen++
	g.shape = nil
}

// Axes returns the scanned axis names, outer first.
func (g *Generator) Axes() []string {
	if m := g.Model(); m != nil {
		return m.Axes()
	}
	return nil
}

// Regions returns the regions given to New plus those of a Compound model.
func (g *Generator) Regions() []Region {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.allRegions()
}

func (g *Generator) allRegions() []Region {
	regions := append([]Region(nil), g.regions...)
	if c, ok := g.model.(Compound); ok {
		regions = append(regions, c.Regions...)
	}
	return regions
}

// Validate checks the current model.
func (g *Generator) Validate() error {
	return validate(g.Model())
}

// ValidateModel checks model as if it were this generator's model. The
// generator's own model is unchanged afterwards, whatever the outcome.
func (g *Generator) ValidateModel(model Model) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	orig := g.model
	g.model = model
	defer func() { g.model = orig }()

	return validate(g.model)
}

func validate(m Model) error {
	if m == nil {
		return &ValidationError{Model: "path", Reason: ErrNoModel.Error()}
	}
	return m.Validate()
}

// Iterator validates the model and returns a fresh iterator positioned
// before the first point.
func (g *Generator) Iterator() (Iterator, error) {
	g.mu.Lock()
	m, regions := g.model, append([]Region(nil), g.regions...)
	g.mu.Unlock()

	if err := validate(m); err != nil {
		return nil, err
	}
	it, err := m.iterator()
	if err != nil {
		return nil, &GeneratorError{Model: m.Kind(), Err: err}
	}
	if len(regions) > 0 {
		it = &filterIterator{inner: it, regions: regions}
	}
	return it, nil
}

// Size returns the number of positions a full iteration produces. Models
// that cannot report it cheaply are counted by iterating once.
func (g *Generator) Size() (int, error) {
	it, err := g.Iterator()
	if err != nil {
		return 0, err
	}
	if sp, ok := it.(ScanPointIterator); ok {
		return sp.Size(), nil
	}
	n := 0
	for it.Next() {
		n++
	}
	return n, it.Err()
}

// Shape returns the number of points along each dimension, outer first.
func (g *Generator) Shape() ([]int, error) {
	g.mu.Lock()
	if g.shape != nil && g.shapeGen == g.gen {
		shape := append([]int{}, g.shape...)
		g.mu.Unlock()
		return shape, nil
	}
	gen, logger := g.gen, g.logger
	g.mu.Unlock()

	it, err := g.Iterator()
	if err != nil {
		return nil, err
	}

	var shape []int
	if sp, ok := it.(ScanPointIterator); ok {
		shape = sp.Shape()
	} else {
		logger.Warn("inferring scan shape by iterating all points", "model", g.Model().Kind())
		if shape, err = InferShape(it); err != nil {
			return nil, err
		}
	}

	g.mu.Lock()
	if g.gen == gen {
		g.shape = append([]int{}, shape...)
		g.shapeGen = gen
	}
	g.mu.Unlock()
	return shape, nil
}

// Rank returns the number of dimensions of the scan.
func (g *Generator) Rank() (int, error) {
	shape, err := g.Shape()
	if err != nil {
		return 0, err
	}
	return len(shape), nil
}

// ContainsPoint reports whether p passes the generator's regions. It is
// true when no region is configured or when any region contains p.
func (g *Generator) ContainsPoint(p *Position) bool {
	return containsPoint(g.Regions(), p)
}
