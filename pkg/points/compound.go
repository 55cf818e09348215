package points

import (
	"fmt"
	"slices"
)

// Compound nests models, the first being the outermost. Every position of
// an inner model is visited for each position of the models around it.
type Compound struct {
	Models  []Model
	Regions []Region
}

func (m Compound) Kind() string { return "compound" }

func (m Compound) Axes() []string {
	var axes []string
	for _, child := range m.Models {
		axes = append(axes, child.Axes()...)
	}
	return axes
}

func (m Compound) Validate() error {
	if len(m.Models) == 0 {
		return invalid(m.Kind(), "models", "must not be empty")
	}
	seen := make(map[string]bool)
	for _, child := range m.Models {
		if child == nil {
			return invalid(m.Kind(), "models", "must not contain nil")
		}
		if err := child.Validate(); err != nil {
			return err
		}
		for _, axis := range child.Axes() {
			if seen[axis] {
				return invalid(m.Kind(), "models", fmt.Sprintf("scan axis %q more than once", axis))
			}
			seen[axis] = true
		}
	}
	for _, r := range m.Regions {
		for _, axis := range r.Axes() {
			if !seen[axis] {
				return invalid(m.Kind(), "regions", fmt.Sprintf("use axis %q which is not scanned", axis))
			}
		}
	}
	return nil
}

func (m Compound) iterator() (Iterator, error) {
	blocks := planBlocks(m.Models, m.Regions)
	sources := make([]func() (Iterator, error), len(blocks))
	for i, b := range blocks {
		sources[i] = b.iterator
	}
	return &compoundIterator{
		productIterator: newProduct(sources),
		blocks:          blocks,
	}, nil
}

// block is a run of nested models iterated as one unit. Regions over axes
// of several models join those models into a single filtered block.
type block struct {
	models  []Model
	regions []Region
}

func (b block) iterator() (Iterator, error) {
	var it Iterator
	if len(b.models) == 1 {
		var err error
		if it, err = b.models[0].iterator(); err != nil {
			return nil, err
		}
	} else {
		sources := make([]func() (Iterator, error), len(b.models))
		for i, m := range b.models {
			sources[i] = m.iterator
		}
		it = newProduct(sources)
	}
	if len(b.regions) > 0 {
		it = &filterIterator{inner: it, regions: b.regions}
	}
	return it, nil
}

func (b block) shape() ([]int, error) {
	if len(b.regions) > 0 {
		it, err := b.iterator()
		if err != nil {
			return nil, err
		}
		n := 0
		for it.Next() {
			n++
		}
		return []int{n}, it.Err()
	}
	var shape []int
	for _, m := range b.models {
		s, err := modelShape(m)
		if err != nil {
			return nil, err
		}
		shape = append(shape, s...)
	}
	return shape, nil
}

// planBlocks groups models so that every region covers exactly one block.
func planBlocks(models []Model, regions []Region) []block {
	owner := make(map[string]int)
	for i, m := range models {
		for _, axis := range m.Axes() {
			owner[axis] = i
		}
	}

	type span struct {
		lo, hi  int
		regions []Region
	}
	var spans []span
	for _, r := range regions {
		s := span{lo: len(models), hi: -1, regions: []Region{r}}
		for _, axis := range r.Axes() {
			i := owner[axis]
			s.lo = min(s.lo, i)
			s.hi = max(s.hi, i)
		}
		if s.hi < 0 {
			continue
		}
		spans = append(spans, s)
	}
	slices.SortFunc(spans, func(a, b span) int { return a.lo - b.lo })

	var merged []span
	for _, s := range spans {
		if n := len(merged); n > 0 && s.lo <= merged[n-1].hi {
			merged[n-1].hi = max(merged[n-1].hi, s.hi)
			merged[n-1].regions = append(merged[n-1].regions, s.regions...)
			continue
		}
		merged = append(merged, s)
	}

	var blocks []block
	for i := 0; i < len(models); {
		if len(merged) > 0 && merged[0].lo == i {
			s := merged[0]
			merged = merged[1:]
			blocks = append(blocks, block{models: models[s.lo : s.hi+1], regions: s.regions})
			i = s.hi + 1
			continue
		}
		blocks = append(blocks, block{models: models[i : i+1]})
		i++
	}
	return blocks
}

// productIterator walks the cartesian product of restartable sources, the
// last source varying fastest.
type productIterator struct {
	sources []func() (Iterator, error)
	its     []Iterator
	current []*Position

	started bool
	done    bool
	step    int
	pos     *Position
	err     error
}

func newProduct(sources []func() (Iterator, error)) *productIterator {
	return &productIterator{
		sources: sources,
		its:     make([]Iterator, len(sources)),
		current: make([]*Position, len(sources)),
	}
}

func (p *productIterator) Next() bool {
	if p.done {
		return false
	}
	if !p.started {
		p.started = true
		if len(p.sources) == 0 {
			return p.finish()
		}
		for i := range p.sources {
			if !p.restart(i) {
				return p.finish()
			}
		}
		return p.emit()
	}
	for i := len(p.its) - 1; i >= 0; i-- {
		if p.advance(i) {
			for j := i + 1; j < len(p.its); j++ {
				if !p.restart(j) {
					return p.finish()
				}
			}
			return p.emit()
		}
		if p.err != nil {
			return p.finish()
		}
	}
	return p.finish()
}

func (p *productIterator) restart(i int) bool {
	it, err := p.sources[i]()
	if err != nil {
		p.err = &GeneratorError{Model: "compound", Step: p.step, Err: err}
		return false
	}
	p.its[i] = it
	return p.advance(i)
}

func (p *productIterator) advance(i int) bool {
	if p.its[i].Next() {
		p.current[i] = p.its[i].Position()
		return true
	}
	if err := p.its[i].Err(); err != nil && p.err == nil {
		p.err = err
	}
	return false
}

func (p *productIterator) emit() bool {
	pos := p.current[0]
	for _, inner := range p.current[1:] {
		pos = pos.Compound(inner)
	}
	p.pos = pos.WithStep(p.step)
	p.step++
	return true
}

func (p *productIterator) finish() bool {
	p.done = true
	p.pos = nil
	return false
}

func (p *productIterator) Position() *Position { return p.pos }
func (p *productIterator) Err() error          { return p.err }

// compoundIterator reports the shape of a compound from its blocks. Filtered
// blocks are counted once, on first use.
type compoundIterator struct {
	*productIterator
	blocks []block

	shaped bool
	shape  []int
}

func (it *compoundIterator) computeShape() []int {
	if !it.shaped {
		it.shaped = true
		it.shape = []int{}
		for _, b := range it.blocks {
			s, err := b.shape()
			if err != nil {
				s = []int{0}
			}
			it.shape = append(it.shape, s...)
		}
	}
	return it.shape
}

func (it *compoundIterator) Shape() []int {
	return append([]int{}, it.computeShape()...)
}

func (it *compoundIterator) Size() int {
	size := 1
	for _, n := range it.computeShape() {
		size *= n
	}
	return size
}

func (it *compoundIterator) Rank() int {
	return len(it.computeShape())
}

var _ ScanPointIterator = (*compoundIterator)(nil)
