package points

import "time"

// Iterator produces the positions of a scan one at a time.
//
//	it, err := gen.Iterator()
//	for it.Next() {
//	    pos := it.Position()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator interface {
	// Next advances to the next position. It returns false when the
	// sequence is exhausted or an error occurred.
	Next() bool

	// Position returns the current position. Only valid after Next
	// returned true.
	Position() *Position

	// Err returns the first error encountered while iterating.
	Err() error
}

// ScanPointIterator is an Iterator that knows its own extent without
// walking the sequence.
type ScanPointIterator interface {
	Iterator

	// Size is the number of positions a full iteration produces.
	Size() int

	// Shape is the number of points along each dimension, outer first.
	Shape() []int

	// Rank is len(Shape()).
	Rank() int
}

// axisIterator walks a single axis.
type axisIterator struct {
	name  string
	n     int
	at    func(int) float64
	sleep time.Duration

	next int
	pos  *Position
}

func (it *axisIterator) Next() bool {
	if it.next >= it.n {
		it.pos = nil
		return false
	}
	if it.sleep > 0 && it.next > 0 {
		time.Sleep(it.sleep)
	}
	it.pos = NewPoint(it.name, it.next, it.at(it.next))
	it.pos.StepIndex = it.next
	it.next++
	return true
}

func (it *axisIterator) Position() *Position { return it.pos }
func (it *axisIterator) Err() error          { return nil }
func (it *axisIterator) Size() int           { return it.n }
func (it *axisIterator) Shape() []int        { return []int{it.n} }
func (it *axisIterator) Rank() int           { return 1 }

// gridIterator walks two axes row by row, the slow axis outermost.
// With snake set, odd rows run backwards and their fast indices descend.
type gridIterator struct {
	fast, slow         string
	fastVals, slowVals []float64
	snake              bool

	row, col int
	step     int
	pos      *Position
}

func (it *gridIterator) Next() bool {
	if it.row >= len(it.slowVals) || len(it.fastVals) == 0 {
		it.pos = nil
		return false
	}
	c := it.col
	if it.snake && it.row%2 == 1 {
		c = len(it.fastVals) - 1 - it.col
	}
	it.pos = NewPosition(
		[]Axis{{Name: it.slow, Index: it.row, Value: it.slowVals[it.row]}},
		[]Axis{{Name: it.fast, Index: c, Value: it.fastVals[c]}},
	)
	it.pos.StepIndex = it.step
	it.step++
	it.col++
	if it.col == len(it.fastVals) {
		it.col = 0
		it.row++
	}
	return true
}

func (it *gridIterator) Position() *Position { return it.pos }
func (it *gridIterator) Err() error          { return nil }
func (it *gridIterator) Size() int           { return len(it.slowVals) * len(it.fastVals) }
func (it *gridIterator) Shape() []int        { return []int{len(it.slowVals), len(it.fastVals)} }
func (it *gridIterator) Rank() int           { return 2 }

// pathIterator walks precomputed points moving two axes together along a
// single dimension (spirals, Lissajous figures).
type pathIterator struct {
	fast, slow string
	points     [][2]float64

	next int
	pos  *Position
}

func (it *pathIterator) Next() bool {
	if it.next >= len(it.points) {
		it.pos = nil
		return false
	}
	pt := it.points[it.next]
	it.pos = NewPosition([]Axis{
		{Name: it.fast, Index: it.next, Value: pt[0]},
		{Name: it.slow, Index: it.next, Value: pt[1]},
	})
	it.pos.StepIndex = it.next
	it.next++
	return true
}

func (it *pathIterator) Position() *Position { return it.pos }
func (it *pathIterator) Err() error          { return nil }
func (it *pathIterator) Size() int           { return len(it.points) }
func (it *pathIterator) Shape() []int        { return []int{len(it.points)} }
func (it *pathIterator) Rank() int           { return 1 }

// staticIterator yields positions without axes, for acquire-only scans.
type staticIterator struct {
	size int

	next int
	pos  *Position
}

func (it *staticIterator) Next() bool {
	if it.next >= it.size {
		it.pos = nil
		return false
	}
	it.pos = &Position{StepIndex: it.next}
	it.next++
	return true
}

func (it *staticIterator) Position() *Position { return it.pos }
func (it *staticIterator) Err() error          { return nil }
func (it *staticIterator) Size() int           { return it.size }

func (it *staticIterator) Shape() []int {
	if it.size == 1 {
		return []int{}
	}
	return []int{it.size}
}

func (it *staticIterator) Rank() int { return len(it.Shape()) }

// filterIterator drops points outside every region and renumbers the kept
// points into a single dimension.
type filterIterator struct {
	inner   Iterator
	regions []Region

	kept int
	pos  *Position
}

func (it *filterIterator) Next() bool {
	for it.inner.Next() {
		p := it.inner.Position()
		if !containsPoint(it.regions, p) {
			continue
		}
		it.pos = p.Flatten(it.kept)
		it.kept++
		return true
	}
	it.pos = nil
	return false
}

func (it *filterIterator) Position() *Position { return it.pos }
func (it *filterIterator) Err() error          { return it.inner.Err() }

// Compile-time interface satisfaction checks.
var (
	_ ScanPointIterator = (*axisIterator)(nil)
	_ ScanPointIterator = (*gridIterator)(nil)
	_ ScanPointIterator = (*pathIterator)(nil)
	_ ScanPointIterator = (*staticIterator)(nil)
	_ Iterator          = (*filterIterator)(nil)
)
