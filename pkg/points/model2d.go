package points

import "math"

// BoundingBox is the rectangle a two dimensional model is fitted in.
// Lengths may be negative to sweep towards lower values.
type BoundingBox struct {
	FastStart  float64
	SlowStart  float64
	FastLength float64
	SlowLength float64
}

func validateBox(kind, fast, slow string, box *BoundingBox) error {
	if box == nil {
		return invalid(kind, "box", "must be set")
	}
	if box.FastLength == 0 || math.IsNaN(box.FastLength) {
		return invalid(kind, "box.fastLength", "must be nonzero")
	}
	if box.SlowLength == 0 || math.IsNaN(box.SlowLength) {
		return invalid(kind, "box.slowLength", "must be nonzero")
	}
	if fast == "" || slow == "" {
		return invalid(kind, "axes", "fast and slow names must be set")
	}
	if fast == slow {
		return invalid(kind, "axes", "fast and slow must differ")
	}
	return nil
}

// Grid places FastPoints x SlowPoints points at the centres of equal cells of
// the bounding box. The slow axis is the outer dimension.
type Grid struct {
	Fast       string
	Slow       string
	Box        *BoundingBox
	FastPoints int
	SlowPoints int
	Snake      bool
}

func (m Grid) Kind() string   { return "grid" }
func (m Grid) Axes() []string { return []string{m.Slow, m.Fast} }

func (m Grid) Validate() error {
	if err := validateBox(m.Kind(), m.Fast, m.Slow, m.Box); err != nil {
		return err
	}
	if m.FastPoints <= 0 {
		return invalid(m.Kind(), "fastPoints", "must be positive")
	}
	if m.SlowPoints <= 0 {
		return invalid(m.Kind(), "slowPoints", "must be positive")
	}
	return nil
}

func cellCentres(start, length float64, n int) []float64 {
	step := length / float64(n)
	values := make([]float64, n)
	for i := range values {
		values[i] = start + step/2 + float64(i)*step
	}
	return values
}

func (m Grid) iterator() (Iterator, error) {
	return &gridIterator{
		fast:     m.Fast,
		slow:     m.Slow,
		fastVals: cellCentres(m.Box.FastStart, m.Box.FastLength, m.FastPoints),
		slowVals: cellCentres(m.Box.SlowStart, m.Box.SlowLength, m.SlowPoints),
		snake:    m.Snake,
	}, nil
}

// Raster steps across the bounding box from its corner with fixed step sizes.
// Both box edges are included when they lie on the step grid.
type Raster struct {
	Fast     string
	Slow     string
	Box      *BoundingBox
	FastStep float64
	SlowStep float64
	Snake    bool
}

func (m Raster) Kind() string   { return "raster" }
func (m Raster) Axes() []string { return []string{m.Slow, m.Fast} }

func (m Raster) Validate() error {
	if err := validateBox(m.Kind(), m.Fast, m.Slow, m.Box); err != nil {
		return err
	}
	if err := validateRasterStep(m.Kind(), "fastStep", m.Box.FastLength, m.FastStep); err != nil {
		return err
	}
	return validateRasterStep(m.Kind(), "slowStep", m.Box.SlowLength, m.SlowStep)
}

func validateRasterStep(kind, field string, length, step float64) error {
	div := length / step
	if math.IsNaN(div) || math.IsInf(div, 0) {
		return invalid(kind, field, "must be nonzero")
	}
	if div < 0 {
		return invalid(kind, field, "has the wrong direction for the box")
	}
	return nil
}

func steps(start, length, step float64) []float64 {
	n := int(math.Floor(length/step + 1 + boundaryTolerance))
	values := make([]float64, n)
	for i := range values {
		values[i] = start + float64(i)*step
	}
	return values
}

func (m Raster) iterator() (Iterator, error) {
	return &gridIterator{
		fast:     m.Fast,
		slow:     m.Slow,
		fastVals: steps(m.Box.FastStart, m.Box.FastLength, m.FastStep),
		slowVals: steps(m.Box.SlowStart, m.Box.SlowLength, m.SlowStep),
		snake:    m.Snake,
	}, nil
}

// Spiral lays a Fermat spiral over the bounding box, starting at its centre.
// Scale sets the distance between neighbouring points. Points falling
// outside the box are skipped. Both axes move along one dimension.
type Spiral struct {
	Fast  string
	Slow  string
	Box   *BoundingBox
	Scale float64
}

func (m Spiral) Kind() string   { return "spiral" }
func (m Spiral) Axes() []string { return []string{m.Fast, m.Slow} }

func (m Spiral) Validate() error {
	if err := validateBox(m.Kind(), m.Fast, m.Slow, m.Box); err != nil {
		return err
	}
	if !(m.Scale > 0) || math.IsInf(m.Scale, 0) {
		return invalid(m.Kind(), "scale", "must be positive")
	}
	return nil
}

func (m Spiral) points() [][2]float64 {
	box := m.Box
	cx := box.FastStart + box.FastLength/2
	cy := box.SlowStart + box.SlowLength/2
	maxRadius := math.Hypot(box.FastLength, box.SlowLength) / 2

	alpha := math.Sqrt(4 * math.Pi)
	beta := m.Scale / (2 * math.Pi)

	var pts [][2]float64
	for i := 0; ; i++ {
		phi := alpha * math.Sqrt(float64(i))
		r := beta * phi
		if r > maxRadius {
			break
		}
		x := cx + r*math.Sin(phi)
		y := cy + r*math.Cos(phi)
		if inRange(x, box.FastStart, box.FastLength) && inRange(y, box.SlowStart, box.SlowLength) {
			pts = append(pts, [2]float64{x, y})
		}
	}
	return pts
}

func inRange(v, start, length float64) bool {
	lo, hi := start, start+length
	if hi < lo {
		lo, hi = hi, lo
	}
	return v >= lo && v <= hi
}

func (m Spiral) iterator() (Iterator, error) {
	return &pathIterator{fast: m.Fast, slow: m.Slow, points: m.points()}, nil
}

// Lissajous traces x = A-frequency and y = B-frequency sine waves across the
// bounding box. Points are taken every ThetaStep radians.
type Lissajous struct {
	Fast      string
	Slow      string
	Box       *BoundingBox
	A         float64
	B         float64
	Delta     float64
	ThetaStep float64
	Points    int
}

func (m Lissajous) Kind() string   { return "lissajous" }
func (m Lissajous) Axes() []string { return []string{m.Fast, m.Slow} }

func (m Lissajous) Validate() error {
	if err := validateBox(m.Kind(), m.Fast, m.Slow, m.Box); err != nil {
		return err
	}
	if m.Points < 1 {
		return invalid(m.Kind(), "points", "must be at least 1")
	}
	if !(m.ThetaStep > 0) {
		return invalid(m.Kind(), "thetaStep", "must be positive")
	}
	return nil
}

func (m Lissajous) iterator() (Iterator, error) {
	box := m.Box
	cx := box.FastStart + box.FastLength/2
	cy := box.SlowStart + box.SlowLength/2

	pts := make([][2]float64, m.Points)
	for i := range pts {
		theta := float64(i) * m.ThetaStep
		pts[i] = [2]float64{
			cx + box.FastLength/2*math.Sin(m.A*theta+m.Delta),
			cy + box.SlowLength/2*math.Sin(m.B*theta),
		}
	}
	return &pathIterator{fast: m.Fast, slow: m.Slow, points: pts}, nil
}
