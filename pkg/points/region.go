package points

import "math"

// Region is a spatial filter over the axes it names.
type Region interface {
	// Axes lists the axis names the region is defined over.
	Axes() []string

	// Contains reports whether the position lies inside the region.
	// Positions lacking one of the region's axes are outside.
	Contains(p *Position) bool
}

// containsPoint reports whether any region contains p. With no regions every
// point is contained.
func containsPoint(regions []Region, p *Position) bool {
	if len(regions) == 0 {
		return true
	}
	for _, r := range regions {
		if r.Contains(p) {
			return true
		}
	}
	return false
}

func xy(p *Position, xName, yName string) (x, y float64, ok bool) {
	x, okX := p.Value(xName)
	y, okY := p.Value(yName)
	return x, y, okX && okY
}

// Range keeps points whose axis value lies in [Min, Max].
type Range struct {
	Axis string
	Min  float64
	Max  float64
}

func (r Range) Axes() []string { return []string{r.Axis} }

func (r Range) Contains(p *Position) bool {
	v, ok := p.Value(r.Axis)
	return ok && v >= r.Min && v <= r.Max
}

// Rectangle keeps points inside an axis aligned rectangle. Edges are inside.
type Rectangle struct {
	X, Y    string
	XStart  float64
	YStart  float64
	XLength float64
	YLength float64
}

func (r Rectangle) Axes() []string { return []string{r.X, r.Y} }

func (r Rectangle) Contains(p *Position) bool {
	x, y, ok := xy(p, r.X, r.Y)
	return ok && inRange(x, r.XStart, r.XLength) && inRange(y, r.YStart, r.YLength)
}

// Circle keeps points within Radius of the centre.
type Circle struct {
	X, Y    string
	CentreX float64
	CentreY float64
	Radius  float64
}

func (r Circle) Axes() []string { return []string{r.X, r.Y} }

func (r Circle) Contains(p *Position) bool {
	x, y, ok := xy(p, r.X, r.Y)
	return ok && math.Hypot(x-r.CentreX, y-r.CentreY) <= r.Radius
}

// Ellipse keeps points inside an axis aligned ellipse.
type Ellipse struct {
	X, Y    string
	CentreX float64
	CentreY float64
	SemiX   float64
	SemiY   float64
}

func (r Ellipse) Axes() []string { return []string{r.X, r.Y} }

func (r Ellipse) Contains(p *Position) bool {
	x, y, ok := xy(p, r.X, r.Y)
	if !ok || r.SemiX == 0 || r.SemiY == 0 {
		return false
	}
	dx := (x - r.CentreX) / r.SemiX
	dy := (y - r.CentreY) / r.SemiY
	return dx*dx+dy*dy <= 1
}

// Polygon keeps points inside a closed polygon given by its vertices.
// Uses the even-odd rule.
type Polygon struct {
	X, Y     string
	Vertices [][2]float64
}

func (r Polygon) Axes() []string { return []string{r.X, r.Y} }

func (r Polygon) Contains(p *Position) bool {
	x, y, ok := xy(p, r.X, r.Y)
	if !ok || len(r.Vertices) < 3 {
		return false
	}
	inside := false
	j := len(r.Vertices) - 1
	for i, vi := range r.Vertices {
		vj := r.Vertices[j]
		if (vi[1] > y) != (vj[1] > y) &&
			x < (vj[0]-vi[0])*(y-vi[1])/(vj[1]-vi[1])+vi[0] {
			inside = !inside
		}
		j = i
	}
	return inside
}

// Compile-time interface satisfaction checks.
var (
	_ Region = Range{}
	_ Region = Rectangle{}
	_ Region = Circle{}
	_ Region = Ellipse{}
	_ Region = Polygon{}
)
