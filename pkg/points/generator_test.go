package points

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, g *Generator) []*Position {
	t.Helper()
	it, err := g.Iterator()
	require.NoError(t, err)
	var out []*Position
	for it.Next() {
		out = append(out, it.Position())
	}
	require.NoError(t, it.Err())
	return out
}

func box(fastStart, slowStart, fastLength, slowLength float64) *BoundingBox {
	return &BoundingBox{FastStart: fastStart, SlowStart: slowStart, FastLength: fastLength, SlowLength: slowLength}
}

func TestSizeMatchesIteration(t *testing.T) {
	tests := []struct {
		name    string
		model   Model
		regions []Region
	}{
		{"step", Step{Name: "x", Start: 0, Stop: 10, Step: 2}, nil},
		{"step fractional", Step{Name: "x", Start: 0, Stop: 3, Step: 0.1}, nil},
		{"step descending", Step{Name: "x", Start: 5, Stop: 1, Step: -1}, nil},
		{"multi step", MultiStep{Name: "x", Steps: []Step{{Start: 0, Stop: 2, Step: 1}, {Start: 2, Stop: 4, Step: 0.5}}}, nil},
		{"array", Array{Name: "x", Values: []float64{3, 1, 2}}, nil},
		{"line", Line{Name: "x", Start: 0, Stop: 1, Points: 5}, nil},
		{"repeat", Repeat{Name: "x", Value: 1, Count: 4}, nil},
		{"static", Static{Size: 3}, nil},
		{"grid", Grid{Fast: "x", Slow: "y", Box: box(0, 0, 3, 2), FastPoints: 3, SlowPoints: 2}, nil},
		{"grid snake", Grid{Fast: "x", Slow: "y", Box: box(0, 0, 3, 3), FastPoints: 4, SlowPoints: 3, Snake: true}, nil},
		{"raster", Raster{Fast: "x", Slow: "y", Box: box(0, 0, 2, 1), FastStep: 1, SlowStep: 0.5}, nil},
		{"spiral", Spiral{Fast: "x", Slow: "y", Box: box(-5, -5, 10, 10), Scale: 1}, nil},
		{"lissajous", Lissajous{Fast: "x", Slow: "y", Box: box(0, 0, 1, 1), A: 3, B: 2, ThetaStep: 0.05, Points: 200}, nil},
		{"compound", Compound{Models: []Model{
			Step{Name: "T", Start: 290, Stop: 300, Step: 5},
			Grid{Fast: "x", Slow: "y", Box: box(0, 0, 3, 3), FastPoints: 3, SlowPoints: 3, Snake: true},
		}}, nil},
		{"compound with region", Compound{
			Models: []Model{
				Step{Name: "T", Start: 0, Stop: 2, Step: 1},
				Grid{Fast: "x", Slow: "y", Box: box(0, 0, 3, 3), FastPoints: 3, SlowPoints: 3},
			},
			Regions: []Region{Circle{X: "x", Y: "y", CentreX: 1.5, CentreY: 1.5, Radius: 1}},
		}, nil},
		{"filtered grid", Grid{Fast: "x", Slow: "y", Box: box(0, 0, 4, 4), FastPoints: 4, SlowPoints: 4},
			[]Region{Rectangle{X: "x", Y: "y", XStart: 0, YStart: 0, XLength: 2, YLength: 4}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(tt.model, tt.regions...)
			g.SetLogger(slog.New(slog.DiscardHandler))

			size, err := g.Size()
			require.NoError(t, err)
			got := collect(t, g)
			assert.Len(t, got, size)

			shape, err := g.Shape()
			require.NoError(t, err)
			product := 1
			for _, n := range shape {
				product *= n
			}
			assert.Equal(t, size, product, "shape %v", shape)

			rank, err := g.Rank()
			require.NoError(t, err)
			assert.Equal(t, len(shape), rank)

			for i, p := range got {
				assert.Equal(t, i, p.StepIndex)
				for _, name := range p.Names() {
					_, ok := p.Index(name)
					assert.True(t, ok, "axis %s has no index", name)
				}
			}
		})
	}
}

func TestCompoundOfSteps(t *testing.T) {
	g := New(Compound{Models: []Model{
		Step{Name: "y", Start: 0, Stop: 10, Step: 2},
		Step{Name: "x", Start: 0, Stop: 4, Step: 2},
	}})

	shape, err := g.Shape()
	require.NoError(t, err)
	assert.Equal(t, []int{6, 3}, shape)

	size, err := g.Size()
	require.NoError(t, err)
	assert.Equal(t, 18, size)

	pts := collect(t, g)
	require.Len(t, pts, 18)
	x, _ := pts[4].Value("x")
	y, _ := pts[4].Value("y")
	assert.Equal(t, 2.0, x)
	assert.Equal(t, 2.0, y)
	assert.Equal(t, [][]string{{"y"}, {"x"}}, pts[4].DimensionNames())
}

func TestSnakeGrid2x2(t *testing.T) {
	g := New(Grid{Fast: "x", Slow: "y", Box: box(0, 0, 2, 2), FastPoints: 2, SlowPoints: 2, Snake: true})

	shape, err := g.Shape()
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, shape)

	size, err := g.Size()
	require.NoError(t, err)
	assert.Equal(t, 4, size)

	pts := collect(t, g)
	var fast []int
	for _, p := range pts {
		i, _ := p.Index("x")
		fast = append(fast, i)
	}
	assert.Equal(t, []int{0, 1, 1, 0}, fast)

	x, _ := pts[2].Value("x")
	assert.Equal(t, 1.5, x)
}

func TestGridCellCentres(t *testing.T) {
	pts := collect(t, New(Grid{Fast: "x", Slow: "y", Box: box(10, -1, 3, 2), FastPoints: 3, SlowPoints: 2}))
	require.Len(t, pts, 6)

	var xs []float64
	for _, p := range pts[:3] {
		v, _ := p.Value("x")
		xs = append(xs, v)
	}
	assert.Equal(t, []float64{10.5, 11.5, 12.5}, xs)
	y, _ := pts[5].Value("y")
	assert.Equal(t, 0.5, y)
}

func TestValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		model Model
		field string
	}{
		{"grid without box", Grid{Fast: "x", Slow: "y", FastPoints: 2, SlowPoints: 2}, "box"},
		{"grid zero fast length", Grid{Fast: "x", Slow: "y", Box: box(0, 0, 0, 1), FastPoints: 2, SlowPoints: 2}, "box.fastLength"},
		{"grid zero slow length", Grid{Fast: "x", Slow: "y", Box: box(0, 0, 1, 0), FastPoints: 2, SlowPoints: 2}, "box.slowLength"},
		{"grid no points", Grid{Fast: "x", Slow: "y", Box: box(0, 0, 1, 1), SlowPoints: 2}, "fastPoints"},
		{"raster same axes", Raster{Fast: "x", Slow: "x", Box: box(0, 0, 1, 1), FastStep: 1, SlowStep: 1}, "axes"},
		{"raster wrong direction", Raster{Fast: "x", Slow: "y", Box: box(0, 0, 1, 1), FastStep: -1, SlowStep: 1}, "fastStep"},
		{"step zero", Step{Name: "x", Start: 0, Stop: 1, Step: 0}, "step"},
		{"step wrong direction", Step{Name: "x", Start: 0, Stop: 10, Step: -1}, "step"},
		{"step unnamed", Step{Start: 0, Stop: 1, Step: 1}, "name"},
		{"array empty", Array{Name: "x"}, "values"},
		{"static empty", Static{}, "size"},
		{"line no points", Line{Name: "x", Stop: 1}, "points"},
		{"spiral no scale", Spiral{Fast: "x", Slow: "y", Box: box(0, 0, 1, 1)}, "scale"},
		{"compound empty", Compound{}, "models"},
		{"compound duplicate axis", Compound{Models: []Model{
			Step{Name: "x", Start: 0, Stop: 1, Step: 1},
			Array{Name: "x", Values: []float64{1}},
		}}, "models"},
		{"compound unscanned region", Compound{
			Models:  []Model{Step{Name: "x", Start: 0, Stop: 1, Step: 1}},
			Regions: []Region{Range{Axis: "y", Min: 0, Max: 1}},
		}, "regions"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(tt.model)
			err := g.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidModel))

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tt.field, ve.Field)

			_, err = g.Iterator()
			assert.Error(t, err)
			_, err = g.Size()
			assert.Error(t, err)
			_, err = g.Shape()
			assert.Error(t, err)
		})
	}
}

func TestValidateModelRestoresModel(t *testing.T) {
	orig := Step{Name: "x", Start: 0, Stop: 1, Step: 1}
	g := New(orig)

	err := g.ValidateModel(Grid{Fast: "x", Slow: "y"})
	require.Error(t, err)
	assert.Equal(t, orig, g.Model())

	require.NoError(t, g.ValidateModel(Array{Name: "z", Values: []float64{1}}))
	assert.Equal(t, orig, g.Model())
}

func TestNilModel(t *testing.T) {
	g := New(nil)
	err := g.Validate()
	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
}

func TestShapeCacheClearedBySetModel(t *testing.T) {
	g := New(Step{Name: "x", Start: 0, Stop: 10, Step: 2})
	shape, err := g.Shape()
	require.NoError(t, err)
	assert.Equal(t, []int{6}, shape)

	// Cached copies must not alias the cache.
	shape[0] = 99
	again, _ := g.Shape()
	assert.Equal(t, []int{6}, again)

	g.SetModel(Step{Name: "x", Start: 0, Stop: 4, Step: 2})
	shape, err = g.Shape()
	require.NoError(t, err)
	assert.Equal(t, []int{3}, shape)
}

func TestStaticShape(t *testing.T) {
	shape, err := New(Static{Size: 1}).Shape()
	require.NoError(t, err)
	assert.Equal(t, []int{}, shape)

	shape, err = New(Static{Size: 5}).Shape()
	require.NoError(t, err)
	assert.Equal(t, []int{5}, shape)
}

func TestMultiStepSkipsRepeatedBoundary(t *testing.T) {
	pts := collect(t, New(MultiStep{Name: "x", Steps: []Step{
		{Start: 0, Stop: 2, Step: 1},
		{Start: 2, Stop: 4, Step: 1},
	}}))
	var values []float64
	for _, p := range pts {
		v, _ := p.Value("x")
		values = append(values, v)
	}
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, values)
}

func TestLineSinglePointIsMidpoint(t *testing.T) {
	pts := collect(t, New(Line{Name: "x", Start: 0, Stop: 10, Points: 1}))
	require.Len(t, pts, 1)
	v, _ := pts[0].Value("x")
	assert.Equal(t, 5.0, v)
}

func TestIteratorsAreIndependent(t *testing.T) {
	g := New(Step{Name: "x", Start: 0, Stop: 3, Step: 1})
	a, err := g.Iterator()
	require.NoError(t, err)
	b, err := g.Iterator()
	require.NoError(t, err)

	require.True(t, a.Next())
	require.True(t, a.Next())
	require.True(t, b.Next())
	assert.Equal(t, 1, a.Position().StepIndex)
	assert.Equal(t, 0, b.Position().StepIndex)
}

func TestContainsPoint(t *testing.T) {
	inside := NewPosition([]Axis{{Name: "x", Value: 1}, {Name: "y", Value: 1}})
	outside := NewPosition([]Axis{{Name: "x", Value: 9}, {Name: "y", Value: 9}})

	g := New(Grid{Fast: "x", Slow: "y", Box: box(0, 0, 10, 10), FastPoints: 2, SlowPoints: 2})
	assert.True(t, g.ContainsPoint(outside), "no regions includes every point")

	g = New(g.Model(),
		Circle{X: "x", Y: "y", CentreX: 0, CentreY: 0, Radius: 2},
		Rectangle{X: "x", Y: "y", XStart: 5, YStart: 5, XLength: 1, YLength: 1},
	)
	assert.True(t, g.ContainsPoint(inside))
	assert.False(t, g.ContainsPoint(outside))

	compound := New(Compound{
		Models:  []Model{Array{Name: "x", Values: []float64{1}}, Array{Name: "y", Values: []float64{1}}},
		Regions: []Region{Range{Axis: "x", Min: 0, Max: 2}},
	})
	assert.True(t, compound.ContainsPoint(inside))
	assert.False(t, compound.ContainsPoint(outside))
}

func TestCompoundRegionAppliesToOwningModels(t *testing.T) {
	g := New(Compound{
		Models: []Model{
			Step{Name: "T", Start: 0, Stop: 2, Step: 1},
			Grid{Fast: "x", Slow: "y", Box: box(0, 0, 3, 3), FastPoints: 3, SlowPoints: 3},
		},
		Regions: []Region{Circle{X: "x", Y: "y", CentreX: 1.5, CentreY: 1.5, Radius: 1}},
	})

	shape, err := g.Shape()
	require.NoError(t, err)
	assert.Equal(t, []int{3, 5}, shape)

	pts := collect(t, g)
	require.Len(t, pts, 15)
	for _, p := range pts {
		assert.True(t, g.ContainsPoint(p), "point %v outside region", p)
	}
	// The outer temperature axis is untouched by the region.
	T, _ := pts[14].Value("T")
	assert.Equal(t, 2.0, T)
	idx, _ := pts[14].Index("x")
	assert.Equal(t, 4, idx)
}

func TestFilteredGeneratorLogsInference(t *testing.T) {
	var buf bytes.Buffer
	g := New(Grid{Fast: "x", Slow: "y", Box: box(0, 0, 4, 4), FastPoints: 4, SlowPoints: 4},
		Rectangle{X: "x", Y: "y", XStart: 0, YStart: 0, XLength: 2, YLength: 4})
	g.SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))

	shape, err := g.Shape()
	require.NoError(t, err)
	assert.Equal(t, []int{8}, shape)
	assert.True(t, strings.Contains(buf.String(), "inferring scan shape"), buf.String())
}
