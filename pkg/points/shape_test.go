package points

import (
	"fmt"
	"testing"
)

// plain hides the ScanPointIterator methods of an iterator.
type plain struct{ Iterator }

func TestInferShapeMatchesReportedShape(t *testing.T) {
	for slow := 1; slow <= 4; slow++ {
		for fast := 1; fast <= 4; fast++ {
			for _, snake := range []bool{false, true} {
				name := fmt.Sprintf("%dx%d snake=%v", slow, fast, snake)
				t.Run(name, func(t *testing.T) {
					m := Grid{Fast: "x", Slow: "y", Box: box(0, 0, 1, 1), FastPoints: fast, SlowPoints: slow, Snake: snake}
					it, err := m.iterator()
					if err != nil {
						t.Fatal(err)
					}
					want := it.(ScanPointIterator).Shape()

					it, _ = m.iterator()
					got, err := InferShape(plain{it})
					if err != nil {
						t.Fatal(err)
					}
					if fmt.Sprint(got) != fmt.Sprint(want) {
						t.Errorf("InferShape: got %v, want %v", got, want)
					}
				})
			}
		}
	}
}

func TestInferShapeNested(t *testing.T) {
	m := Compound{Models: []Model{
		Step{Name: "a", Start: 0, Stop: 2, Step: 1},
		Step{Name: "b", Start: 0, Stop: 1, Step: 1},
		Grid{Fast: "x", Slow: "y", Box: box(0, 0, 1, 1), FastPoints: 3, SlowPoints: 2, Snake: true},
	}}
	it, err := m.iterator()
	if err != nil {
		t.Fatal(err)
	}
	got, err := InferShape(plain{it})
	if err != nil {
		t.Fatal(err)
	}
	if fmt.Sprint(got) != "[3 2 2 3]" {
		t.Errorf("InferShape: got %v, want [3 2 2 3]", got)
	}
}

func TestInferShapeEmptyAndStatic(t *testing.T) {
	got, err := InferShape(plain{&staticIterator{size: 0}})
	if err != nil || len(got) != 0 {
		t.Errorf("empty: got %v, %v", got, err)
	}
	got, err = InferShape(plain{&staticIterator{size: 4}})
	if err != nil || len(got) != 0 {
		t.Errorf("axis-less: got %v, %v", got, err)
	}
}

type failing struct {
	n   int
	err error
}

func (f *failing) Next() bool {
	if f.n == 0 {
		return false
	}
	f.n--
	return true
}
func (f *failing) Position() *Position { return NewPoint("x", 0, 0) }
func (f *failing) Err() error          { return f.err }

func TestInferShapePropagatesError(t *testing.T) {
	boom := &GeneratorError{Model: "test", Step: 2, Err: fmt.Errorf("motor lost")}
	if _, err := InferShape(&failing{n: 2, err: boom}); err != boom {
		t.Errorf("got %v, want %v", err, boom)
	}
}
