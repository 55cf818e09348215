package points

import "testing"

func TestPositionLookups(t *testing.T) {
	p := NewPosition(
		[]Axis{{Name: "y", Index: 1, Value: 2.5}},
		[]Axis{{Name: "x", Index: 3, Value: -1}},
	)

	if p.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", p.Len())
	}
	if got := p.Names(); got[0] != "y" || got[1] != "x" {
		t.Errorf("Names: got %v, want [y x]", got)
	}
	if v, ok := p.Value("x"); !ok || v != -1 {
		t.Errorf("Value(x): got %v,%v", v, ok)
	}
	if i, ok := p.Index("y"); !ok || i != 1 {
		t.Errorf("Index(y): got %v,%v", i, ok)
	}
	if _, ok := p.Value("z"); ok {
		t.Error("Value(z) should not be found")
	}
	if p.Rank() != 2 {
		t.Errorf("Rank: got %d, want 2", p.Rank())
	}
	if p.DimensionIndex(1) != 3 {
		t.Errorf("DimensionIndex(1): got %d, want 3", p.DimensionIndex(1))
	}
	if p.DimensionIndex(2) != -1 {
		t.Errorf("DimensionIndex(2): got %d, want -1", p.DimensionIndex(2))
	}
}

func TestPositionRepeatedAxisIgnored(t *testing.T) {
	p := NewPosition([]Axis{{Name: "x", Value: 1}, {Name: "x", Value: 2}})
	if p.Len() != 1 {
		t.Fatalf("Len: got %d, want 1", p.Len())
	}
	if v, _ := p.Value("x"); v != 1 {
		t.Errorf("first value should win, got %v", v)
	}
}

func TestPositionCompound(t *testing.T) {
	outer := NewPoint("T", 2, 295).WithStep(7)
	inner := NewPosition([]Axis{{Name: "x", Index: 1, Value: 0.5}, {Name: "T", Index: 9, Value: 0}})

	p := outer.Compound(inner)

	if p.StepIndex != 7 {
		t.Errorf("StepIndex: got %d, want 7", p.StepIndex)
	}
	dims := p.DimensionNames()
	if len(dims) != 2 || dims[0][0] != "T" || len(dims[1]) != 1 || dims[1][0] != "x" {
		t.Errorf("DimensionNames: got %v", dims)
	}
	if v, _ := p.Value("T"); v != 295 {
		t.Errorf("outer axis must win, got T=%v", v)
	}
	// Receivers are not modified.
	if outer.Len() != 1 {
		t.Errorf("outer modified: %v", outer)
	}
}

func TestPositionFlatten(t *testing.T) {
	p := NewPosition(
		[]Axis{{Name: "y", Index: 1, Value: 2}},
		[]Axis{{Name: "x", Index: 0, Value: 1}},
	).Flatten(4)

	if p.Rank() != 1 || p.StepIndex != 4 {
		t.Fatalf("got rank %d step %d", p.Rank(), p.StepIndex)
	}
	for _, name := range []string{"x", "y"} {
		if i, _ := p.Index(name); i != 4 {
			t.Errorf("Index(%s): got %d, want 4", name, i)
		}
	}
}

func TestPositionEqualAndString(t *testing.T) {
	a := NewPoint("x", 0, 1.5)
	b := NewPoint("x", 0, 1.5)
	if !a.Equal(b) {
		t.Error("equal positions reported different")
	}
	if a.Equal(b.WithStep(1)) {
		t.Error("different step reported equal")
	}
	if got := a.String(); got != "x=1.5(0) step=0" {
		t.Errorf("String: got %q", got)
	}
	if got := (&Position{StepIndex: 3}).String(); got != "step=3" {
		t.Errorf("String without axes: got %q", got)
	}
}
