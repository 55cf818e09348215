package points

// modelShape returns the shape of a validated model, inferring it by
// iteration when the model's iterator does not report it.
func modelShape(m Model) ([]int, error) {
	it, err := m.iterator()
	if err != nil {
		return nil, err
	}
	if sp, ok := it.(ScanPointIterator); ok {
		return sp.Shape(), nil
	}
	return InferShape(it)
}

// InferShape consumes it and reconstructs the scan shape from the positions
// it produced.
//
// The rank is that of the first position. Every dimension but the innermost
// has the last position's index + 1 points. The innermost dimension ends at
// the first step where its index decreases, so a snake scan ending on a
// reversed row still reports its full row length. Without a decrease the
// innermost dimension is the last index + 1.
//
// An empty sequence, or one whose positions have no axes, has shape [].
func InferShape(it Iterator) ([]int, error) {
	var first, last *Position
	prev, turn := -1, -1
	for it.Next() {
		p := it.Position()
		if first == nil {
			first = p
		}
		if rank := first.Rank(); rank > 0 && turn < 0 {
			idx := p.DimensionIndex(rank - 1)
			if prev >= 0 && idx < prev {
				turn = prev + 1
			}
			prev = idx
		}
		last = p
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	if first == nil || first.Rank() == 0 {
		return []int{}, nil
	}

	rank := first.Rank()
	shape := make([]int, rank)
	for d := 0; d < rank-1; d++ {
		shape[d] = last.DimensionIndex(d) + 1
	}
	if turn > 0 {
		shape[rank-1] = turn
	} else {
		shape[rank-1] = last.DimensionIndex(rank-1) + 1
	}
	return shape, nil
}
