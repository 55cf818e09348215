// Package points generates the ordered positions of a scan from a declarative
// path model.
//
// A path model (Step, Array, Grid, Raster, Compound, ...) is pure data. A
// Generator wraps a model, validates it and hands out independent, restartable
// iterators that produce Positions lazily.
//
// # Positions
//
// A Position maps axis names to values and to the index of that value within
// the axis sweep. Axes are grouped into dimensions; the dimension grouping is
// what the scan shape is reconstructed from. StepIndex is the scan-wide counter
// and starts at zero for every iteration.
//
// # Shape
//
// Iterators that know their own extent implement ScanPointIterator and report
// Size, Shape and Rank directly. For any other iterator the Generator walks the
// sequence once and infers the shape:
//
//   - rank is taken from the first position
//   - every dimension except the innermost is the last position's index + 1
//   - the innermost dimension stops at the first step where its index
//     decreases (a snake turnaround), otherwise the last index + 1
//
// The walk is logged at warn level since it doubles the iteration cost.
//
// # Regions
//
// Regions restrict which points of a model are scanned. A point is kept when
// at least one region contains it. Regions attached to a Compound apply only
// to the nested models producing their axes; the filtered models are collapsed
// into a single dimension whose index counts the accepted points.
//
// # Concurrency
//
// Iterators have no internal goroutines and must be driven by one owner at a
// time. A Generator is safe for concurrent use.
package points
