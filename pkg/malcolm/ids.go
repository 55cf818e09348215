package malcolm

import "sync/atomic"

// IDCounter hands out increasing message ids, starting at 1. It is safe
// for concurrent use.
type IDCounter struct {
	last atomic.Int64
}

// DefaultIDs is the sequence shared by connectors that are not given one.
var DefaultIDs = &IDCounter{}

// Next returns the next id.
func (c *IDCounter) Next() int64 {
	return c.last.Add(1)
}

// Last returns the most recently issued id, or 0.
func (c *IDCounter) Last() int64 {
	return c.last.Load()
}
