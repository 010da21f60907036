package batcher

import "sync/atomic"

// FallbackCounter tracks the number of events believed to be sitting in the
// fallback store. It is a cheap signal: the reconciler only touches the
// fallback database when the counter is positive, and the counter is
// re-synchronised from an exact count after every reconciliation run.
type FallbackCounter struct {
	n atomic.Int64
}

func (c *FallbackCounter) Add(delta int64) {
	c.n.Add(delta)
}

func (c *FallbackCounter) Set(v int64) {
	c.n.Store(v)
}

func (c *FallbackCounter) Get() int64 {
	return c.n.Load()
}

// Clamp resets a negative counter to zero. Negative values can appear when
// the counter drifts below the true fallback row count.
func (c *FallbackCounter) Clamp() {
	for {
		v := c.n.Load()
		if v >= 0 {
			return
		}
		if c.n.CompareAndSwap(v, 0) {
			return
		}
	}
}
