// Package oommsg carries the out-of-memory notification mem.Physmem_t.Alloc
// posts when the free list is fully exhausted.
package oommsg

/// OomCh is notified when the system runs out of memory.
var OomCh chan Oommsg_t = make(chan Oommsg_t)

/// Oommsg_t is sent on OomCh when memory is exhausted.
type Oommsg_t struct {
	Need int
}
