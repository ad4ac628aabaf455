// Package stats provides a compile-time-gated counter type for kernel
// instrumentation. Trimmed from biscuit's version, which also tracked
// per-vector interrupt counts and cycle-timing counters (Cycles_t,
// Rdtsc, Stats2String) for subsystems — block I/O, networking — this
// kernel doesn't implement; console.Cons_t's Writes/Bytes/Faults
// counters are the only consumer left.
package stats

import "sync/atomic"
import "unsafe"

const Stats = false

/// Counter_t is a statistical counter, a no-op when Stats is false.
type Counter_t int64

/// Inc increments the counter.
func (c *Counter_t) Inc() {
	if Stats {
		n := (*int64)(unsafe.Pointer(c))
		atomic.AddInt64(n, 1)
	}
}
