// Package bkl implements the single ticket spinlock that serializes all
// kernel-mode execution across CPUs (spec.md §5, "big kernel lock").
//
// Every user->kernel transition acquires it before touching shared kernel
// state; every kernel->user transition (and the hlt idle loop) releases it
// immediately before leaving kernel mode. Kernel code never blocks while
// holding it other than by spinning here, so it is the only synchronization
// primitive most of the kernel needs.
package bkl

import (
	"runtime"
	"sync/atomic"
)

/// Lock_t is a ticket spinlock: callers draw a ticket and spin until it is
/// served, which keeps acquisition FIFO across CPUs under contention
/// (unlike a bare test-and-set lock, which can starve a CPU indefinitely).
type Lock_t struct {
	next   uint64
	serving uint64
	holder int32 // CPUHint() of the current holder, -1 if unlocked
}

/// Big is the single global kernel lock. There is exactly one: spec.md §5
/// says one ticket/spin lock serializes *all* kernel code paths.
var Big = &Lock_t{holder: -1}

/// Lock acquires the lock, spinning (with Gosched to give other Ms on the
/// same CPU a chance, matching the teacher's cooperative-scheduling style
/// seen in tinfo/caller) until this CPU's ticket is served.
func (l *Lock_t) Lock() {
	me := runtime.CPUHint()
	ticket := atomic.AddUint64(&l.next, 1) - 1
	for atomic.LoadUint64(&l.serving) != ticket {
		runtime.Gosched()
	}
	atomic.StoreInt32(&l.holder, int32(me))
}

/// Unlock releases the lock, admitting the next waiting ticket holder.
func (l *Lock_t) Unlock() {
	atomic.StoreInt32(&l.holder, -1)
	atomic.AddUint64(&l.serving, 1)
}

/// Held reports whether the calling CPU currently holds the lock. Used by
/// assertions in trap and sched that must run with the lock held.
func (l *Lock_t) Held() bool {
	return atomic.LoadInt32(&l.holder) == int32(runtime.CPUHint())
}

/// Lockassert panics if the big lock is not held by the calling CPU. Kernel
/// code that touches shared state (the process table, page tables, frame
/// descriptors — spec.md §5) calls this at entry as a cheap invariant check.
func Lockassert() {
	if !Big.Held() {
		panic("bkl: not held")
	}
}
