package mem

import "oommsg"

// AllocFlag is the bitset accepted by Alloc (spec.md §4.1). The only
// defined bit is ZeroOnAlloc; a frame handed out without it is returned
// with whatever bytes were left on it by its previous owner (callers that
// need a fresh zero page, like AddrSpace region setup, always pass it).
type AllocFlag uint

const (
	/// ZeroOnAlloc requests a frame whose contents are guaranteed zero.
	/// Alloc zeroes the frame as it hands it out (Refpg_new); frames on
	/// the free list are not kept zeroed.
	ZeroOnAlloc AllocFlag = 1 << 0
)

/// Alloc implements spec.md §4.1's `alloc(flags) -> frame | nil`. The
/// returned frame has refcount zero; the caller must Refup it once it
/// installs a mapping. Alloc itself never touches the refcount, matching
/// VMem.Insert's tentative-increment idiom (spec.md §4.2 step 2).
func (phys *Physmem_t) Alloc(flags AllocFlag) (Pa_t, bool) {
	var pg *Pg_t
	var p_pg Pa_t
	var ok bool
	if flags&ZeroOnAlloc != 0 {
		pg, p_pg, ok = phys.Refpg_new()
	} else {
		pg, p_pg, ok = phys.Refpg_new_nozero()
	}
	_ = pg
	if !ok {
		notifyOOM()
		return 0, false
	}
	return p_pg, true
}

// / notifyOOM posts a best-effort exhaustion notice on oommsg.OomCh. There
// / is no backing-store reclaim path in this kernel (spec.md's Non-goals
// / exclude paging), so nothing downstream ever sends on a Resume channel
// / to unblock a retry — this is purely a diagnostic signal for whatever
// / monitor goroutine cares to listen, never required for Alloc's own
// / correctness. The send is non-blocking: with no listener attached,
// / an allocation failure must still return NoMem immediately rather than
// / stall the caller (which, per spec.md §5, may be holding the big
// / kernel lock).
func notifyOOM() {
	select {
	case oommsg.OomCh <- oommsg.Oommsg_t{Need: PGSIZE}:
	default:
	}
}

/// Free implements spec.md §4.1's `free(frame)`. Freeing a frame with a
/// non-zero reference count panics rather than corrupt the list, per the
/// same "fatal vs recoverable" split as the rest of the kernel
/// (spec.md §7). Free does not check whether the frame is already on a
/// free list; a frame freed twice is inserted twice.
func (phys *Physmem_t) Free(p_pg Pa_t) {
	if phys.Refcnt(p_pg) != 0 {
		panic("mem: Free of frame with non-zero refcount")
	}
	if added := phys._pcpu_put(_pg2pgn(p_pg) - phys.startn); added {
		return
	}
	phys._phys_insert(&phys.freei, _pg2pgn(p_pg)-phys.startn, phys, &phys.freelen)
}
