// Package vmem implements spec.md §4.2: walking, inserting into, removing
// from, and looking up entries in a four-level x86-64 page table, plus the
// per-frame reference counting that AddrSpace (package vm) and EnvTable
// (package proc) build on.
//
// The four-level decomposition and the "descend, allocating zeroed
// intermediate tables on demand" shape follow mem/dmap.go's pgbits/mkpg
// helpers, generalized from dmap.go's single recursive self-map use to an
// arbitrary root pmap — the same generalization JOS's pml4e_walk/pdpe_walk
// /pgdir_walk chain performs over three separate named functions.
package vmem

import (
	"runtime"

	"defs"
	"mem"
)

// shl returns the bit position of 9-bit index level c (0=PT .. 3=PML4),
// matching mem/dmap.go's unexported shl.
func shl(c uint) uint { return 12 + 9*c }

func idx(va uintptr, c uint) int {
	return int((va >> shl(c)) & 0x1ff)
}

// descend returns the next-level table pointed to by entry, allocating and
// zeroing a fresh table if absent and create is true.
func descend(entry *mem.Pa_t, create bool) *mem.Pmap_t {
	if *entry&mem.PTE_P == 0 {
		if !create {
			return nil
		}
		frame, ok := mem.Physmem.Alloc(mem.ZeroOnAlloc)
		if !ok {
			return nil
		}
		mem.Physmem.Refup(frame)
		*entry = frame | mem.PTE_P | mem.PTE_W | mem.PTE_U
	}
	pa := *entry & mem.PTE_ADDR
	pg := mem.Physmem.Dmap(pa)
	return mem.Pg2pmap(pg)
}

/// Walk descends the four page-table levels rooted at root to find the
/// leaf PTE addressing va. With create set, absent intermediate tables are
/// allocated (zero-filled, refcount incremented) along the way; without
/// it, an absent intermediate table makes Walk return (nil, false).
func Walk(root *mem.Pmap_t, va uintptr, create bool) (*mem.Pa_t, bool) {
	pml4e := &root[idx(va, 3)]
	pdpt := descend(pml4e, create)
	if pdpt == nil {
		return nil, false
	}
	pdpte := &pdpt[idx(va, 2)]
	pd := descend(pdpte, create)
	if pd == nil {
		return nil, false
	}
	pde := &pd[idx(va, 1)]
	pt := descend(pde, create)
	if pt == nil {
		return nil, false
	}
	return &pt[idx(va, 0)], true
}

/// Insert implements spec.md §4.2's insert: it maps frame at va in root
/// with perm, following the tentative-increment-then-remove idiom so that
/// re-inserting the same frame at the same VA leaves its refcount
/// unchanged (spec.md §8's law, and the tie-break in §4.2).
func Insert(root *mem.Pmap_t, frame mem.Pa_t, va uintptr, perm mem.Pa_t) defs.Err_t {
	pte, ok := Walk(root, va, true)
	if !ok {
		return defs.NoMem
	}
	mem.Physmem.Refup(frame)
	if *pte&mem.PTE_P != 0 {
		old := *pte & mem.PTE_ADDR
		mem.Physmem.Refdown(old)
	}
	*pte = frame | (perm &^ mem.PTE_P) | mem.PTE_P
	Invlpg(va)
	return 0
}

/// Remove implements spec.md §4.2's remove: unmapping an absent VA is a
/// no-op; unmapping a present one decrements the leaf frame's refcount
/// (freeing it at zero) and invalidates the TLB for va.
func Remove(root *mem.Pmap_t, va uintptr) {
	pte, ok := Walk(root, va, false)
	if !ok || *pte&mem.PTE_P == 0 {
		return
	}
	old := *pte & mem.PTE_ADDR
	mem.Physmem.Refdown(old)
	*pte = 0
	Invlpg(va)
}

/// Lookup implements spec.md §4.2's lookup: it returns the mapped frame
/// and a pointer to its PTE without modifying either, or ok=false if va is
/// unmapped.
func Lookup(root *mem.Pmap_t, va uintptr) (frame mem.Pa_t, pte *mem.Pa_t, ok bool) {
	p, found := Walk(root, va, false)
	if !found || *p&mem.PTE_P == 0 {
		return 0, nil, false
	}
	return *p & mem.PTE_ADDR, p, true
}

/// Invlpg invalidates the TLB entry for va on the current CPU only
/// (spec.md §5's documented single-CPU limitation — a multi-CPU build
/// would need to broadcast this via IPI instead). Provided by the same
/// patched runtime the teacher's mem package already calls into for
/// Cpuid/Rcr4/Vtop.
func Invlpg(va uintptr) {
	runtime.Invlpg(va)
}
