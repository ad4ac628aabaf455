// Package ufork implements spec.md §4.10's UserFork: copy-on-write
// fork built out of scall's syscall surface (Upcall alone copies
// through the direct map instead), grounded on JOS lib/fork.c's
// pgfault/duppage/fork.
//
// This kernel has no separate ring-3 binary to host fork's pgfault
// upcall in, so the upcall is modeled as an ordinary Go function,
// Upcall. Nothing in this tree registers it with trap: trap's
// page-fault path only pushes a UTrapframe_t and redirects the saved
// rip to the environment's PgfaultUpcall address, and the tests call
// Upcall directly.
package ufork

import (
	"bkl"
	"defs"
	"mem"
	"mlayout"
	"proc"
	"scall"
	"vmem"
)

// / Upcall implements lib/fork.c's pgfault(), for a write that lands on
// / a CoW page. It asserts the fault was a write to a page still marked
// / CoW (a fault that isn't is a bug in the caller, so it panics exactly
// / like the original), then claims a private writable copy: a fresh
// / frame holding a copy of the page, mapped at the faulting page with
// / User|Present|Writable, which drops this side's reference to the
// / shared frame.
// /
// / fork.c does this with three syscalls through a scratch VA (PFTEMP),
// / because user code has no other way to touch physical memory
// / directly. A page-fault upcall in this kernel runs with the same
// / privilege as the fault handler that invoked it, so it copies through
// / the direct map and installs the copy with Page_insert instead.
func Upcall(e *proc.Env_t, fa uintptr, ecode uint64) {
	bkl.Lockassert()
	if ecode&uint64(mem.PTE_W) == 0 {
		panic("ufork: fault was not a write")
	}

	va := fa &^ uintptr(mem.PGOFFSET)
	e.As.Lock_pmap()
	defer e.As.Unlock_pmap()
	frame, pte, ok := vmem.Lookup(e.As.Pmap, va)
	if !ok || *pte&mem.PTE_COW == 0 {
		panic("ufork: page is not marked copy-on-write")
	}

	newframe, ok := mem.Physmem.Alloc(0)
	if !ok {
		panic("ufork: failed to claim a private copy")
	}
	*mem.Physmem.Dmap(newframe) = *mem.Physmem.Dmap(frame)
	if err := e.As.Page_insert(va, newframe, mem.PTE_P|mem.PTE_U|mem.PTE_W); err != 0 {
		panic("ufork: failed to claim a private copy")
	}
}

// duppage implements lib/fork.c's duppage(): if the parent's mapping
// at va is Writable or already CoW, both the child's and the parent's
// own mapping become CoW (the re-map on the parent's side is what
// makes its own next write fault too); otherwise the mapping is
// shared read-only, unmodified.
func duppage(parent *proc.Env_t, child proc.EnvId_t, va uintptr, pte mem.Pa_t) defs.Err_t {
	if pte&mem.PTE_W != 0 || pte&mem.PTE_COW != 0 {
		perm := mem.PTE_P | mem.PTE_U | mem.PTE_COW
		if err := scall.PageMap(parent, parent.Id, va, child, va, perm); err != 0 {
			return err
		}
		return scall.PageMap(parent, parent.Id, va, parent.Id, va, perm)
	}
	perm := pte & mem.PTE_SYSCALL &^ mem.PTE_W
	return scall.PageMap(parent, parent.Id, va, child, va, perm|mem.PTE_P|mem.PTE_U)
}

// / Fork implements lib/fork.c's fork(): creates a child sharing every
// / present user-half page of the caller's address space copy-on-write
// / (except the user exception stack, which the child gets its own
// / fresh page for), gives the child the parent's page-fault upcall
// / address, and marks the
// / child runnable. Returns the child's id to the caller — there is no
// / separate "returns 0 to the child" branch the way a real fork()
// / has, since the child only starts running once the scheduler
// / dispatches it with its own, independently saved trapframe.
func Fork(parent *proc.Env_t) (proc.EnvId_t, defs.Err_t) {
	bkl.Lockassert()

	childId, err := scall.Exofork(parent)
	if err != 0 {
		return 0, err
	}
	child, err := proc.Resolve(childId, false, parent)
	if err != 0 {
		return 0, err
	}

	pml4 := parent.As.Pmap
	for i := mlayout.UserLowSlot; i < mlayout.UserHighSlot; i++ {
		walkAndDup(parent, childId, pml4, uintptr(i)<<mlayout.PML4Shift)
	}

	if err := scall.PageAlloc(parent, childId, mlayout.UXSTACKTOP-uintptr(mem.PGSIZE), mem.PTE_P|mem.PTE_U|mem.PTE_W); err != 0 {
		return 0, err
	}
	if err := scall.EnvSetPgfaultUpcall(parent, childId, parent.PgfaultUpcall); err != 0 {
		return 0, err
	}
	if err := scall.EnvSetStatus(parent, childId, proc.EnvRunnable); err != 0 {
		return 0, err
	}
	return childId, 0
}

// walkAndDup scans one PML4 slot's worth of the four-level page table
// for present user-half leaf mappings and duppage's each, skipping the
// user exception stack page (fork.c's UXSTACKTOP-PGSIZE special case).
// The caller must not hold the pmap's lock: duppage's scall.PageMap
// calls take it themselves.
func walkAndDup(parent *proc.Env_t, child proc.EnvId_t, pml4 *mem.Pmap_t, slotBase uintptr) {
	pml4e := pml4[slotBase>>mlayout.PML4Shift]
	if pml4e&mem.PTE_P == 0 {
		return
	}
	pdpt := mem.Pg2pmap(mem.Physmem.Dmap(pml4e & mem.PTE_ADDR))
	for i, pdpte := range pdpt {
		if pdpte&mem.PTE_P == 0 {
			continue
		}
		pd := mem.Pg2pmap(mem.Physmem.Dmap(pdpte & mem.PTE_ADDR))
		for j, pde := range pd {
			if pde&mem.PTE_P == 0 {
				continue
			}
			pt := mem.Pg2pmap(mem.Physmem.Dmap(pde & mem.PTE_ADDR))
			for k, pte := range pt {
				if pte&mem.PTE_P == 0 {
					continue
				}
				va := slotBase | uintptr(i)<<30 | uintptr(j)<<21 | uintptr(k)<<12
				if va >= mlayout.UTOP {
					return
				}
				if va >= mlayout.UXSTACKTOP-uintptr(mem.PGSIZE) && va < mlayout.UXSTACKTOP {
					continue
				}
				duppage(parent, child, va, pte)
			}
		}
	}
}
