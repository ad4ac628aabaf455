// Package mlayout names the fixed virtual-memory layout spec.md §6 assumes:
// the boundary between the kernel-global half of an address space (shared,
// unmapped, byte-for-byte identical across every AddrSpace) and the user
// half (private to each process), plus the handful of reserved slots within
// the kernel half (the recursive self-map, the direct map).
//
// biscuit addresses its top-level page table by 9-bit PML4 slot rather than
// by a single KERNBASE split point the way JOS does; mem/dmap.go already
// names the kernel's reserved slots (VREC, VDIRECT, VEND, VUSER). mlayout
// keeps that slot-indexed shape and adds the slots and derived virtual
// addresses spec.md's AddrSpace/Loader/IPC operations need: where the user
// half starts, where the kernel-global half ends, and where the self-map
// lives.
package mlayout

import "mem"

const (
	/// PML4Shift is the bit position of the top-level (PML4) 9-bit index,
	/// shared with mem/dmap.go's unexported shl(3).
	PML4Shift = 39

	/// KernHighSlot is the last PML4 slot reserved for the kernel-global
	/// half (mem.VEND): every address space maps identical entries at and
	/// below this slot, none of them refcounted per-process.
	KernHighSlot = mem.VEND

	/// UserLowSlot is the first PML4 slot available to a process's private
	/// mappings (mem.VUSER).
	UserLowSlot = mem.VUSER

	/// UserHighSlot bounds the user half from above, leaving the top of
	/// the 48-bit canonical range unused.
	UserHighSlot = 0x100

	/// SelfMapSlot is the PML4 slot an AddrSpace points back at itself,
	/// letting the kernel address any of the process's own page-table
	/// pages as data (mem.VREC already plays this role for the kernel's
	/// own pmap; every AddrSpace gets the identical slot number in its
	/// own PML4, pointed at its own frame).
	SelfMapSlot = mem.VREC

	/// UpagesSlot and UenvsSlot reserve the two PML4 slots directly above
	/// the kernel-mirrored half for spec.md §3's read-only windows: the
	/// physical-frame descriptor table (UPAGES) and the environment table
	/// (UENVS), mirroring JOS's UPAGES/UENVS (original_source/kern/env.c).
	/// Both sit inside the slot range already reserved but unused between
	/// KernHighSlot and UserLowSlot (mem.VEND..mem.VUSER), so carving them
	/// out needs no change to the existing kernel-mirror or user-space
	/// boundaries.
	UpagesSlot = KernHighSlot + 1
	UenvsSlot  = KernHighSlot + 2
)

const (
	/// UTOP is the first address above the kernel-mirrored slot
	/// (KernHighSlot). The syscall and IPC paths accept a user VA only
	/// below it; region_alloc does not check it.
	UTOP = uintptr(KernHighSlot+1) << PML4Shift

	/// USERMIN is the lowest address region_alloc may place a user
	/// mapping at.
	USERMIN = uintptr(UserLowSlot) << PML4Shift

	/// UTOPUSER bounds the user half from above.
	UTOPUSER = uintptr(UserHighSlot) << PML4Shift

	/// UVPT is the virtual address of an AddrSpace's self-map: UVPT's own
	/// page-table levels address the AddrSpace's page-table pages as
	/// ordinary data (spec.md §4.3's "install self-map entry").
	UVPT = uintptr(SelfMapSlot) << PML4Shift

	/// UTEXT is the fixed load address loader installs an ELF image's
	/// first segment at (spec.md §4.5), four 2MiB pages up from the start
	/// of the user half to leave a null-pointer guard region below it.
	UTEXT = USERMIN + 4*(1<<21)

	/// USTACKTOP is the top of a process's normal, growable user stack —
	/// two pages below UXSTACKTOP: the one-page exception stack, then a
	/// one-page unmapped gap guarding against the exception stack
	/// overrunning into it (spec.md §6).
	USTACKTOP = UTOP - 2*uintptr(mem.PGSIZE)

	/// UXSTACKTOP is the top of the one-page user exception stack the
	/// page-fault upcall runs on (spec.md §4.6/§4.10); equal to UTOP.
	UXSTACKTOP = UTOP

	/// UPAGES is the base of the read-only window AddrSpace.Create maps
	/// the physical-frame descriptor table at (spec.md §3/§6); it starts
	/// exactly at UTOP, the first address above the kernel-mirrored half.
	UPAGES = uintptr(UpagesSlot) << PML4Shift

	/// UENVS is the base of the read-only window AddrSpace.Create maps
	/// the environment table at, directly above UPAGES.
	UENVS = uintptr(UenvsSlot) << PML4Shift
)
