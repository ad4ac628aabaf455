// Package vm implements spec.md §4.3's AddrSpace: the PML4-rooted page
// table and region bookkeeping for a single process, built on vmem's
// four-level walk/insert/remove and mem's physical frame allocator.
//
// This keeps biscuit's Vm_t shape (a mutex-guarded pmap plus the
// Lock_pmap/Unlock_pmap/Lockassert_pmap pattern the rest of the kernel
// calls into around every page-table touch) but drops the file-backed and
// shared-anonymous mmap machinery the original vm/as.go assumed a
// filesystem layer would supply — disk-backed pages are out of scope here,
// so every region is anonymous, COW-capable memory.
package vm

import (
	"sync"

	"defs"
	"mem"
	"mlayout"
	"ustr"
	"util"
	"vmem"
)

// mtype_t distinguishes a region that may be faulted in from a guard
// region that never is (spec.md §4.3's stack/heap guard pages).
type mtype_t int

const (
	VANON mtype_t = iota
	VGUARD
)

// / Vminfo_t records the permissions and kind of one contiguous region of
// / an address space, keyed by virtual address range. Pgfault consults it
// / to tell a legitimate COW fault from an access to an unmapped or
// / guard address.
type Vminfo_t struct {
	Start mem.Pa_t
	End   mem.Pa_t
	Perms mem.Pa_t
	Mtype mtype_t
}

func (vmi *Vminfo_t) contains(va mem.Pa_t) bool {
	return va >= vmi.Start && va < vmi.End
}

// / Vmregion_t is the ordered set of regions making up one AddrSpace.
type Vmregion_t struct {
	regions []*Vminfo_t
}

func (vr *Vmregion_t) insert(vmi *Vminfo_t) {
	vr.regions = append(vr.regions, vmi)
}

// / Lookup returns the region containing va, if any.
func (vr *Vmregion_t) Lookup(va uintptr) (*Vminfo_t, bool) {
	a := mem.Pa_t(va)
	for _, vmi := range vr.regions {
		if vmi.contains(a) {
			return vmi, true
		}
	}
	return nil, false
}

// / Clear empties the region set, used by Destroy.
func (vr *Vmregion_t) Clear() {
	vr.regions = nil
}

// / Vm_t represents a process address space (spec.md §4.3's AddrSpace).
// / The mutex protects modifications to Vmregion and Pmap.
type Vm_t struct {
	sync.Mutex

	Vmregion Vmregion_t

	Pmap   *mem.Pmap_t
	P_pmap mem.Pa_t

	pgfltaken bool
}

// / Lock_pmap acquires the address space mutex and marks that a page
// / fault is being handled.
func (as *Vm_t) Lock_pmap() {
	as.Lock()
	as.pgfltaken = true
}

// / Unlock_pmap releases the address space mutex after page table
// / manipulation is complete.
func (as *Vm_t) Unlock_pmap() {
	as.pgfltaken = false
	as.Unlock()
}

// / Lockassert_pmap panics if the address space mutex is not held.
func (as *Vm_t) Lockassert_pmap() {
	if !as.pgfltaken {
		panic("pgfl lock must be held")
	}
}

// / Create implements spec.md §4.3's create(): it allocates a fresh PML4,
// / mirrors every kernel-global PDPT entry into it (the REDESIGN-flagged
// / generalization of JOS's env_setup_vm, which mirrored only the single
// / PDPT entry covering its hardcoded KERNBASE split — mirroring every
// / present entry here means physical RAM beyond the first mirrored
// / region is still visible to every new address space), and installs
// / the self-map.
func Create() (*Vm_t, defs.Err_t) {
	pml4frame, ok := mem.Physmem.Alloc(mem.ZeroOnAlloc)
	if !ok {
		return nil, defs.NoMem
	}
	mem.Physmem.Refup(pml4frame)
	newpml4 := mem.Pg2pmap(mem.Physmem.Dmap(pml4frame))

	kpml4 := mem.Kpmap()
	kslot := mlayout.KernHighSlot

	if kpml4[kslot]&mem.PTE_P != 0 {
		kpdptframe := kpml4[kslot] & mem.PTE_ADDR
		kpdpt := mem.Pg2pmap(mem.Physmem.Dmap(kpdptframe))

		newpdptframe, ok := mem.Physmem.Alloc(mem.ZeroOnAlloc)
		if !ok {
			mem.Physmem.Refdown(pml4frame)
			return nil, defs.NoMem
		}
		mem.Physmem.Refup(newpdptframe)
		newpdpt := mem.Pg2pmap(mem.Physmem.Dmap(newpdptframe))

		for i, e := range kpdpt {
			if e&mem.PTE_P != 0 {
				newpdpt[i] = e
			}
		}
		newpml4[kslot] = newpdptframe | mem.PTE_P | mem.PTE_W
	}

	// self-map: UVPT's own walk addresses this AddrSpace's page-table
	// pages as ordinary data.
	selfslot := mlayout.SelfMapSlot
	newpml4[selfslot] = pml4frame | mem.PTE_P | mem.PTE_U

	// spec.md §3/§6's read-only UPAGES/UENVS windows: for every virtual
	// address in the kernel-shared range above UTOP, copy the leaf PTE
	// from the boot collaborator's table frames into the new root,
	// rather than mirroring a whole PDPT entry the way the kernel-global
	// half above is shared (those two tables live in ordinary kernel
	// memory, not a dedicated PDPT of their own).
	installEnvWindows(newpml4)

	as := &Vm_t{Pmap: newpml4, P_pmap: pml4frame}
	return as, 0
}

// / Destroy implements spec.md §4.3's destroy(as): it walks only the user
// / half (below KERNBASE-equivalent mlayout.UTOP), decrementing the
// / refcount of every present leaf frame and intermediate table it finds,
// / then decrements the PML4's own refcount. Kernel-global entries
// / mirrored by Create are never touched — they were never refcounted
// / against this address space in the first place.
func (as *Vm_t) Destroy() {
	as.Lockassert_pmap()

	nuserpdpt := int(mlayout.UTOP >> mlayout.PML4Shift)
	if nuserpdpt > 512 {
		nuserpdpt = 512
	}

	pml4e := as.Pmap[0]
	if pml4e&mem.PTE_P == 0 {
		mem.Physmem.Refdown(as.P_pmap)
		as.Vmregion.Clear()
		return
	}
	pdptframe := pml4e & mem.PTE_ADDR
	pdpt := mem.Pg2pmap(mem.Physmem.Dmap(pdptframe))

	for i := 0; i < nuserpdpt; i++ {
		if pdpt[i]&mem.PTE_P == 0 {
			continue
		}
		pdframe := pdpt[i] & mem.PTE_ADDR
		pd := mem.Pg2pmap(mem.Physmem.Dmap(pdframe))
		for j := range pd {
			if pd[j]&mem.PTE_P == 0 {
				continue
			}
			ptframe := pd[j] & mem.PTE_ADDR
			pt := mem.Pg2pmap(mem.Physmem.Dmap(ptframe))
			for k := range pt {
				if pt[k]&mem.PTE_P != 0 {
					mem.Physmem.Refdown(pt[k] & mem.PTE_ADDR)
					pt[k] = 0
				}
			}
			pd[j] = 0
			mem.Physmem.Refdown(ptframe)
		}
		pdpt[i] = 0
		mem.Physmem.Refdown(pdframe)
	}
	mem.Physmem.Refdown(as.P_pmap)
	as.Vmregion.Clear()
}

// / RegionAlloc implements spec.md §4.3's region_alloc(as, va, len, perm):
// / it eagerly maps len bytes starting at va (rounded to page boundaries)
// / with fresh zeroed frames. It is used only during kernel-controlled
// / environment setup (ELF segment and initial stack mapping), where an
// / allocation failure is a configuration error, not a recoverable one —
// / like JOS's region_alloc, it panics on out-of-memory rather than
// / returning an error.
func (as *Vm_t) RegionAlloc(va uintptr, length int, perm mem.Pa_t) {
	as.Lockassert_pmap()
	start := util.Rounddown(int(va), mem.PGSIZE)
	end := util.Roundup(int(va)+length, mem.PGSIZE)

	as.Vmregion.insert(&Vminfo_t{
		Start: mem.Pa_t(start),
		End:   mem.Pa_t(end),
		Perms: perm,
		Mtype: VANON,
	})

	for a := start; a < end; a += mem.PGSIZE {
		frame, ok := mem.Physmem.Alloc(mem.ZeroOnAlloc)
		if !ok {
			panic("vm: RegionAlloc out of memory")
		}
		if err := vmem.Insert(as.Pmap, frame, uintptr(a), perm|mem.PTE_U); err != 0 {
			panic("vm: RegionAlloc insert failed")
		}
	}
}

// / AddGuard installs a guard region (spec.md §4.3): any access within it
// / always faults as EFAULT, used below the initial user stack.
func (as *Vm_t) AddGuard(va uintptr, length int) {
	as.Lockassert_pmap()
	start := util.Rounddown(int(va), mem.PGSIZE)
	end := util.Roundup(int(va)+length, mem.PGSIZE)
	as.Vmregion.insert(&Vminfo_t{
		Start: mem.Pa_t(start),
		End:   mem.Pa_t(end),
		Perms: 0,
		Mtype: VGUARD,
	})
}

// / Page_insert maps frame at va with perms, following vmem's tentative
// / refcount idiom. Used directly by ufork's duppage and by the page
// / fault handler.
func (as *Vm_t) Page_insert(va uintptr, frame mem.Pa_t, perms mem.Pa_t) defs.Err_t {
	as.Lockassert_pmap()
	return vmem.Insert(as.Pmap, frame, va, perms)
}

// / Page_remove unmaps va, if present.
func (as *Vm_t) Page_remove(va uintptr) {
	as.Lockassert_pmap()
	vmem.Remove(as.Pmap, va)
}

// / Pgfault resolves a page fault at fa with hardware error bits ecode
// / (spec.md §4.6's page-fault classification): guard and permission
// / violations return EFAULT; a legitimate COW write either claims the
// / frame outright (last owner) or copies it, matching lib/fork.c's
// / pgfault() counterpart on the user side.
func (as *Vm_t) Pgfault(fa, ecode uintptr) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()

	vmi, ok := as.Vmregion.Lookup(fa)
	if !ok {
		return defs.EFAULT
	}
	iswrite := ecode&uintptr(mem.PTE_W) != 0
	writeok := vmi.Perms&mem.PTE_W != 0
	if vmi.Mtype == VGUARD || (iswrite && !writeok) {
		return defs.EFAULT
	}
	if !iswrite {
		// read faults on a present anonymous region never happen (the
		// page was installed at RegionAlloc time); treat as an error.
		return defs.EFAULT
	}

	va := util.Rounddown(int(fa), mem.PGSIZE)
	frame, pte, ok := vmem.Lookup(as.Pmap, uintptr(va))
	if !ok {
		return defs.EFAULT
	}
	if *pte&mem.PTE_COW == 0 {
		return defs.EFAULT
	}

	if mem.Physmem.Refcnt(frame) == 1 {
		*pte = frame | (vmi.Perms &^ mem.PTE_COW) | mem.PTE_P | mem.PTE_W
		vmem.Invlpg(uintptr(va))
		return 0
	}

	newframe, ok := mem.Physmem.Alloc(0)
	if !ok {
		return defs.NoMem
	}
	dst := mem.Physmem.Dmap(newframe)
	src := mem.Physmem.Dmap(frame)
	*dst = *src

	perms := (vmi.Perms &^ mem.PTE_COW) | mem.PTE_P | mem.PTE_W
	return vmem.Insert(as.Pmap, newframe, uintptr(va), perms)
}

// / Userdmap8_inner returns a slice mapping of the user address at va,
// / faulting it in first if necessary. When k2u is true the memory is
// / being prepared for a kernel write.
func (as *Vm_t) Userdmap8_inner(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lockassert_pmap()
	voff := va & int(mem.PGOFFSET)
	uva := uintptr(va)

	frame, pte, ok := vmem.Lookup(as.Pmap, uva)
	if !ok {
		ecode := uintptr(mem.PTE_U)
		if k2u {
			ecode |= uintptr(mem.PTE_W)
		}
		if err := as.pgfaultLocked(uva, ecode); err != 0 {
			return nil, err
		}
		frame, pte, ok = vmem.Lookup(as.Pmap, uva)
		if !ok {
			return nil, defs.EFAULT
		}
	} else if k2u && *pte&mem.PTE_COW != 0 {
		if err := as.pgfaultLocked(uva, uintptr(mem.PTE_U)|uintptr(mem.PTE_W)); err != 0 {
			return nil, err
		}
		frame, _, ok = vmem.Lookup(as.Pmap, uva)
		if !ok {
			return nil, defs.EFAULT
		}
	}

	pg := mem.Physmem.Dmap(frame)
	bpg := mem.Pg2bytes(pg)
	return bpg[voff:], 0
}

// pgfaultLocked calls the fault path from a context that already holds
// as's mutex (Pgfault itself takes the lock, so it must be dropped first).
func (as *Vm_t) pgfaultLocked(fa, ecode uintptr) defs.Err_t {
	as.Unlock_pmap()
	err := as.Pgfault(fa, ecode)
	as.Lock_pmap()
	return err
}

func (as *Vm_t) _userdmap8(va int, k2u bool) ([]uint8, defs.Err_t) {
	as.Lock_pmap()
	ret, err := as.Userdmap8_inner(va, k2u)
	as.Unlock_pmap()
	return ret, err
}

// / Userdmap8r maps the user address for reading and returns the
// / resulting slice or an error.
func (as *Vm_t) Userdmap8r(va int) ([]uint8, defs.Err_t) {
	return as._userdmap8(va, false)
}

// / Userreadn reads n bytes from the user address va.
func (as *Vm_t) Userreadn(va, n int) (int, defs.Err_t) {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	if n > 8 {
		panic("large n")
	}
	var ret int
	var src []uint8
	var err defs.Err_t
	for i := 0; i < n; i += len(src) {
		src, err = as.Userdmap8_inner(va+i, false)
		if err != 0 {
			return 0, err
		}
		l := n - i
		if len(src) < l {
			l = len(src)
		}
		v := util.Readn(src, l, 0)
		ret |= v << (8 * uint(i))
	}
	return ret, 0
}

// / Userwriten writes n bytes of val to the user address va.
func (as *Vm_t) Userwriten(va, n, val int) defs.Err_t {
	if n > 8 {
		panic("large n")
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	var dst []uint8
	for i := 0; i < n; i += len(dst) {
		v := val >> (8 * uint(i))
		t, err := as.Userdmap8_inner(va+i, true)
		dst = t
		if err != 0 {
			return err
		}
		util.Writen(dst, n-i, 0, v)
	}
	return 0
}

// / Userstr copies a NUL-terminated string from user space, up to lenmax
// / bytes.
func (as *Vm_t) Userstr(uva int, lenmax int) (ustr.Ustr, defs.Err_t) {
	if lenmax < 0 {
		return nil, 0
	}
	as.Lock_pmap()
	defer as.Unlock_pmap()
	i := 0
	s := ustr.MkUstr()
	for {
		str, err := as.Userdmap8_inner(uva+i, false)
		if err != 0 {
			return s, err
		}
		for j, c := range str {
			if c == 0 {
				s = append(s, str[:j]...)
				return s, 0
			}
		}
		s = append(s, str...)
		i += len(str)
		if len(s) >= lenmax {
			return nil, defs.Invalid
		}
	}
}

// / K2user copies src into the user address space starting at uva.
func (as *Vm_t) K2user(src []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	cnt := 0
	for cnt != len(src) {
		dst, err := as.Userdmap8_inner(uva+cnt, true)
		if err != 0 {
			return err
		}
		n := copy(dst, src[cnt:])
		if n == 0 {
			return defs.EFAULT
		}
		cnt += n
	}
	return 0
}

// / User2k copies len(dst) bytes from the user address uva into dst.
func (as *Vm_t) User2k(dst []uint8, uva int) defs.Err_t {
	as.Lock_pmap()
	defer as.Unlock_pmap()
	cnt := 0
	for len(dst) != 0 {
		src, err := as.Userdmap8_inner(uva+cnt, false)
		if err != 0 {
			return err
		}
		did := copy(dst, src)
		dst = dst[did:]
		cnt += did
	}
	return 0
}

// / Mkuserbuf allocates and initializes a Userbuf_t referencing user
// / memory starting at userva.
func (as *Vm_t) Mkuserbuf(userva, len int) *Userbuf_t {
	ret := &Userbuf_t{}
	ret.ub_init(as, userva, len)
	return ret
}
