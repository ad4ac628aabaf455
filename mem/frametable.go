package mem

import (
	"runtime"
	"unsafe"

	"util"
)

/// FrameTablePhys returns the physical frames backing phys.Pgs, one per
/// page, ready for the boot collaborator to wire into
/// vm.SetFrameTableFrames (spec.md §3's UPAGES window, mapped read-only
/// into every user address space by vm.Create). Translating Pgs's
/// backing memory needs runtime.Vtop, the same patched-runtime primitive
/// Dmap_init calls to pin down its own page-table pages; Alloc/Free never
/// call this — only boot wiring does.
func (phys *Physmem_t) FrameTablePhys() []Pa_t {
	base := uintptr(unsafe.Pointer(&phys.Pgs[0]))
	size := len(phys.Pgs) * int(unsafe.Sizeof(phys.Pgs[0]))
	npages := util.Roundup(size, PGSIZE) / PGSIZE
	frames := make([]Pa_t, npages)
	for i := range frames {
		va := base + uintptr(i*PGSIZE)
		pa, ok := runtime.Vtop(unsafe.Pointer(va))
		if !ok {
			panic("mem: frame descriptor table page not resident")
		}
		frames[i] = Pa_t(pa)
	}
	return frames
}
