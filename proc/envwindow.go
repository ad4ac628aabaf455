package proc

import (
	"runtime"
	"unsafe"

	"mem"
	"util"
)

// EnvTablePhys returns the physical frames backing the environment
// table, one per page, ready for the boot collaborator to wire into
// vm.SetEnvTableFrames (spec.md §3's UENVS window, mapped read-only into
// every user address space by vm.Create). Translating envs's backing
// memory needs runtime.Vtop, the same patched-runtime primitive
// mem/dmap.go's Dmap_init calls to pin down its own page-table pages;
// nothing in Resolve/Alloc/Destroy calls this — only boot wiring does.
func EnvTablePhys() []mem.Pa_t {
	base := uintptr(unsafe.Pointer(&envs[0]))
	size := int(unsafe.Sizeof(envs))
	npages := util.Roundup(size, mem.PGSIZE) / mem.PGSIZE
	frames := make([]mem.Pa_t, npages)
	for i := range frames {
		va := base + uintptr(i*mem.PGSIZE)
		pa, ok := runtime.Vtop(unsafe.Pointer(va))
		if !ok {
			panic("proc: environment table page not resident")
		}
		frames[i] = mem.Pa_t(pa)
	}
	return frames
}
