package vm

import (
	"mem"
	"mlayout"
	"vmem"
)

// EnvTableFrames and FrameTableFrames are late-bound to the physical
// frames backing, respectively, the environment table and the per-frame
// descriptor table — spec.md §3's two read-only windows every user
// address space gets mapped at UENVS/UPAGES (mlayout), the same data
// JOS's env_setup_vm installs (original_source/kern/env.c:229-245).
//
// Both default to nil, under which Create skips the window entirely.
// Translating proc.envs/mem.Physmem.Pgs to physical frames needs
// runtime.Vtop, available only under the kernel's patched runtime (the
// same boot collaborator AckTimer/DestroyDiag/Runner are left to, per
// trap.SetHooks and sched.SetRunner); nothing in this tree ever wires
// them for the same reason nothing in this tree ever calls those either.
var (
	EnvTableFrames   func() []mem.Pa_t
	FrameTableFrames func() []mem.Pa_t
)

/// SetEnvTableFrames installs the boot collaborator's source of physical
/// frames backing the environment table.
func SetEnvTableFrames(f func() []mem.Pa_t) { EnvTableFrames = f }

/// SetFrameTableFrames installs the boot collaborator's source of
/// physical frames backing the frame descriptor table.
func SetFrameTableFrames(f func() []mem.Pa_t) { FrameTableFrames = f }

// mapWindow installs frames()'s pages read-only-to-user, one page per
// frame starting at base, in root. A nil frames source is a no-op.
func mapWindow(root *mem.Pmap_t, base uintptr, frames func() []mem.Pa_t) {
	if frames == nil {
		return
	}
	for i, frame := range frames() {
		va := base + uintptr(i)*uintptr(mem.PGSIZE)
		if err := vmem.Insert(root, frame, va, mem.PTE_U); err != 0 {
			panic("vm: failed to install read-only table window")
		}
	}
}

func installEnvWindows(root *mem.Pmap_t) {
	mapWindow(root, mlayout.UPAGES, FrameTableFrames)
	mapWindow(root, mlayout.UENVS, EnvTableFrames)
}
