// Package scall implements spec.md §4.8's syscall dispatch table: each
// sys_* validates its arguments in the exact order original_source's
// kern/syscall.c does, then performs the requested operation through
// proc/vm/ipc/sched's already-validated primitives.
//
// Every function here assumes the caller already holds the big kernel
// lock, same as proc and sched.
package scall

import (
	"bkl"
	"defs"
	"ipc"
	"mem"
	"mlayout"
	"proc"
	"sched"
	"vmem"
)

// Number identifies a syscall, matching the dispatch table's slot order.
type Number int

const (
	SysCputs Number = iota
	SysCgetc
	SysGetenvid
	SysEnvDestroy
	SysYield
	SysExofork
	SysEnvSetStatus
	SysEnvSetPgfaultUpcall
	SysPageAlloc
	SysPageMap
	SysPageUnmap
	SysIpcTrySend
	SysIpcRecv
)

// PutStr and GetChar are late-bound to the console layer, the same
// dependency-inversion pattern sched.Runner and trap.SetHooks use for
// operations that live below this package's abstraction.
var PutStr func(s string)
var GetChar func() int

// / SetConsole registers the console hooks sys_cputs/sys_cgetc delegate
// / to. Called once during kernel init.
func SetConsole(puts func(string), getc func() int) {
	PutStr = puts
	GetChar = getc
}

// / Cputs implements sys_cputs(s, len): validates that the caller can
// / read [uva, uva+n) before handing the bytes to the console.
func Cputs(caller *proc.Env_t, uva int, n int) defs.Err_t {
	bkl.Lockassert()
	buf := make([]uint8, n)
	if err := caller.As.User2k(buf, uva); err != 0 {
		return err
	}
	if PutStr != nil {
		PutStr(string(buf))
	}
	return 0
}

// / Cgetc implements sys_cgetc(): returns the next waiting input
// / character, or 0 if none (never blocks).
func Cgetc() int {
	bkl.Lockassert()
	if GetChar == nil {
		return 0
	}
	return GetChar()
}

// / Getenvid implements sys_getenvid(): the caller's own id.
func Getenvid(caller *proc.Env_t) proc.EnvId_t {
	bkl.Lockassert()
	return caller.Id
}

// / EnvDestroy implements sys_env_destroy(envid): destroys envid
// / (possibly the caller itself), which the caller must own or parent.
func EnvDestroy(caller *proc.Env_t, envid proc.EnvId_t) defs.Err_t {
	bkl.Lockassert()
	e, err := proc.Resolve(envid, true, caller)
	if err != 0 {
		return defs.BadEnv
	}
	proc.Destroy(e)
	return 0
}

// / Yield implements sys_yield(): deschedule the caller and run another
// / environment.
func Yield() {
	bkl.Lockassert()
	sched.Yield()
}

// / Exofork implements sys_exofork(): allocates a child whose trapframe
// / is a copy of the caller's, tweaked to make the child's syscall appear
// / to return 0, and left ENV_NOT_RUNNABLE until the caller marks it
// / runnable via sys_env_set_status.
func Exofork(caller *proc.Env_t) (proc.EnvId_t, defs.Err_t) {
	bkl.Lockassert()
	var parent proc.EnvId_t
	if caller != nil {
		parent = caller.Id
	}
	e, err := proc.Alloc(parent)
	if err != 0 {
		return 0, err
	}
	e.Status = proc.EnvNotRunnable
	if caller != nil {
		e.Tf = caller.Tf
	}
	e.Tf.Rax = 0
	return e.Id, 0
}

// / EnvSetStatus implements sys_env_set_status(envid, status): status
// / must be Runnable or NotRunnable.
func EnvSetStatus(caller *proc.Env_t, envid proc.EnvId_t, status proc.Status_t) defs.Err_t {
	bkl.Lockassert()
	if status != proc.EnvRunnable && status != proc.EnvNotRunnable {
		return defs.Invalid
	}
	e, err := proc.Resolve(envid, true, caller)
	if err != 0 {
		return defs.BadEnv
	}
	e.Status = status
	return 0
}

// / EnvSetPgfaultUpcall implements sys_env_set_pgfault_upcall(envid,
// / func): installs the user address the page-fault dispatch path
// / branches to on envid's behalf.
func EnvSetPgfaultUpcall(caller *proc.Env_t, envid proc.EnvId_t, upcall uintptr) defs.Err_t {
	bkl.Lockassert()
	e, err := proc.Resolve(envid, true, caller)
	if err != 0 {
		return defs.BadEnv
	}
	e.PgfaultUpcall = upcall
	return 0
}

// checkPerm rejects any bit outside PTE_SYSCALL, and requires at least
// PTE_U|PTE_P, matching sys_page_alloc/sys_page_map's shared validation.
func checkPerm(perm mem.Pa_t) defs.Err_t {
	if perm&^mem.PTE_SYSCALL != 0 {
		return defs.Invalid
	}
	if perm&(mem.PTE_U|mem.PTE_P) != (mem.PTE_U | mem.PTE_P) {
		return defs.Invalid
	}
	return 0
}

func pageAligned(va uintptr) bool {
	return va&uintptr(mem.PGOFFSET) == 0
}

// / PageAlloc implements sys_page_alloc(envid, va, perm): allocates a
// / fresh zeroed frame and maps it at va in envid's address space.
func PageAlloc(caller *proc.Env_t, envid proc.EnvId_t, va uintptr, perm mem.Pa_t) defs.Err_t {
	bkl.Lockassert()
	e, err := proc.Resolve(envid, true, caller)
	if err != 0 {
		return defs.BadEnv
	}
	if !pageAligned(va) || va >= mlayout.UTOP {
		return defs.Invalid
	}
	if err := checkPerm(perm); err != 0 {
		return err
	}

	frame, ok := mem.Physmem.Alloc(mem.ZeroOnAlloc)
	if !ok {
		return defs.NoMem
	}

	e.As.Lock_pmap()
	ierr := e.As.Page_insert(va, frame, perm|mem.PTE_U|mem.PTE_P)
	e.As.Unlock_pmap()
	if ierr != 0 {
		mem.Physmem.Free(frame)
		return defs.NoMem
	}
	return 0
}

// / PageMap implements sys_page_map(srcenvid, srcva, dstenvid, dstva,
// / perm): maps the frame currently at srcva in srcenvid's address space
// / at dstva in dstenvid's, refusing to grant write access to a
// / read-only source page.
func PageMap(caller *proc.Env_t, srcenvid proc.EnvId_t, srcva uintptr, dstenvid proc.EnvId_t, dstva uintptr, perm mem.Pa_t) defs.Err_t {
	bkl.Lockassert()
	srce, err := proc.Resolve(srcenvid, true, caller)
	if err != 0 {
		return defs.BadEnv
	}
	dste, err := proc.Resolve(dstenvid, true, caller)
	if err != 0 {
		return defs.BadEnv
	}
	if !pageAligned(srcva) || !pageAligned(dstva) {
		return defs.Invalid
	}
	if srcva >= mlayout.UTOP || dstva >= mlayout.UTOP {
		return defs.Invalid
	}
	if err := checkPerm(perm); err != 0 {
		return err
	}

	srce.As.Lock_pmap()
	frame, pte, ok := vmem.Lookup(srce.As.Pmap, srcva)
	if !ok {
		srce.As.Unlock_pmap()
		return defs.Invalid
	}
	if perm&mem.PTE_W != 0 && *pte&mem.PTE_W == 0 {
		srce.As.Unlock_pmap()
		return defs.Invalid
	}
	srce.As.Unlock_pmap()

	dste.As.Lock_pmap()
	ierr := dste.As.Page_insert(dstva, frame, perm)
	dste.As.Unlock_pmap()
	return ierr
}

// / PageUnmap implements sys_page_unmap(envid, va): unmaps va in
// / envid's address space, silently succeeding if nothing was mapped
// / there.
func PageUnmap(caller *proc.Env_t, envid proc.EnvId_t, va uintptr) defs.Err_t {
	bkl.Lockassert()
	e, err := proc.Resolve(envid, true, caller)
	if err != 0 {
		return defs.BadEnv
	}
	if !pageAligned(va) || va >= mlayout.UTOP {
		return defs.Invalid
	}
	e.As.Lock_pmap()
	e.As.Page_remove(va)
	e.As.Unlock_pmap()
	return 0
}

// / IpcTrySend implements sys_ipc_try_send(envid, value, srcva, perm).
func IpcTrySend(caller *proc.Env_t, envid proc.EnvId_t, value uint64, srcva uintptr, perm mem.Pa_t) defs.Err_t {
	bkl.Lockassert()
	return ipc.TrySend(caller, envid, value, srcva, perm)
}

// / IpcRecv implements sys_ipc_recv(dstva).
func IpcRecv(caller *proc.Env_t, dstva uintptr) defs.Err_t {
	bkl.Lockassert()
	return ipc.Recv(caller, dstva)
}
