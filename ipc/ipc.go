// Package ipc implements spec.md §4.9's synchronous rendezvous between two
// environments: ipc_recv blocks the caller waiting for a value (and
// optionally a page), and ipc_try_send delivers to a target already
// blocked that way. Grounded on original_source/kern/syscall.c's
// sys_ipc_try_send/sys_ipc_recv.
package ipc

import (
	"bkl"
	"defs"
	"mem"
	"mlayout"
	"proc"
	"sched"
	"vmem"
)

// / TrySend implements spec.md §4.9's ipc_try_send(to, value, srcva, perm):
// / it delivers value (and, if srcva is below UTOP, a duplicate mapping of
// / the page currently at srcva in the caller's address space) to the
// / target environment, only if that environment is currently blocked in
// / Recv. perm == 0 on the receiving side always means no page was
// / transferred, whether because the sender didn't offer one or the
// / receiver wasn't asking for one — spec.md's resolved Open Question on
// / the ambiguous zero-perm case.
func TrySend(caller *proc.Env_t, to proc.EnvId_t, value uint64, srcva uintptr, perm mem.Pa_t) defs.Err_t {
	bkl.Lockassert()

	e, err := proc.Resolve(to, false, caller)
	if err != 0 {
		return defs.BadEnv
	}
	if !e.IpcRecving {
		return defs.IpcNotRecv
	}

	var xferperm mem.Pa_t
	if srcva < mlayout.UTOP {
		if srcva&uintptr(mem.PGOFFSET) != 0 {
			return defs.Invalid
		}
		if perm&(mem.PTE_U|mem.PTE_P) != (mem.PTE_U | mem.PTE_P) {
			return defs.Invalid
		}
		if perm&^mem.PTE_SYSCALL != 0 {
			return defs.Invalid
		}

		caller.As.Lock_pmap()
		frame, pte, ok := vmem.Lookup(caller.As.Pmap, srcva)
		caller.As.Unlock_pmap()
		if !ok {
			return defs.Invalid
		}
		if perm&mem.PTE_W != 0 && *pte&mem.PTE_W == 0 {
			return defs.Invalid
		}

		if e.IpcDstva < mlayout.UTOP {
			e.As.Lock_pmap()
			ierr := e.As.Page_insert(e.IpcDstva, frame, perm)
			e.As.Unlock_pmap()
			if ierr != 0 {
				return defs.NoMem
			}
			xferperm = perm
		}
	}

	e.IpcRecving = false
	e.IpcFrom = caller.Id
	e.IpcValue = value
	e.IpcPerm = uint64(xferperm)
	e.Tf.Rax = 0
	e.Status = proc.EnvRunnable
	return 0
}

// / Recv implements spec.md §4.9's ipc_recv(dstva): records that the
// / caller is willing to receive a page at dstva (if dstva < UTOP),
// / blocks it with its saved rax zeroed, and yields the CPU. A validation
// / error returns at once; otherwise Recv returns 0 once Yield returns.
// / The matching TrySend stores the delivered value in IpcValue (with
// / the sender in IpcFrom and the granted permission in IpcPerm) and
// / leaves the saved rax at 0.
func Recv(caller *proc.Env_t, dstva uintptr) defs.Err_t {
	bkl.Lockassert()

	if dstva < mlayout.UTOP {
		if dstva&uintptr(mem.PGOFFSET) != 0 {
			return defs.Invalid
		}
		caller.IpcDstva = dstva
	} else {
		caller.IpcDstva = mlayout.UTOP
	}

	caller.IpcRecving = true
	caller.Status = proc.EnvNotRunnable
	caller.Tf.Rax = 0
	sched.Yield()
	return 0
}
