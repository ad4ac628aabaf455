// Package trap implements spec.md §4.6's Trap: the dispatch path every
// user->kernel transition enters through. It classifies the incoming
// trap number, resolves page faults by either forwarding to the
// process's installed upcall or destroying it, dispatches syscalls to
// scall, yields on a timer tick, and destroys the process for anything
// else arriving from user mode.
//
// Vector numbers and the IDT/TSS setup that routes hardware interrupts
// here belong to the boot collaborator (spec.md §1's out-of-scope list);
// this package starts from an already-decoded trap number.
package trap

import (
	"bkl"
	"defs"
	"mem"
	"mlayout"
	"proc"
	"scall"
	"sched"
)

// Vector numbers dispatch switches on, matching the x86-64 IDT layout
// spec.md §4.6 assumes.
const (
	PageFault = 14
	Syscall   = 48
	Timer     = 32
)

// AckTimer is late-bound to the LAPIC collaborator's end-of-interrupt
// write — a hardware operation outside this package's abstraction,
// following the same pattern as sched.Runner.
var AckTimer func()

// DestroyDiag is late-bound to the console collaborator, printing the
// diagnostic spec.md §4.6 requires before destroying a process for an
// unhandled trap from user mode.
var DestroyDiag func(e *proc.Env_t, trapno uint64)

func SetHooks(ackTimer func(), destroyDiag func(e *proc.Env_t, trapno uint64)) {
	AckTimer = ackTimer
	DestroyDiag = destroyDiag
}

// kernelMode reports whether tf's saved CS names ring 0 — the low two
// bits of a segment selector are its requested privilege level.
func kernelMode(tf *proc.Trapframe_t) bool {
	return tf.Cs&3 == 0
}

// / Dispatch implements spec.md §4.6's trap entry: copies tf into e's
// / saved state, reaps e first if it is already Dying, then dispatches
// / by trap number. faultAddr is CR2's value at entry, meaningful only
// / for a page fault (tf.TrapNo == PageFault); the entry stub reads it
// / straight out of the control register, which isn't part of the
// / pushed trapframe on this architecture. The big kernel lock must
// / already be held (acquired by the assembly entry stub on the
// / user->kernel transition); Dispatch never releases it itself except
// / via the sched.Yield/sched.Halt paths it calls into.
func Dispatch(e *proc.Env_t, tf proc.Trapframe_t, faultAddr uintptr) {
	bkl.Lockassert()
	e.Tf = tf

	if e.Status == proc.EnvDying {
		proc.ReapDying(e)
		sched.Yield()
		return
	}

	switch tf.TrapNo {
	case PageFault:
		pageFault(e, tf, faultAddr)
	case Syscall:
		dispatchSyscall(e)
	case Timer:
		if AckTimer != nil {
			AckTimer()
		}
		sched.Yield()
	default:
		if !kernelMode(&tf) {
			disassembleFault(e, uintptr(tf.Rip))
		}
		if DestroyDiag != nil {
			DestroyDiag(e, tf.TrapNo)
		}
		proc.Destroy(e)
		sched.Yield()
	}
}

// / UTrapframe_t is the record pushed onto a process's user exception
// / stack before control transfers to its page-fault upcall (spec.md
// / §4.6): the faulting address and hardware error code, followed by
// / the interrupted register state.
type UTrapframe_t struct {
	FaultVa uintptr
	ErrCode uint64
	Regs    proc.Trapframe_t
}

const utrapframeSize = int(8 + 8 + 8*22) // FaultVa+ErrCode+22 Trapframe_t fields

// pageFault implements spec.md §4.6's page-fault case: a fault from
// kernel mode is a fatal bug (panic); a fault from user mode with an
// installed upcall and a sane faulting stack gets a pushed
// UTrapframe_t and redirected rip; otherwise the process is destroyed.
func pageFault(e *proc.Env_t, tf proc.Trapframe_t, faultAddr uintptr) {
	if kernelMode(&tf) {
		panic("page fault in kernel mode")
	}

	if e.PgfaultUpcall == 0 {
		proc.Destroy(e)
		sched.Yield()
		return
	}

	onExceptionStack := uintptr(tf.Rsp) >= mlayout.UXSTACKTOP-uintptr(mem.PGSIZE) && uintptr(tf.Rsp) < mlayout.UXSTACKTOP
	var stacktop uintptr
	if onExceptionStack {
		// Re-entrant fault: leave a one-word scratch gap below the
		// already-pushed frame, matching JOS's re-entrant upcall rule.
		stacktop = uintptr(tf.Rsp) - 8
	} else {
		stacktop = mlayout.UXSTACKTOP
	}

	utf := UTrapframe_t{
		FaultVa: faultAddr,
		ErrCode: tf.ErrCode,
		Regs:    tf,
	}
	sp := stacktop - uintptr(utrapframeSize)

	if err := writeUTrapframe(e, sp, utf); err != 0 {
		proc.Destroy(e)
		sched.Yield()
		return
	}

	e.Tf.Rip = uint64(e.PgfaultUpcall)
	e.Tf.Rsp = uint64(sp)
}

// writeUTrapframe marshals utf into e's user address space at va,
// using the same word-at-a-time path vm's syscall argument copies use.
func writeUTrapframe(e *proc.Env_t, va uintptr, utf UTrapframe_t) defs.Err_t {
	words := []uint64{
		uint64(utf.FaultVa), utf.ErrCode,
		utf.Regs.Rax, utf.Regs.Rbx, utf.Regs.Rcx, utf.Regs.Rdx,
		utf.Regs.Rsi, utf.Regs.Rdi, utf.Regs.Rbp,
		utf.Regs.R8, utf.Regs.R9, utf.Regs.R10, utf.Regs.R11,
		utf.Regs.R12, utf.Regs.R13, utf.Regs.R14, utf.Regs.R15,
		utf.Regs.TrapNo, utf.Regs.ErrCode,
		utf.Regs.Rip, utf.Regs.Cs, utf.Regs.Rflags, utf.Regs.Rsp, utf.Regs.Ss,
	}
	for i, w := range words {
		if err := e.As.Userwriten(int(va)+i*8, 8, int(w)); err != 0 {
			return err
		}
	}
	return 0
}

// dispatchSyscall implements spec.md §4.6's syscall case: arguments
// arrive in the trapframe's general-purpose registers per the
// platform ABI (rdi, rsi, rdx, rcx, r8, r9), and the return value is
// written back into the saved rax.
func dispatchSyscall(e *proc.Env_t) {
	no := scall.Number(e.Tf.Rax)
	a1, a2, a3, a4, a5 := e.Tf.Rdi, e.Tf.Rsi, e.Tf.Rdx, e.Tf.Rcx, e.Tf.R8

	var ret int64
	// Err_t kinds are positive; user mode sees them as negative returns.
	errRet := func(err defs.Err_t) int64 { return -int64(err) }
	switch no {
	case scall.SysCputs:
		ret = errRet(scall.Cputs(e, int(a1), int(a2)))
	case scall.SysCgetc:
		ret = int64(scall.Cgetc())
	case scall.SysGetenvid:
		ret = int64(scall.Getenvid(e))
	case scall.SysEnvDestroy:
		ret = errRet(scall.EnvDestroy(e, proc.EnvId_t(a1)))
	case scall.SysYield:
		scall.Yield()
		return
	case scall.SysExofork:
		id, err := scall.Exofork(e)
		if err != 0 {
			ret = errRet(err)
		} else {
			ret = int64(id)
		}
	case scall.SysEnvSetStatus:
		ret = errRet(scall.EnvSetStatus(e, proc.EnvId_t(a1), proc.Status_t(a2)))
	case scall.SysEnvSetPgfaultUpcall:
		ret = errRet(scall.EnvSetPgfaultUpcall(e, proc.EnvId_t(a1), uintptr(a2)))
	case scall.SysPageAlloc:
		ret = errRet(scall.PageAlloc(e, proc.EnvId_t(a1), uintptr(a2), mem.Pa_t(a3)))
	case scall.SysPageMap:
		ret = errRet(scall.PageMap(e, proc.EnvId_t(a1), uintptr(a2), proc.EnvId_t(a3), uintptr(a4), mem.Pa_t(a5)))
	case scall.SysPageUnmap:
		ret = errRet(scall.PageUnmap(e, proc.EnvId_t(a1), uintptr(a2)))
	case scall.SysIpcTrySend:
		ret = errRet(scall.IpcTrySend(e, proc.EnvId_t(a1), a2, uintptr(a3), mem.Pa_t(a4)))
	case scall.SysIpcRecv:
		ret = errRet(scall.IpcRecv(e, uintptr(a1)))
	default:
		ret = errRet(defs.Invalid)
	}
	e.Tf.Rax = uint64(ret)
}
