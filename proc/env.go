// Package proc implements spec.md §4.4's EnvTable: the fixed-size table of
// environments (biscuit calls a schedulable, addressed unit of execution a
// "proc"; JOS calls the same concept an "Env" — this package keeps JOS's
// name since spec.md's vocabulary and original_source/kern/env.c's layout
// both use it) together with the generational-ID allocation scheme and
// teardown sequence from kern/env.c's env_alloc/env_free/env_destroy.
//
// Every entry point here assumes the caller already holds the big kernel
// lock (package bkl) — biscuit's own concurrency discipline for its
// process table, generalized to the whole kernel per spec.md §5.
package proc

import (
	"runtime"

	"bkl"
	"defs"
	"limits"
	"mlayout"
	"vm"
)

// / Status_t is an environment's scheduling state (spec.md §4.4).
type Status_t int

const (
	/// EnvFree marks an unused table slot.
	EnvFree Status_t = iota
	/// EnvDying marks an environment torn down lazily: it keeps its slot
	/// until the scheduler notices and frees it, so a still-running
	/// remote CPU never observes a reused slot out from under it.
	EnvDying
	/// EnvRunnable marks an environment eligible to be scheduled.
	EnvRunnable
	/// EnvRunning marks the environment currently executing on some CPU.
	EnvRunning
	/// EnvNotRunnable marks an environment blocked (e.g. in ipc_recv).
	EnvNotRunnable
)

func (s Status_t) String() string {
	switch s {
	case EnvFree:
		return "free"
	case EnvDying:
		return "dying"
	case EnvRunnable:
		return "runnable"
	case EnvRunning:
		return "running"
	case EnvNotRunnable:
		return "notrunnable"
	default:
		return "unknown"
	}
}

/// EnvId_t is an environment's generational 64-bit identifier: the low
/// bits name a table slot, the high bits a generation counter that
/// changes every time the slot is recycled (spec.md §4.4's invariant that
/// a stale ID from a freed environment never resolves to its successor).
type EnvId_t uint64

/// NENV is the fixed size of the environment table.
const NENV = 1024

/// envGenShift is the bit above the table-index field a generation
/// counter is stored at; NENV must be a power of two no larger than
/// 1<<envGenShift (mirroring JOS's ENVGENSHIFT >= LOGNENV requirement).
const envGenShift = 12

// Segment selectors and the eflags interrupt-enable bit a freshly
// allocated environment's saved trapframe is seeded with (spec.md §4.4),
// matching JOS's GD_UT/GD_UD/FL_IF (original_source/inc/mmu.h,
// original_source/inc/trap.h) under the RPL-3 (user, "|3") request level
// env_alloc builds tf_cs/tf_ss from.
const (
	userCodeSelector = 0x18 | 3 // GD_UT|3
	userDataSelector  = 0x20 | 3 // GD_UD|3
	flagsInterrupt    = 1 << 9  // FL_IF
)

/// Trapframe_t is the saved register state of a not-currently-running
/// environment, restored verbatim by sched's registered Runner (spec.md
/// §4.6). Field order matches the order trap's assembly stub pushes
/// them in: callee/caller-saved GPRs, then the hardware-pushed
/// interrupt frame.
type Trapframe_t struct {
	Rax, Rbx, Rcx, Rdx    uint64
	Rsi, Rdi, Rbp         uint64
	R8, R9, R10, R11      uint64
	R12, R13, R14, R15    uint64
	TrapNo, ErrCode       uint64
	Rip, Cs, Rflags       uint64
	Rsp, Ss               uint64
}

/// Env_t is one entry in the environment table (spec.md §4.4).
type Env_t struct {
	Id       EnvId_t
	ParentId EnvId_t
	Status   Status_t
	Runs     uint32
	Tf       Trapframe_t
	As       *vm.Vm_t

	/// Cpu is the index (runtime.CPUHint()'s numbering) of the CPU this
	/// environment was most recently dispatched on — spec.md §3's "CPU on
	/// which it is currently running" field. Only meaningful while Status
	/// is EnvRunning; stale otherwise.
	Cpu int

	/// PgfaultUpcall is the user virtual address ufork and any other
	/// page-fault-driven user code installs via sys_env_set_pgfault_upcall
	/// (spec.md §4.8); zero means no upcall is installed.
	PgfaultUpcall uintptr

	/// IPC state, set by ipc_recv and consulted by ipc_try_send
	/// (spec.md §4.9).
	IpcRecving bool
	IpcDstva   uintptr
	IpcFrom    EnvId_t
	IpcValue   uint64
	IpcPerm    uint64

	selfIndex int
	link      *Env_t
}

var envs [NENV]Env_t
var freelist *Env_t

/// curenv is per-CPU (spec.md §3's "at most one process is Running per
/// CPU at any time" and §8's "a process whose status is Running is the
/// curenv of exactly one CPU" both presume this): indexed by
/// runtime.CPUHint(), the same per-CPU-array idiom mem.Physmem_t.percpu
/// uses for its free lists.
var curenv [runtime.MAXCPUS]*Env_t

/// Init populates the free list in slot order (spec.md §4.4), so the
/// first Alloc after Init returns envs[0], matching JOS's env_init.
func Init() {
	freelist = nil
	for i := NENV - 1; i >= 0; i-- {
		envs[i] = Env_t{}
		envs[i].selfIndex = i
		envs[i].Status = EnvFree
		envs[i].link = freelist
		freelist = &envs[i]
	}
	for i := range curenv {
		curenv[i] = nil
	}
}

/// Curenv returns the environment currently executing on this CPU, or nil.
func Curenv() *Env_t {
	return curenv[runtime.CPUHint()]
}

/// EnvAt returns the table slot at index i, letting sched's round-robin
/// search walk the table without exposing the backing array itself.
func EnvAt(i int) *Env_t {
	return &envs[i]
}

/// SetCurenv records which environment is now running on this CPU;
/// called by sched immediately before switching CR3 and iret'ing into
/// it. Stamps e.Cpu so Destroy can tell whether e is running here or on
/// some other CPU (spec.md §4.4's destroy(e) contract).
func SetCurenv(e *Env_t) {
	me := runtime.CPUHint()
	curenv[me] = e
	if e != nil {
		e.Cpu = me
	}
}

/// Resolve implements spec.md §4.4's resolve(id, check_perm, caller): id
/// zero means caller itself; otherwise the low bits of id name a table
/// slot, and the slot's current generation must match id exactly, or the
/// id refers to an environment that has since been recycled. With
/// check_perm set, caller must either be the target or its parent.
func Resolve(id EnvId_t, checkPerm bool, caller *Env_t) (*Env_t, defs.Err_t) {
	bkl.Lockassert()
	if id == 0 {
		return caller, 0
	}
	idx := int(id) & (NENV - 1)
	e := &envs[idx]
	if e.Status == EnvFree || e.Id != id {
		return nil, defs.BadEnv
	}
	if checkPerm && e != caller && e.ParentId != caller.Id {
		return nil, defs.BadEnv
	}
	return e, 0
}

/// Alloc implements spec.md §4.4's alloc(parent): it pops the free list,
/// builds the child's address space via vm.Create, and assigns a fresh
/// generational id whose generation is always positive and always
/// different from the slot's previous occupant.
///
/// Also enforces limits.Syslimit.Sysprocs, an administrative cap on live
/// environments that can be set tighter than the hard NENV table size
/// (the big kernel lock, held by every caller, serializes its updates).
/// Hitting
/// it counts against limits.Lhits and fails exactly like table
/// exhaustion, since from a caller's perspective both are "no free
/// environment available right now".
func Alloc(parentId EnvId_t) (*Env_t, defs.Err_t) {
	bkl.Lockassert()
	if freelist == nil {
		return nil, defs.NoFreeEnv
	}
	if limits.Syslimit.Sysprocs <= 0 {
		limits.Lhits++
		return nil, defs.NoFreeEnv
	}
	e := freelist

	as, err := vm.Create()
	if err != 0 {
		return nil, err
	}
	limits.Syslimit.Sysprocs--

	generation := (int64(e.Id) + (1 << envGenShift)) &^ (NENV - 1)
	if generation <= 0 {
		generation = 1 << envGenShift
	}
	e.Id = EnvId_t(generation) | EnvId_t(e.selfIndex)
	e.ParentId = parentId
	e.Status = EnvRunnable
	e.Runs = 0
	// Zeroed except for the fields a first entry into user mode needs:
	// the user segment selectors, the initial stack, and the interrupt
	// flag (spec.md §4.4, env_alloc's tf_ss/tf_rsp/tf_cs/tf_eflags).
	e.Tf = Trapframe_t{
		Ss:     userDataSelector,
		Rsp:    uint64(mlayout.USTACKTOP),
		Cs:     userCodeSelector,
		Rflags: flagsInterrupt,
	}
	e.As = as
	e.PgfaultUpcall = 0
	e.IpcRecving = false

	freelist = e.link
	e.link = nil
	return e, 0
}

/// free releases e's address space and returns its slot to the free list,
/// without regard for whether e is currently running elsewhere — callers
/// (Destroy, and the scheduler reaping a dying environment) are
/// responsible for ensuring that isn't the case.
func free(e *Env_t) {
	e.As.Lock_pmap()
	e.As.Destroy()
	e.As.Unlock_pmap()
	e.As = nil

	e.Status = EnvFree
	e.link = freelist
	freelist = e
	limits.Syslimit.Sysprocs++

	for i := range curenv {
		if curenv[i] == e {
			curenv[i] = nil
		}
	}
}

/// Destroy implements spec.md §4.4's destroy(e): an environment currently
/// running on another CPU is marked Dying and reaped lazily (the next
/// time that CPU traps back into the kernel and notices); otherwise it is
/// freed immediately.
func Destroy(e *Env_t) {
	bkl.Lockassert()
	if e.Status == EnvRunning && curenv[runtime.CPUHint()] != e {
		e.Status = EnvDying
		return
	}
	free(e)
}

/// ReapDying frees e if the scheduler has since observed it stop
/// running elsewhere; called from the scheduler's idle path.
func ReapDying(e *Env_t) {
	bkl.Lockassert()
	if e.Status == EnvDying {
		free(e)
	}
}
