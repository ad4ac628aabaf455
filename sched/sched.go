// Package sched implements spec.md §4.7's round-robin scheduler: yield()
// picks the next runnable environment starting just past the one this CPU
// last ran, falling back to re-running the current environment if it is
// still ENV_RUNNING, and halting the CPU if nothing is runnable at all.
// Grounded on original_source/kern/sched.c's sched_yield/sched_halt.
package sched

import (
	"bkl"
	"proc"
)

// Runner is supplied by the trap/entry layer, which alone knows how to
// switch CR3 and iret into an environment's saved Trapframe — a machine
// transition this package has no business performing itself. Mirrors
// the late-binding pattern of trap.SetHooks and scall.SetConsole for the
// same reason: the real operation lives below any portable Go abstraction.
type Runner func(e *proc.Env_t)

var runEnv Runner
var haltCPU func()

/// SetRunner registers the trap layer's env_run and the idle-halt hook.
/// Called once during kernel init.
func SetRunner(run Runner, halt func()) {
	runEnv = run
	haltCPU = halt
}

/// Yield implements spec.md §4.7's yield(): round-robin search starting
/// one past the current environment's slot, wrapping once; if nothing new
/// is runnable but the current environment is still marked Running, it is
/// simply re-entered (its quantum expired, but nothing else wants the
/// CPU); otherwise the CPU halts.
func Yield() {
	bkl.Lockassert()

	cur := proc.Curenv()
	start := 0
	if cur != nil {
		start = int(cur.Id) & (proc.NENV - 1)
	}

	for i := 1; i <= proc.NENV; i++ {
		idx := (start + i) % proc.NENV
		e := proc.EnvAt(idx)
		if e.Status == proc.EnvRunnable {
			run(e)
			return
		}
	}

	if cur != nil && cur.Status == proc.EnvRunning {
		run(cur)
		return
	}

	Halt()
}

func run(e *proc.Env_t) {
	if runEnv == nil {
		panic("sched: no runner registered")
	}
	e.Status = proc.EnvRunning
	e.Runs++
	proc.SetCurenv(e)
	runEnv(e)
}

/// Halt implements spec.md §4.7's halt(): drop the big kernel lock and
/// stop this CPU until the next interrupt, matching sched_halt's handoff
/// — the lock must be released before halting or no other CPU could ever
/// make progress while this one sleeps.
func Halt() {
	bkl.Lockassert()
	proc.SetCurenv(nil)
	bkl.Big.Unlock()
	if haltCPU == nil {
		panic("sched: no halt hook registered")
	}
	haltCPU()
}
