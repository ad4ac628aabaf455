// Package kpanic implements the kernel's single fatal-error path: format
// a message, print it (through whatever console is attached), and halt
// every CPU. Grounded on the teacher's scattered bare panic("...") calls
// (mem/mem.go, vm/as.go and elsewhere all panic with a literal string)
// generalized into one consistently-formatted entry point, plus
// original_source/kern/sched.c's sched_halt idea of stopping the whole
// machine rather than just the calling core.
package kpanic

import (
	"fmt"
	"sync"

	"bkl"
)

// Report is late-bound to the console collaborator (console.AttachFatal
// installs it), the same dependency-inversion shape as every other
// machine-facing hook in this tree (sched.Runner, trap.SetHooks,
// scall.SetConsole). Left nil, Fatal
// still halts the machine; it just has nowhere to print first.
var Report func(component, msg string)

func SetReport(f func(component, msg string)) {
	Report = f
}

var once sync.Once

// / Fatal formats component and the printf-style msg/args, hands the
// / result to Report if one is attached, then halts every CPU.
// /
// / "Halts every CPU" means what it says under this kernel's concurrency
// / discipline (spec.md §5): every kernel entry point must hold bkl.Big
// / before touching shared state, so a CPU that acquires Big and never
// / releases it blocks all other CPUs' next kernel entry forever. Fatal
// / takes the lock (if not already held by the calling CPU) and simply
// / never gives it back.
func Fatal(component, msg string, args ...interface{}) {
	formatted := fmt.Sprintf(msg, args...)
	once.Do(func() {
		if Report != nil {
			Report(component, formatted)
		}
	})
	if !bkl.Big.Held() {
		bkl.Big.Lock()
	}
	select {}
}
