package trap

import (
	"encoding/binary"
	"testing"

	"bkl"
	"mem"
	"mlayout"
	"proc"
	"sched"
)

func withBKL(t *testing.T, f func()) {
	teardown := mem.InstallFixture(256)
	defer teardown()
	bkl.Big.Lock()
	defer bkl.Big.Unlock()
	f()
}

func TestDispatchReapsDyingProcessAndYields(t *testing.T) {
	withBKL(t, func() {
		proc.Init()
		e, err := proc.Alloc(0)
		if err != 0 {
			t.Fatalf("Alloc: %v", err)
		}
		other, err := proc.Alloc(0)
		if err != 0 {
			t.Fatalf("Alloc other: %v", err)
		}
		other.Status = proc.EnvRunnable
		proc.SetCurenv(e)
		e.Status = proc.EnvDying

		var ran *proc.Env_t
		sched.SetRunner(func(r *proc.Env_t) { ran = r }, func() { t.Fatal("should not halt") })

		Dispatch(e, proc.Trapframe_t{TrapNo: 99}, 0)

		if e.Status != proc.EnvFree {
			t.Errorf("dying env should have been reaped, status = %v", e.Status)
		}
		if ran != other {
			t.Errorf("expected scheduler to pick up other runnable env, got %v", ran)
		}
	})
}

func TestDispatchSyscallWritesReturnValueIntoRax(t *testing.T) {
	withBKL(t, func() {
		proc.Init()
		e, _ := proc.Alloc(0)
		proc.SetCurenv(e)

		tf := proc.Trapframe_t{TrapNo: Syscall, Rax: 2} // SysGetenvid
		Dispatch(e, tf, 0)

		if proc.EnvId_t(e.Tf.Rax) != e.Id {
			t.Errorf("Rax = %#x, want caller's own id %v", e.Tf.Rax, e.Id)
		}
	})
}

func TestPageFaultWithoutUpcallDestroysProcess(t *testing.T) {
	teardown := mem.InstallFixture(256)
	defer teardown()

	proc.Init()
	// Nothing else is runnable, so the Yield after Destroy falls
	// through to Halt, which drops the big kernel lock; the halt hook
	// reacquires it so the Unlock below still balances.
	sched.SetRunner(func(r *proc.Env_t) {}, func() { bkl.Big.Lock() })

	bkl.Big.Lock()
	e, _ := proc.Alloc(0)
	proc.SetCurenv(e)

	tf := proc.Trapframe_t{TrapNo: PageFault, Cs: 3}
	Dispatch(e, tf, mlayout.USERMIN)

	if e.Status != proc.EnvFree {
		t.Errorf("process without an upcall should be destroyed, status = %v", e.Status)
	}
	bkl.Big.Unlock()
}

func TestDispatchTimerAcksHookThenYields(t *testing.T) {
	withBKL(t, func() {
		proc.Init()
		e, err := proc.Alloc(0)
		if err != 0 {
			t.Fatalf("Alloc: %v", err)
		}
		e.Status = proc.EnvRunning
		proc.SetCurenv(e)

		acked := false
		SetHooks(func() { acked = true }, nil)
		defer SetHooks(nil, nil)

		var ran *proc.Env_t
		sched.SetRunner(func(r *proc.Env_t) { ran = r }, func() { t.Fatal("should not halt") })

		Dispatch(e, proc.Trapframe_t{TrapNo: Timer}, 0)

		if !acked {
			t.Error("AckTimer hook was not invoked on a timer trap")
		}
		if ran != e {
			t.Errorf("expected the still-Running env to be rescheduled, got %v", ran)
		}
	})
}

// TestPageFaultForwardsToUpcall drives the non-reentrant forwarding path
// pageFault takes when an upcall is installed: the process must survive,
// its saved rip/rsp must point at the upcall and a freshly pushed
// UTrapframe_t, and the 24 words writeUTrapframe marshals there must
// land inside [UXSTACKTOP-PGSIZE, UXSTACKTOP) (a utrapframeSize smaller
// than the marshaled record spills the tail of that write past
// UXSTACKTOP, off the mapped exception-stack page, which
// Userwriten would report as a fault rather than silently corrupting
// memory, since the fixture backs every frame with real Go memory).
func TestPageFaultForwardsToUpcall(t *testing.T) {
	withBKL(t, func() {
		proc.Init()
		e, err := proc.Alloc(0)
		if err != 0 {
			t.Fatalf("Alloc: %v", err)
		}
		proc.SetCurenv(e)

		const upcall = mlayout.USERMIN
		e.PgfaultUpcall = upcall

		e.As.Lock_pmap()
		e.As.RegionAlloc(mlayout.UXSTACKTOP-uintptr(mem.PGSIZE), mem.PGSIZE, mem.PTE_U|mem.PTE_W)
		e.As.Unlock_pmap()

		const faultVa = mlayout.USERMIN + 0x1000
		tf := proc.Trapframe_t{TrapNo: PageFault, Cs: 3, ErrCode: 2, Rsp: uint64(mlayout.USTACKTOP), Rip: 0x400000}
		Dispatch(e, tf, faultVa)

		if e.Status == proc.EnvFree {
			t.Fatal("process with an installed upcall should survive a forwarded page fault")
		}
		if e.Tf.Rip != uint64(upcall) {
			t.Errorf("rip = %#x, want upcall %#x", e.Tf.Rip, uint64(upcall))
		}
		wantSp := uint64(mlayout.UXSTACKTOP) - uint64(utrapframeSize)
		if e.Tf.Rsp != wantSp {
			t.Errorf("rsp = %#x, want %#x", e.Tf.Rsp, wantSp)
		}
		if wantSp < uint64(mlayout.UXSTACKTOP)-uint64(mem.PGSIZE) {
			t.Fatalf("utrapframeSize %d overflows the one-page exception stack", utrapframeSize)
		}

		raw, rerr := e.As.Userdmap8r(int(e.Tf.Rsp))
		if rerr != 0 {
			t.Fatalf("Userdmap8r: %v", rerr)
		}
		gotFaultVa := binary.LittleEndian.Uint64(raw[0:8])
		gotErrCode := binary.LittleEndian.Uint64(raw[8:16])
		const ripWordIndex = 19 // FaultVa, ErrCode, 15 GPRs, TrapNo, ErrCode, then Rip
		gotRip := binary.LittleEndian.Uint64(raw[ripWordIndex*8 : ripWordIndex*8+8])
		if gotFaultVa != uint64(faultVa) {
			t.Errorf("pushed FaultVa = %#x, want %#x", gotFaultVa, uint64(faultVa))
		}
		if gotErrCode != tf.ErrCode {
			t.Errorf("pushed ErrCode = %#x, want %#x", gotErrCode, tf.ErrCode)
		}
		if gotRip != tf.Rip {
			t.Errorf("pushed Regs.Rip = %#x, want %#x", gotRip, tf.Rip)
		}
	})
}

func TestPageFaultInKernelModePanics(t *testing.T) {
	withBKL(t, func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic on kernel-mode page fault")
			}
		}()
		proc.Init()
		e, _ := proc.Alloc(0)
		proc.SetCurenv(e)

		tf := proc.Trapframe_t{TrapNo: PageFault, Cs: 0}
		Dispatch(e, tf, mlayout.USERMIN)
	})
}
