package sched

import (
	"testing"

	"bkl"
	"proc"
)

func TestYieldPicksNextRunnableAfterCurrent(t *testing.T) {
	bkl.Big.Lock()
	defer bkl.Big.Unlock()

	proc.Init()
	var ran *proc.Env_t
	SetRunner(func(e *proc.Env_t) { ran = e }, func() { t.Fatal("should not halt") })

	proc.EnvAt(0).Status = proc.EnvRunning
	proc.EnvAt(0).Id = proc.EnvId_t(0)
	proc.SetCurenv(proc.EnvAt(0))
	proc.EnvAt(2).Status = proc.EnvRunnable
	proc.EnvAt(2).Id = proc.EnvId_t(2)

	Yield()

	if ran != proc.EnvAt(2) {
		t.Fatalf("Yield should have picked slot 2, ran %v", ran)
	}
	if ran.Status != proc.EnvRunning {
		t.Errorf("picked env should be marked Running, got %v", ran.Status)
	}
}

func TestYieldRerunsCurrentWhenNothingElseRunnable(t *testing.T) {
	bkl.Big.Lock()
	defer bkl.Big.Unlock()

	proc.Init()
	var ran *proc.Env_t
	SetRunner(func(e *proc.Env_t) { ran = e }, func() { t.Fatal("should not halt") })

	cur := proc.EnvAt(5)
	cur.Status = proc.EnvRunning
	cur.Id = proc.EnvId_t(5)
	proc.SetCurenv(cur)

	Yield()

	if ran != cur {
		t.Fatalf("Yield should have re-run the current env, got %v", ran)
	}
}

func TestYieldHaltsWhenNothingRunnable(t *testing.T) {
	bkl.Big.Lock()

	proc.Init()
	halted := false
	SetRunner(func(e *proc.Env_t) { t.Fatal("should not run anything") }, func() {
		halted = true
		// Halt already released bkl; acquire it back so the Unlock at
		// the end of this test balances, and so a subsequent test's
		// Lock call doesn't hang.
		bkl.Big.Lock()
	})

	Yield()

	if !halted {
		t.Fatal("Yield should have halted the CPU")
	}
	bkl.Big.Unlock()
}
