package console

import (
	"strings"
	"testing"
	"time"

	"bkl"
	"kpanic"
	"mem"
	"mlayout"
	"proc"
	"scall"
	"sched"
	"stats"
	"trap"
)

func withBKL(t *testing.T, f func()) {
	teardown := mem.InstallFixture(256)
	defer teardown()
	bkl.Big.Lock()
	defer bkl.Big.Unlock()
	f()
}

type fakeMem struct{ next mem.Pa_t }

func (f *fakeMem) Refpg_new() (*mem.Pg_t, mem.Pa_t, bool) {
	pg, pa, ok := f.Refpg_new_nozero()
	if ok {
		for i := range pg {
			pg[i] = 0
		}
	}
	return pg, pa, ok
}
func (f *fakeMem) Refpg_new_nozero() (*mem.Pg_t, mem.Pa_t, bool) {
	f.next += mem.Pa_t(mem.PGSIZE)
	return &mem.Pg_t{}, f.next, true
}
func (f *fakeMem) Refcnt(mem.Pa_t) int     { return 1 }
func (f *fakeMem) Dmap(mem.Pa_t) *mem.Pg_t { return &mem.Pg_t{} }
func (f *fakeMem) Refup(mem.Pa_t)          {}
func (f *fakeMem) Refdown(mem.Pa_t) bool   { return true }

func TestWriteFlushesToSink(t *testing.T) {
	var got string
	Console.Init(&fakeMem{}, func(s string) { got += s })

	Console.Write("hi\n")
	if got != "hi\n" {
		t.Errorf("got %q, want %q", got, "hi\n")
	}
	// Counter_t.Inc only counts when stats.Stats is set.
	wantWrites := stats.Counter_t(0)
	if stats.Stats {
		wantWrites = 1
	}
	if Console.Writes != wantWrites {
		t.Errorf("Writes = %d, want %d", Console.Writes, wantWrites)
	}
}

func TestSysCputsRoutesThroughConsole(t *testing.T) {
	withBKL(t, func() {
		var got string
		Console.Init(&fakeMem{}, func(s string) { got += s })
		scall.SetConsole(Console.Write, Cgetc)

		proc.Init()
		e, err := proc.Alloc(0)
		if err != 0 {
			t.Fatalf("Alloc: %v", err)
		}
		e.As.Lock_pmap()
		e.As.RegionAlloc(mlayout.USERMIN, mem.PGSIZE, mem.PTE_U|mem.PTE_W)
		e.As.Unlock_pmap()

		msg := "hello from userspace"
		if werr := e.As.K2user([]uint8(msg), int(mlayout.USERMIN)); werr != 0 {
			t.Fatalf("K2user: %v", werr)
		}

		if serr := scall.Cputs(e, int(mlayout.USERMIN), len(msg)); serr != 0 {
			t.Fatalf("Cputs: %v", serr)
		}
		if got != msg {
			t.Errorf("console got %q, want %q", got, msg)
		}
	})
}

func TestTrapDestroyDiagWritesToConsole(t *testing.T) {
	var got string
	Console.Init(&fakeMem{}, func(s string) { got += s })
	trap.SetHooks(func() {}, func(e *proc.Env_t, trapno uint64) {
		Fatal("trap", "unhandled trap")
	})

	teardown := mem.InstallFixture(256)
	defer teardown()

	proc.Init()
	// Nothing else is runnable, so the Yield after Destroy falls through
	// to Halt, which drops the big kernel lock; the halt hook reacquires
	// it so the Unlock below still balances.
	sched.SetRunner(func(r *proc.Env_t) {}, func() { bkl.Big.Lock() })

	bkl.Big.Lock()
	e, _ := proc.Alloc(0)
	proc.SetCurenv(e)

	trap.Dispatch(e, proc.Trapframe_t{TrapNo: 200, Cs: 3}, 0)

	if got == "" {
		t.Error("expected DestroyDiag to write a diagnostic to the console")
	}
	bkl.Big.Unlock()
}

func TestAttachFatalRoutesKpanicThroughConsole(t *testing.T) {
	savedReport := kpanic.Report
	defer func() { kpanic.Report = savedReport }()

	var got string
	Console.Init(&fakeMem{}, func(s string) { got += s })
	AttachFatal()

	done := make(chan struct{})
	go func() {
		kpanic.Fatal("mem", "double free of frame %#x", 0x1000)
		close(done) // unreached: kpanic.Fatal halts forever
	}()

	deadline := time.After(time.Second)
	for got == "" {
		select {
		case <-deadline:
			t.Fatal("kpanic.Fatal never reported through the console")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if !strings.Contains(got, "mem") || !strings.Contains(got, "0x1000") {
		t.Errorf("console got %q, want it to mention mem and 0x1000", got)
	}
}
