package apic

import "testing"

// fakeWindow backs a Lapic_t with an ordinary Go slice instead of the
// real direct-mapped MMIO window, which (like mem.Dmaplen32 itself)
// only works when backed by the patched kernel runtime's address space.
func fakeWindow() (Lapic_t, *[1024]uint32) {
	var regs [1024]uint32
	l := Lapic_t{
		window: func(off uintptr, n int) []uint32 {
			word := off / 4
			return regs[word : word+uintptr(n)/4]
		},
	}
	return l, &regs
}

func TestEOIWritesZero(t *testing.T) {
	l, regs := fakeWindow()
	regs[regEOI/4] = 0xdeadbeef
	l.EOI()
	if regs[regEOI/4] != 0 {
		t.Fatalf("EOI register = %#x, want 0", regs[regEOI/4])
	}
}

func TestIDReadsTopByte(t *testing.T) {
	l, regs := fakeWindow()
	regs[regID/4] = 7 << 24
	if got := l.ID(); got != 7 {
		t.Fatalf("ID() = %d, want 7", got)
	}
}

func TestStartPeriodicTimerProgramsRegisters(t *testing.T) {
	l, regs := fakeWindow()
	l.StartPeriodicTimer(TimerVector, 16, 1_000_000)

	if got := regs[regDivide/4]; got != divideConfig(16) {
		t.Fatalf("divide config = %#x, want %#x", got, divideConfig(16))
	}
	lvt := regs[regLVTTimer/4]
	if lvt&0xFF != uint32(TimerVector) {
		t.Fatalf("LVT vector = %d, want %d", lvt&0xFF, TimerVector)
	}
	if lvt&lvtPeriodic == 0 {
		t.Fatal("LVT timer not programmed periodic")
	}
	if regs[regInitCount/4] != 1_000_000 {
		t.Fatalf("initial count = %d, want 1000000", regs[regInitCount/4])
	}
}

func TestStopTimerMasksWithoutClearingVector(t *testing.T) {
	l, _ := fakeWindow()
	l.StartPeriodicTimer(TimerVector, 2, 500)
	l.StopTimer()

	lvt := l.read(regLVTTimer)
	if lvt&lvtMasked == 0 {
		t.Fatal("StopTimer did not set the mask bit")
	}
	if lvt&0xFF != uint32(TimerVector) {
		t.Fatalf("StopTimer lost the vector: %d, want %d", lvt&0xFF, TimerVector)
	}
}

func TestDivideConfigRejectsInvalidDivisor(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unsupported divisor")
		}
	}()
	divideConfig(3)
}
