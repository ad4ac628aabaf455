// Package apic programs the Local APIC registers spec.md §1 names as an
// external collaborator ("LAPIC programming for the periodic timer") and
// spec.md §6 calls out as a standard, verbatim layout ("LAPIC register
// offsets: standard, used... by the LAPIC driver"). acpi discovers where
// the LAPIC's MMIO window lives and which APIC IDs exist; apic maps that
// window through mem's direct map (mem/dmap.go's Dmaplen32, the same
// physical-to-virtual path the kernel's own page tables use) and exposes
// the handful of registers trap's timer case and SMP bring-up need: the
// end-of-interrupt write trap.AckTimer late-binds to, and the periodic
// timer's divide/count/LVT setup.
//
// Register offsets follow the Intel SDM's standard xAPIC layout; no
// third-party library in the retrieved corpus wraps these, and the
// layout itself is architecture-fixed, not a design choice this package
// makes.
package apic

import "mem"

// Register byte offsets into the LAPIC's 4KiB MMIO window (Intel SDM
// vol. 3A, Local APIC section). Each register occupies one 32-bit word,
// aligned to a 16-byte boundary.
const (
	regID        = 0x020
	regEOI       = 0x0B0
	regSpurious  = 0x0F0
	regLVTTimer  = 0x320
	regInitCount = 0x380
	regCurrCount = 0x390
	regDivide    = 0x3E0
)

// Spurious-interrupt-vector register bit 8 is the APIC software-enable
// bit; it must be set before any interrupt, including the timer, is
// delivered.
const svrEnable uint32 = 1 << 8

// LVT timer-mode bit 17: periodic rather than one-shot.
const lvtPeriodic uint32 = 1 << 17

// LVT mask bit 16: suppresses the interrupt without disabling the timer.
const lvtMasked uint32 = 1 << 16

// TimerVector is the IDT vector spec.md §4.6 assigns the LAPIC's
// periodic timer (trap.Timer); duplicated here as an untyped-free
// constant so apic's own tests don't need to import trap.
const TimerVector uint8 = 32

// Lapic_t is one CPU's view of the Local APIC MMIO window. base is the
// physical address acpi.MADT.LocalAPICAddr reported; every CPU's LAPIC
// is mapped at the same physical address (the LAPIC is per-CPU hardware
// addressed identically from every core), so a single instance is
// shared, not one per CPU. window is late-bound to mem.Dmaplen32 by
// Init, the same collaborator-injection shape scall.SetConsole and
// trap.SetHooks use, so a hosted test can supply a plain byte slice in
// place of the real direct map (which, like mem.Dmaplen32 itself,
// requires the patched kernel runtime's address space to back it).
type Lapic_t struct {
	base   mem.Pa_t
	window func(off uintptr, l int) []uint32
}

// Lapic is the kernel-global Local APIC handle, mirroring mem.Physmem and
// proc.Envtbl's package-level-singleton shape (spec.md §9's "global
// mutable state" design note).
var Lapic Lapic_t

// / Init records the LAPIC's physical MMIO base (from acpi.MADT, or a
// / fixed default if ACPI parsing is unavailable) and unmasks the
// / spurious-interrupt vector, the prerequisite for any LAPIC interrupt
// / — including the periodic timer — to reach the CPU at all.
func Init(base mem.Pa_t) {
	Lapic.base = base
	Lapic.window = func(off uintptr, l int) []uint32 {
		return mem.Dmaplen32(uintptr(base)+off, l)
	}
	Lapic.write(regSpurious, Lapic.read(regSpurious)|svrEnable|0xFF)
}

func (l *Lapic_t) read(off uintptr) uint32 {
	return l.window(off, 4)[0]
}

func (l *Lapic_t) write(off uintptr, v uint32) {
	l.window(off, 4)[0] = v
}

// / ID returns this CPU's own Local APIC ID, read out of the hardware
// / register rather than trusted from a caller — the same "ask the
// / authoritative source" discipline runtime.CPUHint's callers already
// / follow elsewhere in this tree.
func (l *Lapic_t) ID() uint8 {
	return uint8(l.read(regID) >> 24)
}

// / EOI performs the end-of-interrupt write spec.md §4.6's timer case
// / requires before yielding: a zero write to the EOI register, which is
// / the LAPIC's documented acknowledge protocol (the written value is
// / ignored). trap.SetHooks wires this as AckTimer.
func (l *Lapic_t) EOI() {
	l.write(regEOI, 0)
}

// / StartPeriodicTimer programs the LAPIC timer to fire vector on every
// / expiry of a divide-by-divisor count down from initialCount,
// / repeating (periodic mode) rather than firing once — spec.md §1's
// / "LAPIC programming for the periodic timer" collaborator duty.
// / divisor must be one of the hardware-defined divide values (1, 2, 4,
// / 8, 16, 32, 64, or 128); callers pick it alongside initialCount to hit
// / a target tick rate for the bus frequency they've calibrated against,
// / which is itself outside this package's scope (spec.md §1).
func (l *Lapic_t) StartPeriodicTimer(vector uint8, divisor uint32, initialCount uint32) {
	l.write(regDivide, divideConfig(divisor))
	l.write(regLVTTimer, uint32(vector)|lvtPeriodic)
	l.write(regInitCount, initialCount)
}

// / StopTimer masks the LVT timer entry without losing its vector/mode
// / configuration, the inverse of StartPeriodicTimer.
func (l *Lapic_t) StopTimer() {
	l.write(regLVTTimer, l.read(regLVTTimer)|lvtMasked)
}

// / CurrentCount reads the timer's live countdown value, used only for
// / diagnostics (it is not part of any spec.md-named operation).
func (l *Lapic_t) CurrentCount() uint32 {
	return l.read(regCurrCount)
}

// divideConfig encodes the timer divide-by value into the DCR's
// scattered 4-bit field (bits 0-1 and 3; bit 2 is always zero), the
// Intel SDM's documented non-contiguous bit layout for this register.
func divideConfig(divisor uint32) uint32 {
	switch divisor {
	case 1:
		return 0xB
	case 2:
		return 0x0
	case 4:
		return 0x1
	case 8:
		return 0x2
	case 16:
		return 0x3
	case 32:
		return 0x8
	case 64:
		return 0x9
	case 128:
		return 0xA
	default:
		panic("apic: unsupported timer divisor")
	}
}
