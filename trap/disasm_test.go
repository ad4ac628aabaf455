package trap

import (
	"strings"
	"testing"

	"bkl"
	"mem"
	"mlayout"
	"proc"
)

func TestDisassembleDecodesKnownInstruction(t *testing.T) {
	nop := make([]byte, maxInstrLen)
	nop[0] = 0x90 // NOP
	got := disassemble(0x1000, nop)
	if !strings.Contains(got, "0x1000") {
		t.Errorf("disassemble output %q missing address", got)
	}
	if !strings.Contains(strings.ToLower(got), "nop") {
		t.Errorf("disassemble output %q, want it to mention nop", got)
	}
}

func TestDisassembleReportsUndecodableBytes(t *testing.T) {
	got := disassemble(0x2000, nil)
	if !strings.Contains(got, "undecodable") {
		t.Errorf("disassemble output %q, want an undecodable marker", got)
	}
}

func TestDisassembleFaultRoutesThroughSink(t *testing.T) {
	teardown := mem.InstallFixture(256)
	defer teardown()
	bkl.Big.Lock()
	defer bkl.Big.Unlock()

	var got string
	SetDisasmSink(func(s string) { got = s })
	defer SetDisasmSink(nil)

	proc.Init()
	e, _ := proc.Alloc(0)
	e.As.Lock_pmap()
	e.As.RegionAlloc(mlayout.USERMIN, mem.PGSIZE, mem.PTE_U|mem.PTE_W)
	e.As.Unlock_pmap()

	code := make([]byte, maxInstrLen)
	code[0] = 0x90
	if err := e.As.K2user(code, int(mlayout.USERMIN)); err != 0 {
		t.Fatalf("K2user: %v", err)
	}

	disassembleFault(e, mlayout.USERMIN)

	if got == "" {
		t.Fatal("expected DisasmSink to receive a diagnostic")
	}
	if !strings.Contains(strings.ToLower(got), "nop") {
		t.Errorf("disassembly %q, want it to mention nop", got)
	}
}
