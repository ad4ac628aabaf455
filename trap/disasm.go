package trap

import (
	"fmt"

	"golang.org/x/arch/x86/x86asm"

	"proc"
)

// DisasmSink is late-bound to the console collaborator; when set, the
// catch-all handler hands it a one-line disassembly of the instruction
// that caused an unhandled trap, the same dependency-inversion shape as
// AckTimer/DestroyDiag.
var DisasmSink func(string)

// SetDisasmSink registers the diagnostic-disassembly collaborator.
func SetDisasmSink(f func(string)) {
	DisasmSink = f
}

// maxInstrLen is the longest an x86-64 instruction can legally encode
// to; reading this many bytes guarantees x86asm.Decode sees a complete
// instruction even when the faulting one uses every available prefix.
const maxInstrLen = 15

// / disassemble decodes the instruction at rip from code (already
// / copied out of the faulting environment's address space) and
// / formats it as a single diagnostic line. A decode failure — the rip
// / pointed somewhere that isn't valid code, which is exactly the kind
// / of state an unhandled trap can leave behind — is reported as text
// / rather than surfaced as an error, since this is a best-effort
// / diagnostic, not something any caller acts on.
func disassemble(rip uintptr, code []byte) string {
	inst, err := x86asm.Decode(code, 64)
	if err != nil {
		return fmt.Sprintf("%#x: <undecodable: %v>", rip, err)
	}
	return fmt.Sprintf("%#x: %s", rip, x86asm.GNUSyntax(inst, uint64(rip), nil))
}

// / disassembleFault reads up to maxInstrLen bytes starting at e's
// / saved rip and disassembles them, reporting through DisasmSink if
// / one is attached. User-memory reads can themselves fail (the rip
// / might point at an unmapped page, which is plausible after whatever
// / corrupted state led to this unhandled trap); that failure is folded
// / into the diagnostic text rather than propagated, since this path
// / runs right before the process is destroyed regardless.
func disassembleFault(e *proc.Env_t, rip uintptr) {
	if DisasmSink == nil {
		return
	}
	code := make([]byte, maxInstrLen)
	if err := e.As.User2k(code, int(rip)); err != 0 {
		DisasmSink(fmt.Sprintf("%#x: <could not read instruction bytes: %v>", rip, err))
		return
	}
	DisasmSink(disassemble(rip, code))
}
