package vmem

import "testing"

// idx decomposes a canonical 48-bit virtual address into its four 9-bit
// page-table indices (spec.md §3). The rest of vmem (Walk/Insert/Remove)
// needs live physical memory behind mem.Physmem.Dmap, which only exists
// under the kernel's patched runtime — not in a hosted test binary — so
// this test exercises only the address decomposition math directly.
func TestIdxDecomposesCanonicalAddress(t *testing.T) {
	// UTEXT from spec.md §6: 4 * 2MiB = 0x800000.
	const utext = uintptr(0x800000)
	if got := idx(utext, 0); got != 0 {
		t.Errorf("PT index = %d, want 0", got)
	}
	if got := idx(utext, 1); got != 4 {
		t.Errorf("PD index = %d, want 4", got)
	}
	if got := idx(utext, 2); got != 0 {
		t.Errorf("PDPT index = %d, want 0", got)
	}
	if got := idx(utext, 3); got != 0 {
		t.Errorf("PML4 index = %d, want 0", got)
	}
}

func TestIdxRoundtripsViaShl(t *testing.T) {
	for _, va := range []uintptr{0, 0x1000, 0xC0000000, 1 << 47} {
		var rebuilt uintptr
		for c := uint(0); c < 4; c++ {
			rebuilt |= uintptr(idx(va, c)) << shl(c)
		}
		off := va & 0xfff
		if rebuilt != va-off {
			t.Errorf("va=%#x rebuilt=%#x (off=%#x)", va, rebuilt, off)
		}
	}
}
