package vm

import "testing"

// These exercise only Vmregion_t's pure bookkeeping: Create/RegionAlloc
// themselves need live physical memory behind mem.Physmem, available only
// under the kernel's patched runtime.
func TestVmregionLookupFindsContainingRegion(t *testing.T) {
	var vr Vmregion_t
	vr.insert(&Vminfo_t{Start: 0x1000, End: 0x3000, Perms: 0, Mtype: VANON})
	vr.insert(&Vminfo_t{Start: 0x5000, End: 0x6000, Perms: 0, Mtype: VGUARD})

	if _, ok := vr.Lookup(0x1000); !ok {
		t.Error("0x1000 should be in the first region")
	}
	if _, ok := vr.Lookup(0x2fff); !ok {
		t.Error("0x2fff should be in the first region")
	}
	if _, ok := vr.Lookup(0x3000); ok {
		t.Error("0x3000 is one past the first region's end, should miss")
	}
	if vmi, ok := vr.Lookup(0x5500); !ok || vmi.Mtype != VGUARD {
		t.Error("0x5500 should be in the guard region")
	}
	if _, ok := vr.Lookup(0x4000); ok {
		t.Error("0x4000 falls in the gap between regions, should miss")
	}
}

func TestVmregionClearEmptiesRegions(t *testing.T) {
	var vr Vmregion_t
	vr.insert(&Vminfo_t{Start: 0, End: 0x1000, Mtype: VANON})
	vr.Clear()
	if _, ok := vr.Lookup(0); ok {
		t.Error("Lookup should find nothing after Clear")
	}
}
