package mem

import (
	"testing"
	"time"

	"oommsg"
)

// newTestPhysmem builds a small Physmem_t with n frames on the free list,
// without going through Phys_init (which calls into the patched runtime's
// Get_phys()/CPUHint() and so cannot run in a hosted test binary).
func newTestPhysmem(n int) *Physmem_t {
	return NewFixturePhysmem(n)
}

func TestAllocFreeRoundtrip(t *testing.T) {
	phys := newTestPhysmem(4)
	// Free may park a frame on a per-CPU list instead of the global one,
	// so count both.
	freeTotal := func() int32 {
		n := phys.freelen
		for i := range phys.percpu {
			n += phys.percpu[i].freelen
		}
		return n
	}
	before := freeTotal()

	p, ok := phys.Alloc(0)
	if !ok {
		t.Fatal("Alloc failed with frames available")
	}
	if freeTotal() != before-1 {
		t.Fatalf("freelen = %d, want %d", freeTotal(), before-1)
	}
	if phys.Refcnt(p) != 0 {
		t.Fatalf("freshly allocated frame has refcount %d, want 0", phys.Refcnt(p))
	}

	phys.Refup(p)
	if phys.Refcnt(p) != 1 {
		t.Fatalf("Refcnt = %d, want 1", phys.Refcnt(p))
	}

	if freed := phys.Refdown(p); !freed {
		t.Fatal("Refdown did not report the frame as freed")
	}
	if freeTotal() != before {
		t.Fatalf("freelen after Refdown = %d, want %d", freeTotal(), before)
	}
}

func TestAllocExhaustion(t *testing.T) {
	phys := newTestPhysmem(1)
	_, ok := phys.Alloc(0)
	if !ok {
		t.Fatal("first Alloc should succeed")
	}
	if _, ok := phys.Alloc(0); ok {
		t.Fatal("Alloc on an exhausted free list should fail")
	}
}

func TestAllocExhaustionNotifiesOomChWithoutBlocking(t *testing.T) {
	phys := newTestPhysmem(1)
	phys.Alloc(0)

	done := make(chan oommsg.Oommsg_t, 1)
	go func() { done <- <-oommsg.OomCh }()

	if _, ok := phys.Alloc(0); ok {
		t.Fatal("Alloc on an exhausted free list should fail")
	}

	select {
	case msg := <-done:
		if msg.Need != PGSIZE {
			t.Fatalf("Need = %d, want %d", msg.Need, PGSIZE)
		}
	case <-time.After(time.Second):
		t.Fatal("Alloc failure never posted to oommsg.OomCh")
	}
}

func TestAllocExhaustionNeverBlocksWithoutListener(t *testing.T) {
	phys := newTestPhysmem(1)
	phys.Alloc(0)

	done := make(chan struct{})
	go func() {
		phys.Alloc(0)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Alloc blocked with no oommsg.OomCh listener attached")
	}
}

func TestFreePanicsOnNonZeroRefcount(t *testing.T) {
	phys := newTestPhysmem(2)
	p, _ := phys.Alloc(0)
	phys.Refup(p)

	defer func() {
		if recover() == nil {
			t.Fatal("Free did not panic on a referenced frame")
		}
	}()
	phys.Free(p)
}

func TestAllocWithoutZeroFlagDoesNotTouchRefcount(t *testing.T) {
	phys := newTestPhysmem(2)
	// Alloc without ZeroOnAlloc takes the nozero path (Refpg_new_nozero),
	// which doesn't require the direct map to be wired up, unlike
	// Refpg_new's Zeropg copy — exercised here since a hosted test binary
	// has no direct-mapped physical memory to copy through.
	p, ok := phys.Alloc(0)
	if !ok {
		t.Fatal("Alloc failed")
	}
	if phys.Refcnt(p) != 0 {
		t.Fatalf("Refcnt = %d, want 0", phys.Refcnt(p))
	}
}
