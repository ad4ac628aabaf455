package mem

// NewFixturePhysmem builds an n-frame Physmem_t whose free list is already
// threaded and whose Dmapinit is true, without going through Phys_init
// (which calls into the patched runtime's Get_phys()/CPUHint() boot path
// and so cannot run in a hosted test binary). Every frame's Dmap still
// resolves through whichever dmapOverride is installed when the caller
// uses it — NewFixturePhysmem only builds the bookkeeping, not the
// backing storage; see InstallFixture for the paired override.
func NewFixturePhysmem(n int) *Physmem_t {
	phys := &Physmem_t{}
	phys.Pgs = make([]Physpg_t, n)
	phys.startn = 0
	for i := range phys.percpu {
		phys.percpu[i].percpu_init()
	}
	phys.freei = 0
	phys.freelen = int32(n)
	for i := 0; i < n; i++ {
		phys.Pgs[i].Refcnt = 0
		if i == n-1 {
			phys.Pgs[i].nexti = ^uint32(0)
		} else {
			phys.Pgs[i].nexti = uint32(i + 1)
		}
	}
	phys.Dmapinit = true
	return phys
}

// InstallFixture replaces the global Physmem, Kpmapp, and Zeropg with an
// isolated n-frame fixture addressed through Go heap memory (via a
// dmapOverride rather than the real direct map), and returns a teardown
// func that restores whatever was installed before. Package tests outside
// mem (vm, proc, trap, scall, ipc, ufork, console, loader) that exercise
// vm.Create/RegionAlloc/Pgfault or anything else that bottoms out in
// mem.Physmem.Dmap call this once at the top of the test — the same
// fixture-over-exported-global idiom already used by sched.SetRunner and
// trap.SetHooks for their late-bound collaborators.
func InstallFixture(n int) (teardown func()) {
	oldPhysmem := Physmem
	oldKpmapp := Kpmapp
	oldZeropg := Zeropg
	oldPZeropg := P_zeropg
	oldOverride := dmapOverride

	fixture := NewFixturePhysmem(n)
	backing := make([]Pg_t, n)
	SetDmapOverride(func(p Pa_t) *Pg_t {
		idx := _pg2pgn(p) - fixture.startn
		return &backing[idx]
	})
	Physmem = fixture
	Kpmapp = &Pmap_t{}

	zero, p_zero, ok := fixture._refpg_new()
	if !ok {
		panic("mem: InstallFixture: no frames left for Zeropg")
	}
	for i := range zero {
		zero[i] = 0
	}
	fixture.Refup(p_zero)
	Zeropg = zero
	P_zeropg = p_zero

	return func() {
		Physmem = oldPhysmem
		Kpmapp = oldKpmapp
		Zeropg = oldZeropg
		P_zeropg = oldPZeropg
		dmapOverride = oldOverride
	}
}
