package scall

import (
	"testing"

	"bkl"
	"defs"
	"mem"
	"mlayout"
	"proc"
)

// withBKL takes the big kernel lock and installs an isolated physical-page
// fixture, since every test in this file allocates envs through proc.Alloc,
// which bottoms out in vm.Create's mem.Physmem.Alloc.
func withBKL(t *testing.T, f func()) {
	teardown := mem.InstallFixture(256)
	defer teardown()
	bkl.Big.Lock()
	defer bkl.Big.Unlock()
	f()
}

func TestExoforkCopiesTrapframeAndZeroesReturnValue(t *testing.T) {
	withBKL(t, func() {
		proc.Init()
		parent, err := proc.Alloc(0)
		if err != 0 {
			t.Fatalf("Alloc parent: %v", err)
		}
		parent.Tf.Rax = 0xdead
		parent.Tf.Rbx = 0x1234

		childId, err := Exofork(parent)
		if err != 0 {
			t.Fatalf("Exofork: %v", err)
		}
		child, _ := proc.Resolve(childId, false, parent)
		if child.Status != proc.EnvNotRunnable {
			t.Errorf("child status = %v, want NotRunnable", child.Status)
		}
		if child.Tf.Rax != 0 {
			t.Errorf("child Rax = %#x, want 0 (fork return value)", child.Tf.Rax)
		}
		if child.Tf.Rbx != 0x1234 {
			t.Errorf("child Rbx = %#x, want copied from parent", child.Tf.Rbx)
		}
		if child.ParentId != parent.Id {
			t.Errorf("child ParentId = %v, want %v", child.ParentId, parent.Id)
		}
	})
}

func TestEnvSetStatusRejectsInvalidStatus(t *testing.T) {
	withBKL(t, func() {
		proc.Init()
		e, _ := proc.Alloc(0)
		if err := EnvSetStatus(e, e.Id, proc.EnvDying); err != defs.Invalid {
			t.Fatalf("expected Invalid, got %v", err)
		}
	})
}

func TestPageAllocRejectsMisalignedVa(t *testing.T) {
	withBKL(t, func() {
		proc.Init()
		e, _ := proc.Alloc(0)
		if err := PageAlloc(e, e.Id, mlayout.USERMIN+1, mem.PTE_U|mem.PTE_P); err != defs.Invalid {
			t.Fatalf("expected Invalid, got %v", err)
		}
	})
}

func TestPageAllocRejectsVaAboveUtop(t *testing.T) {
	withBKL(t, func() {
		proc.Init()
		e, _ := proc.Alloc(0)
		if err := PageAlloc(e, e.Id, mlayout.UTOP, mem.PTE_U|mem.PTE_P); err != defs.Invalid {
			t.Fatalf("expected Invalid, got %v", err)
		}
	})
}

func TestPageAllocRejectsDisallowedPermBits(t *testing.T) {
	withBKL(t, func() {
		proc.Init()
		e, _ := proc.Alloc(0)
		bogus := mem.Pa_t(1 << 9)
		if err := PageAlloc(e, e.Id, mlayout.USERMIN, bogus); err != defs.Invalid {
			t.Fatalf("expected Invalid, got %v", err)
		}
	})
}

func TestPageUnmapOfUnmappedAddressSucceeds(t *testing.T) {
	withBKL(t, func() {
		proc.Init()
		e, _ := proc.Alloc(0)
		if err := PageUnmap(e, e.Id, mlayout.USERMIN); err != 0 {
			t.Fatalf("PageUnmap of unmapped va should succeed, got %v", err)
		}
	})
}

func TestEnvDestroyRejectsUnrelatedCaller(t *testing.T) {
	withBKL(t, func() {
		proc.Init()
		a, _ := proc.Alloc(0)
		b, _ := proc.Alloc(0)
		if err := EnvDestroy(a, b.Id); err != defs.BadEnv {
			t.Fatalf("expected BadEnv for unrelated target, got %v", err)
		}
	})
}
