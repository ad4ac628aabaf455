package bkl

import (
	"sync"
	"testing"
)

func TestMutualExclusion(t *testing.T) {
	l := &Lock_t{holder: -1}
	var counter int
	var wg sync.WaitGroup
	const n = 64
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			l.Lock()
			counter++
			l.Unlock()
		}()
	}
	wg.Wait()
	if counter != n {
		t.Fatalf("counter = %d, want %d", counter, n)
	}
}

func TestLockassertPanicsWhenNotHeld(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("Lockassert did not panic without the lock held")
		}
	}()
	saved := Big
	Big = &Lock_t{holder: -1}
	defer func() { Big = saved }()
	Lockassert()
}
