package notify

import (
	"sync"
	"sync/atomic"
	"testing"
)

// permutations returns all orderings of 0..n-1
func permutations(n int) [][]int {
	var out [][]int
	var rec func(prefix []int, rest []int)
	rec = func(prefix []int, rest []int) {
		if len(rest) == 0 {
			out = append(out, append([]int(nil), prefix...))
			return
		}
		for i := range rest {
			next := append(append([]int(nil), rest[:i]...), rest[i+1:]...)
			rec(append(prefix, rest[i]), next)
		}
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rec(nil, idx)
	return out
}

// TestReleaseAnyOrderFiresOnce arms k+1 dispatch handles and releases them
// in every order. The waiter must run exactly once, on the last release.
func TestReleaseAnyOrderFiresOnce(t *testing.T) {
	const k = 3

	for _, order := range permutations(k + 1) {
		n := New()
		n.SetExpect(k + 1)
		n.Acquire(k + 1) // construction handles
		n.Acquire(k + 1) // dispatch clones

		var fired int
		n.Register(func() { fired++ })

		for i := range order {
			n.Release()
			if i < len(order)-1 && fired != 0 {
				t.Fatalf("order %v: fired after %d of %d releases", order, i+1, len(order))
			}
		}
		if fired != 1 {
			t.Fatalf("order %v: fired %d times, want 1", order, fired)
		}
		if got := n.Live(); got != k+1 {
			t.Errorf("order %v: Live() = %d, want %d", order, got, k+1)
		}
	}
}

// TestReleaseBelowBaseline verifies that dropping construction handles never fires
func TestReleaseBelowBaseline(t *testing.T) {
	n := New()
	n.SetExpect(2)
	n.Acquire(2)

	var fired int
	n.Register(func() { fired++ })

	if pre := n.Release(); pre != 2 {
		t.Errorf("Release() = %d, want 2", pre)
	}
	n.Release()
	if fired != 0 {
		t.Errorf("fired %d times, want 0", fired)
	}
}

// TestInertNeverFires checks the notifier used for health checks
func TestInertNeverFires(t *testing.T) {
	n := NewInert()
	n.SetExpect(1) // ignored
	n.Acquire(2)

	var fired int
	n.Register(func() { fired++ })
	n.Release()
	n.Release()

	if fired != 0 {
		t.Errorf("inert notifier fired %d times", fired)
	}
	if n.Expect() != -1 {
		t.Errorf("Expect() = %d, want -1", n.Expect())
	}
	if !n.IsInert() {
		t.Error("IsInert() = false, want true")
	}
}

// TestWakeAtMostOncePerRegistration checks that Wake consumes the registration
func TestWakeAtMostOncePerRegistration(t *testing.T) {
	n := New()

	var first, second int
	n.Register(func() { first++ })
	n.Register(func() { second++ }) // replaces the first one

	n.Wake()
	n.Wake()

	if first != 0 {
		t.Errorf("replaced waiter ran %d times", first)
	}
	if second != 1 {
		t.Errorf("waiter ran %d times, want 1", second)
	}
}

// TestRearmAfterFire verifies a retry batch can fire again after re-registration
func TestRearmAfterFire(t *testing.T) {
	n := New()
	n.SetExpect(1)
	n.Acquire(1)

	var fired int
	for round := 1; round <= 3; round++ {
		n.Register(func() { fired++ })
		n.Acquire(1)
		n.Release()
		if fired != round {
			t.Fatalf("round %d: fired %d times", round, fired)
		}
	}
}

// TestSetExpectTwicePanics checks the single-assignment rule
func TestSetExpectTwicePanics(t *testing.T) {
	n := New()
	n.SetExpect(3)

	defer func() {
		if recover() == nil {
			t.Error("second SetExpect did not panic")
		}
	}()
	n.SetExpect(3)
}

// TestConcurrentRelease releases many clones from parallel goroutines
func TestConcurrentRelease(t *testing.T) {
	const clones = 64

	for run := 0; run < 50; run++ {
		n := New()
		n.SetExpect(1)
		n.Acquire(1)
		n.Acquire(clones)

		var fired atomic.Int32
		n.Register(func() { fired.Add(1) })

		var wg sync.WaitGroup
		wg.Add(clones)
		for i := 0; i < clones; i++ {
			go func() {
				defer wg.Done()
				n.Release()
			}()
		}
		wg.Wait()

		if got := fired.Load(); got != 1 {
			t.Fatalf("run %d: fired %d times, want 1", run, got)
		}
	}
}
