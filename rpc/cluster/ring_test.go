package cluster

import (
	"fmt"
	"math"
	"testing"

	"github.com/ValentinKolb/dProxy/lib/protocol"
)

func TestRingLookup(t *testing.T) {
	empty := newRing(nil, protocol.FNV1a64)
	if got := empty.lookup(42); got != "" {
		t.Errorf("lookup() on empty ring = %q, want \"\"", got)
	}

	r := newRing(map[string]int{"a:1": 1, "b:1": 1, "c:1": 1}, protocol.FNV1a64)
	if len(r.points) != 3*pointsPerWeight {
		t.Fatalf("len(points) = %d, want %d", len(r.points), 3*pointsPerWeight)
	}

	// wrap around
	last := r.points[len(r.points)-1]
	if got := r.lookup(last.hash + 1); last.hash != ^uint64(0) && got != r.points[0].addr {
		t.Errorf("lookup() past the last point = %q, want %q", got, r.points[0].addr)
	}
	if got := r.lookup(r.points[10].hash); got != r.points[10].addr {
		t.Errorf("lookup() of a point hash = %q, want %q", got, r.points[10].addr)
	}

	// same input, same ring
	other := newRing(map[string]int{"c:1": 1, "a:1": 1, "b:1": 1}, protocol.FNV1a64)
	for i := 0; i < 1000; i++ {
		h := protocol.FNV1a64([]byte(fmt.Sprintf("key-%d", i)))
		if r.lookup(h) != other.lookup(h) {
			t.Fatalf("rings built from the same backends disagree on key-%d", i)
		}
	}
}

func TestRingWeights(t *testing.T) {
	tests := []struct {
		name   string
		hasher protocol.HashFunc
	}{
		{protocol.HashFNV1a64, protocol.FNV1a64},
		{protocol.HashCRC32, protocol.CRC32},
		{protocol.HashXXHash, protocol.XXHash},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRing(map[string]int{"light:1": 1, "heavy:1": 3}, tt.hasher)

			counts := make(map[string]int)
			const n = 20000
			for i := 0; i < n; i++ {
				counts[r.lookup(tt.hasher([]byte(fmt.Sprintf("key-%d", i))))]++
			}

			ratio := float64(counts["heavy:1"]) / float64(counts["light:1"])
			if ratio < 2 || ratio > 4.5 {
				t.Errorf("heavy/light ratio = %.2f (%v), want about 3", ratio, counts)
			}
		})
	}
}

// TestRingStability checks that adding a backend only moves keys to it
func TestRingStability(t *testing.T) {
	before := newRing(map[string]int{"a:1": 1, "b:1": 1, "c:1": 1}, protocol.FNV1a64)
	after := newRing(map[string]int{"a:1": 1, "b:1": 1, "c:1": 1, "d:1": 1}, protocol.FNV1a64)

	moved := 0
	const n = 10000
	for i := 0; i < n; i++ {
		h := protocol.FNV1a64([]byte(fmt.Sprintf("key-%d", i)))
		from, to := before.lookup(h), after.lookup(h)
		if from == to {
			continue
		}
		moved++
		if to != "d:1" {
			t.Fatalf("key-%d moved from %s to %s", i, from, to)
		}
	}
	if moved == 0 || moved > n/2 {
		t.Errorf("%d of %d keys moved", moved, n)
	}
}

func TestRingShares(t *testing.T) {
	single := &ring{points: []point{{hash: 7, addr: "a:1"}}}
	if got := single.shares()["a:1"]; got != 1 {
		t.Errorf("share of single point = %v, want 1", got)
	}

	r := newRing(map[string]int{"a:1": 1, "b:1": 2, "c:1": 1}, protocol.XXHash)
	var sum float64
	for _, share := range r.shares() {
		sum += share
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("shares sum to %v, want 1", sum)
	}
}

func TestRingBalance(t *testing.T) {
	weights := map[string]int{"a:1": 1, "b:1": 1, "c:1": 3}
	b, factors := newBalance(newRing(weights, protocol.XXHash), weights)

	if len(factors) != len(weights) {
		t.Fatalf("got %d load factors, want %d", len(factors), len(weights))
	}
	for addr, f := range factors {
		if f < 0.6 || f > 1.4 {
			t.Errorf("load factor of %s = %.3f, want about 1", addr, f)
		}
	}
	if math.Abs(b.Mean-1) > 0.2 {
		t.Errorf("mean load factor = %.3f, want about 1", b.Mean)
	}
	if b.Quality < 0.5 || b.Quality > 1 {
		t.Errorf("quality = %.3f, want within [0.5, 1]", b.Quality)
	}

	if b, factors := newBalance(newRing(nil, protocol.XXHash), nil); factors != nil || b != (balance{}) {
		t.Errorf("empty ring balance = (%v, %v)", b, factors)
	}
}
