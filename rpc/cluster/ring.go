package cluster

import (
	"fmt"
	"sort"

	"github.com/ValentinKolb/dProxy/lib/protocol"
)

// pointsPerWeight is the number of ring points per unit of backend weight
const pointsPerWeight = 160

// point is one virtual node on the ring
type point struct {
	hash uint64
	addr string
}

// ring maps key hashes to backends. It is immutable once built.
//
//	Hash Ring:
//	          0
//	        ╱   ╲
//	   B ●         ● A
//	     │  key ◆──►│   (clockwise to the nearest point -> A)
//	   C ●         ● A'
//	        ╲   ╱
type ring struct {
	points []point
}

// newRing places weight*pointsPerWeight points for every backend. Each point
// is hashed from "{addr}-{i}" with the configured hash function.
func newRing(backends map[string]int, hasher protocol.HashFunc) *ring {
	r := &ring{}
	for addr, weight := range backends {
		for i := 0; i < weight*pointsPerWeight; i++ {
			r.points = append(r.points, point{
				hash: hasher([]byte(fmt.Sprintf("%s-%d", addr, i))),
				addr: addr,
			})
		}
	}

	// ties are broken by address so the ring does not depend on map order
	sort.Slice(r.points, func(i, j int) bool {
		if r.points[i].hash != r.points[j].hash {
			return r.points[i].hash < r.points[j].hash
		}
		return r.points[i].addr < r.points[j].addr
	})
	return r
}

// lookup returns the backend owning hash, "" for an empty ring
func (r *ring) lookup(hash uint64) string {
	if len(r.points) == 0 {
		return ""
	}

	// Binary search: find first point with hash >= key's hash
	idx := sort.Search(len(r.points), func(i int) bool {
		return r.points[i].hash >= hash
	})

	// Wrap around: if key's hash > all points, go to the first point
	if idx == len(r.points) {
		idx = 0
	}
	return r.points[idx].addr
}
