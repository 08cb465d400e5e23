package cluster

import (
	"math"
	"sort"
)

// balance describes how evenly the ring spreads keys over the backends.
// Values are load factors: the share of the hash space a backend owns,
// divided by the share its weight entitles it to. 1.0 is a perfect fit.
type balance struct {
	Min          float64
	Max          float64
	Mean         float64
	StdDeviation float64
	MinMaxRatio  float64
	// Quality combines the coefficient of variation and the min/max ratio,
	// 1.0 is a perfectly even ring
	Quality float64
}

// shares returns the fraction of the hash space owned by each backend.
// A point owns the arc between its predecessor (exclusive) and itself.
func (r *ring) shares() map[string]float64 {
	shares := make(map[string]float64)
	if len(r.points) == 0 {
		return shares
	}
	if len(r.points) == 1 {
		shares[r.points[0].addr] = 1
		return shares
	}

	prev := r.points[len(r.points)-1].hash
	for _, p := range r.points {
		// uint64 arithmetic wraps around for the first point
		shares[p.addr] += float64(p.hash-prev) / math.MaxUint64
		prev = p.hash
	}
	return shares
}

// newBalance computes the load factors of the ring for the given weights
func newBalance(r *ring, weights map[string]int) (balance, map[string]float64) {
	total := 0
	for _, w := range weights {
		total += w
	}
	if total == 0 {
		return balance{}, nil
	}

	shares := r.shares()
	addrs := make([]string, 0, len(weights))
	for addr := range weights {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	factors := make(map[string]float64, len(addrs))
	values := make([]float64, 0, len(addrs))
	for _, addr := range addrs {
		f := shares[addr] / (float64(weights[addr]) / float64(total))
		factors[addr] = f
		values = append(values, f)
	}

	b := balance{Min: values[0], Max: values[0], MinMaxRatio: 1}
	var sum float64
	for _, v := range values {
		sum += v
		b.Min = math.Min(b.Min, v)
		b.Max = math.Max(b.Max, v)
	}
	b.Mean = sum / float64(len(values))

	var squared float64
	for _, v := range values {
		squared += (v - b.Mean) * (v - b.Mean)
	}
	b.StdDeviation = math.Sqrt(squared / float64(len(values)))

	if b.Max > 0 {
		b.MinMaxRatio = b.Min / b.Max
	}
	var cv float64
	if b.Mean > 0 {
		cv = b.StdDeviation / b.Mean
	}
	b.Quality = (1.0-math.Min(1.0, cv))*0.5 + b.MinMaxRatio*0.5

	return b, factors
}
