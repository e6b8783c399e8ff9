package netstats

import "math"

// welford is a numerically stable running-variance accumulator. Worker
// partials merge with Chan's parallel combination instead of concatenating
// null samples, so permutation memory stays constant in trial count.
type welford struct {
	count int
	mean  float64
	m2    float64
}

func (w *welford) add(x float64) {
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	w.m2 += delta * (x - w.mean)
}

func (w *welford) merge(other welford) {
	if other.count == 0 {
		return
	}
	if w.count == 0 {
		*w = other
		return
	}
	total := w.count + other.count
	delta := other.mean - w.mean
	w.m2 += other.m2 + delta*delta*float64(w.count)*float64(other.count)/float64(total)
	w.mean += delta * float64(other.count) / float64(total)
	w.count = total
}

// stdDev is the population standard deviation of the null distribution.
func (w *welford) stdDev() float64 {
	if w.count < 2 {
		return 0
	}
	return math.Sqrt(w.m2 / float64(w.count))
}
