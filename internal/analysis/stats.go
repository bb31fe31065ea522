package analysis

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// summary holds the moments and order statistics of one numeric sample.
type summary struct {
	n                   int
	mean, std, min, max float64
	q1, median, q3      float64
	skew                float64
}

// summarize describes xs with NaN values removed. ok is false when nothing
// remains.
func summarize(xs []float64) (s summary, ok bool) {
	vals := dropNaN(xs)
	if len(vals) == 0 {
		return s, false
	}
	sort.Float64s(vals)

	s.n = len(vals)
	s.min, s.max = vals[0], vals[len(vals)-1]
	s.mean = stat.Mean(vals, nil)
	s.std = math.NaN()
	if s.n > 1 {
		s.std = stat.StdDev(vals, nil)
	}
	s.q1 = quantile(vals, 0.25)
	s.median = quantile(vals, 0.5)
	s.q3 = quantile(vals, 0.75)
	s.skew = math.NaN()
	if s.n > 2 && s.std > 0 {
		s.skew = stat.Skew(vals, nil)
	}
	return s, true
}

// quantile interpolates linearly between the order statistics at rank
// p*(n-1). sorted must be ascending and non-empty.
func quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}

// pairwise returns the rows where both x and y are numbers.
func pairwise(x, y []float64) (xs, ys []float64) {
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	return xs, ys
}

// pearson is the correlation over complete pairs; NaN with fewer than two
// pairs or a constant input.
func pearson(x, y []float64) float64 {
	xs, ys := pairwise(x, y)
	if len(xs) < 2 {
		return math.NaN()
	}
	if stat.Variance(xs, nil) == 0 || stat.Variance(ys, nil) == 0 {
		return math.NaN()
	}
	return stat.Correlation(xs, ys, nil)
}

// fillNaN replaces a NaN with def.
func fillNaN(v, def float64) float64 {
	if math.IsNaN(v) {
		return def
	}
	return v
}

// accessCategory buckets a fixed-broadband share.
func accessCategory(broadband float64) string {
	switch {
	case broadband > 80:
		return "High Digital Access"
	case broadband > 60:
		return "Moderate Digital Access"
	default:
		return "Low Digital Access"
	}
}
