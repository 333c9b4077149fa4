package telemetry

import "math"

// QuantileR7 computes the p-quantile of a sorted sample using linear
// interpolation between order statistics, matching R's default type=7
// estimator: h = p*(n-1); interpolate between floor(h) and ceil(h).
func QuantileR7(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if n == 1 {
		return sorted[0]
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	h := p * float64(n-1)
	lo := math.Floor(h)
	hi := math.Ceil(h)
	if lo == hi {
		return sorted[int(h)]
	}
	frac := h - lo
	return sorted[int(lo)]*(1-frac) + sorted[int(hi)]*frac
}
