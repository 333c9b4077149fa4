package shapley

// Penalised-uptime quadratic coefficients. The curve has its knee near
// 98.5% observed uptime: 1.0 stays 1.0, 0.99 maps to ~0.658, 0.98 maps
// to about 1e-6, and anything below the curve's root just under 0.98
// clamps to zero, dropping the link.
const (
	uptimeCoeffA = -1578.9474
	uptimeCoeffB = 3176.3158
	uptimeCoeffC = -1596.3684
)

// PenalisedUptime maps an observed valid-sample ratio onto the
// contractual bandwidth-penalty curve, clamped to [0, 1].
func PenalisedUptime(trueUptime float64) float64 {
	if trueUptime >= 1 {
		return 1
	}
	raw := uptimeCoeffA*trueUptime*trueUptime + uptimeCoeffB*trueUptime + uptimeCoeffC
	if raw < 0 {
		return 0
	}
	if raw > 1 {
		return 1
	}
	return raw
}
