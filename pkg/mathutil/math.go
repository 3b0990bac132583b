// Package mathutil provides small numeric helpers shared across the worker.
package mathutil

// Clamp01 clamps a float64 value to the unit interval [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
