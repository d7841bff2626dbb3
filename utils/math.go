// Package utils contains small helpers shared by the sfmlink packages.
package utils

// Square returns n*n. Math.pow( x, 2 ) is slow, this is faster.
func Square(n float64) float64 {
	return n * n
}

// MinInt returns the smaller of a and b.
func MinInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// MaxInt returns the larger of a and b.
func MaxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
