// Package stats holds the descriptive statistics shared by anomaly detection
// and aggregation. Standard deviation is the sample (n-1) form and is zero for
// fewer than two observations.
package stats

import (
	"math"
	"sort"
)

// Mean returns the arithmetic mean, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// SampleStd returns the n-1 standard deviation, or 0 when len(xs) < 2.
func SampleStd(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	mean := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// Median returns the middle value, averaging the two middle values for even
// lengths. The input is not reordered.
func Median(xs []float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// ZScores returns |x-mean|/std for each value. All scores are 0 when the
// standard deviation is 0 or there is a single value.
func ZScores(xs []float64) []float64 {
	scores := make([]float64, len(xs))
	std := SampleStd(xs)
	if std == 0 || math.IsNaN(std) {
		return scores
	}
	mean := Mean(xs)
	for i, x := range xs {
		scores[i] = math.Abs(x-mean) / std
	}
	return scores
}
