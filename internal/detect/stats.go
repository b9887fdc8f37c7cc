package detect

import "math"

// floatTolerance absorbs rounding noise in threshold comparisons and
// epsilon guards division by zero, matching how thresholds behave across
// the rest of the pipeline.
const (
	floatTolerance = 1e-6
	epsilon        = 1e-8
)

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stddev is the sample standard deviation (n-1 denominator). Returns 0
// for fewer than two samples.
func stddev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	m := mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// coefVariation returns std/mean, or +Inf when the mean is non-positive.
func coefVariation(xs []float64) float64 {
	m := mean(xs)
	if m <= 0 {
		return math.Inf(1)
	}
	return stddev(xs) / m
}

func zScore(value, m, std float64) float64 {
	return (value - m) / (std + epsilon)
}

// meetsThreshold compares with floating point tolerance; inclusive means
// the exact threshold value counts.
func meetsThreshold(value, threshold float64, inclusive bool) bool {
	if inclusive {
		return value >= threshold-floatTolerance
	}
	return value > threshold+floatTolerance
}
