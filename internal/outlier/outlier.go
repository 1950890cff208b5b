// Package outlier scores how anomalous a candidate yield is against a set of
// comparable market yields. The score is a non-negative, method-dependent
// distance; thresholding and actions are the sanitizer's job.
package outlier

import (
	"math"
	"sort"
)

// Method selects the statistical technique used for scoring.
type Method string

// Supported detection methods
const (
	MethodMAD        Method = "mad"
	MethodIQR        Method = "iqr"
	MethodZScore     Method = "zscore"
	MethodPercentile Method = "percentile"
)

// madConsistency rescales MAD to be comparable with a standard deviation
// under normality.
const madConsistency = 1.4826

// Detector scores candidates with a fixed method and band configuration.
type Detector struct {
	// Method is the scoring technique to apply
	Method Method

	// IQRMultiplier widens the inlier band for the IQR method (1.5 standard)
	IQRMultiplier float64

	// PercentileLow and PercentileHigh bound the inlier band for the
	// percentile method, expressed in [0,100]
	PercentileLow  float64
	PercentileHigh float64
}

// NewDetector returns a detector with standard band settings for the method.
func NewDetector(method Method) Detector {
	return Detector{
		Method:         method,
		IQRMultiplier:  1.5,
		PercentileLow:  1,
		PercentileHigh: 99,
	}
}

// Score computes the outlier score for candidate against context.
// A context with fewer than two comparables carries no evidence and always
// scores 0.
func (d Detector) Score(candidate float64, context []float64) float64 {
	if len(context) < 2 {
		return 0
	}

	sorted := make([]float64, len(context))
	copy(sorted, context)
	sort.Float64s(sorted)

	switch d.Method {
	case MethodIQR:
		return d.scoreIQR(candidate, sorted)
	case MethodZScore:
		return scoreZ(candidate, sorted)
	case MethodPercentile:
		return d.scorePercentile(candidate, sorted)
	default:
		return scoreMAD(candidate, sorted)
	}
}

// scoreMAD is |candidate - median| / (1.4826 * MAD). Zero dispersion means
// no deviation evidence, so the score degrades to 0.
func scoreMAD(candidate float64, sorted []float64) float64 {
	med := median(sorted)

	devs := make([]float64, len(sorted))
	for i, v := range sorted {
		devs[i] = math.Abs(v - med)
	}
	sort.Float64s(devs)
	mad := median(devs)

	if mad == 0 {
		return 0
	}
	return math.Abs(candidate-med) / (madConsistency * mad)
}

// scoreIQR is the candidate's distance outside [Q1-k*IQR, Q3+k*IQR],
// normalized by the IQR. Inside the band the score is 0.
func (d Detector) scoreIQR(candidate float64, sorted []float64) float64 {
	q1 := percentile(sorted, 25)
	q3 := percentile(sorted, 75)
	iqr := q3 - q1
	if iqr == 0 {
		return 0
	}

	lower := q1 - d.IQRMultiplier*iqr
	upper := q3 + d.IQRMultiplier*iqr

	switch {
	case candidate < lower:
		return (lower - candidate) / iqr
	case candidate > upper:
		return (candidate - upper) / iqr
	default:
		return 0
	}
}

// scoreZ is the classic |candidate - mean| / stdev with a sample stdev.
func scoreZ(candidate float64, sorted []float64) float64 {
	mean := 0.0
	for _, v := range sorted {
		mean += v
	}
	mean /= float64(len(sorted))

	variance := 0.0
	for _, v := range sorted {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(sorted) - 1)
	stdev := math.Sqrt(variance)

	if stdev == 0 {
		return 0
	}
	return math.Abs(candidate-mean) / stdev
}

// scorePercentile is the candidate's distance outside the configured
// percentile band, normalized by the band width.
func (d Detector) scorePercentile(candidate float64, sorted []float64) float64 {
	lower := percentile(sorted, d.PercentileLow)
	upper := percentile(sorted, d.PercentileHigh)
	width := upper - lower
	if width == 0 {
		return 0
	}

	switch {
	case candidate < lower:
		return (lower - candidate) / width
	case candidate > upper:
		return (candidate - upper) / width
	default:
		return 0
	}
}

// Dispersion returns the scale estimate the sanitizer uses when capping:
// 1.4826*MAD for the MAD method, sample stdev otherwise. Returns 0 for
// contexts that carry no dispersion evidence.
func (d Detector) Dispersion(context []float64) float64 {
	if len(context) < 2 {
		return 0
	}

	sorted := make([]float64, len(context))
	copy(sorted, context)
	sort.Float64s(sorted)

	if d.Method == MethodMAD {
		med := median(sorted)
		devs := make([]float64, len(sorted))
		for i, v := range sorted {
			devs[i] = math.Abs(v - med)
		}
		sort.Float64s(devs)
		return madConsistency * median(devs)
	}

	mean := 0.0
	for _, v := range sorted {
		mean += v
	}
	mean /= float64(len(sorted))
	variance := 0.0
	for _, v := range sorted {
		diff := v - mean
		variance += diff * diff
	}
	variance /= float64(len(sorted) - 1)
	return math.Sqrt(variance)
}

// Median returns the median of values, 0 for an empty set.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	return median(sorted)
}

// median expects its input already sorted.
func median(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// percentile interpolates linearly between closest ranks. Input must be
// sorted; p is in [0,100].
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	rank := p / 100 * float64(n-1)
	low := int(math.Floor(rank))
	high := int(math.Ceil(rank))
	if low == high {
		return sorted[low]
	}
	frac := rank - float64(low)
	return sorted[low] + frac*(sorted[high]-sorted[low])
}
