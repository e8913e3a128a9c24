package features

import (
	"math"
)

// OnlineStats is a Welford accumulator: single-pass running count, mean and
// variance with O(1) memory, numerically stable where the naive
// sum-of-squares formulation is not. One instance per feature, mutated in
// bar order by its owning Store.
type OnlineStats struct {
	count int64
	mean  float64
	m2    float64
}

// Update folds one observation into the accumulator.
func (s *OnlineStats) Update(x float64) {
	s.count++
	delta := x - s.mean
	s.mean += delta / float64(s.count)
	s.m2 += delta * (x - s.mean)
}

// Count returns the number of observations seen.
func (s *OnlineStats) Count() int64 { return s.count }

// Mean returns the running mean, zero before any observation.
func (s *OnlineStats) Mean() float64 { return s.mean }

// Variance returns the unbiased sample variance; zero with fewer than two
// observations.
func (s *OnlineStats) Variance() float64 {
	if s.count < 2 {
		return 0
	}
	return s.m2 / float64(s.count-1)
}

// StdDev returns the sample standard deviation.
func (s *OnlineStats) StdDev() float64 {
	return math.Sqrt(s.Variance())
}

// ZScore standardizes x against the running distribution. Returns zero
// until the variance is meaningful.
func (s *OnlineStats) ZScore(x float64) float64 {
	v := s.Variance()
	if v < 1e-12 {
		return 0
	}
	return (x - s.mean) / math.Sqrt(v)
}

// PercentileRank estimates where x falls in the running distribution,
// in [0, 100], using the normal approximation implied by the Welford
// moments. Returns 50 until the variance is meaningful.
func (s *OnlineStats) PercentileRank(x float64) float64 {
	v := s.Variance()
	if v < 1e-12 {
		return 50
	}
	z := (x - s.mean) / math.Sqrt(v)
	return 50 * (1 + math.Erf(z/math.Sqrt2))
}
