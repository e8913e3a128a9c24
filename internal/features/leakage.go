package features

import (
	"fmt"
	"math"

	"github.com/quantforge/tickpipe/internal/market"
)

const (
	// A feature correlating this strongly with values realized after its
	// cutoff is almost certainly reading its own future.
	leakCorrThreshold = 0.95
	// And it must beat its correlation with pre-cutoff information by this
	// margin, so genuinely strong-but-causal predictors are not flagged.
	leakCorrMargin = 0.10
)

// LeakageFinding is one suspicious feature from a validation run.
type LeakageFinding struct {
	Feature    string  `json:"feature"`
	PastCorr   float64 `json:"past_corr"`
	FutureCorr float64 `json:"future_corr"`
	Reason     string  `json:"reason"`
}

// LeakageReport summarizes a leakage validation run. Findings are
// diagnostic only — a human decides whether a flagged feature really leaks;
// nothing is auto-corrected.
type LeakageReport struct {
	Checked  int              `json:"checked"`
	Findings []LeakageFinding `json:"findings"`
}

// Clean reports whether the run produced no findings.
func (r *LeakageReport) Clean() bool { return len(r.Findings) == 0 }

// ValidateNoLeakage compares each feature's correlation with information
// realized strictly after its cutoff (future[i], observable only once bar
// i's outcome is known) against information realized strictly before it
// (future[i-1]). A feature whose post-cutoff correlation is suspiciously
// high and clearly exceeds its pre-cutoff correlation is flagged. Intended
// for CI, not as a runtime gate.
func ValidateNoLeakage(vectors []market.FeatureVector, future []float64) (bool, *LeakageReport, error) {
	if len(vectors) != len(future) {
		return false, nil, fmt.Errorf("leakage validation: %d vectors vs %d future values", len(vectors), len(future))
	}

	names := map[string]struct{}{}
	for i := range vectors {
		for name := range vectors[i].Values {
			names[name] = struct{}{}
		}
	}

	report := &LeakageReport{Checked: len(names)}
	for name := range names {
		var fs, futs, pasts []float64
		for i := 1; i < len(vectors); i++ {
			v, ok := vectors[i].Values[name]
			if !ok || !vectors[i].Valid[name] {
				continue
			}
			fs = append(fs, v)
			futs = append(futs, future[i])
			pasts = append(pasts, future[i-1])
		}
		futureCorr := pearson(fs, futs)
		pastCorr := pearson(fs, pasts)

		if math.Abs(futureCorr) > leakCorrThreshold &&
			math.Abs(futureCorr) > math.Abs(pastCorr)+leakCorrMargin {
			report.Findings = append(report.Findings, LeakageFinding{
				Feature:    name,
				PastCorr:   pastCorr,
				FutureCorr: futureCorr,
				Reason: fmt.Sprintf("correlation with post-cutoff values %.3f exceeds pre-cutoff %.3f",
					futureCorr, pastCorr),
			})
		}
	}
	return report.Clean(), report, nil
}

// pearson is the sample correlation of two equal-length series; zero when
// either side is degenerate.
func pearson(xs, ys []float64) float64 {
	if len(xs) < 3 || len(xs) != len(ys) {
		return 0
	}
	var sx, sy OnlineStats
	for i := range xs {
		sx.Update(xs[i])
		sy.Update(ys[i])
	}
	vx, vy := sx.Variance(), sy.Variance()
	if vx < 1e-12 || vy < 1e-12 {
		return 0
	}
	cov := 0.0
	for i := range xs {
		cov += (xs[i] - sx.Mean()) * (ys[i] - sy.Mean())
	}
	cov /= float64(len(xs) - 1)
	return cov / math.Sqrt(vx*vy)
}
