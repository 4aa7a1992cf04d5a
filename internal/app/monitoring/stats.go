// Package monitoring runs scheduled data-drift, concept-drift and bias
// computations over production traffic, each producing a metric row and, on
// a status transition, an Alert.
package monitoring

import (
	"math"
	"sort"
)

// psiEpsilon floors empty reference/current bins so PSI never divides by
// zero on a feature that's sparse in one window.
const psiEpsilon = 1e-4

// PSI computes the population stability index between a reference and
// current sample using the reference sample's decile edges as bins.
func PSI(reference, current []float64) float64 {
	if len(reference) == 0 || len(current) == 0 {
		return 0
	}
	edges := quantileEdges(reference, 10)
	refBins := bucketize(reference, edges)
	curBins := bucketize(current, edges)

	var psi float64
	for i := range refBins {
		refShare := share(refBins[i], len(reference))
		curShare := share(curBins[i], len(current))
		psi += (curShare - refShare) * math.Log(curShare/refShare)
	}
	return psi
}

func share(count, total int) float64 {
	s := float64(count) / float64(total)
	if s < psiEpsilon {
		s = psiEpsilon
	}
	return s
}

func quantileEdges(sample []float64, bins int) []float64 {
	sorted := append([]float64(nil), sample...)
	sort.Float64s(sorted)
	edges := make([]float64, bins-1)
	for i := 1; i < bins; i++ {
		pos := float64(i) / float64(bins) * float64(len(sorted)-1)
		lo := int(math.Floor(pos))
		hi := int(math.Ceil(pos))
		if hi >= len(sorted) {
			hi = len(sorted) - 1
		}
		frac := pos - float64(lo)
		edges[i-1] = sorted[lo]*(1-frac) + sorted[hi]*frac
	}
	return edges
}

func bucketize(sample []float64, edges []float64) []int {
	bins := make([]int, len(edges)+1)
	for _, v := range sample {
		idx := sort.SearchFloat64s(edges, v)
		bins[idx]++
	}
	return bins
}

// KS computes the two-sample Kolmogorov-Smirnov statistic and an
// asymptotic p-value (Kolmogorov distribution approximation).
func KS(reference, current []float64) (statistic, pValue float64) {
	if len(reference) == 0 || len(current) == 0 {
		return 0, 1
	}
	ref := append([]float64(nil), reference...)
	cur := append([]float64(nil), current...)
	sort.Float64s(ref)
	sort.Float64s(cur)

	i, j := 0, 0
	n, m := float64(len(ref)), float64(len(cur))
	for i < len(ref) && j < len(cur) {
		v := math.Min(ref[i], cur[j])
		for i < len(ref) && ref[i] <= v {
			i++
		}
		for j < len(cur) && cur[j] <= v {
			j++
		}
		d := math.Abs(float64(i)/n - float64(j)/m)
		if d > statistic {
			statistic = d
		}
	}
	statistic = math.Max(statistic, math.Abs(float64(i)/n-float64(j)/m))

	ne := n * m / (n + m)
	lambda := (math.Sqrt(ne) + 0.12 + 0.11/math.Sqrt(ne)) * statistic
	pValue = ksAsymptoticP(lambda)
	return statistic, pValue
}

func ksAsymptoticP(lambda float64) float64 {
	if lambda < 0.2 {
		return 1
	}
	var sum float64
	for k := 1; k <= 100; k++ {
		term := 2 * math.Pow(-1, float64(k-1)) * math.Exp(-2*float64(k*k)*lambda*lambda)
		sum += term
	}
	p := sum
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}

// Chi2 computes Pearson's χ² statistic between reference and current
// category counts, Laplace-smoothed by eps so a category absent from one
// window doesn't zero out the denominator.
func Chi2(reference, current map[string]int, eps float64) float64 {
	categories := make(map[string]struct{})
	for k := range reference {
		categories[k] = struct{}{}
	}
	for k := range current {
		categories[k] = struct{}{}
	}

	refTotal, curTotal := 0, 0
	for _, v := range reference {
		refTotal += v
	}
	for _, v := range current {
		curTotal += v
	}
	if refTotal == 0 || curTotal == 0 {
		return 0
	}

	var chi2 float64
	for cat := range categories {
		refShare := (float64(reference[cat]) + eps) / (float64(refTotal) + eps*float64(len(categories)))
		expected := refShare * float64(curTotal)
		observed := float64(current[cat])
		if expected == 0 {
			continue
		}
		chi2 += math.Pow(observed-expected, 2) / expected
	}
	return chi2
}

// RelativeDegradation returns how much worse `current` is than `baseline`
// for a metric where higher is better (e.g. F1, precision, recall, AUC).
// A negative value means current is better than baseline.
func RelativeDegradation(baselineValue, currentValue float64) float64 {
	if baselineValue == 0 {
		return 0
	}
	return (baselineValue - currentValue) / math.Abs(baselineValue)
}
